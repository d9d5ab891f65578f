package balance

import (
	"testing"
	"time"

	"github.com/smallbiznis/cdrflow/internal/config"
	"github.com/smallbiznis/cdrflow/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return NewBuilder(pricing.NewModel(config.DefaultAggregationConfig()))
}

func crmRecord(account int64, msisdn string) CRMRecord {
	return CRMRecord{
		AccountID:       account,
		OwnerName:       "Thandi Nkosi",
		Email:           "thandi@example.net",
		MSISDN:          msisdn,
		AccountModified: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildProfiles_CostInvariants(t *testing.T) {
	b := testBuilder()
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	totals := map[string]UsageTotals{
		"27820000001": {DataBytes: 1 << 30, CallSeconds: 120},
	}
	rates := pricing.Rates{WAKMRV: 0.5, MRVZAR: 0.25} // factor 8

	profiles := b.BuildProfiles([]CRMRecord{crmRecord(1, "27820000001")}, totals, rates, now)
	require.Len(t, profiles, 1)
	p := profiles[0]

	assert.Equal(t, 49.0, p.DataCostZAR)
	assert.Equal(t, 2.0, p.VoiceCostZAR)
	assert.Equal(t, p.DataCostZAR+p.VoiceCostZAR, p.TotalCostZAR)
	assert.Equal(t, -p.TotalCostZAR, p.RunningBalanceZAR)

	assert.Equal(t, int64(392), p.DataCostWAK)
	assert.Equal(t, int64(16), p.VoiceCostWAK)
	assert.Equal(t, int64(408), p.TotalCostWAK)
	assert.Equal(t, 0.5, p.AvgWAKMRVRate)
	assert.Equal(t, 0.25, p.AvgMRVZARRate)
}

func TestBuildProfiles_NoUsageYieldsZeroCosts(t *testing.T) {
	b := testBuilder()
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	profiles := b.BuildProfiles(
		[]CRMRecord{crmRecord(2, "27820000002")},
		map[string]UsageTotals{},
		pricing.Rates{WAKMRV: 1, MRVZAR: 1},
		now,
	)
	require.Len(t, profiles, 1)
	p := profiles[0]

	assert.Zero(t, p.TotalDataBytes)
	assert.Zero(t, p.TotalCallSeconds)
	assert.Zero(t, p.TotalCostZAR)
	assert.Zero(t, p.RunningBalanceZAR)
	assert.Zero(t, p.TotalCostWAK)
}

func TestBuildProfiles_NilDeviceAndAddressFlattenToZeroValues(t *testing.T) {
	b := testBuilder()
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	profiles := b.BuildProfiles(
		[]CRMRecord{crmRecord(3, "27820000003")},
		nil,
		pricing.Rates{WAKMRV: 1, MRVZAR: 1},
		now,
	)
	require.Len(t, profiles, 1)

	assert.Zero(t, profiles[0].DeviceID)
	assert.Empty(t, profiles[0].DeviceName)
	assert.Empty(t, profiles[0].City)
}

func TestBuildProfiles_LastModifiedIsGreatestOfSources(t *testing.T) {
	b := testBuilder()
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	rec := crmRecord(4, "27820000004")
	devModified := rec.AccountModified.Add(48 * time.Hour)
	addrModified := rec.AccountModified.Add(24 * time.Hour)
	rec.DeviceModified = &devModified
	rec.AddressModified = &addrModified

	profiles := b.BuildProfiles([]CRMRecord{rec}, nil, pricing.Rates{WAKMRV: 1, MRVZAR: 1}, now)
	require.Len(t, profiles, 1)
	assert.Equal(t, devModified, profiles[0].LastModified)
}
