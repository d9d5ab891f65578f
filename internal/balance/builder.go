package balance

import (
	"time"

	"github.com/smallbiznis/cdrflow/internal/pricing"
)

// Builder folds CRM records and usage totals into balance profiles. It
// is pure: all I/O happens in the Loader, so the cost arithmetic can be
// tested without a database.
type Builder struct {
	model pricing.Model
}

func NewBuilder(model pricing.Model) *Builder {
	return &Builder{model: model}
}

// BuildProfiles produces one profile per CRM record. Usage attaches by
// msisdn; records with no usage keep zero costs. The converted amounts
// use the average rates of the covering window; total_cost_wak is
// converted from the ZAR total independently, so ZAR stays the
// authoritative additive currency.
func (b *Builder) BuildProfiles(records []CRMRecord, totals map[string]UsageTotals, rates pricing.Rates, now time.Time) []BalanceProfile {
	factor := rates.Factor()
	profiles := make([]BalanceProfile, 0, len(records))

	for _, rec := range records {
		usage := totals[rec.MSISDN]

		dataZAR := b.model.DataCost(usage.DataBytes)
		voiceZAR := b.model.VoiceCost(usage.CallSeconds)
		totalZAR := dataZAR + voiceZAR

		p := BalanceProfile{
			AccountID: rec.AccountID,
			OwnerName: rec.OwnerName,
			Email:     rec.Email,
			MSISDN:    rec.MSISDN,

			DeviceID:   deref(rec.DeviceID),
			DeviceName: derefString(rec.DeviceName),
			DeviceType: derefString(rec.DeviceType),
			DeviceOS:   derefString(rec.DeviceOS),

			StreetAddress: derefString(rec.StreetAddress),
			City:          derefString(rec.City),
			State:         derefString(rec.State),
			PostalCode:    derefString(rec.PostalCode),
			Country:       derefString(rec.Country),

			LastModified: lastModified(rec),

			TotalDataBytes:    usage.DataBytes,
			DataCostZAR:       dataZAR,
			TotalCallSeconds:  usage.CallSeconds,
			VoiceCostZAR:      voiceZAR,
			TotalCostZAR:      totalZAR,
			RunningBalanceZAR: -totalZAR,

			DataCostWAK:   pricing.ConvertMinorUnits(dataZAR, factor),
			VoiceCostWAK:  pricing.ConvertMinorUnits(voiceZAR, factor),
			TotalCostWAK:  pricing.ConvertMinorUnits(totalZAR, factor),
			AvgWAKMRVRate: rates.WAKMRV,
			AvgMRVZARRate: rates.MRVZAR,

			CreatedAt: now.UTC(),
		}
		profiles = append(profiles, p)
	}

	return profiles
}

func lastModified(rec CRMRecord) time.Time {
	last := rec.AccountModified
	if rec.DeviceModified != nil && rec.DeviceModified.After(last) {
		last = *rec.DeviceModified
	}
	if rec.AddressModified != nil && rec.AddressModified.After(last) {
		last = *rec.AddressModified
	}
	return last
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
