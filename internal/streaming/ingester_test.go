package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/cdrflow/internal/bucketing"
	"github.com/smallbiznis/cdrflow/internal/clock"
	obsmetrics "github.com/smallbiznis/cdrflow/internal/observability/metrics"
	"github.com/smallbiznis/cdrflow/internal/rates"
	"github.com/smallbiznis/cdrflow/internal/rollup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestIngester(t *testing.T) (*Ingester, *gorm.DB) {
	t.Helper()
	obsmetrics.ResetPipelineMetricsForTest()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&rates.ExchangeRate{}, &IngestedEntry{}))
	require.NoError(t, db.Table(bucketing.IntervalDaily.Table()).AutoMigrate(&bucketing.UsageBucket{}))

	ing := &Ingester{
		db:     db,
		log:    zap.NewNop(),
		clock:  clock.NewFakeClock(time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)),
		cfg:    DefaultConfig(),
		writer: rollup.NewWriter(),
	}
	return ing, db
}

func voiceMessage(id string, at time.Time, msisdn string, seconds int64) pendingMessage {
	return pendingMessage{id: id, event: Event{
		Timestamp:    at,
		SubscriberID: msisdn,
		Kind:         KindVoice,
		CallType:     bucketing.CallTypeVoice,
		DurationSec:  seconds,
	}}
}

func TestFlush_EmptyBatchIsNoop(t *testing.T) {
	ing, db := newTestIngester(t)

	require.NoError(t, ing.Flush(context.Background(), nil))

	var count int64
	db.Table(bucketing.IntervalDaily.Table()).Count(&count)
	assert.Zero(t, count)
}

func TestFlush_FoldsUsageIntoDailyBuckets(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 9, 30, 0, 0, time.UTC)

	batch := []pendingMessage{
		voiceMessage("1-0", at, "27820000001", 60),
		voiceMessage("2-0", at.Add(6*time.Hour), "27820000001", 120),
		{id: "3-0", event: Event{
			Timestamp: at, SubscriberID: "27820000001", Kind: KindData,
			MediaType: bucketing.MediaImage, UpBytes: 500, DownBytes: 1500,
		}},
	}
	require.NoError(t, ing.Flush(context.Background(), batch))

	var rows []bucketing.UsageBucket
	require.NoError(t, db.Table(bucketing.IntervalDaily.Table()).Find(&rows).Error)
	require.Len(t, rows, 1)

	assert.Equal(t, time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC), rows[0].IntervalStart.UTC())
	assert.Equal(t, int64(2), rows[0].VoiceCallCount)
	assert.Equal(t, int64(180), rows[0].TotalCallDurationSec)
	assert.Equal(t, int64(500), rows[0].ImageUpBytes)
	assert.Equal(t, int64(2000), rows[0].TotalUpBytes+rows[0].TotalDownBytes)
}

func TestFlush_LaterBatchAddsToSameDay(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 9, 30, 0, 0, time.UTC)

	// Two separate flushes land in the same (day, msisdn) bucket; the
	// second write must carry the first one's counts forward.
	require.NoError(t, ing.Flush(context.Background(), []pendingMessage{
		voiceMessage("1-0", at, "27820000001", 60),
	}))
	require.NoError(t, ing.Flush(context.Background(), []pendingMessage{
		voiceMessage("2-0", at.Add(time.Hour), "27820000001", 120),
	}))

	var rows []bucketing.UsageBucket
	require.NoError(t, db.Table(bucketing.IntervalDaily.Table()).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].VoiceCallCount)
	assert.Equal(t, int64(180), rows[0].TotalCallDurationSec)
}

func TestFlush_RedeliveredBatchDoesNotDoubleCount(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 9, 30, 0, 0, time.UTC)

	batch := []pendingMessage{voiceMessage("1-0", at, "27820000001", 60)}
	require.NoError(t, ing.Flush(context.Background(), batch))
	require.NoError(t, ing.Flush(context.Background(), batch))

	var rows []bucketing.UsageBucket
	require.NoError(t, db.Table(bucketing.IntervalDaily.Table()).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].VoiceCallCount)
	assert.Equal(t, int64(60), rows[0].TotalCallDurationSec)
}

func TestFlush_RedeliveredEntriesInsideMixedBatchAreDropped(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 9, 30, 0, 0, time.UTC)

	require.NoError(t, ing.Flush(context.Background(), []pendingMessage{
		voiceMessage("1-0", at, "27820000001", 60),
	}))
	// Entry 1-0 comes back alongside a fresh entry; only 2-0 may count.
	require.NoError(t, ing.Flush(context.Background(), []pendingMessage{
		voiceMessage("1-0", at, "27820000001", 60),
		voiceMessage("2-0", at.Add(time.Minute), "27820000001", 30),
	}))

	var rows []bucketing.UsageBucket
	require.NoError(t, db.Table(bucketing.IntervalDaily.Table()).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].VoiceCallCount)
	assert.Equal(t, int64(90), rows[0].TotalCallDurationSec)
}

func TestFlush_AppendsForexTicks(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	batch := []pendingMessage{
		{id: "1-0", event: Event{Timestamp: at, Kind: KindForexTick, PairName: rates.PairWAKMRV, BidPrice: 100, AskPrice: 102}},
		{id: "2-0", event: Event{Timestamp: at.Add(time.Minute), Kind: KindForexTick, PairName: rates.PairMRVZAR, BidPrice: 0.4, AskPrice: 0.6}},
	}
	require.NoError(t, ing.Flush(context.Background(), batch))

	var ticks []rates.ExchangeRate
	require.NoError(t, db.Order("pair_name").Find(&ticks).Error)
	require.Len(t, ticks, 2)
	assert.InDelta(t, 0.5, ticks[0].Rate, 1e-9)
	assert.InDelta(t, 101.0, ticks[1].Rate, 1e-9)
}

func TestFlush_DuplicateTickDoesNotSkewAverage(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	tick := Event{Timestamp: at, Kind: KindForexTick, PairName: rates.PairWAKMRV, BidPrice: 100, AskPrice: 102}
	require.NoError(t, ing.Flush(context.Background(), []pendingMessage{{id: "1-0", event: tick}}))
	// The same quote re-published under a new entry id must not insert a
	// second row.
	require.NoError(t, ing.Flush(context.Background(), []pendingMessage{{id: "2-0", event: tick}}))

	var count int64
	db.Model(&rates.ExchangeRate{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFlush_MixedBatchCommitsAtomically(t *testing.T) {
	ing, db := newTestIngester(t)
	at := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	batch := []pendingMessage{
		voiceMessage("1-0", at, "27820000001", 30),
		{id: "2-0", event: Event{Timestamp: at, Kind: KindForexTick, PairName: rates.PairWAKMRV, BidPrice: 1, AskPrice: 1}},
	}
	require.NoError(t, ing.Flush(context.Background(), batch))

	var buckets, ticks int64
	db.Table(bucketing.IntervalDaily.Table()).Count(&buckets)
	db.Model(&rates.ExchangeRate{}).Count(&ticks)
	assert.Equal(t, int64(1), buckets)
	assert.Equal(t, int64(1), ticks)
}
