package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/cdrflow/internal/bucketing"
	"github.com/smallbiznis/cdrflow/internal/sessionizing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Table(bucketing.Interval15Min.Table()).AutoMigrate(&bucketing.UsageBucket{}))
	require.NoError(t, db.AutoMigrate(&sessionizing.TowerSession{}))
	return db
}

func bucket(start time.Time, msisdn string, calls, durationSec int64) bucketing.UsageBucket {
	return bucketing.UsageBucket{
		IntervalStart:        start,
		MSISDN:               msisdn,
		VoiceCallCount:       calls,
		TotalCallDurationSec: durationSec,
	}
}

func TestUpsertBuckets_ReplacesNotAdds(t *testing.T) {
	db := newTestDB(t)
	w := NewWriter()
	ctx := context.Background()
	start := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return w.UpsertBuckets(ctx, tx, bucketing.Interval15Min, []bucketing.UsageBucket{
			bucket(start, "27820000001", 2, 120),
		})
	}))

	// Re-applying the same window with recomputed values must overwrite,
	// never accumulate.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return w.UpsertBuckets(ctx, tx, bucketing.Interval15Min, []bucketing.UsageBucket{
			bucket(start, "27820000001", 3, 200),
		})
	}))

	var rows []bucketing.UsageBucket
	require.NoError(t, db.Table(bucketing.Interval15Min.Table()).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].VoiceCallCount)
	assert.Equal(t, int64(200), rows[0].TotalCallDurationSec)
}

func TestUpsertBuckets_DoubleApplyIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	w := NewWriter()
	ctx := context.Background()
	start := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	rows := []bucketing.UsageBucket{
		bucket(start, "27820000001", 2, 120),
		bucket(start, "27820000002", 1, 45),
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return w.UpsertBuckets(ctx, tx, bucketing.Interval15Min, rows)
		}))
	}

	var got []bucketing.UsageBucket
	require.NoError(t, db.Table(bucketing.Interval15Min.Table()).Order("msisdn").Find(&got).Error)
	require.Len(t, got, 2)
	assert.Equal(t, int64(120), got[0].TotalCallDurationSec)
	assert.Equal(t, int64(45), got[1].TotalCallDurationSec)
}

func TestUpsertBuckets_EmptyInputIsNoop(t *testing.T) {
	db := newTestDB(t)
	w := NewWriter()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return w.UpsertBuckets(context.Background(), tx, bucketing.Interval15Min, nil)
	}))

	var count int64
	db.Table(bucketing.Interval15Min.Table()).Count(&count)
	assert.Zero(t, count)
}

func TestRebuild_ReplacesAllRows(t *testing.T) {
	db := newTestDB(t)
	w := NewWriter()
	ctx := context.Background()
	t0 := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	session := func(id int64, msisdn string, tower int64) sessionizing.TowerSession {
		return sessionizing.TowerSession{
			ID:               snowflake.ID(id),
			MSISDN:           msisdn,
			TowerID:          tower,
			SessionStart:     t0,
			SessionEnd:       t0.Add(time.Minute),
			InteractionCount: 1,
			CreatedAt:        t0,
		}
	}

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return w.Rebuild(ctx, tx, &sessionizing.TowerSession{}, []sessionizing.TowerSession{
			session(1, "27820000001", 10),
			session(2, "27820000002", 11),
		})
	}))

	// A later pass with a different key set fully replaces the view.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return w.Rebuild(ctx, tx, &sessionizing.TowerSession{}, []sessionizing.TowerSession{
			session(3, "27820000003", 12),
		})
	}))

	var got []sessionizing.TowerSession
	require.NoError(t, db.Find(&got).Error)
	require.Len(t, got, 1)
	assert.Equal(t, "27820000003", got[0].MSISDN)
}
