package watermark

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ProcessingState{}))
	return db
}

func TestTracker_GetUnknownLayerReturnsNil(t *testing.T) {
	tracker := NewTracker(newTestDB(t))

	wm, err := tracker.Get(context.Background(), "usage_15min")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestTracker_LeaseCreatesRowAndReturnsWatermark(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	ctx := context.Background()
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)

	err := db.Transaction(func(tx *gorm.DB) error {
		wm, err := tracker.Lease(ctx, tx, "usage_15min", now)
		require.NoError(t, err)
		assert.Nil(t, wm)
		return nil
	})
	require.NoError(t, err)

	var row ProcessingState
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "usage_15min", row.LayerName)
	// The fresh row carries the pass's clock reading, not wall time.
	assert.True(t, row.LastRunAt.Equal(now), "last_run_at = %v, want %v", row.LastRunAt, now)
}

func TestTracker_AdvanceIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	ctx := context.Background()

	t1 := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	runAt := t2.Add(time.Minute)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := tracker.Lease(ctx, tx, "usage_1hr", runAt); err != nil {
			return err
		}
		return tracker.Advance(ctx, tx, "usage_1hr", t2, runAt)
	})
	require.NoError(t, err)

	// Re-advancing with an older timestamp must not move it back.
	err = db.Transaction(func(tx *gorm.DB) error {
		return tracker.Advance(ctx, tx, "usage_1hr", t1, runAt.Add(time.Minute))
	})
	require.NoError(t, err)

	wm, err := tracker.Get(ctx, "usage_1hr")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, wm.Equal(t2), "watermark moved backwards: %v", wm)
}

func TestTracker_FailedPassLeavesWatermarkUntouched(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	ctx := context.Background()

	t1 := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if _, err := tracker.Lease(ctx, tx, "usage_30min", t1); err != nil {
			return err
		}
		return tracker.Advance(ctx, tx, "usage_30min", t1, t1)
	}))

	// A pass that fails after advancing inside its transaction must roll
	// the advance back with everything else.
	boom := assert.AnError
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tracker.Advance(ctx, tx, "usage_30min", t1.Add(time.Hour), t1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	wm, err := tracker.Get(ctx, "usage_30min")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, wm.Equal(t1))
}
