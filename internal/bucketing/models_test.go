package bucketing

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// One UsageBucket model feeds four tables in the same database; the
// schema it generates must not collide with itself across tables.
func TestUsageBucketMigratesEveryGranularity(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	intervals := []Interval{Interval15Min, Interval30Min, Interval1Hr, IntervalDaily}
	for _, interval := range intervals {
		require.NoError(t, db.Table(interval.Table()).AutoMigrate(&UsageBucket{}),
			"migrating %s", interval.Table())
	}

	// The composite key enforces one row per (interval_start, msisdn)
	// in each table independently.
	start := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)
	for _, interval := range intervals {
		require.NoError(t, db.Table(interval.Table()).
			Create(&UsageBucket{IntervalStart: start, MSISDN: "27820000001", VoiceCallCount: 1}).Error)
		dup := db.Table(interval.Table()).
			Create(&UsageBucket{IntervalStart: start, MSISDN: "27820000001", VoiceCallCount: 9}).Error
		assert.Error(t, dup, "duplicate key accepted by %s", interval.Table())
	}
}
