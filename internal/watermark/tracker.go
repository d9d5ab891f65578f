package watermark

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker reads and advances per-layer watermarks. Advance must be
// called inside the same transaction as the pass's writes so a failed
// pass leaves the watermark untouched and the next run re-covers the
// same window.
type Tracker struct {
	db *gorm.DB
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// Get returns the layer's watermark, or nil when the layer has never
// completed a pass.
func (t *Tracker) Get(ctx context.Context, layer string) (*time.Time, error) {
	return get(ctx, t.db, layer)
}

// Lease ensures the layer's state row exists and locks it for the
// duration of tx, serializing concurrent schedulers on the same layer.
// It returns the current watermark. now is the pass's clock reading and
// stamps a freshly created row. On dialects without FOR UPDATE (sqlite
// in tests) the read is unlocked; single-writer semantics are then the
// caller's responsibility.
func (t *Tracker) Lease(ctx context.Context, tx *gorm.DB, layer string, now time.Time) (*time.Time, error) {
	state := ProcessingState{LayerName: layer, LastRunAt: now.UTC()}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "layer_name"}},
			DoNothing: true,
		}).
		Create(&state).Error
	if err != nil {
		return nil, err
	}

	q := tx.WithContext(ctx)
	if isPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row ProcessingState
	if err := q.Where("layer_name = ?", layer).First(&row).Error; err != nil {
		return nil, err
	}
	return row.LastProcessedDatetime, nil
}

// Advance moves the layer's watermark forward. It never decreases the
// stored timestamp: an out-of-order advance is ignored, which keeps the
// watermark monotonic across any sequence of successful runs. last_run_at
// is always refreshed.
func (t *Tracker) Advance(ctx context.Context, tx *gorm.DB, layer string, ts time.Time, runAt time.Time) error {
	ts = ts.UTC()
	err := tx.WithContext(ctx).Model(&ProcessingState{}).
		Where("layer_name = ?", layer).
		Where("last_processed_datetime IS NULL OR last_processed_datetime < ?", ts).
		Updates(map[string]any{
			"last_processed_datetime": ts,
			"last_run_at":             runAt.UTC(),
		}).Error
	if err != nil {
		return err
	}
	return t.Touch(ctx, tx, layer, runAt)
}

// Touch refreshes last_run_at without moving the watermark. Used by
// full-rebuild layers that carry no incremental boundary.
func (t *Tracker) Touch(ctx context.Context, tx *gorm.DB, layer string, runAt time.Time) error {
	return tx.WithContext(ctx).Model(&ProcessingState{}).
		Where("layer_name = ?", layer).
		Update("last_run_at", runAt.UTC()).Error
}

func get(ctx context.Context, db *gorm.DB, layer string) (*time.Time, error) {
	var row ProcessingState
	err := db.WithContext(ctx).Where("layer_name = ?", layer).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.LastProcessedDatetime, nil
}

func isPostgres(db *gorm.DB) bool {
	return db != nil && strings.EqualFold(db.Dialector.Name(), "postgres")
}
