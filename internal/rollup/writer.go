// Package rollup applies accumulator state to durable storage. Two
// strategies live behind one writer: keyed insert-or-replace for
// window-keyed tables, and transactional drop-and-rebuild for derived
// views whose primary key set can change between passes.
package rollup

import (
	"context"

	"github.com/smallbiznis/cdrflow/internal/bucketing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const writeBatchSize = 500

// Writer persists rollup rows. All methods operate on the caller's
// transaction so a layer pass stays all-or-nothing.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// UpsertBuckets applies usage buckets to the table for the given
// interval: insert when the (interval_start, msisdn) key is absent,
// otherwise overwrite the counter columns with the newly computed
// values. Replace, not add — each accumulator row already carries the
// full total for its window, so re-applying the same window cannot
// double-count. This is what makes reprocessing and at-least-once
// delivery idempotent.
func (w *Writer) UpsertBuckets(ctx context.Context, tx *gorm.DB, interval bucketing.Interval, rows []bucketing.UsageBucket) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Table(interval.Table()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interval_start"}, {Name: "msisdn"}},
			DoUpdates: clause.AssignmentColumns(bucketing.CounterColumns()),
		}).
		CreateInBatches(rows, writeBatchSize).Error
}

// Rebuild replaces the entire contents of a derived view: delete all
// rows of model's table, then insert rows, inside the caller's
// transaction. Used where the key set itself changes across passes
// (tower sessions, balance profiles).
func (w *Writer) Rebuild(ctx context.Context, tx *gorm.DB, model any, rows any) error {
	if err := tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(model).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).CreateInBatches(rows, writeBatchSize).Error
}
