// Package watermark persists per-layer processing state so incremental
// runs resume without duplicating work.
package watermark

import "time"

// ProcessingState records, per logical layer, the highest timestamp
// already folded into durable rollups. Mutated only by the orchestrator
// that owns the layer, at the end of a successful pass.
type ProcessingState struct {
	LayerName             string     `gorm:"column:layer_name;primaryKey;type:varchar(100)"`
	LastProcessedDatetime *time.Time `gorm:"column:last_processed_datetime"`
	LastRunAt             time.Time  `gorm:"column:last_run_at;not null"`
}

func (ProcessingState) TableName() string { return "processing_state" }
