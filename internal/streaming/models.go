package streaming

import "time"

// IngestedEntry marks one stream entry as applied. The row is inserted
// in the same transaction as the entry's effects, so a message
// redelivered after a crash between commit and ack is recognized and
// dropped instead of applied twice.
type IngestedEntry struct {
	EntryID    string    `gorm:"column:entry_id;type:varchar(64);primaryKey"`
	IngestedAt time.Time `gorm:"column:ingested_at;not null;index"`
}

func (IngestedEntry) TableName() string { return "ingested_stream_entries" }
