// Package sessionizing derives contiguous tower sessions from discrete
// attach/detach events.
package sessionizing

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tower event types on the raw feed.
const (
	EventAttach    = "attach"
	EventDetach    = "detach"
	EventHeartbeat = "heartbeat"
)

// TowerEvent is one raw tower interaction. Immutable, ordered per
// subscriber by timestamp upstream.
type TowerEvent struct {
	MSISDN     string    `gorm:"column:msisdn"`
	TowerID    int64     `gorm:"column:tower_id"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
	EventType  string    `gorm:"column:event_type"`
}

func (TowerEvent) TableName() string { return "tower_events" }

// TowerSession is a closed run of same-tower interactions. Sessions are
// derived state: they are rebuilt whole by reprocessing, never patched
// incrementally.
type TowerSession struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	MSISDN           string       `gorm:"column:msisdn;type:varchar(20);not null;index"`
	TowerID          int64        `gorm:"column:tower_id;not null;index"`
	SessionStart     time.Time    `gorm:"column:session_start;not null;index"`
	SessionEnd       time.Time    `gorm:"column:session_end;not null"`
	InteractionCount int64        `gorm:"column:interaction_count;not null;default:0"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (TowerSession) TableName() string { return "tower_sessions" }
