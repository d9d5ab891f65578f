package bucketing

import "time"

// Call types on the raw voice feed.
const (
	CallTypeVoice = "voice"
	CallTypeVideo = "video"
)

// Media classes on the raw data feed.
const (
	MediaVideo       = "video"
	MediaAudio       = "audio"
	MediaImage       = "image"
	MediaText        = "text"
	MediaApplication = "application"
)

// VoiceEvent is a raw call-detail record. Immutable, owned upstream.
type VoiceEvent struct {
	MSISDN      string    `gorm:"column:msisdn"`
	RecordedAt  time.Time `gorm:"column:recorded_at"`
	CallType    string    `gorm:"column:call_type"`
	DurationSec int64     `gorm:"column:duration_sec"`
}

func (VoiceEvent) TableName() string { return "cdr_voice_events" }

// DataEvent is a raw data-transfer record. Immutable, owned upstream.
type DataEvent struct {
	MSISDN     string    `gorm:"column:msisdn"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
	MediaType  string    `gorm:"column:media_type"`
	UpBytes    int64     `gorm:"column:up_bytes"`
	DownBytes  int64     `gorm:"column:down_bytes"`
}

func (DataEvent) TableName() string { return "cdr_data_events" }

// UsageBucket is one rollup row: additive counters for one
// (interval_start, msisdn) key. The composite primary key matches the
// durable tables; re-applying a window replaces counter values rather
// than adding to them. The model feeds several tables via Table(), so
// uniqueness lives in the key itself, never in a named index.
type UsageBucket struct {
	IntervalStart time.Time `gorm:"column:interval_start;primaryKey"`
	MSISDN        string    `gorm:"column:msisdn;type:varchar(20);primaryKey"`

	VoiceCallCount       int64 `gorm:"column:voice_call_count;not null;default:0"`
	VideoCallCount       int64 `gorm:"column:video_call_count;not null;default:0"`
	TotalCallDurationSec int64 `gorm:"column:total_call_duration_sec;not null;default:0"`

	VideoUpBytes         int64 `gorm:"column:video_data_up_bytes;not null;default:0"`
	VideoDownBytes       int64 `gorm:"column:video_data_down_bytes;not null;default:0"`
	AudioUpBytes         int64 `gorm:"column:audio_data_up_bytes;not null;default:0"`
	AudioDownBytes       int64 `gorm:"column:audio_data_down_bytes;not null;default:0"`
	ImageUpBytes         int64 `gorm:"column:image_data_up_bytes;not null;default:0"`
	ImageDownBytes       int64 `gorm:"column:image_data_down_bytes;not null;default:0"`
	TextUpBytes          int64 `gorm:"column:text_data_up_bytes;not null;default:0"`
	TextDownBytes        int64 `gorm:"column:text_data_down_bytes;not null;default:0"`
	ApplicationUpBytes   int64 `gorm:"column:application_data_up_bytes;not null;default:0"`
	ApplicationDownBytes int64 `gorm:"column:application_data_down_bytes;not null;default:0"`

	TotalUpBytes   int64 `gorm:"column:total_up_bytes;not null;default:0"`
	TotalDownBytes int64 `gorm:"column:total_down_bytes;not null;default:0"`
}

// CounterColumns lists the mutable counter columns, used by the upsert
// writer to replace values on conflict.
func CounterColumns() []string {
	return []string{
		"voice_call_count",
		"video_call_count",
		"total_call_duration_sec",
		"video_data_up_bytes",
		"video_data_down_bytes",
		"audio_data_up_bytes",
		"audio_data_down_bytes",
		"image_data_up_bytes",
		"image_data_down_bytes",
		"text_data_up_bytes",
		"text_data_down_bytes",
		"application_data_up_bytes",
		"application_data_down_bytes",
		"total_up_bytes",
		"total_down_bytes",
	}
}
