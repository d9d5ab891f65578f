// Package streaming consumes usage events from a Redis Stream and folds
// them online into the daily rollup through the same accumulator and
// writer the batch path uses.
package streaming

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Event kinds on the stream.
const (
	KindVoice     = "voice"
	KindData      = "data"
	KindForexTick = "forex_tick"
)

// Skip reasons, kept low-cardinality for metrics.
const (
	SkipReasonMissingField = "missing_field"
	SkipReasonBadTimestamp = "bad_timestamp"
	SkipReasonBadMeasure   = "bad_measure"
	SkipReasonUnknownKind  = "unknown_kind"
)

// SkipError marks a message that must be acked and dropped rather than
// retried: redelivery cannot fix a malformed payload.
type SkipError struct {
	Reason string
	Field  string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip message: %s (%s)", e.Reason, e.Field)
}

// AsSkip returns the SkipError inside err, if any.
func AsSkip(err error) (*SkipError, bool) {
	var skip *SkipError
	ok := errors.As(err, &skip)
	return skip, ok
}

// Event is one decoded stream message. Exactly one of the per-kind field
// groups is populated. Extra holds fields the decoder does not know;
// they are carried through untouched so producers can evolve the schema
// without breaking the consumer.
type Event struct {
	Timestamp    time.Time
	SubscriberID string
	Kind         string

	CallType    string
	DurationSec int64

	MediaType string
	UpBytes   int64
	DownBytes int64

	PairName string
	BidPrice float64
	AskPrice float64

	Extra datatypes.JSONMap
}

var knownFields = map[string]struct{}{
	"timestamp": {}, "subscriber_id": {}, "event_kind": {},
	"call_type": {}, "duration_sec": {},
	"media_type": {}, "up_bytes": {}, "down_bytes": {},
	"pair_name": {}, "bid_price": {}, "ask_price": {}, "spread": {},
}

// Decode parses one stream entry's field map. Missing required fields or
// unparseable measures yield a SkipError; unknown extra fields are
// collected, never rejected.
func Decode(values map[string]interface{}) (Event, error) {
	ev := Event{}

	ts, ok := stringField(values, "timestamp")
	if !ok {
		return ev, &SkipError{Reason: SkipReasonMissingField, Field: "timestamp"}
	}
	parsed, err := parseTimestamp(ts)
	if err != nil {
		return ev, &SkipError{Reason: SkipReasonBadTimestamp, Field: "timestamp"}
	}
	ev.Timestamp = parsed

	ev.Kind, ok = stringField(values, "event_kind")
	if !ok {
		return ev, &SkipError{Reason: SkipReasonMissingField, Field: "event_kind"}
	}

	var skip *SkipError
	switch ev.Kind {
	case KindVoice:
		if ev.SubscriberID, ok = stringField(values, "subscriber_id"); !ok {
			return ev, &SkipError{Reason: SkipReasonMissingField, Field: "subscriber_id"}
		}
		ev.CallType, _ = stringField(values, "call_type")
		if ev.DurationSec, skip = requiredInt(values, "duration_sec"); skip != nil {
			return ev, skip
		}
	case KindData:
		if ev.SubscriberID, ok = stringField(values, "subscriber_id"); !ok {
			return ev, &SkipError{Reason: SkipReasonMissingField, Field: "subscriber_id"}
		}
		ev.MediaType, _ = stringField(values, "media_type")
		if ev.UpBytes, skip = requiredInt(values, "up_bytes"); skip != nil {
			return ev, skip
		}
		if ev.DownBytes, skip = requiredInt(values, "down_bytes"); skip != nil {
			return ev, skip
		}
	case KindForexTick:
		if ev.PairName, ok = stringField(values, "pair_name"); !ok {
			return ev, &SkipError{Reason: SkipReasonMissingField, Field: "pair_name"}
		}
		if ev.BidPrice, skip = requiredFloat(values, "bid_price"); skip != nil {
			return ev, skip
		}
		if ev.AskPrice, skip = requiredFloat(values, "ask_price"); skip != nil {
			return ev, skip
		}
	default:
		return ev, &SkipError{Reason: SkipReasonUnknownKind, Field: ev.Kind}
	}

	for k, v := range values {
		if _, known := knownFields[k]; known {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = datatypes.JSONMap{}
		}
		ev.Extra[k] = v
	}

	return ev, nil
}

// Rate is the mid price of a tick, the value persisted to
// exchange_rates.
func (e Event) Rate() float64 {
	return (e.BidPrice + e.AskPrice) / 2
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func stringField(values map[string]interface{}, key string) (string, bool) {
	raw, ok := values[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// requiredInt parses a measure that must be present: an absent field is
// a missing-field skip, never a silent zero.
func requiredInt(values map[string]interface{}, key string) (int64, *SkipError) {
	raw, ok := values[key]
	if !ok {
		return 0, &SkipError{Reason: SkipReasonMissingField, Field: key}
	}
	s, ok := raw.(string)
	if !ok {
		return 0, &SkipError{Reason: SkipReasonBadMeasure, Field: key}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &SkipError{Reason: SkipReasonBadMeasure, Field: key}
	}
	return n, nil
}

func requiredFloat(values map[string]interface{}, key string) (float64, *SkipError) {
	raw, ok := values[key]
	if !ok {
		return 0, &SkipError{Reason: SkipReasonMissingField, Field: key}
	}
	s, ok := raw.(string)
	if !ok {
		return 0, &SkipError{Reason: SkipReasonBadMeasure, Field: key}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &SkipError{Reason: SkipReasonBadMeasure, Field: key}
	}
	return f, nil
}
