package bucketing

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

type bucketKey struct {
	start  int64
	msisdn string
}

// Accumulator folds raw voice and data events into per-(bucket, msisdn)
// counters for a single granularity. Folding is additive; the two event
// feeds merge into one row per key with zero-fill for the side that has
// no match. Malformed measures (negative bytes or duration) are floored
// to zero and logged, never aborted on.
type Accumulator struct {
	interval Interval
	log      *zap.Logger
	buckets  map[bucketKey]*UsageBucket
}

func NewAccumulator(interval Interval, log *zap.Logger) *Accumulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Accumulator{
		interval: interval,
		log:      log.Named("bucketing").With(zap.String("interval", interval.String())),
		buckets:  make(map[bucketKey]*UsageBucket),
	}
}

func (a *Accumulator) Interval() Interval { return a.interval }

func (a *Accumulator) bucket(ts time.Time, msisdn string) *UsageBucket {
	start := a.interval.Align(ts)
	key := bucketKey{start: start.Unix(), msisdn: msisdn}
	b, ok := a.buckets[key]
	if !ok {
		b = &UsageBucket{IntervalStart: start, MSISDN: msisdn}
		a.buckets[key] = b
	}
	return b
}

// AddVoice folds one call record.
func (a *Accumulator) AddVoice(e VoiceEvent) {
	duration := e.DurationSec
	if duration < 0 {
		a.log.Warn("negative call duration floored to zero",
			zap.String("msisdn", e.MSISDN),
			zap.Int64("duration_sec", duration),
		)
		duration = 0
	}

	b := a.bucket(e.RecordedAt, e.MSISDN)
	switch e.CallType {
	case CallTypeVideo:
		b.VideoCallCount++
	default:
		b.VoiceCallCount++
	}
	b.TotalCallDurationSec += duration
}

// AddData folds one data-transfer record.
func (a *Accumulator) AddData(e DataEvent) {
	up, down := e.UpBytes, e.DownBytes
	if up < 0 || down < 0 {
		a.log.Warn("negative byte count floored to zero",
			zap.String("msisdn", e.MSISDN),
			zap.Int64("up_bytes", up),
			zap.Int64("down_bytes", down),
		)
		if up < 0 {
			up = 0
		}
		if down < 0 {
			down = 0
		}
	}

	b := a.bucket(e.RecordedAt, e.MSISDN)
	switch e.MediaType {
	case MediaVideo:
		b.VideoUpBytes += up
		b.VideoDownBytes += down
	case MediaAudio:
		b.AudioUpBytes += up
		b.AudioDownBytes += down
	case MediaImage:
		b.ImageUpBytes += up
		b.ImageDownBytes += down
	case MediaText:
		b.TextUpBytes += up
		b.TextDownBytes += down
	case MediaApplication:
		b.ApplicationUpBytes += up
		b.ApplicationDownBytes += down
	default:
		a.log.Warn("unknown media type counted in totals only",
			zap.String("media_type", e.MediaType),
		)
	}
	b.TotalUpBytes += up
	b.TotalDownBytes += down
}

// Merge folds an already materialized bucket row into the accumulator,
// adding its counters to whatever has been folded for the same key.
// Used by incremental writers to combine persisted counters with fresh
// events so the resulting row carries the full total for its window.
func (a *Accumulator) Merge(row UsageBucket) {
	b := a.bucket(row.IntervalStart, row.MSISDN)
	b.VoiceCallCount += row.VoiceCallCount
	b.VideoCallCount += row.VideoCallCount
	b.TotalCallDurationSec += row.TotalCallDurationSec
	b.VideoUpBytes += row.VideoUpBytes
	b.VideoDownBytes += row.VideoDownBytes
	b.AudioUpBytes += row.AudioUpBytes
	b.AudioDownBytes += row.AudioDownBytes
	b.ImageUpBytes += row.ImageUpBytes
	b.ImageDownBytes += row.ImageDownBytes
	b.TextUpBytes += row.TextUpBytes
	b.TextDownBytes += row.TextDownBytes
	b.ApplicationUpBytes += row.ApplicationUpBytes
	b.ApplicationDownBytes += row.ApplicationDownBytes
	b.TotalUpBytes += row.TotalUpBytes
	b.TotalDownBytes += row.TotalDownBytes
}

// Buckets returns the folded rows ordered by (interval_start, msisdn).
// The ordering is part of the determinism contract: batch and streaming
// runs over the same input produce identical row sequences.
func (a *Accumulator) Buckets() []UsageBucket {
	out := make([]UsageBucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IntervalStart.Equal(out[j].IntervalStart) {
			return out[i].IntervalStart.Before(out[j].IntervalStart)
		}
		return out[i].MSISDN < out[j].MSISDN
	})
	return out
}

// Len reports the number of distinct (bucket, msisdn) keys folded so far.
func (a *Accumulator) Len() int { return len(a.buckets) }
