// Package bucketing assigns raw usage events to epoch-aligned interval
// buckets and folds them into additive per-subscriber accumulators.
package bucketing

import "time"

// Interval is a fixed bucket width. Alignment is a floor against the UTC
// epoch (midnight UTC), so independent runs agree on bucket boundaries
// regardless of when they were invoked.
type Interval time.Duration

const (
	Interval15Min Interval = Interval(15 * time.Minute)
	Interval30Min Interval = Interval(30 * time.Minute)
	Interval1Hr   Interval = Interval(time.Hour)
	IntervalDaily Interval = Interval(24 * time.Hour)
)

// Align floors ts to the start of its bucket.
func (i Interval) Align(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Duration(i))
}

// Table returns the durable rollup table fed by this interval.
func (i Interval) Table() string {
	switch i {
	case Interval15Min:
		return "usage_summary_15min"
	case Interval30Min:
		return "usage_summary_30min"
	case Interval1Hr:
		return "usage_summary_1hr"
	case IntervalDaily:
		return "usage_summary_daily"
	default:
		return ""
	}
}

func (i Interval) String() string {
	switch i {
	case Interval15Min:
		return "15min"
	case Interval30Min:
		return "30min"
	case Interval1Hr:
		return "1hr"
	case IntervalDaily:
		return "daily"
	default:
		return time.Duration(i).String()
	}
}

// BatchIntervals lists the granularities computed by the batch path. Each
// is computed independently from the same raw event set, never derived
// from a finer one.
func BatchIntervals() []Interval {
	return []Interval{Interval15Min, Interval30Min, Interval1Hr}
}
