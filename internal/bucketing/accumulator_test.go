package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestInterval_AlignIsEpochAligned(t *testing.T) {
	at := ts("2025-12-07T12:07:42Z")

	assert.Equal(t, ts("2025-12-07T12:00:00Z"), Interval15Min.Align(at))
	assert.Equal(t, ts("2025-12-07T12:00:00Z"), Interval30Min.Align(at))
	assert.Equal(t, ts("2025-12-07T12:00:00Z"), Interval1Hr.Align(at))
	assert.Equal(t, ts("2025-12-07T00:00:00Z"), IntervalDaily.Align(at))

	assert.Equal(t, ts("2025-12-07T12:15:00Z"), Interval15Min.Align(ts("2025-12-07T12:29:59Z")))
	assert.Equal(t, ts("2025-12-07T12:30:00Z"), Interval30Min.Align(ts("2025-12-07T12:59:00Z")))
}

func TestAccumulator_MergesVoiceAndDataWithZeroFill(t *testing.T) {
	acc := NewAccumulator(Interval15Min, nil)
	at := ts("2025-12-07T12:00:00Z")

	acc.AddVoice(VoiceEvent{MSISDN: "27820000001", RecordedAt: at, CallType: CallTypeVoice, DurationSec: 60})
	acc.AddVoice(VoiceEvent{MSISDN: "27820000001", RecordedAt: at.Add(time.Minute), CallType: CallTypeVoice, DurationSec: 60})
	acc.AddData(DataEvent{MSISDN: "27820000001", RecordedAt: at.Add(2 * time.Minute), MediaType: MediaVideo, UpBytes: 1000, DownBytes: 800})

	rows := acc.Buckets()
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, at, row.IntervalStart)
	assert.Equal(t, int64(2), row.VoiceCallCount)
	assert.Equal(t, int64(120), row.TotalCallDurationSec)
	assert.Equal(t, int64(1000), row.VideoUpBytes)
	assert.Equal(t, int64(800), row.VideoDownBytes)
	// Zero-fill on counters that had no matching side.
	assert.Equal(t, int64(0), row.VideoCallCount)
	assert.Equal(t, int64(0), row.AudioUpBytes)
	assert.Equal(t, int64(1000), row.TotalUpBytes)
	assert.Equal(t, int64(800), row.TotalDownBytes)
}

func TestAccumulator_EventBelongsToExactlyOneBucket(t *testing.T) {
	acc := NewAccumulator(Interval15Min, nil)

	acc.AddVoice(VoiceEvent{MSISDN: "27820000001", RecordedAt: ts("2025-12-07T12:14:59Z"), CallType: CallTypeVoice, DurationSec: 30})
	acc.AddVoice(VoiceEvent{MSISDN: "27820000001", RecordedAt: ts("2025-12-07T12:15:00Z"), CallType: CallTypeVoice, DurationSec: 30})

	rows := acc.Buckets()
	require.Len(t, rows, 2)
	assert.Equal(t, ts("2025-12-07T12:00:00Z"), rows[0].IntervalStart)
	assert.Equal(t, ts("2025-12-07T12:15:00Z"), rows[1].IntervalStart)
	assert.Equal(t, int64(1), rows[0].VoiceCallCount)
	assert.Equal(t, int64(1), rows[1].VoiceCallCount)
}

func TestAccumulator_NegativeMeasuresFlooredToZero(t *testing.T) {
	acc := NewAccumulator(Interval1Hr, nil)
	at := ts("2025-12-07T09:10:00Z")

	acc.AddVoice(VoiceEvent{MSISDN: "27820000002", RecordedAt: at, CallType: CallTypeVideo, DurationSec: -45})
	acc.AddData(DataEvent{MSISDN: "27820000002", RecordedAt: at, MediaType: MediaText, UpBytes: -10, DownBytes: 20})

	rows := acc.Buckets()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].VideoCallCount)
	assert.Equal(t, int64(0), rows[0].TotalCallDurationSec)
	assert.Equal(t, int64(0), rows[0].TextUpBytes)
	assert.Equal(t, int64(20), rows[0].TextDownBytes)
	assert.Equal(t, int64(0), rows[0].TotalUpBytes)
}

// Additivity: counters computed over a whole window equal the sum of the
// counters of any partition of it into sub-windows.
func TestAccumulator_AdditivityAcrossSubWindows(t *testing.T) {
	base := ts("2025-12-07T00:00:00Z")

	var all []VoiceEvent
	for i := 0; i < 8; i++ {
		all = append(all, VoiceEvent{
			MSISDN:      "27820000003",
			RecordedAt:  base.Add(time.Duration(i) * 7 * time.Minute),
			CallType:    CallTypeVoice,
			DurationSec: int64(10 * (i + 1)),
		})
	}

	whole := NewAccumulator(Interval1Hr, nil)
	for _, e := range all {
		whole.AddVoice(e)
	}

	first := NewAccumulator(Interval1Hr, nil)
	second := NewAccumulator(Interval1Hr, nil)
	for _, e := range all {
		if e.RecordedAt.Before(base.Add(30 * time.Minute)) {
			first.AddVoice(e)
		} else {
			second.AddVoice(e)
		}
	}

	sum := map[string]int64{}
	for _, acc := range []*Accumulator{first, second} {
		for _, row := range acc.Buckets() {
			key := row.IntervalStart.Format(time.RFC3339) + row.MSISDN
			sum[key] += row.TotalCallDurationSec
		}
	}
	for _, row := range whole.Buckets() {
		key := row.IntervalStart.Format(time.RFC3339) + row.MSISDN
		assert.Equal(t, row.TotalCallDurationSec, sum[key])
	}
}

func TestAccumulator_DeterministicOrdering(t *testing.T) {
	at := ts("2025-12-07T10:00:00Z")

	build := func(order []string) []UsageBucket {
		acc := NewAccumulator(Interval15Min, nil)
		for _, msisdn := range order {
			acc.AddVoice(VoiceEvent{MSISDN: msisdn, RecordedAt: at, CallType: CallTypeVoice, DurationSec: 10})
		}
		return acc.Buckets()
	}

	a := build([]string{"27820000003", "27820000001", "27820000002"})
	b := build([]string{"27820000002", "27820000003", "27820000001"})
	assert.Equal(t, a, b)
}
