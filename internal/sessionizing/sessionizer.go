package sessionizing

import (
	"sort"
	"time"
)

// Sessionizer closes runs of same-tower events separated by gaps below
// the configured threshold. It is a pure function of the ordered input
// for one subscriber: re-running it on the same closed window reproduces
// identical session boundaries.
type Sessionizer struct {
	gap time.Duration
}

func New(gap time.Duration) *Sessionizer {
	return &Sessionizer{gap: gap}
}

// Sessionize scans one subscriber's events and emits closed sessions.
// A tower change always closes the open session; a gap of at least the
// threshold between same-tower events also closes it. The trailing open
// session is always emitted, so a single event yields one session with
// start == end and interaction_count == 1. Empty input yields no
// sessions.
func (s *Sessionizer) Sessionize(events []TowerEvent) []TowerSession {
	if len(events) == 0 {
		return nil
	}

	ordered := make([]TowerEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RecordedAt.Before(ordered[j].RecordedAt)
	})

	var sessions []TowerSession
	open := TowerSession{
		MSISDN:           ordered[0].MSISDN,
		TowerID:          ordered[0].TowerID,
		SessionStart:     ordered[0].RecordedAt.UTC(),
		SessionEnd:       ordered[0].RecordedAt.UTC(),
		InteractionCount: 1,
	}

	for _, e := range ordered[1:] {
		at := e.RecordedAt.UTC()
		if e.TowerID != open.TowerID || at.Sub(open.SessionEnd) >= s.gap {
			sessions = append(sessions, open)
			open = TowerSession{
				MSISDN:           e.MSISDN,
				TowerID:          e.TowerID,
				SessionStart:     at,
				SessionEnd:       at,
				InteractionCount: 1,
			}
			continue
		}
		open.SessionEnd = at
		open.InteractionCount++
	}

	return append(sessions, open)
}
