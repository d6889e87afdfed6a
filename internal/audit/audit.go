// Package audit appends approval/denial/registration records and
// aggregates them into the dashboard's summary stats.
package audit

import (
	"time"

	"github.com/btcforplebs/Signet/internal/bus"
	"github.com/btcforplebs/Signet/internal/store"
)

type Log struct {
	store *store.Store
	bus   *bus.Bus
}

func New(s *store.Store, b *bus.Bus) *Log {
	return &Log{store: s, bus: b}
}

// Record appends one audit entry and notifies dashboard subscribers.
func (l *Log) Record(entryType, method, params string, keyUserID *int64, approval store.ApprovalType) error {
	if err := l.store.InsertLogEntry(store.LogEntry{
		Type:         entryType,
		Method:       method,
		Params:       params,
		KeyUserID:    keyUserID,
		ApprovalType: approval,
	}); err != nil {
		return err
	}
	l.bus.Publish(bus.TopicStatsUpdated, nil)
	return nil
}

// Stats is the dashboard's aggregate summary.
type Stats struct {
	Total          int
	ManualCount    int
	AutoTrustCount int
	AutoPermCount  int
	LastHourCount  int
}

// Summarize builds Stats from the most recent entries. limit bounds how
// much history is scanned, matching the "recent activity" dashboard view.
func (l *Log) Summarize(limit int) (Stats, error) {
	entries, err := l.store.RecentLogEntries(limit)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	cutoff := time.Now().Add(-time.Hour).Unix()
	for _, e := range entries {
		s.Total++
		switch e.ApprovalType {
		case store.ApprovalManual:
			s.ManualCount++
		case store.ApprovalAutoTrust:
			s.AutoTrustCount++
		case store.ApprovalAutoPermission:
			s.AutoPermCount++
		}
		if e.CreatedAt >= cutoff {
			s.LastHourCount++
		}
	}
	return s, nil
}
