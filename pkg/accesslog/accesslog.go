// Package accesslog keeps the bounded window of recent serve records used
// for hit-rate statistics and hotness accounting.
package accesslog

import (
	"sync"
	"time"

	"meridian/pkg/types"
)

// Log is an append-only in-memory window. Entries older than the
// retention period are dropped by the optimizer's cleanup task.
type Log struct {
	mu        sync.RWMutex
	entries   []types.AccessLogEntry
	retention time.Duration
}

func New(retention time.Duration) *Log {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Log{retention: retention}
}

func (l *Log) Append(entry types.AccessLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Recent returns copies of entries newer than since.
func (l *Log) Recent(since time.Time) []types.AccessLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.AccessLogEntry, 0)
	for _, e := range l.entries {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// Clean drops entries older than the retention window and reports how
// many were removed.
func (l *Log) Clean(now time.Time) int {
	cutoff := now.Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	l.entries = kept
	return removed
}

// Summary aggregates the current window for the statistics endpoint.
type Summary struct {
	Requests     int     `json:"requests"`
	Hits         int     `json:"hits"`
	HitRate      float64 `json:"hit_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TotalBytes   int64   `json:"total_bytes"`
}

// Summarize aggregates the entries still inside the retention window.
// Older entries can linger until the next cleanup tick and are skipped.
func (l *Log) Summarize() Summary {
	entries := l.Recent(time.Now().Add(-l.retention))

	s := Summary{Requests: len(entries)}
	if s.Requests == 0 {
		return s
	}

	for _, e := range entries {
		if e.Result == types.AccessHit {
			s.Hits++
		}
		s.AvgLatencyMS += e.LatencyMS
		s.TotalBytes += e.Bytes
	}
	s.HitRate = float64(s.Hits) / float64(s.Requests)
	s.AvgLatencyMS /= float64(s.Requests)
	return s
}
