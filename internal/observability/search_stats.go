// Package observability provides logging, metrics and search usage statistics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// SearchStats tracks which datasets, search fields and filters users reach
// for, so field configuration can be tuned to real usage.
type SearchStats struct {
	mu       sync.RWMutex
	datasets map[string]*UsageStats
	fields   map[string]*UsageStats
	filters  map[string]*UsageStats
	window   time.Duration
	now      func() time.Time
}

// UsageStats holds the counters of one tracked key.
type UsageStats struct {
	Key       string           `json:"key"`
	Frequency int64            `json:"frequency"`
	LastSeen  time.Time        `json:"last_seen"`
	Modes     map[string]int64 `json:"modes,omitempty"` // "search" / "stream" → count
}

// Snapshot is a point-in-time view of the top entries.
type Snapshot struct {
	Datasets []UsageStats `json:"datasets"`
	Fields   []UsageStats `json:"search_fields"`
	Filters  []UsageStats `json:"filters"`
}

// NewSearchStats creates a tracker whose entries expire after window.
func NewSearchStats(window time.Duration) *SearchStats {
	return &SearchStats{
		datasets: make(map[string]*UsageStats),
		fields:   make(map[string]*UsageStats),
		filters:  make(map[string]*UsageStats),
		window:   window,
		now:      time.Now,
	}
}

// RecordSearch records one request against dataset. filters holds the names
// of the filter clauses the request carried.
// This method is thread-safe.
func (s *SearchStats) RecordSearch(dataset, searchField, mode string, filters []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record(s.datasets, dataset, mode, now)
	if searchField != "" {
		record(s.fields, searchField, mode, now)
	}
	for _, f := range filters {
		record(s.filters, f, mode, now)
	}
}

func record(m map[string]*UsageStats, key, mode string, now time.Time) {
	if key == "" {
		return
	}
	st, ok := m[key]
	if !ok {
		st = &UsageStats{Key: key, Modes: make(map[string]int64)}
		m[key] = st
	}
	st.Frequency++
	st.LastSeen = now
	if mode != "" {
		st.Modes[mode]++
	}
}

// TopDatasets returns the n most searched datasets.
func (s *SearchStats) TopDatasets(n int) []UsageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.datasets, n)
}

// TopFields returns the n most used search fields.
func (s *SearchStats) TopFields(n int) []UsageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.fields, n)
}

// TopFilters returns the n most used filter clauses.
func (s *SearchStats) TopFilters(n int) []UsageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.filters, n)
}

// Snapshot returns the top n entries of every dimension.
func (s *SearchStats) Snapshot(n int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Datasets: top(s.datasets, n),
		Fields:   top(s.fields, n),
		Filters:  top(s.filters, n),
	}
}

// top returns copies sorted by frequency descending, ties by key.
func top(m map[string]*UsageStats, n int) []UsageStats {
	if n <= 0 || len(m) == 0 {
		return []UsageStats{}
	}

	out := make([]UsageStats, 0, len(m))
	for _, st := range m {
		cp := *st
		cp.Modes = make(map[string]int64, len(st.Modes))
		for k, v := range st.Modes {
			cp.Modes[k] = v
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Key < out[j].Key
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes entries not seen within the window.
// Call it periodically.
func (s *SearchStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-s.window)
	for _, m := range []map[string]*UsageStats{s.datasets, s.fields, s.filters} {
		for k, st := range m {
			if st.LastSeen.Before(threshold) {
				delete(m, k)
			}
		}
	}
}
