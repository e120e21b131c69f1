// Package logbuf is the live in-memory tail of the log stream: a fixed
// capacity ring of recent entries plus on-demand error clustering over it.
package logbuf

import (
	"strings"
	"sync"
	"time"

	"github.com/opscope/opscope/internal/model"
)

const DefaultCapacity = 5000

// Ring is a thread-safe circular store of recent log entries. When full, the
// oldest entry is overwritten (strict FIFO eviction). Appends hold the mutex
// for O(1) work only, so producers are never stalled by readers for long.
type Ring struct {
	mu        sync.Mutex
	capacity  int
	entries   []model.LogEntry
	nextIndex int
	byLevel   map[model.Level]int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		entries:  make([]model.LogEntry, 0, capacity),
		byLevel:  make(map[model.Level]int),
	}
}

// Append stores one entry, evicting the oldest when at capacity.
func (r *Ring) Append(entry model.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
		r.byLevel[entry.Level]++
		return
	}
	evicted := r.entries[r.nextIndex]
	r.byLevel[evicted.Level]--
	r.entries[r.nextIndex] = entry
	r.byLevel[entry.Level]++
	r.nextIndex = (r.nextIndex + 1) % r.capacity
}

// Snapshot returns all buffered entries, most recent first. The result shares
// nothing with the ring's storage.
func (r *Ring) Snapshot() []model.LogEntry {
	return r.GetFiltered(model.BufferFilter{})
}

// GetFiltered returns up to filter.Limit matching entries, most recent first.
// All provided criteria are conjunctive. Sources match exactly or by dotted
// prefix against each entry's source.
func (r *Ring) GetFiltered(filter model.BufferFilter) []model.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	search := strings.ToLower(filter.Search)

	results := make([]model.LogEntry, 0, limit)
	total := len(r.entries)
	for i := 0; i < total && len(results) < limit; i++ {
		// Walk backwards from the newest entry.
		idx := (r.nextIndex + total - 1 - i) % total
		entry := r.entries[idx]
		if !matchesFilter(entry, filter, search) {
			continue
		}
		results = append(results, entry)
	}
	return results
}

// Stats reports the buffer's current occupancy and per-level counts.
func (r *Ring) Stats() model.BufferStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := model.BufferStats{
		Count:    len(r.entries),
		Capacity: r.capacity,
		ByLevel:  make(map[string]int, len(r.byLevel)),
	}
	for level, count := range r.byLevel {
		if count > 0 {
			stats.ByLevel[level.String()] = count
		}
	}
	if len(r.entries) > 0 {
		oldest, newest := r.entries[0].Timestamp, r.entries[0].Timestamp
		for _, entry := range r.entries {
			if entry.Timestamp.Before(oldest) {
				oldest = entry.Timestamp
			}
			if entry.Timestamp.After(newest) {
				newest = entry.Timestamp
			}
		}
		stats.Oldest, stats.Newest = cloneTime(oldest), cloneTime(newest)
	}
	return stats
}

// Clear atomically empties the buffer and resets stats.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
	r.nextIndex = 0
	r.byLevel = make(map[model.Level]int)
}

// Capacity returns the fixed capacity set at construction.
func (r *Ring) Capacity() int {
	return r.capacity
}

func matchesFilter(entry model.LogEntry, filter model.BufferFilter, loweredSearch string) bool {
	if filter.MinLevel != nil && entry.Level < *filter.MinLevel {
		return false
	}
	if filter.ExceptionsOnly && !entry.HasException() {
		return false
	}
	if len(filter.Sources) > 0 && !matchesAnySource(entry.Source, filter.Sources) {
		return false
	}
	if loweredSearch != "" {
		haystack := strings.ToLower(entry.Message + " " + entry.Exception)
		if !strings.Contains(haystack, loweredSearch) {
			return false
		}
	}
	return true
}

func matchesAnySource(source string, wanted []string) bool {
	for _, w := range wanted {
		if source == w {
			return true
		}
		if len(source) > len(w) && strings.HasPrefix(source, w) && source[len(w)] == '.' {
			return true
		}
	}
	return false
}

func cloneTime(t time.Time) *time.Time {
	c := t
	return &c
}
