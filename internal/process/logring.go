package process

import (
	"sync"

	"github.com/aethersystems/aether/internal/types"
)

// LogRing is an append-only, bounded ring of a Process's most recent
// LogEntry records (spec §3: implementer chooses N >= 1000).
type LogRing struct {
	mu      sync.Mutex
	entries []types.LogEntry
	max     int
	start   int // index of the oldest entry once the ring has wrapped
}

// NewLogRing returns a LogRing bounded at max entries.
func NewLogRing(max int) *LogRing {
	if max < DefaultLogRingSize {
		max = DefaultLogRingSize
	}
	return &LogRing{max: max}
}

// Append records one entry, evicting the oldest if the ring is full.
func (r *LogRing) Append(e types.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.max {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % r.max
}

// Snapshot returns the ring's entries in chronological order.
func (r *LogRing) Snapshot() []types.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.max {
		out := make([]types.LogEntry, len(r.entries))
		copy(out, r.entries)
		return out
	}
	out := make([]types.LogEntry, 0, r.max)
	out = append(out, r.entries[r.start:]...)
	out = append(out, r.entries[:r.start]...)
	return out
}
