// Package history implements the bounded operation-history stores: an
// in-memory ring for throwaway use and a SQLite-backed store that survives
// restarts.
package history

import (
	"sync"

	"github.com/JunerLee/new-tab/internal/engine"
)

// MemoryStore keeps the history in a fixed-size in-memory ring. It is safe
// for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []engine.HistoryEntry // oldest first
	limit   int
}

// NewMemoryStore creates a ring retaining engine.HistoryLimit entries.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limit: engine.HistoryLimit}
}

// Append adds an entry, evicting the oldest when the ring is full.
func (s *MemoryStore) Append(e engine.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.limit {
		over := len(s.entries) - s.limit
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// List returns the retained entries, newest first.
func (s *MemoryStore) List() ([]engine.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.HistoryEntry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out, nil
}

// Clear drops all entries.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Stats aggregates the retained entries. An empty ring reports a success
// rate of zero.
func (s *MemoryStore) Stats() (*engine.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &engine.Stats{TotalOps: len(s.entries)}
	if len(s.entries) == 0 {
		return st, nil
	}
	succeeded := 0
	for _, e := range s.entries {
		if e.Success {
			succeeded++
		}
		st.TotalBytes += e.Bytes
		if e.Timestamp.After(st.LastOp) {
			st.LastOp = e.Timestamp
		}
	}
	st.SuccessRate = float64(succeeded) / float64(len(s.entries))
	return st, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

var _ engine.HistoryStore = (*MemoryStore)(nil)
