package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

func entryAt(id string, ts time.Time, success bool, bytes int64) engine.HistoryEntry {
	return engine.HistoryEntry{
		ID:        id,
		Timestamp: ts,
		Provider:  "webdav-test",
		Action:    engine.ActionSync,
		Success:   success,
		Detail:    "sync complete",
		Bytes:     bytes,
	}
}

func TestMemoryStoreAppendList(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := entryAt(fmt.Sprintf("id-%d", i+1), base.Add(time.Duration(i)*time.Minute), true, 100)
		if err := s.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(entries))
	}
	if entries[0].ID != "id-3" || entries[2].ID != "id-1" {
		t.Errorf("List() order = [%s %s %s], want newest first", entries[0].ID, entries[1].ID, entries[2].ID)
	}
	if entries[0].Provider != "webdav-test" || entries[0].Action != engine.ActionSync {
		t.Errorf("entry = %+v, want provider and action preserved", entries[0])
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	total := engine.HistoryLimit + 10
	for i := 0; i < total; i++ {
		e := entryAt(fmt.Sprintf("id-%d", i), base.Add(time.Duration(i)*time.Second), true, 0)
		if err := s.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != engine.HistoryLimit {
		t.Fatalf("List() returned %d entries, want %d", len(entries), engine.HistoryLimit)
	}
	if entries[0].ID != fmt.Sprintf("id-%d", total-1) {
		t.Errorf("newest = %s, want id-%d", entries[0].ID, total-1)
	}
	if entries[len(entries)-1].ID != fmt.Sprintf("id-%d", total-engine.HistoryLimit) {
		t.Errorf("oldest retained = %s, want id-%d", entries[len(entries)-1].ID, total-engine.HistoryLimit)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	if err := s.Append(entryAt("id-1", time.Now(), true, 0)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() returned %d entries after clear, want 0", len(entries))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	t.Parallel()

	t.Run("empty store", func(t *testing.T) {
		s := NewMemoryStore()
		stats, err := s.Stats()
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.TotalOps != 0 || stats.SuccessRate != 0 || !stats.LastOp.IsZero() {
			t.Errorf("Stats() = %+v, want zeros", stats)
		}
	})

	t.Run("mixed outcomes", func(t *testing.T) {
		s := NewMemoryStore()
		base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		for _, e := range []engine.HistoryEntry{
			entryAt("id-1", base, true, 100),
			entryAt("id-2", base.Add(time.Minute), false, 0),
			entryAt("id-3", base.Add(2*time.Minute), true, 50),
		} {
			if err := s.Append(e); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		stats, err := s.Stats()
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.TotalOps != 3 {
			t.Errorf("TotalOps = %d, want 3", stats.TotalOps)
		}
		if got, want := stats.SuccessRate, 2.0/3.0; got != want {
			t.Errorf("SuccessRate = %v, want %v", got, want)
		}
		if stats.TotalBytes != 150 {
			t.Errorf("TotalBytes = %d, want 150", stats.TotalBytes)
		}
		if !stats.LastOp.Equal(base.Add(2 * time.Minute)) {
			t.Errorf("LastOp = %v, want the newest timestamp", stats.LastOp)
		}
	})
}
