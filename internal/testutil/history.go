package testutil

import (
	"testing"

	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/history"
)

// NewTestHistory creates an in-memory history store.
func NewTestHistory() engine.HistoryStore {
	return history.NewMemoryStore()
}

// NewTestSQLiteHistory creates an in-memory SQLite history store with the
// schema applied. The store is closed when the test completes.
func NewTestSQLiteHistory(t *testing.T) engine.HistoryStore {
	t.Helper()

	store, err := history.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open history store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
