package engine

import "time"

// HistoryLimit is the number of entries a history store retains. Appending
// beyond the limit evicts the oldest entry.
const HistoryLimit = 50

// Action labels the operation a history entry records.
type Action string

const (
	ActionSync    Action = "sync"
	ActionExport  Action = "export"
	ActionImport  Action = "import"
	ActionCleanup Action = "cleanup"
)

// HistoryEntry is one append-only record of a sync, export, import or
// cleanup operation.
type HistoryEntry struct {
	ID        string
	Timestamp time.Time
	Provider  string
	Action    Action
	Success   bool
	Detail    string
	Bytes     int64 // snapshot size, 0 when not applicable
	Conflicts int   // conflicts seen during the operation
}

// Stats aggregates the retained history.
type Stats struct {
	TotalOps    int
	SuccessRate float64 // 0..1; 0 when no operations are retained
	LastOp      time.Time
	TotalBytes  int64
}

// HistoryStore persists the bounded operation history. Implementations keep
// at most HistoryLimit entries, evicting oldest-first.
type HistoryStore interface {
	Append(e HistoryEntry) error
	// List returns retained entries ordered newest first.
	List() ([]HistoryEntry, error)
	Clear() error
	Stats() (*Stats, error)
	Close() error
}
