package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/history/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists history in a SQLite database, pruned to
// engine.HistoryLimit entries on every append.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies any
// pending schema migrations. path may be ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts the entry and prunes beyond the retention limit in one
// transaction. Entries with equal timestamps prune in insertion order.
func (s *SQLiteStore) Append(e engine.HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO history_entries (id, timestamp, provider, action, success, detail, bytes, conflicts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Provider, string(e.Action), boolToInt(e.Success), e.Detail, e.Bytes, e.Conflicts,
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	_, err = tx.Exec(
		`DELETE FROM history_entries WHERE id NOT IN (
			SELECT id FROM history_entries ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)`,
		engine.HistoryLimit,
	)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return tx.Commit()
}

// List returns the retained entries, newest first.
func (s *SQLiteStore) List() ([]engine.HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, provider, action, success, detail, bytes, conflicts
		 FROM history_entries ORDER BY timestamp DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []engine.HistoryEntry
	for rows.Next() {
		var (
			e       engine.HistoryEntry
			millis  int64
			action  string
			success int
		)
		if err := rows.Scan(&e.ID, &millis, &e.Provider, &action, &success, &e.Detail, &e.Bytes, &e.Conflicts); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(millis)
		e.Action = engine.Action(action)
		e.Success = success != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}
	return entries, nil
}

// Clear drops all entries.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM history_entries"); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Stats aggregates the retained entries. An empty table reports a success
// rate of zero.
func (s *SQLiteStore) Stats() (*engine.Stats, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(MAX(timestamp), 0), COALESCE(SUM(bytes), 0)
		 FROM history_entries`,
	)
	var total, succeeded int
	var lastMillis, totalBytes int64
	if err := row.Scan(&total, &succeeded, &lastMillis, &totalBytes); err != nil {
		return nil, fmt.Errorf("aggregating history: %w", err)
	}
	st := &engine.Stats{TotalOps: total, TotalBytes: totalBytes}
	if total > 0 {
		st.SuccessRate = float64(succeeded) / float64(total)
		st.LastOp = time.UnixMilli(lastMillis)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ engine.HistoryStore = (*SQLiteStore)(nil)
