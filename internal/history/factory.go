package history

import (
	"fmt"
	"path/filepath"

	"github.com/JunerLee/new-tab/internal/config"
	"github.com/JunerLee/new-tab/internal/engine"
)

// NewStoreFromConfig creates a HistoryStore implementation based on the history config type.
func NewStoreFromConfig(cfg config.HistoryConfig) (engine.HistoryStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "history.db"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
