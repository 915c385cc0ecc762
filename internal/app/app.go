package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JunerLee/new-tab/internal/config"
	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/history"
	"github.com/JunerLee/new-tab/internal/identity"
	"github.com/JunerLee/new-tab/internal/provider"
)

// Version is the application version stamped at build time.
var Version = "dev"

// App is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, applies resolved snapshots
// back to the state document, and manages resource lifecycles on Close.
type App struct {
	cfg     *config.Config
	device  identity.Device
	source  *FileSource
	store   engine.HistoryStore
	engine  *engine.Engine
	logger  engine.Logger
	logFile *os.File
}

// New creates a fully wired App from the given config.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("config has no base_dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.BaseDir, "log")
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(logDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	device, err := identity.LoadOrCreate(filepath.Join(cfg.BaseDir, "device.json"), engine.UUIDGenerator{})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("loading device identity: %w", err)
	}

	hcfg := cfg.History
	if hcfg.Type == "" {
		hcfg.Type = "sqlite"
	}
	if hcfg.Type == "sqlite" && hcfg.DataDir == "" {
		hcfg.DataDir = cfg.BaseDir
	}
	store, err := history.NewStoreFromConfig(hcfg)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating history store: %w", err)
	}

	var prov engine.Provider
	if pcfg, perr := cfg.Active(); perr == nil {
		sealer := config.NewSealer(cfg.Seal)
		prov, err = provider.NewFromConfig(ctx, *pcfg, sealer, engine.RealClock{}, logger)
		if err != nil {
			store.Close()
			logFile.Close()
			return nil, fmt.Errorf("creating provider: %w", err)
		}
	} else {
		// Commands that never touch the provider (history, export) still
		// work; a sync round reports the missing provider itself.
		logger.Debug("no active provider", "reason", perr.Error())
	}

	statePath := cfg.StatePath
	if statePath == "" {
		statePath = filepath.Join(cfg.BaseDir, "state.json")
	}
	source := NewFileSource(statePath)
	exporter := provider.NewFileExporter(store, engine.RealClock{}, engine.UUIDGenerator{}, logger)

	eng := engine.New(prov, source, exporter, store,
		engine.Identity{ID: device.ID, Name: device.Name, AppVersion: Version},
		settingsFromConfig(cfg.Sync),
		logger, engine.RealClock{}, engine.UUIDGenerator{})

	return &App{
		cfg:     cfg,
		device:  device,
		source:  source,
		store:   store,
		engine:  eng,
		logger:  logger,
		logFile: logFile,
	}, nil
}

func settingsFromConfig(sc config.SyncConfig) engine.Settings {
	return engine.Settings{
		Enabled:            sc.Enabled,
		AutoSync:           sc.AutoSync,
		SyncIntervalMin:    sc.IntervalMinutes,
		ConflictResolution: resolutionMode(sc.ConflictResolution),
		RetryAttempts:      sc.RetryAttempts,
		RetryDelaySec:      sc.RetryDelaySeconds,
	}
}

func resolutionMode(s string) engine.ResolutionMode {
	switch s {
	case "merge":
		return engine.ResolveMerge
	case "manual":
		return engine.ResolveManual
	default:
		return engine.ResolveLatest
	}
}

// Device returns the persistent identity of this installation.
func (a *App) Device() identity.Device { return a.device }

// State returns the engine's current sync state.
func (a *App) State() engine.SyncState { return a.engine.State() }

// Subscribe attaches to the engine's event stream.
func (a *App) Subscribe() (<-chan engine.Event, func()) { return a.engine.Subscribe() }

// Sync runs one sync round. A non-empty resolve overrides the configured
// conflict resolution mode from this round on: the external-resolution path
// for rounds that ended with conflicts pending.
func (a *App) Sync(ctx context.Context, resolve string) engine.SyncResult {
	if resolve != "" {
		s := settingsFromConfig(a.cfg.Sync)
		s.ConflictResolution = resolutionMode(resolve)
		a.engine.UpdateSettings(s)
	}
	res := a.engine.StartRound(ctx)
	a.apply(res.Snapshot, res.Conflicts)
	return res
}

// RunAuto runs one immediate round, then recurring rounds on the configured
// interval until ctx is cancelled. Resolved snapshots from every round are
// applied to the state document as they arrive.
func (a *App) RunAuto(ctx context.Context) error {
	if !a.cfg.Sync.Enabled {
		return fmt.Errorf("sync is disabled in config")
	}

	s := settingsFromConfig(a.cfg.Sync)
	s.AutoSync = true
	if s.SyncIntervalMin <= 0 {
		s.SyncIntervalMin = 30
	}
	a.engine.UpdateSettings(s)

	events, cancel := a.engine.Subscribe()
	defer cancel()

	res := a.engine.StartRound(ctx)
	a.apply(res.Snapshot, res.Conflicts)
	if !res.Success {
		a.logger.Warn("initial sync round failed", "message", res.Message)
	}

	a.engine.StartAutoSync()
	defer a.engine.StopAutoSync()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == engine.EventSyncSuccess {
				a.apply(ev.Snapshot, ev.Conflicts)
			}
		}
	}
}

// apply writes a resolved snapshot back to the state document. Rounds that
// end with conflicts pending leave the document untouched.
func (a *App) apply(snap *engine.Snapshot, conflicts []engine.Conflict) {
	if snap == nil {
		return
	}
	for _, c := range conflicts {
		if c.Resolution == "" {
			return
		}
	}
	if err := a.source.Store(snap.Payload()); err != nil {
		a.logger.Warn("applying resolved settings to state document failed", "error", err)
	}
}

// TestConnection verifies the active provider is reachable.
func (a *App) TestConnection(ctx context.Context) error { return a.engine.TestConnection(ctx) }

// Export renders the current state document as a portable export file.
func (a *App) Export(ctx context.Context) ([]byte, error) { return a.engine.Export(ctx) }

// Import restores settings from an export file and applies them to the
// state document.
func (a *App) Import(data []byte) engine.SyncResult {
	res := a.engine.Import(data)
	if res.Success {
		a.apply(res.Snapshot, nil)
	}
	return res
}

// Devices lists the device ids that have uploaded to the active provider.
func (a *App) Devices(ctx context.Context) ([]string, error) { return a.engine.ListDevices(ctx) }

// Cleanup deletes remote snapshots older than the retention period.
func (a *App) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	return a.engine.Cleanup(ctx, retention)
}

// History returns recorded operations, newest first.
func (a *App) History() ([]engine.HistoryEntry, error) { return a.engine.History() }

// ClearHistory removes all recorded operations.
func (a *App) ClearHistory() error { return a.engine.ClearHistory() }

// Stats summarizes recorded operations.
func (a *App) Stats() (*engine.Stats, error) { return a.engine.Stats() }

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error

	a.engine.Close()

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing history store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
