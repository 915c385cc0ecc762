package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// subscribeBuffer is the per-subscriber event channel depth. A subscriber
// that lags further than this misses events rather than blocking a round.
const subscribeBuffer = 16

// Identity is this installation's stable device identity. ID is generated
// once and persisted; Name and AppVersion are informational.
type Identity struct {
	ID         string
	Name       string
	AppVersion string
}

// Engine is the sync orchestrator: it drives rounds against the active
// provider, detects and resolves conflicts, runs the auto-sync timer,
// schedules retries after transient failures and emits lifecycle events.
//
// All exported methods are safe for concurrent use. Only one round runs at
// a time; a round requested while one is in flight is rejected.
type Engine struct {
	mu       sync.Mutex
	provider Provider
	source   Source
	exporter Exporter
	history  HistoryStore
	ident    Identity
	settings Settings
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	events *broadcaster
	state  SyncState

	retryTimer *time.Timer
	retryCount int

	autoStop chan struct{}
	autoDone chan struct{}
}

// New creates an Engine with the provided dependencies. The auto-sync timer
// is not started; call StartAutoSync (or UpdateSettings) once the caller is
// ready to receive rounds.
func New(provider Provider, source Source, exporter Exporter, history HistoryStore, ident Identity, settings Settings, logger Logger, clock Clock, idgen IDGenerator) *Engine {
	return &Engine{
		provider: provider,
		source:   source,
		exporter: exporter,
		history:  history,
		ident:    ident,
		settings: settings,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		events:   newBroadcaster(),
		state:    SyncState{Status: StatusIdle},
	}
}

// Subscribe registers a listener on the lifecycle event stream. The returned
// cancel func closes the channel; it is safe to call more than once.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe(subscribeBuffer)
}

// State returns a copy of the current sync state.
func (e *Engine) State() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	st.Conflicts = append([]Conflict(nil), e.state.Conflicts...)
	return st
}

// StartRound runs one sync round: build the local snapshot, download the
// newest remote one, detect and resolve conflicts, upload the result. The
// returned result carries the resolved snapshot and any conflicts found.
// A round requested while another is syncing is rejected, not queued.
func (e *Engine) StartRound(ctx context.Context) SyncResult {
	e.mu.Lock()
	if e.state.Status == StatusSyncing {
		e.mu.Unlock()
		return SyncResult{Success: false, Message: "sync already in progress"}
	}
	if e.provider == nil {
		e.mu.Unlock()
		return SyncResult{Success: false, Message: "no active provider configured"}
	}
	provider := e.provider
	settings := e.settings
	e.state = SyncState{Status: StatusSyncing, Progress: 0, LastSync: e.state.LastSync}
	e.mu.Unlock()

	e.events.publish(Event{Type: EventSyncStart})
	e.logger.Info("sync round started", "provider", provider.Name())

	snap, conflicts, pending, err := e.runRound(ctx, provider, settings)
	if err != nil {
		return e.finishError(provider, err)
	}
	return e.finishSuccess(provider, snap, conflicts, pending)
}

// runRound executes the round body. It returns the snapshot that became the
// working copy, the conflicts found (tagged with their resolution), and
// whether those conflicts are still pending manual resolution.
func (e *Engine) runRound(ctx context.Context, provider Provider, settings Settings) (*Snapshot, []Conflict, bool, error) {
	payload, err := e.source.Current(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("reading local settings: %w", err)
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, nil, false, err
	}
	local := e.buildSnapshot(payload, e.clock.Now(), settings.ConflictResolution)
	e.setProgress(25)

	remote, err := provider.Download(ctx, "")
	if err != nil {
		if KindOf(err) != KindNotFound {
			return nil, nil, false, fmt.Errorf("downloading remote snapshot: %w", err)
		}
		// No remote data yet: first sync from this device group.
		remote = nil
	}
	e.setProgress(50)

	conflicts := detectConflicts(local, remote)
	resolved := local
	if len(conflicts) > 0 {
		e.events.publish(Event{Type: EventConflictDetected, Conflicts: conflicts})
		e.logger.Info("conflicts detected", "count", len(conflicts), "mode", string(settings.ConflictResolution))

		switch settings.ConflictResolution {
		case ResolveManual:
			return local, conflicts, true, nil
		case ResolveMerge:
			merged, err := mergeSnapshots(local, remote, e.clock.Now().UnixMilli())
			if err != nil {
				return nil, nil, false, err
			}
			for i := range conflicts {
				conflicts[i].Resolution = "merged"
			}
			resolved = merged
		default:
			resolved, conflicts = resolveLatest(local, remote, conflicts)
		}
		e.events.publish(Event{Type: EventConflictResolved, Snapshot: resolved})
	}
	e.setProgress(75)

	// A snapshot adopted from another device is re-stamped as this device's
	// working copy, so uploads only ever create objects under our own id.
	if resolved.DeviceID != e.ident.ID {
		resolved = e.adopt(resolved, e.clock.Now(), settings.ConflictResolution)
	}

	if err := provider.Upload(ctx, resolved); err != nil {
		return nil, nil, false, fmt.Errorf("uploading snapshot: %w", err)
	}
	return resolved, conflicts, false, nil
}

func (e *Engine) finishSuccess(provider Provider, snap *Snapshot, conflicts []Conflict, pending bool) SyncResult {
	now := e.clock.Now()

	e.mu.Lock()
	e.state.Status = StatusSuccess
	e.state.Progress = 100
	e.state.LastSync = now
	e.state.LastError = ""
	e.state.Conflicts = nil
	if pending {
		e.state.Conflicts = conflicts
	}
	e.retryCount = 0
	e.mu.Unlock()

	msg := "sync complete"
	if pending {
		msg = fmt.Sprintf("%d conflict(s) pending manual resolution", len(conflicts))
	}
	e.appendHistory(HistoryEntry{
		Provider:  provider.Name(),
		Action:    ActionSync,
		Success:   true,
		Detail:    msg,
		Conflicts: len(conflicts),
	})
	e.events.publish(Event{Type: EventSyncProgress, Progress: 100})
	e.events.publish(Event{Type: EventSyncSuccess, Snapshot: snap, Conflicts: conflicts})
	e.logger.Info("sync round finished", "provider", provider.Name(), "conflicts", len(conflicts), "pending", pending)

	return SyncResult{Success: true, Message: msg, Snapshot: snap, Conflicts: conflicts}
}

func (e *Engine) finishError(provider Provider, err error) SyncResult {
	kind := KindOf(err)

	e.mu.Lock()
	e.state.Status = StatusError
	e.state.Progress = 0
	e.state.LastError = err.Error()
	if kind == KindAuth && e.autoStop != nil {
		e.logger.Warn("auto-sync halted: authentication failed; re-check provider credentials")
		e.stopAutoLocked()
	}
	if IsRetryable(err) && e.settings.RetryAttempts > 0 && e.retryCount < e.settings.RetryAttempts {
		e.retryCount++
		attempt := e.retryCount
		delay := time.Duration(e.settings.RetryDelaySec) * time.Second
		e.stopRetryLocked()
		e.retryTimer = time.AfterFunc(delay, func() {
			e.logger.Info("retrying sync round", "attempt", attempt)
			e.StartRound(context.Background())
		})
		e.logger.Warn("sync round failed, retry scheduled", "error", err, "attempt", attempt, "delay", delay)
	} else {
		e.logger.Error("sync round failed", "error", err, "kind", string(kind))
	}
	e.mu.Unlock()

	e.appendHistory(HistoryEntry{
		Provider: provider.Name(),
		Action:   ActionSync,
		Success:  false,
		Detail:   err.Error(),
	})
	e.events.publish(Event{Type: EventSyncError, Message: err.Error()})

	return SyncResult{Success: false, Message: err.Error(), Kind: kind}
}

// buildSnapshot wraps a payload into a fresh snapshot owned by this device.
func (e *Engine) buildSnapshot(p *Payload, now time.Time, mode ResolutionMode) *Snapshot {
	ms := now.UnixMilli()
	return &Snapshot{
		Version:             SchemaVersion,
		Timestamp:           ms,
		DeviceID:            e.ident.ID,
		Settings:            p.Settings,
		QuickLaunch:         orEmptyArray(p.QuickLaunch),
		CustomSearchEngines: orEmptyArray(p.CustomSearchEngines),
		Metadata: Metadata{
			LastModified:       ms,
			DeviceName:         e.ident.Name,
			AppVersion:         e.ident.AppVersion,
			ConflictResolution: mode,
		},
	}
}

// adopt re-stamps another device's snapshot content under this device's
// identity with a fresh timestamp.
func (e *Engine) adopt(snap *Snapshot, now time.Time, mode ResolutionMode) *Snapshot {
	adopted := e.buildSnapshot(&Payload{
		Settings:            snap.Settings,
		QuickLaunch:         snap.QuickLaunch,
		CustomSearchEngines: snap.CustomSearchEngines,
	}, now, mode)
	return adopted
}

func (e *Engine) setProgress(p int) {
	e.mu.Lock()
	e.state.Progress = p
	e.mu.Unlock()
	e.events.publish(Event{Type: EventSyncProgress, Progress: p})
}

func (e *Engine) appendHistory(entry HistoryEntry) {
	if e.history == nil {
		return
	}
	entry.ID = e.idgen.New()
	entry.Timestamp = e.clock.Now()
	if err := e.history.Append(entry); err != nil {
		e.logger.Warn("recording history entry", "error", err)
	}
}

// TestConnection verifies the active provider is reachable with the
// configured credentials.
func (e *Engine) TestConnection(ctx context.Context) error {
	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	if provider == nil {
		return NewError(KindValidation, "no active provider configured", nil)
	}
	tc, ok := provider.(ConnectionTester)
	if !ok {
		return nil
	}
	return tc.TestConnection(ctx)
}

// Export serializes the current local settings blob into the portable
// envelope format.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	payload, err := e.source.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local settings: %w", err)
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}
	e.mu.Lock()
	mode := e.settings.ConflictResolution
	e.mu.Unlock()
	snap := e.buildSnapshot(payload, e.clock.Now(), mode)
	return e.exporter.Export(snap)
}

// Import parses and validates a previously exported envelope. The caller's
// state is untouched on failure; on success the parsed snapshot is returned
// for the caller to apply.
func (e *Engine) Import(data []byte) SyncResult {
	snap, err := e.exporter.Import(data)
	if err != nil {
		return SyncResult{Success: false, Message: err.Error(), Kind: KindOf(err)}
	}
	return SyncResult{Success: true, Message: "import complete", Snapshot: snap}
}

// ListDevices enumerates the devices that have uploaded snapshots to the
// active provider.
func (e *Engine) ListDevices(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	if provider == nil {
		return nil, NewError(KindValidation, "no active provider configured", nil)
	}
	dl, ok := provider.(DeviceLister)
	if !ok {
		return nil, NewError(KindValidation, fmt.Sprintf("provider %q cannot enumerate devices", provider.Name()), nil)
	}
	return dl.ListDevices(ctx)
}

// Cleanup deletes remote snapshots older than the retention window and
// records the purge in history. Returns the number of objects deleted.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	if provider == nil {
		return 0, NewError(KindValidation, "no active provider configured", nil)
	}
	cl, ok := provider.(Cleaner)
	if !ok {
		return 0, NewError(KindValidation, fmt.Sprintf("provider %q cannot clean up", provider.Name()), nil)
	}
	deleted, err := cl.Cleanup(ctx, retention)
	if err != nil {
		e.appendHistory(HistoryEntry{Provider: provider.Name(), Action: ActionCleanup, Success: false, Detail: err.Error()})
		return 0, err
	}
	e.appendHistory(HistoryEntry{
		Provider: provider.Name(),
		Action:   ActionCleanup,
		Success:  true,
		Detail:   fmt.Sprintf("deleted %d snapshot(s)", deleted),
	})
	return deleted, nil
}

// History returns the retained operation history, newest first.
func (e *Engine) History() ([]HistoryEntry, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.List()
}

// ClearHistory drops all retained history entries.
func (e *Engine) ClearHistory() error {
	if e.history == nil {
		return nil
	}
	return e.history.Clear()
}

// Stats aggregates the retained history.
func (e *Engine) Stats() (*Stats, error) {
	if e.history == nil {
		return &Stats{}, nil
	}
	return e.history.Stats()
}

// UpdateSettings replaces the engine's settings, resets the retry budget and
// re-evaluates the auto-sync timer. Disabling sync resets state to idle.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.retryCount = 0
	e.stopRetryLocked()
	done := e.stopAutoLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}

	e.mu.Lock()
	if !s.Enabled {
		e.state = SyncState{Status: StatusIdle, LastSync: e.state.LastSync}
	}
	e.startAutoLocked()
	e.mu.Unlock()
}

// SetProvider swaps the active provider, tearing down the timer and any
// scheduled retry, and resets state to idle. The timer restarts when
// settings still call for auto-sync.
func (e *Engine) SetProvider(p Provider) {
	e.mu.Lock()
	e.provider = p
	e.retryCount = 0
	e.stopRetryLocked()
	done := e.stopAutoLocked()
	e.state = SyncState{Status: StatusIdle}
	e.mu.Unlock()
	if done != nil {
		<-done
	}

	e.mu.Lock()
	e.startAutoLocked()
	e.mu.Unlock()
}

// StartAutoSync launches the recurring round timer when settings allow it.
// Idempotent: a running timer is left alone.
func (e *Engine) StartAutoSync() {
	e.mu.Lock()
	e.startAutoLocked()
	e.mu.Unlock()
}

// StopAutoSync stops the recurring timer and waits for any round it started
// to finish. Idempotent.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	done := e.stopAutoLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close tears down the timer, cancels any scheduled retry and closes all
// event subscriptions. The engine must not be used afterward.
func (e *Engine) Close() {
	e.StopAutoSync()
	e.mu.Lock()
	e.stopRetryLocked()
	e.mu.Unlock()
	e.events.closeAll()
}

func (e *Engine) startAutoLocked() {
	if e.autoStop != nil {
		return
	}
	if !e.settings.Enabled || !e.settings.AutoSync || e.settings.SyncIntervalMin <= 0 {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	e.autoStop = stop
	e.autoDone = done
	interval := time.Duration(e.settings.SyncIntervalMin) * time.Minute
	e.logger.Info("auto-sync started", "interval", interval)
	go e.autoLoop(interval, stop, done)
}

// stopAutoLocked signals the auto loop to exit and returns its done channel
// for callers that want to wait outside the lock. Waiting under the lock
// would deadlock with a round finishing.
func (e *Engine) stopAutoLocked() chan struct{} {
	if e.autoStop == nil {
		return nil
	}
	close(e.autoStop)
	e.autoStop = nil
	done := e.autoDone
	e.autoDone = nil
	return done
}

func (e *Engine) stopRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *Engine) autoLoop(interval time.Duration, stop chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.StartRound(context.Background())
		}
	}
}
