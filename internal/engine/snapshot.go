package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// SchemaVersion is the snapshot schema version written by this build.
// Import compatibility is judged on the major component only.
const SchemaVersion = "1.0.0"

// Snapshot is one versioned copy of the synchronized new-tab blob. It is
// created fresh on every sync round and every export and never mutated
// afterward. The settings, quick-launch and search-engine payloads are opaque
// to the engine: they are carried as raw JSON and compared byte-wise after
// normalization.
type Snapshot struct {
	Version             string          `json:"version"`
	Timestamp           int64           `json:"timestamp"` // ms since epoch, assigned at creation
	DeviceID            string          `json:"deviceId"`
	Settings            json.RawMessage `json:"settings"`
	QuickLaunch         json.RawMessage `json:"quickLaunch"`
	CustomSearchEngines json.RawMessage `json:"customSearchEngines"`
	Metadata            Metadata        `json:"metadata"`
}

// Metadata carries informational fields alongside a snapshot. DeviceName is
// display-only and never used for identity comparisons.
type Metadata struct {
	LastModified       int64          `json:"lastModified"` // ms since epoch
	DeviceName         string         `json:"deviceName"`
	AppVersion         string         `json:"appVersion"`
	ConflictResolution ResolutionMode `json:"conflictResolution"`
}

// Payload is the in-memory settings blob a Source hands to the engine at the
// start of a round. The engine wraps it into a Snapshot without inspecting
// the contents beyond validation.
type Payload struct {
	Settings            json.RawMessage `json:"settings"`
	QuickLaunch         json.RawMessage `json:"quickLaunch"`
	CustomSearchEngines json.RawMessage `json:"customSearchEngines"`
}

// Payload extracts the settings blob from a snapshot, the inverse of the
// wrapping done at the start of a round.
func (s *Snapshot) Payload() *Payload {
	return &Payload{
		Settings:            s.Settings,
		QuickLaunch:         s.QuickLaunch,
		CustomSearchEngines: s.CustomSearchEngines,
	}
}

// RemoteFileInfo is the metadata for one object on the remote store.
type RemoteFileInfo struct {
	Path         string // always rooted under the configured sync folder
	Name         string
	IsDirectory  bool
	LastModified time.Time
	Size         int64
	ETag         string
	ContentType  string
}

// ResolutionMode selects how a detected conflict is resolved.
type ResolutionMode string

const (
	// ResolveLatest keeps whichever whole snapshot has the greater timestamp.
	ResolveLatest ResolutionMode = "latest"
	// ResolveMerge combines both snapshots field by field (see Merge).
	ResolveMerge ResolutionMode = "merge"
	// ResolveManual keeps the local snapshot and surfaces the conflict list
	// to the caller for external resolution.
	ResolveManual ResolutionMode = "manual"
)

// Conflict describes one divergent top-level field between a local and a
// remote snapshot. Resolution is filled in once the round has resolved it.
type Conflict struct {
	Field      string          `json:"field"` // "settings", "quickLaunch" or "customSearchEngines"
	Local      json.RawMessage `json:"local"`
	Remote     json.RawMessage `json:"remote"`
	Resolution string          `json:"resolution,omitempty"` // "local", "remote" or "merged"
}

// Status is the orchestrator's state-machine state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// SyncState is the engine's current run-time status. It is owned exclusively
// by the engine; State() returns a copy.
type SyncState struct {
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"` // 0-100, meaningful while syncing
	LastSync  time.Time  `json:"lastSync"`
	LastError string     `json:"lastError,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"` // pending, manual mode only
}

// Settings is the user-level sync configuration handed to the engine by
// value. The provider list itself stays with the configuration store; the
// engine receives the already-constructed active Provider separately.
type Settings struct {
	Enabled            bool
	AutoSync           bool
	SyncIntervalMin    int
	ConflictResolution ResolutionMode
	RetryAttempts      int
	RetryDelaySec      int
}

// SyncResult is the outcome of one round, one import, or one connection test.
// Kind classifies the failure when Success is false.
type SyncResult struct {
	Success   bool
	Message   string
	Snapshot  *Snapshot
	Conflicts []Conflict
	Kind      Kind
}

// Pending reports whether the result carries conflicts still awaiting
// manual resolution. Conflicts settled by the round carry the resolution
// that settled them.
func (r SyncResult) Pending() bool {
	for _, c := range r.Conflicts {
		if c.Resolution == "" {
			return true
		}
	}
	return false
}

// quickLaunchItem is the minimal shape the engine demands of each entry in
// the quick-launch and search-engine lists: a stable identifier for merging
// and an order for arrangement-recency. Unknown fields ride along in raw.
type quickLaunchItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	URL   string  `json:"url"`
	Order float64 `json:"order"`

	raw json.RawMessage
}

// ValidatePayload checks the structural integrity the engine relies on:
// settings must be a JSON object, the two lists must be JSON arrays, and
// every list entry must carry a non-empty id, name and url plus a numeric
// order. A nil list is treated as empty here; the import path separately
// requires quickLaunch to be present.
func ValidatePayload(p *Payload) error {
	if p == nil {
		return NewError(KindValidation, "payload is missing", nil)
	}
	if len(p.Settings) == 0 || !isJSONObject(p.Settings) {
		return NewError(KindValidation, "settings must be a JSON object", nil)
	}
	if err := validateItemList("quickLaunch", p.QuickLaunch); err != nil {
		return err
	}
	if err := validateItemList("customSearchEngines", p.CustomSearchEngines); err != nil {
		return err
	}
	return nil
}

func validateItemList(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return NewError(KindValidation, fmt.Sprintf("%s must be a JSON array", field), err)
	}
	for i, e := range elems {
		// Order is decoded through a pointer so an absent key is
		// distinguishable from an explicit zero.
		var it struct {
			ID    string   `json:"id"`
			Name  string   `json:"name"`
			URL   string   `json:"url"`
			Order *float64 `json:"order"`
		}
		if err := json.Unmarshal(e, &it); err != nil {
			return NewError(KindValidation, fmt.Sprintf("%s[%d] is malformed", field, i), err)
		}
		if it.ID == "" || it.Name == "" || it.URL == "" {
			return NewError(KindValidation, fmt.Sprintf("%s[%d] must carry id, name and url", field, i), nil)
		}
		if it.Order == nil {
			return NewError(KindValidation, fmt.Sprintf("%s[%d] must carry a numeric order", field, i), nil)
		}
	}
	return nil
}

// decodeItems splits a JSON array into items, keeping each element's raw
// bytes so merges can re-emit entries without losing unknown fields. The
// order field is checked for numeric-ness by the unmarshal itself.
func decodeItems(raw json.RawMessage) ([]quickLaunchItem, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	items := make([]quickLaunchItem, 0, len(elems))
	for i, e := range elems {
		var it quickLaunchItem
		if err := json.Unmarshal(e, &it); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		it.raw = e
		items = append(items, it)
	}
	return items, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// jsonEqual compares two raw JSON values structurally, so formatting and key
// order differences between devices do not register as conflicts.
func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}
