package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConflictWindow is the span within which edits on two devices count as
// simultaneous. Conflicts are only evaluated when the local and remote
// snapshot timestamps fall within this window of each other; outside it the
// remote copy is simply stale or ahead, and no conflict exists.
const ConflictWindow = 60 * time.Second

// detectConflicts compares the three top-level fields of two snapshots taken
// within ConflictWindow of each other and records one Conflict per field
// whose values differ structurally.
func detectConflicts(local, remote *Snapshot) []Conflict {
	if remote == nil {
		return nil
	}
	delta := local.Timestamp - remote.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta >= ConflictWindow.Milliseconds() {
		return nil
	}

	var conflicts []Conflict
	fields := []struct {
		name          string
		local, remote json.RawMessage
	}{
		{"settings", local.Settings, remote.Settings},
		{"quickLaunch", local.QuickLaunch, remote.QuickLaunch},
		{"customSearchEngines", local.CustomSearchEngines, remote.CustomSearchEngines},
	}
	for _, f := range fields {
		if !jsonEqual(f.local, f.remote) {
			conflicts = append(conflicts, Conflict{Field: f.name, Local: f.local, Remote: f.remote})
		}
	}
	return conflicts
}

// resolveLatest keeps whichever whole snapshot is newer and tags every
// conflict with the winning side. Local wins ties: remote replaces it only
// when strictly newer.
func resolveLatest(local, remote *Snapshot, conflicts []Conflict) (*Snapshot, []Conflict) {
	winner := "local"
	resolved := local
	if remote.Timestamp > local.Timestamp {
		winner = "remote"
		resolved = remote
	}
	for i := range conflicts {
		conflicts[i].Resolution = winner
	}
	return resolved, conflicts
}

// mergeSnapshots combines two conflicting snapshots: settings come from the
// newer side wholesale, the quick-launch and search-engine lists are merged
// entry-wise by id, and the result carries the local device's identity with
// a fresh timestamp (it becomes this device's next uploaded snapshot).
func mergeSnapshots(local, remote *Snapshot, now int64) (*Snapshot, error) {
	newer, older := local, remote
	if remote.Timestamp > local.Timestamp {
		newer, older = remote, local
	}

	quickLaunch, err := mergeItemLists(newer.QuickLaunch, older.QuickLaunch)
	if err != nil {
		return nil, fmt.Errorf("merging quickLaunch: %w", err)
	}
	engines, err := mergeItemLists(newer.CustomSearchEngines, older.CustomSearchEngines)
	if err != nil {
		return nil, fmt.Errorf("merging customSearchEngines: %w", err)
	}

	return &Snapshot{
		Version:             local.Version,
		Timestamp:           now,
		DeviceID:            local.DeviceID,
		Settings:            newer.Settings,
		QuickLaunch:         quickLaunch,
		CustomSearchEngines: engines,
		Metadata: Metadata{
			LastModified:       now,
			DeviceName:         local.Metadata.DeviceName,
			AppVersion:         local.Metadata.AppVersion,
			ConflictResolution: local.Metadata.ConflictResolution,
		},
	}, nil
}

// mergeItemLists keeps entries present on either side. When an id exists on
// both sides the entry with the higher order wins; on equal order the newer
// side's entry is kept. Output order follows the newer list, with
// older-side-only entries appended in their original order.
func mergeItemLists(newer, older json.RawMessage) (json.RawMessage, error) {
	newerItems, err := decodeItems(orEmptyArray(newer))
	if err != nil {
		return nil, err
	}
	olderItems, err := decodeItems(orEmptyArray(older))
	if err != nil {
		return nil, err
	}

	olderByID := make(map[string]quickLaunchItem, len(olderItems))
	for _, it := range olderItems {
		olderByID[it.ID] = it
	}

	merged := make([]json.RawMessage, 0, len(newerItems)+len(olderItems))
	seen := make(map[string]bool, len(newerItems))
	for _, n := range newerItems {
		if o, ok := olderByID[n.ID]; ok && o.Order > n.Order {
			merged = append(merged, o.raw)
		} else {
			merged = append(merged, n.raw)
		}
		seen[n.ID] = true
	}
	for _, o := range olderItems {
		if !seen[o.ID] {
			merged = append(merged, o.raw)
		}
	}
	return json.Marshal(merged)
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("[]")
	}
	return raw
}
