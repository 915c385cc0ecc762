package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JunerLee/new-tab/internal/config"
	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/provider"
)

func writeStateDoc(t *testing.T, path, theme string) {
	t.Helper()
	doc := `{
  "settings": {"theme": "` + theme + `", "locale": "en"},
  "quickLaunch": [{"id": "ql-1", "name": "Mail", "url": "https://mail.example.com", "order": 1}],
  "customSearchEngines": []
}`
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
}

func readStateDoc(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading state document: %v", err)
	}
	return string(data)
}

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.History = config.HistoryConfig{Type: "memory"}
	cfg.Providers = []config.ProviderConfig{
		{Type: "local", Name: "usb-stick", Dir: filepath.Join(base, "share")},
	}
	cfg.Sync.ActiveProvider = "usb-stick"
	if mutate != nil {
		mutate(cfg)
	}
	writeStateDoc(t, cfg.StatePath, "dark")

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, cfg
}

func TestAppSyncRound(t *testing.T) {
	a, cfg := newTestApp(t, nil)

	res := a.Sync(context.Background(), "")
	if !res.Success {
		t.Fatalf("Sync() failed: %s", res.Message)
	}
	if res.Message != "sync complete" {
		t.Errorf("message = %q, want \"sync complete\"", res.Message)
	}
	if got := a.State().Status; got != engine.StatusSuccess {
		t.Errorf("state = %q, want %q", got, engine.StatusSuccess)
	}

	uploads, err := filepath.Glob(filepath.Join(cfg.BaseDir, "share", "sync_*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(uploads) != 1 {
		t.Errorf("provider dir holds %d snapshots, want 1", len(uploads))
	}

	entries, err := a.History()
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Action != engine.ActionSync || !entries[0].Success {
		t.Errorf("history = %+v, want one successful sync entry", entries)
	}
	if entries[0].Provider != "usb-stick" {
		t.Errorf("history provider = %q, want usb-stick", entries[0].Provider)
	}

	if doc := readStateDoc(t, cfg.StatePath); !strings.Contains(doc, "dark") {
		t.Errorf("state document lost its settings: %s", doc)
	}
}

func TestAppSyncAdoptsNewerRemote(t *testing.T) {
	a, cfg := newTestApp(t, nil)

	// A snapshot from another device, 30 seconds ahead: inside the conflict
	// window and strictly newer, so latest-mode resolution adopts it.
	remoteTS := time.Now().Add(30 * time.Second).UnixMilli()
	remote := &engine.Snapshot{
		Version:             engine.SchemaVersion,
		Timestamp:           remoteTS,
		DeviceID:            "device-other",
		Settings:            json.RawMessage(`{"theme":"light","locale":"en"}`),
		QuickLaunch:         json.RawMessage(`[{"id":"ql-1","name":"Mail","url":"https://mail.example.com","order":1}]`),
		CustomSearchEngines: json.RawMessage(`[]`),
		Metadata:            engine.Metadata{LastModified: remoteTS, DeviceName: "Other", ConflictResolution: engine.ResolveLatest},
	}
	data, err := json.Marshal(remote)
	if err != nil {
		t.Fatal(err)
	}
	shareDir := filepath.Join(cfg.BaseDir, "share")
	if err := os.MkdirAll(shareDir, 0755); err != nil {
		t.Fatal(err)
	}
	name := provider.SnapshotName("device-other", remoteTS, false)
	if err := os.WriteFile(filepath.Join(shareDir, name), data, 0644); err != nil {
		t.Fatal(err)
	}

	res := a.Sync(context.Background(), "")
	if !res.Success {
		t.Fatalf("Sync() failed: %s", res.Message)
	}
	if len(res.Conflicts) == 0 {
		t.Fatal("Sync() reported no conflicts for diverged settings")
	}
	for _, c := range res.Conflicts {
		if c.Resolution != "remote" {
			t.Errorf("conflict %s resolved as %q, want remote", c.Field, c.Resolution)
		}
	}

	if doc := readStateDoc(t, cfg.StatePath); !strings.Contains(doc, "light") {
		t.Errorf("state document was not updated with the adopted settings: %s", doc)
	}
	if res.Snapshot.DeviceID != a.Device().ID {
		t.Errorf("resolved snapshot carries device %q, want this device's id", res.Snapshot.DeviceID)
	}
}

func TestAppExportImportRestores(t *testing.T) {
	a, cfg := newTestApp(t, nil)

	exported, err := a.Export(context.Background())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	writeStateDoc(t, cfg.StatePath, "light")
	res := a.Import(exported)
	if !res.Success {
		t.Fatalf("Import() failed: %s", res.Message)
	}
	if res.Message != "import complete" {
		t.Errorf("message = %q, want \"import complete\"", res.Message)
	}
	if doc := readStateDoc(t, cfg.StatePath); !strings.Contains(doc, "dark") {
		t.Errorf("state document was not restored from the export: %s", doc)
	}

	entries, err := a.History()
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Action != engine.ActionImport || entries[1].Action != engine.ActionExport {
		t.Errorf("history actions = %+v, want [import export]", entries)
	}
}

func TestAppImportRejectsJunk(t *testing.T) {
	a, cfg := newTestApp(t, nil)

	res := a.Import([]byte("junk"))
	if res.Success {
		t.Fatal("Import() accepted junk")
	}
	if res.Kind != engine.KindSerialization {
		t.Errorf("kind = %q, want %q", res.Kind, engine.KindSerialization)
	}
	if doc := readStateDoc(t, cfg.StatePath); !strings.Contains(doc, "dark") {
		t.Errorf("state document changed on a rejected import: %s", doc)
	}
}

func TestAppNoActiveProvider(t *testing.T) {
	a, _ := newTestApp(t, func(cfg *config.Config) {
		cfg.Providers = nil
		cfg.Sync.ActiveProvider = ""
	})

	res := a.Sync(context.Background(), "")
	if res.Success || !strings.Contains(res.Message, "no active provider configured") {
		t.Errorf("Sync() = %+v, want the missing-provider failure", res)
	}
	if err := a.TestConnection(context.Background()); err == nil {
		t.Error("TestConnection() error = nil, want failure without a provider")
	}
}

func TestAppDevicesAndCleanup(t *testing.T) {
	a, cfg := newTestApp(t, nil)

	if res := a.Sync(context.Background(), ""); !res.Success {
		t.Fatalf("Sync() failed: %s", res.Message)
	}

	devices, err := a.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || devices[0] != a.Device().ID {
		t.Errorf("Devices() = %v, want this device only", devices)
	}

	// A snapshot named with an ancient timestamp falls outside any
	// reasonable retention window.
	stale := filepath.Join(cfg.BaseDir, "share", provider.SnapshotName("device-old", 1_000, false))
	if err := os.WriteFile(stale, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	deleted, err := a.Cleanup(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() = %d, want 1", deleted)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale snapshot still present after cleanup")
	}

	entries, err := a.History()
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if entries[0].Action != engine.ActionCleanup || entries[0].Detail != "deleted 1 snapshot(s)" {
		t.Errorf("newest history entry = %+v, want the cleanup record", entries[0])
	}
}

func TestAppRunAutoDisabled(t *testing.T) {
	a, _ := newTestApp(t, func(cfg *config.Config) {
		cfg.Sync.Enabled = false
	})

	err := a.RunAuto(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("RunAuto() error = %v, want the disabled failure", err)
	}
}

func TestAppRunAutoStopsOnCancel(t *testing.T) {
	a, cfg := newTestApp(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := a.RunAuto(ctx); err != nil {
		t.Fatalf("RunAuto() error = %v", err)
	}

	uploads, err := filepath.Glob(filepath.Join(cfg.BaseDir, "share", "sync_*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(uploads) != 1 {
		t.Errorf("provider dir holds %d snapshots after the initial round, want 1", len(uploads))
	}
}

func TestAppSyncResolveOverride(t *testing.T) {
	a, _ := newTestApp(t, func(cfg *config.Config) {
		cfg.Sync.ConflictResolution = "manual"
	})

	// No remote yet, so the first round has nothing to conflict with; the
	// override path still must not break a clean round.
	res := a.Sync(context.Background(), "latest")
	if !res.Success {
		t.Fatalf("Sync() with override failed: %s", res.Message)
	}
}
