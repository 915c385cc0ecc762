package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/testutil"
)

// fakeTransport is an in-memory Transport. Objects are keyed by full path;
// file infos are derived from the stored bytes unless overridden.
type fakeTransport struct {
	mu      sync.Mutex
	objects map[string][]byte
	mtimes  map[string]time.Time
	deleted []string

	connectErr error
	ensureErr  error
	listErr    error
	getErr     error
	putErr     error
	deleteErr  error

	ensured []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		objects: make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

func (t *fakeTransport) ConnectTest(_ context.Context) error { return t.connectErr }

func (t *fakeTransport) EnsureDirectory(_ context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ensureErr != nil {
		return t.ensureErr
	}
	t.ensured = append(t.ensured, path)
	return nil
}

func (t *fakeTransport) Get(_ context.Context, path string) ([]byte, *engine.RemoteFileInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.getErr != nil {
		return nil, nil, t.getErr
	}
	data, ok := t.objects[path]
	if !ok {
		return nil, nil, engine.NewError(engine.KindNotFound, "fetching "+path+": not found", nil)
	}
	return data, &engine.RemoteFileInfo{Path: path, Size: int64(len(data))}, nil
}

func (t *fakeTransport) Put(_ context.Context, path string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.putErr != nil {
		return t.putErr
	}
	t.objects[path] = append([]byte(nil), data...)
	return nil
}

func (t *fakeTransport) Delete(_ context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleteErr != nil {
		return t.deleteErr
	}
	delete(t.objects, path)
	t.deleted = append(t.deleted, path)
	return nil
}

func (t *fakeTransport) List(_ context.Context, dir string) ([]engine.RemoteFileInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listErr != nil {
		return nil, t.listErr
	}
	prefix := strings.TrimRight(dir, "/") + "/"
	var infos []engine.RemoteFileInfo
	for path, data := range t.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		name := strings.TrimPrefix(path, prefix)
		if strings.Contains(name, "/") {
			continue
		}
		infos = append(infos, engine.RemoteFileInfo{
			Path:         path,
			Name:         name,
			Size:         int64(len(data)),
			LastModified: t.mtimes[path],
		})
	}
	return infos, nil
}

func (t *fakeTransport) put(path string, data []byte, mtime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[path] = data
	t.mtimes[path] = mtime
}

var _ Transport = (*fakeTransport)(nil)

func newRemote(t *testing.T, ft *fakeTransport, compress bool) (*RemoteProvider, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	return NewRemoteProvider("webdav-main", ft, "", compress, clock, nil), clock
}

func storedSnapshot(t *testing.T, deviceID string, ts int64) []byte {
	t.Helper()
	snap := testutil.SnapshotAt(deviceID, time.UnixMilli(ts), testutil.SamplePayload())
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("encoding snapshot: %v", err)
	}
	return data
}

func TestRemoteProviderUploadDownload(t *testing.T) {
	ft := newFakeTransport()
	p, _ := newRemote(t, ft, false)

	snap := testutil.SnapshotAt("device-a", time.UnixMilli(1_700_000_000_000), testutil.SamplePayload())
	if err := p.Upload(context.Background(), snap); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	wantPath := "/newTab/sync_device-a_1700000000000.json"
	if _, ok := ft.objects[wantPath]; !ok {
		t.Fatalf("object not stored at %s; stored: %v", wantPath, keysOf(ft.objects))
	}

	got, err := p.Download(context.Background(), "")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got.DeviceID != "device-a" || got.Timestamp != snap.Timestamp {
		t.Errorf("Download() = %+v, want the uploaded snapshot back", got)
	}
	if !bytes.Equal(got.Settings, snap.Settings) {
		t.Errorf("downloaded settings = %s, want %s", got.Settings, snap.Settings)
	}
}

func TestRemoteProviderCompression(t *testing.T) {
	ft := newFakeTransport()
	p, _ := newRemote(t, ft, true)

	snap := testutil.SnapshotAt("device-a", time.UnixMilli(2_000), testutil.SamplePayload())
	if err := p.Upload(context.Background(), snap); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	wantPath := "/newTab/sync_device-a_2000.json.gz"
	data, ok := ft.objects[wantPath]
	if !ok {
		t.Fatalf("object not stored at %s; stored: %v", wantPath, keysOf(ft.objects))
	}
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		t.Error("stored object is not gzip data")
	}

	got, err := p.Download(context.Background(), "")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got.DeviceID != "device-a" {
		t.Errorf("Download() = %+v, want the compressed snapshot decoded", got)
	}
}

func TestRemoteProviderCorruptGzip(t *testing.T) {
	ft := newFakeTransport()
	p, _ := newRemote(t, ft, false)
	ft.put("/newTab/sync_device-a_1000.json.gz", []byte(`{"plain":"json"}`), time.Time{})

	_, err := p.Download(context.Background(), "")
	if engine.KindOf(err) != engine.KindSerialization {
		t.Errorf("Download() error = %v, want a serialization failure", err)
	}
	if err == nil || !strings.Contains(err.Error(), "decompressing") {
		t.Errorf("Download() error = %v, want it to name the decompression", err)
	}
}

func TestRemoteProviderDownloadPicksNewest(t *testing.T) {
	ft := newFakeTransport()
	p, _ := newRemote(t, ft, false)

	// No server mtimes: recency comes from the embedded timestamps.
	ft.put("/newTab/sync_device-a_1000.json", storedSnapshot(t, "device-a", 1_000), time.Time{})
	ft.put("/newTab/sync_device-b_5000.json", storedSnapshot(t, "device-b", 5_000), time.Time{})
	ft.put("/newTab/sync_device-a_3000.json", storedSnapshot(t, "device-a", 3_000), time.Time{})

	got, err := p.Download(context.Background(), "")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got.DeviceID != "device-b" || got.Timestamp != 5_000 {
		t.Errorf("Download() = %s@%d, want the newest snapshot device-b@5000", got.DeviceID, got.Timestamp)
	}

	got, err = p.Download(context.Background(), "device-a")
	if err != nil {
		t.Fatalf("Download(device-a) error = %v", err)
	}
	if got.DeviceID != "device-a" || got.Timestamp != 3_000 {
		t.Errorf("Download(device-a) = %s@%d, want this device's newest", got.DeviceID, got.Timestamp)
	}
}

func TestRemoteProviderDownloadPrefersServerTime(t *testing.T) {
	ft := newFakeTransport()
	p, _ := newRemote(t, ft, false)

	// The lower embedded timestamp carries the later server mtime, as after
	// a device with a skewed clock uploaded last.
	ft.put("/newTab/sync_device-a_1000.json", storedSnapshot(t, "device-a", 1_000),
		time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	ft.put("/newTab/sync_device-b_9000.json", storedSnapshot(t, "device-b", 9_000),
		time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC))

	got, err := p.Download(context.Background(), "")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got.DeviceID != "device-a" {
		t.Errorf("Download() = %s, want the server-newer snapshot", got.DeviceID)
	}
}

func TestRemoteProviderDownloadEmpty(t *testing.T) {
	t.Run("empty folder", func(t *testing.T) {
		p, _ := newRemote(t, newFakeTransport(), false)
		_, err := p.Download(context.Background(), "")
		if engine.KindOf(err) != engine.KindNotFound {
			t.Errorf("Download() error = %v, want not-found", err)
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		ft := newFakeTransport()
		ft.listErr = engine.NewError(engine.KindNotFound, "listing /newTab: not found", nil)
		p, _ := newRemote(t, ft, false)
		_, err := p.Download(context.Background(), "")
		if engine.KindOf(err) != engine.KindNotFound {
			t.Errorf("Download() error = %v, want not-found", err)
		}
	})

	t.Run("only foreign objects", func(t *testing.T) {
		ft := newFakeTransport()
		ft.put("/newTab/notes.txt", []byte("hi"), time.Time{})
		ft.put("/newTab/sync_broken.json", []byte("{}"), time.Time{})
		p, _ := newRemote(t, ft, false)
		_, err := p.Download(context.Background(), "")
		if engine.KindOf(err) != engine.KindNotFound {
			t.Errorf("Download() error = %v, want not-found with only foreign objects", err)
		}
	})
}

func TestRemoteProviderListDevices(t *testing.T) {
	ft := newFakeTransport()
	ft.put("/newTab/sync_device-b_2000.json", storedSnapshot(t, "device-b", 2_000), time.Time{})
	ft.put("/newTab/sync_device-a_1000.json", storedSnapshot(t, "device-a", 1_000), time.Time{})
	ft.put("/newTab/sync_device-a_3000.json", storedSnapshot(t, "device-a", 3_000), time.Time{})
	ft.put("/newTab/notes.txt", []byte("hi"), time.Time{})
	p, _ := newRemote(t, ft, false)

	got, err := p.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	want := []string{"device-a", "device-b"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ListDevices() = %v, want %v deduplicated and sorted", got, want)
	}
}

func TestRemoteProviderCleanup(t *testing.T) {
	ft := newFakeTransport()
	p, clock := newRemote(t, ft, false)

	old := clock.Now().Add(-40 * 24 * time.Hour)
	fresh := clock.Now().Add(-24 * time.Hour)
	ft.put("/newTab/sync_device-a_1000.json", storedSnapshot(t, "device-a", 1_000), old)
	ft.put("/newTab/sync_device-b_2000.json", storedSnapshot(t, "device-b", 2_000), fresh)
	ft.put("/newTab/readme.txt", []byte("keep me"), old)

	deleted, err := p.Cleanup(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() = %d, want 1", deleted)
	}
	if len(ft.deleted) != 1 || ft.deleted[0] != "/newTab/sync_device-a_1000.json" {
		t.Errorf("deleted = %v, want only the stale snapshot", ft.deleted)
	}
	if _, ok := ft.objects["/newTab/readme.txt"]; !ok {
		t.Error("foreign object was deleted by cleanup")
	}
	if _, ok := ft.objects["/newTab/sync_device-b_2000.json"]; !ok {
		t.Error("fresh snapshot was deleted by cleanup")
	}
}

func TestRemoteProviderInitialize(t *testing.T) {
	t.Run("creates the sync folder", func(t *testing.T) {
		ft := newFakeTransport()
		p, _ := newRemote(t, ft, false)
		if err := p.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if len(ft.ensured) != 1 || ft.ensured[0] != "/newTab" {
			t.Errorf("ensured = %v, want the default folder", ft.ensured)
		}
	})

	t.Run("connection failure aborts", func(t *testing.T) {
		ft := newFakeTransport()
		ft.connectErr = engine.NewError(engine.KindAuth, "authentication failed", nil)
		p, _ := newRemote(t, ft, false)
		err := p.Initialize(context.Background())
		if engine.KindOf(err) != engine.KindAuth || !strings.Contains(err.Error(), "testing connection") {
			t.Errorf("Initialize() error = %v, want the wrapped auth failure", err)
		}
	})
}

func TestRemoteProviderCustomFolder(t *testing.T) {
	ft := newFakeTransport()
	clock := testutil.FixedClock()
	p := NewRemoteProvider("webdav-main", ft, "backups/tabs/", false, clock, nil)

	snap := testutil.SnapshotAt("device-a", time.UnixMilli(1_000), testutil.SamplePayload())
	if err := p.Upload(context.Background(), snap); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, ok := ft.objects["/backups/tabs/sync_device-a_1000.json"]; !ok {
		t.Errorf("stored objects = %v, want the folder normalized to /backups/tabs", keysOf(ft.objects))
	}
}

func TestRemoteProviderUploadFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.putErr = engine.NewError(engine.KindNetwork, "connection reset", nil)
	p, _ := newRemote(t, ft, false)

	err := p.Upload(context.Background(), testutil.SnapshotAt("device-a", time.UnixMilli(1_000), testutil.SamplePayload()))
	if engine.KindOf(err) != engine.KindNetwork {
		t.Errorf("Upload() error = %v, want the transport failure through", err)
	}
	if err == nil || !strings.Contains(err.Error(), "sync_device-a_1000.json") {
		t.Errorf("Upload() error = %v, want the object name in the message", err)
	}
}

func TestSnapshotNameRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deviceID   string
		millis     int64
		compressed bool
		want       string
	}{
		{"device-a", 1_700_000_000_000, false, "sync_device-a_1700000000000.json"},
		{"device-a", 1_700_000_000_000, true, "sync_device-a_1700000000000.json.gz"},
		{"my_laptop_2", 42, false, "sync_my_laptop_2_42.json"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := SnapshotName(tt.deviceID, tt.millis, tt.compressed)
			if got != tt.want {
				t.Fatalf("SnapshotName() = %q, want %q", got, tt.want)
			}
			id, ms, compressed, ok := ParseSnapshotName(got)
			if !ok {
				t.Fatalf("ParseSnapshotName(%q) not ok", got)
			}
			if id != tt.deviceID || ms != tt.millis || compressed != tt.compressed {
				t.Errorf("ParseSnapshotName(%q) = %q, %d, %v", got, id, ms, compressed)
			}
		})
	}
}

func TestParseSnapshotNameRejects(t *testing.T) {
	t.Parallel()

	names := []string{
		"notes.txt",
		"sync_.json",
		"sync_device-a.json",
		"sync_device-a_.json",
		"sync_device-a_12x.json",
		"sync_device-a_-5.json",
		"snapshot_device-a_1000.json",
		"sync_device-a_1000.txt",
	}
	for _, name := range names {
		if _, _, _, ok := ParseSnapshotName(name); ok {
			t.Errorf("ParseSnapshotName(%q) ok = true, want rejection", name)
		}
	}
}

func TestParseSnapshotNameAcceptsFullPath(t *testing.T) {
	t.Parallel()

	id, ms, _, ok := ParseSnapshotName("/newTab/sync_device-a_1000.json")
	if !ok || id != "device-a" || ms != 1_000 {
		t.Errorf("ParseSnapshotName(path) = %q, %d, %v, want the base name parsed", id, ms, ok)
	}
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
