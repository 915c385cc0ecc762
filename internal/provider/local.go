package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

// LocalProvider is a sync target backed by a directory on this machine,
// typically a mounted network share. It uses the same object naming as the
// remote providers, so a folder synced by other means stays interoperable.
type LocalProvider struct {
	name     string
	root     string
	compress bool
	clock    engine.Clock
	logger   engine.Logger
}

// NewLocalProvider builds a provider rooted at dir. The directory is
// created on Initialize, not here.
func NewLocalProvider(name, dir string, compress bool, clock engine.Clock, logger engine.Logger) (*LocalProvider, error) {
	if dir == "" {
		return nil, engine.NewError(engine.KindValidation, "local provider requires a directory", nil)
	}
	if clock == nil {
		clock = engine.RealClock{}
	}
	if logger == nil {
		logger = engine.NewNopLogger()
	}
	return &LocalProvider{name: name, root: dir, compress: compress, clock: clock, logger: logger}, nil
}

func (p *LocalProvider) Name() string { return p.name }

// Initialize creates the sync directory.
func (p *LocalProvider) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(p.root, 0755); err != nil {
		return fmt.Errorf("creating sync directory: %w", err)
	}
	return nil
}

// TestConnection verifies the sync directory exists and is a directory.
func (p *LocalProvider) TestConnection(ctx context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil {
		return engine.NewError(engine.KindNotFound, fmt.Sprintf("sync directory not accessible: %s", p.root), err)
	}
	if !info.IsDir() {
		return engine.NewError(engine.KindValidation, fmt.Sprintf("sync path is not a directory: %s", p.root), nil)
	}
	return nil
}

// Upload writes the snapshot as a new file via temp file + rename, so a
// concurrent reader never observes a partial snapshot.
func (p *LocalProvider) Upload(ctx context.Context, snap *engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return engine.NewError(engine.KindSerialization, "encoding snapshot", err)
	}
	if p.compress {
		data, err = gzipBytes(data)
		if err != nil {
			return engine.NewError(engine.KindSerialization, "compressing snapshot", err)
		}
	}
	if err := os.MkdirAll(p.root, 0755); err != nil {
		return fmt.Errorf("creating sync directory: %w", err)
	}
	name := SnapshotName(snap.DeviceID, snap.Timestamp, p.compress)
	if err := writeFileAtomic(filepath.Join(p.root, name), data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	p.logger.Info("snapshot written", "name", name, "bytes", len(data))
	return nil
}

// Download reads the newest snapshot file, optionally restricted to one
// device. Reports KindNotFound when no snapshot matches.
func (p *LocalProvider) Download(ctx context.Context, deviceID string) (*engine.Snapshot, error) {
	name, compressed, ok, err := p.newestFile(deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engine.NewError(engine.KindNotFound, "no sync data found", nil)
	}

	data, err := os.ReadFile(filepath.Join(p.root, name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if compressed {
		data, err = gunzipBytes(data)
		if err != nil {
			return nil, engine.NewError(engine.KindSerialization, fmt.Sprintf("decompressing %s", name), err)
		}
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, engine.NewError(engine.KindSerialization, fmt.Sprintf("decoding %s", name), err)
	}
	return &snap, nil
}

// ListDevices returns the distinct device ids present in the directory,
// sorted.
func (p *LocalProvider) ListDevices(ctx context.Context) ([]string, error) {
	entries, err := p.readDir()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var devices []string
	for _, entry := range entries {
		id, _, _, ok := ParseSnapshotName(entry.Name())
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices, nil
}

// Cleanup deletes snapshot files older than the retention window, judged by
// the creation time embedded in each name.
func (p *LocalProvider) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	entries, err := p.readDir()
	if err != nil {
		return 0, err
	}
	cutoff := p.clock.Now().Add(-retention).UnixMilli()
	deleted := 0
	for _, entry := range entries {
		_, ts, _, ok := ParseSnapshotName(entry.Name())
		if !ok || ts >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(p.root, entry.Name())); err != nil {
			return deleted, fmt.Errorf("deleting %s: %w", entry.Name(), err)
		}
		deleted++
	}
	return deleted, nil
}

func (p *LocalProvider) readDir() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sync directory: %w", err)
	}
	return entries, nil
}

// newestFile picks the snapshot file with the greatest embedded timestamp.
func (p *LocalProvider) newestFile(deviceID string) (name string, compressed bool, ok bool, err error) {
	entries, err := p.readDir()
	if err != nil {
		return "", false, false, err
	}
	var bestTS int64 = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ts, gz, parsed := ParseSnapshotName(entry.Name())
		if !parsed {
			continue
		}
		if deviceID != "" && id != deviceID {
			continue
		}
		if ts > bestTS {
			bestTS = ts
			name = entry.Name()
			compressed = gz
		}
	}
	return name, compressed, bestTS >= 0, nil
}

// writeFileAtomic writes data via a temp file in the destination directory
// followed by a rename.
func writeFileAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true
	return nil
}

var (
	_ engine.Provider         = (*LocalProvider)(nil)
	_ engine.Initializer      = (*LocalProvider)(nil)
	_ engine.ConnectionTester = (*LocalProvider)(nil)
	_ engine.DeviceLister     = (*LocalProvider)(nil)
	_ engine.Cleaner          = (*LocalProvider)(nil)
)
