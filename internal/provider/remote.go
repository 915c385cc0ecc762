// Package provider implements the sync targets the engine can talk to: a
// WebDAV remote, an S3 bucket and the local export/import path.
package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	gopath "path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

// DefaultFolder is the remote collection snapshots live in when the
// provider config does not name one.
const DefaultFolder = "/newTab"

const (
	snapshotPrefix     = "sync_"
	snapshotExt        = ".json"
	snapshotExtGzipped = ".json.gz"
)

// Transport is the slice of the WebDAV client the remote provider drives.
// Implementations classify failures as *engine.Error.
type Transport interface {
	ConnectTest(ctx context.Context) error
	EnsureDirectory(ctx context.Context, path string) error
	Get(ctx context.Context, path string) ([]byte, *engine.RemoteFileInfo, error)
	Put(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]engine.RemoteFileInfo, error)
}

// RemoteProvider stores snapshots as individually named objects in one
// remote folder. The filename embeds device and creation time
// (sync_<deviceId>_<epochMillis>.json), so uploads from different devices
// never collide and the newest snapshot is derivable from a plain listing.
type RemoteProvider struct {
	name      string
	transport Transport
	folder    string
	compress  bool
	clock     engine.Clock
	logger    engine.Logger
}

// NewRemoteProvider builds a provider over the given transport. folder
// defaults to DefaultFolder; compress switches uploads to gzip.
func NewRemoteProvider(name string, transport Transport, folder string, compress bool, clock engine.Clock, logger engine.Logger) *RemoteProvider {
	if folder == "" {
		folder = DefaultFolder
	}
	if !strings.HasPrefix(folder, "/") {
		folder = "/" + folder
	}
	if clock == nil {
		clock = engine.RealClock{}
	}
	if logger == nil {
		logger = engine.NewNopLogger()
	}
	return &RemoteProvider{
		name:      name,
		transport: transport,
		folder:    strings.TrimRight(folder, "/"),
		compress:  compress,
		clock:     clock,
		logger:    logger,
	}
}

func (p *RemoteProvider) Name() string { return p.name }

// Initialize verifies connectivity and creates the sync folder.
func (p *RemoteProvider) Initialize(ctx context.Context) error {
	if err := p.transport.ConnectTest(ctx); err != nil {
		return fmt.Errorf("testing connection: %w", err)
	}
	if err := p.transport.EnsureDirectory(ctx, p.folder); err != nil {
		return fmt.Errorf("creating sync folder: %w", err)
	}
	return nil
}

// TestConnection verifies the endpoint answers with the configured
// credentials.
func (p *RemoteProvider) TestConnection(ctx context.Context) error {
	return p.transport.ConnectTest(ctx)
}

// Upload serializes the snapshot and stores it as a new object. Existing
// objects are never overwritten: the name embeds device and timestamp.
func (p *RemoteProvider) Upload(ctx context.Context, snap *engine.Snapshot) error {
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
	name := SnapshotName(snap.DeviceID, snap.Timestamp, p.compress)
	path := p.folder + "/" + name
	if err := p.transport.Put(ctx, path, data); err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	p.logger.Info("snapshot uploaded", "name", name, "bytes", len(data))
	return nil
}

// Download lists the sync folder and fetches the newest snapshot, optionally
// restricted to one device. Reports KindNotFound when no snapshot matches.
func (p *RemoteProvider) Download(ctx context.Context, deviceID string) (*engine.Snapshot, error) {
	newest, ok, err := p.newestSnapshot(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engine.NewError(engine.KindNotFound, "no sync data found", nil)
	}

	data, _, err := p.transport.Get(ctx, newest.info.Path)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", newest.info.Name, err)
	}
	if newest.compressed {
		data, err = gunzipBytes(data)
		if err != nil {
			return nil, engine.NewError(engine.KindSerialization, fmt.Sprintf("decompressing %s", newest.info.Name), err)
		}
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, engine.NewError(engine.KindSerialization, fmt.Sprintf("decoding %s", newest.info.Name), err)
	}
	p.logger.Debug("snapshot downloaded", "name", newest.info.Name, "device", snap.DeviceID)
	return &snap, nil
}

// ListDevices returns the distinct device ids that have snapshots in the
// sync folder, sorted.
func (p *RemoteProvider) ListDevices(ctx context.Context) ([]string, error) {
	infos, err := p.transport.List(ctx, p.folder)
	if err != nil {
		if engine.KindOf(err) == engine.KindNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sync folder: %w", err)
	}
	seen := make(map[string]bool)
	var devices []string
	for _, info := range infos {
		id, _, _, ok := ParseSnapshotName(info.Name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices, nil
}

// Cleanup deletes every snapshot whose modification time predates the
// retention window. Returns the number of objects deleted.
func (p *RemoteProvider) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	infos, err := p.transport.List(ctx, p.folder)
	if err != nil {
		if engine.KindOf(err) == engine.KindNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("listing sync folder: %w", err)
	}
	cutoff := p.clock.Now().Add(-retention)
	deleted := 0
	for _, info := range infos {
		_, ts, _, ok := ParseSnapshotName(info.Name)
		if !ok {
			continue
		}
		if !effectiveTime(info, ts).Before(cutoff) {
			continue
		}
		if err := p.transport.Delete(ctx, info.Path); err != nil {
			return deleted, fmt.Errorf("deleting %s: %w", info.Name, err)
		}
		deleted++
		p.logger.Debug("stale snapshot deleted", "name", info.Name)
	}
	if deleted > 0 {
		p.logger.Info("cleanup complete", "deleted", deleted)
	}
	return deleted, nil
}

type remoteSnapshot struct {
	info       engine.RemoteFileInfo
	compressed bool
}

// newestSnapshot picks the snapshot object with the greatest modification
// time. Objects without a server timestamp fall back to the creation time
// embedded in their name; exact ties go to the greater embedded time.
func (p *RemoteProvider) newestSnapshot(ctx context.Context, deviceID string) (remoteSnapshot, bool, error) {
	infos, err := p.transport.List(ctx, p.folder)
	if err != nil {
		if engine.KindOf(err) == engine.KindNotFound {
			return remoteSnapshot{}, false, nil
		}
		return remoteSnapshot{}, false, fmt.Errorf("listing sync folder: %w", err)
	}

	var (
		best   remoteSnapshot
		bestAt time.Time
		bestTS int64
		found  bool
	)
	for _, info := range infos {
		if info.IsDirectory {
			continue
		}
		id, ts, compressed, ok := ParseSnapshotName(info.Name)
		if !ok {
			continue
		}
		if deviceID != "" && id != deviceID {
			continue
		}
		at := effectiveTime(info, ts)
		if !found || at.After(bestAt) || (at.Equal(bestAt) && ts > bestTS) {
			best = remoteSnapshot{info: info, compressed: compressed}
			bestAt = at
			bestTS = ts
			found = true
		}
	}
	return best, found, nil
}

func effectiveTime(info engine.RemoteFileInfo, embeddedMillis int64) time.Time {
	if !info.LastModified.IsZero() {
		return info.LastModified
	}
	return time.UnixMilli(embeddedMillis)
}

// SnapshotName builds the object name for a device's snapshot taken at the
// given epoch-millisecond timestamp.
func SnapshotName(deviceID string, millis int64, compressed bool) string {
	ext := snapshotExt
	if compressed {
		ext = snapshotExtGzipped
	}
	return snapshotPrefix + deviceID + "_" + strconv.FormatInt(millis, 10) + ext
}

// ParseSnapshotName splits an object name back into device id and timestamp.
// Names not produced by SnapshotName report ok=false.
func ParseSnapshotName(name string) (deviceID string, millis int64, compressed bool, ok bool) {
	base := gopath.Base(name)
	if !strings.HasPrefix(base, snapshotPrefix) {
		return "", 0, false, false
	}
	rest := strings.TrimPrefix(base, snapshotPrefix)
	switch {
	case strings.HasSuffix(rest, snapshotExtGzipped):
		compressed = true
		rest = strings.TrimSuffix(rest, snapshotExtGzipped)
	case strings.HasSuffix(rest, snapshotExt):
		rest = strings.TrimSuffix(rest, snapshotExt)
	default:
		return "", 0, false, false
	}
	// The device id may itself contain underscores; the timestamp never does.
	sep := strings.LastIndex(rest, "_")
	if sep <= 0 || sep == len(rest)-1 {
		return "", 0, false, false
	}
	deviceID = rest[:sep]
	millis, err := strconv.ParseInt(rest[sep+1:], 10, 64)
	if err != nil || millis < 0 {
		return "", 0, false, false
	}
	return deviceID, millis, compressed, true
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ engine.Provider         = (*RemoteProvider)(nil)
	_ engine.Initializer      = (*RemoteProvider)(nil)
	_ engine.ConnectionTester = (*RemoteProvider)(nil)
	_ engine.DeviceLister     = (*RemoteProvider)(nil)
	_ engine.Cleaner          = (*RemoteProvider)(nil)
)
