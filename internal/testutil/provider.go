package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

// FakeProvider is an in-memory Provider for engine tests. Tests preload the
// remote side with SetRemote and inspect Uploads afterwards. Upload replaces
// the remote snapshot, so a second engine sharing the same FakeProvider sees
// the first engine's upload, like two devices behind one server.
type FakeProvider struct {
	mu sync.Mutex

	name    string
	remote  *engine.Snapshot
	uploads []*engine.Snapshot
	devices []string
	cleaned int

	uploadErr        error
	downloadErr      error
	downloadFailN    int
	downloadFailWith error
	testErr          error
	cleanupErr       error

	testCalls    int
	cleanupCalls int
}

var (
	_ engine.Provider         = (*FakeProvider)(nil)
	_ engine.Initializer      = (*FakeProvider)(nil)
	_ engine.ConnectionTester = (*FakeProvider)(nil)
	_ engine.DeviceLister     = (*FakeProvider)(nil)
	_ engine.Cleaner          = (*FakeProvider)(nil)
)

// NewFakeProvider creates an empty FakeProvider.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{name: name}
}

func (p *FakeProvider) Name() string { return p.name }

func (p *FakeProvider) Initialize(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.testErr
}

func (p *FakeProvider) TestConnection(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.testCalls++
	return p.testErr
}

func (p *FakeProvider) Upload(_ context.Context, snap *engine.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadErr != nil {
		return p.uploadErr
	}
	p.uploads = append(p.uploads, snap)
	p.remote = snap
	return nil
}

func (p *FakeProvider) Download(_ context.Context, deviceID string) (*engine.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.downloadFailN > 0 {
		p.downloadFailN--
		return nil, p.downloadFailWith
	}
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	if p.remote == nil || (deviceID != "" && p.remote.DeviceID != deviceID) {
		return nil, engine.NewError(engine.KindNotFound, "no sync data found", nil)
	}
	return p.remote, nil
}

func (p *FakeProvider) ListDevices(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.devices...), nil
}

func (p *FakeProvider) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupCalls++
	if p.cleanupErr != nil {
		return 0, p.cleanupErr
	}
	return p.cleaned, nil
}

// SetRemote replaces the snapshot Download serves. Nil downloads as
// not-found, like an empty remote folder.
func (p *FakeProvider) SetRemote(s *engine.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = s
}

// SetUploadErr makes subsequent uploads fail with err.
func (p *FakeProvider) SetUploadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploadErr = err
}

// SetDownloadErr makes subsequent downloads fail with err.
func (p *FakeProvider) SetDownloadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloadErr = err
}

// FailDownloads makes only the next n downloads fail with err, then
// downloads succeed again. Retry tests depend on the recovery happening
// without a racing setter call.
func (p *FakeProvider) FailDownloads(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloadFailN = n
	p.downloadFailWith = err
}

// SetTestErr makes connection tests fail with err.
func (p *FakeProvider) SetTestErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.testErr = err
}

// SetDevices sets what ListDevices returns.
func (p *FakeProvider) SetDevices(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = append([]string(nil), ids...)
}

// SetCleaned sets what Cleanup reports as deleted.
func (p *FakeProvider) SetCleaned(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleaned = n
}

// SetCleanupErr makes subsequent cleanups fail with err.
func (p *FakeProvider) SetCleanupErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupErr = err
}

// Uploads returns every uploaded snapshot in order.
func (p *FakeProvider) Uploads() []*engine.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*engine.Snapshot(nil), p.uploads...)
}

// LastUpload returns the most recent upload, or nil.
func (p *FakeProvider) LastUpload() *engine.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.uploads) == 0 {
		return nil
	}
	return p.uploads[len(p.uploads)-1]
}

// UploadCount returns how many uploads succeeded.
func (p *FakeProvider) UploadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uploads)
}

// TestCalls returns how many connection tests ran.
func (p *FakeProvider) TestCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.testCalls
}

// CleanupCalls returns how many cleanups ran.
func (p *FakeProvider) CleanupCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanupCalls
}
