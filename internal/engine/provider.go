package engine

import (
	"context"
	"time"
)

// Provider is a sync target: somewhere a snapshot can be stored and the
// newest snapshot retrieved. Implementations classify their failures as
// *Error so the engine can make retry decisions from the Kind alone.
type Provider interface {
	// Name identifies the provider in history entries and log lines.
	Name() string

	// Upload stores the snapshot as a new object. Uploads never overwrite:
	// every call creates a distinct object keyed by device and timestamp.
	Upload(ctx context.Context, snap *Snapshot) error

	// Download returns the newest snapshot, optionally filtered to one
	// device. Absence of any matching snapshot is reported as KindNotFound.
	Download(ctx context.Context, deviceID string) (*Snapshot, error)
}

// Initializer is implemented by providers that need one-time remote setup,
// such as creating the sync folder. Failure is non-fatal to construction;
// the caller decides whether to abort.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// ConnectionTester is implemented by providers that can verify reachability
// without transferring a snapshot.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// DeviceLister is implemented by providers that can enumerate the devices
// participating in sync.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
}

// Cleaner is implemented by providers that can purge snapshots older than
// the retention window. It returns the number of objects deleted.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// Source supplies the current in-memory settings blob at the moment a round
// starts. The presentation layer owns the blob; the engine only reads it.
type Source interface {
	Current(ctx context.Context) (*Payload, error)
}

// Exporter flattens snapshots to a portable file format and back.
type Exporter interface {
	Export(snap *Snapshot) ([]byte, error)
	Import(data []byte) (*Snapshot, error)
}
