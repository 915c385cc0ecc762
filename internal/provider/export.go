package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/JunerLee/new-tab/internal/engine"
)

// Envelope is the portable file format for exported snapshots.
type Envelope struct {
	ExportDate string           `json:"exportDate"`
	Version    string           `json:"version"`
	Data       *engine.Snapshot `json:"data"`
}

// FileExporter flattens snapshots into the envelope format and back,
// validating structure on the way in and recording each operation in
// history.
type FileExporter struct {
	history engine.HistoryStore
	clock   engine.Clock
	idgen   engine.IDGenerator
	logger  engine.Logger
}

// NewFileExporter builds an exporter. history may be nil, in which case
// operations are not recorded.
func NewFileExporter(history engine.HistoryStore, clock engine.Clock, idgen engine.IDGenerator, logger engine.Logger) *FileExporter {
	if clock == nil {
		clock = engine.RealClock{}
	}
	if idgen == nil {
		idgen = engine.UUIDGenerator{}
	}
	if logger == nil {
		logger = engine.NewNopLogger()
	}
	return &FileExporter{history: history, clock: clock, idgen: idgen, logger: logger}
}

// Export wraps the snapshot in an envelope stamped with the export time.
func (e *FileExporter) Export(snap *engine.Snapshot) ([]byte, error) {
	env := Envelope{
		ExportDate: e.clock.Now().UTC().Format(time.RFC3339),
		Version:    snap.Version,
		Data:       snap,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, engine.NewError(engine.KindSerialization, "encoding export envelope", err)
	}
	e.record(engine.ActionExport, true, fmt.Sprintf("exported snapshot from device %s", snap.DeviceID), int64(len(data)))
	e.logger.Info("snapshot exported", "bytes", len(data))
	return data, nil
}

// Import parses and validates an envelope. Validation failures leave the
// caller's state untouched; only a successful import is recorded in history.
func (e *FileExporter) Import(data []byte) (*engine.Snapshot, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, engine.NewError(engine.KindSerialization, "parsing import envelope", err)
	}
	if env.Data == nil {
		return nil, engine.NewError(engine.KindValidation, "envelope is missing data", nil)
	}
	if env.Version == "" {
		return nil, engine.NewError(engine.KindValidation, "envelope is missing version", nil)
	}
	if env.ExportDate == "" {
		return nil, engine.NewError(engine.KindValidation, "envelope is missing exportDate", nil)
	}
	if !hasValue(env.Data.QuickLaunch) {
		return nil, engine.NewError(engine.KindValidation, "payload is missing quickLaunch", nil)
	}
	payload := &engine.Payload{
		Settings:            env.Data.Settings,
		QuickLaunch:         env.Data.QuickLaunch,
		CustomSearchEngines: env.Data.CustomSearchEngines,
	}
	if err := engine.ValidatePayload(payload); err != nil {
		return nil, err
	}
	e.checkVersion(env.Version)

	e.record(engine.ActionImport, true, fmt.Sprintf("imported snapshot from device %s", env.Data.DeviceID), int64(len(data)))
	e.logger.Info("snapshot imported", "device", env.Data.DeviceID, "version", env.Version)
	return env.Data, nil
}

// checkVersion warns on a schema-version major mismatch. Imports within a
// different major line still proceed; the warning is the only signal.
func (e *FileExporter) checkVersion(imported string) {
	iv, err := goversion.NewVersion(imported)
	if err != nil {
		e.logger.Warn("import carries unparseable schema version", "version", imported)
		return
	}
	cv, err := goversion.NewVersion(engine.SchemaVersion)
	if err != nil {
		return
	}
	if iv.Segments()[0] != cv.Segments()[0] {
		e.logger.Warn("schema major version mismatch",
			"imported", imported, "current", engine.SchemaVersion)
	}
}

// hasValue reports whether a raw payload section carries a value. An absent
// key and an explicit null both count as missing.
func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && string(trimmed) != "null"
}

func (e *FileExporter) record(action engine.Action, success bool, detail string, bytes int64) {
	if e.history == nil {
		return
	}
	entry := engine.HistoryEntry{
		ID:        e.idgen.New(),
		Timestamp: e.clock.Now(),
		Provider:  "local",
		Action:    action,
		Success:   success,
		Detail:    detail,
		Bytes:     bytes,
	}
	if err := e.history.Append(entry); err != nil {
		e.logger.Warn("recording history entry", "error", err)
	}
}

var _ engine.Exporter = (*FileExporter)(nil)
