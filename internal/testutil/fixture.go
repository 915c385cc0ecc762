package testutil

import (
	"encoding/json"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

// SamplePayload returns a small valid state payload.
func SamplePayload() *engine.Payload {
	return &engine.Payload{
		Settings:            json.RawMessage(`{"theme":"dark","locale":"en"}`),
		QuickLaunch:         json.RawMessage(`[{"id":"ql-1","name":"Mail","url":"https://mail.example.com","order":1}]`),
		CustomSearchEngines: json.RawMessage(`[{"id":"se-1","name":"Docs","url":"https://docs.example.com/?q=%s","order":1}]`),
	}
}

// SnapshotAt builds a snapshot for deviceID stamped at ts, carrying p.
func SnapshotAt(deviceID string, ts time.Time, p *engine.Payload) *engine.Snapshot {
	return &engine.Snapshot{
		Version:             engine.SchemaVersion,
		Timestamp:           ts.UnixMilli(),
		DeviceID:            deviceID,
		Settings:            p.Settings,
		QuickLaunch:         p.QuickLaunch,
		CustomSearchEngines: p.CustomSearchEngines,
		Metadata: engine.Metadata{
			LastModified:       ts.UnixMilli(),
			DeviceName:         deviceID,
			AppVersion:         "test",
			ConflictResolution: engine.ResolveLatest,
		},
	}
}
