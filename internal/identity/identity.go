// Package identity manages the persistent per-installation device identity.
// The identity is generated on first run and reused for every sync after
// that; remote snapshot names are derived from it, so two installations
// sharing an id would overwrite each other's uploads.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JunerLee/new-tab/internal/engine"
)

// Device is the persisted identity record.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoadOrCreate reads the device identity from path, generating and
// persisting a new one on first run.
func LoadOrCreate(path string, idgen engine.IDGenerator) (Device, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var d Device
		if err := json.Unmarshal(data, &d); err != nil {
			return Device{}, fmt.Errorf("parsing device identity %s: %w", path, err)
		}
		if d.ID == "" {
			return Device{}, fmt.Errorf("device identity %s has no id", path)
		}
		return d, nil
	case os.IsNotExist(err):
		d := Device{ID: idgen.New(), Name: hostName()}
		if err := save(path, d); err != nil {
			return Device{}, err
		}
		return d, nil
	default:
		return Device{}, fmt.Errorf("reading device identity: %w", err)
	}
}

func hostName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown-device"
	}
	return host
}

// save writes the identity atomically. A half-written identity file would
// surface as a parse error on the next run instead of a fresh id.
func save(path string, d Device) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding device identity: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-identity-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing device identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing device identity: %w", err)
	}
	committed = true
	return nil
}
