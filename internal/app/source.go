package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JunerLee/new-tab/internal/engine"
)

// FileSource reads and writes the new-tab state document: a JSON object
// carrying settings, quickLaunch and customSearchEngines at the top level.
// The new-tab application maintains this file; sync rounds read it as the
// local side and write it back when the resolved snapshot differs.
type FileSource struct {
	path string
}

var _ engine.Source = (*FileSource)(nil)

// NewFileSource creates a FileSource for the state document at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Current reads the state document. A missing document is reported as
// not-found so the caller can distinguish "nothing to sync yet" from a
// broken file.
func (s *FileSource) Current(_ context.Context) (*engine.Payload, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewError(engine.KindNotFound, fmt.Sprintf("no state document at %s", s.path), err)
		}
		return nil, fmt.Errorf("reading state document: %w", err)
	}

	var p engine.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, engine.NewError(engine.KindSerialization, "parsing state document", err)
	}
	return &p, nil
}

// Store writes the payload back to the state document atomically.
func (s *FileSource) Store(p *engine.Payload) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-state-*")
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
		return fmt.Errorf("writing state document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("committing state document: %w", err)
	}
	committed = true
	return nil
}
