package testutil

import (
	"context"
	"sync"

	"github.com/JunerLee/new-tab/internal/engine"
)

// FakeSource serves a fixed payload as the local state document.
type FakeSource struct {
	mu      sync.Mutex
	payload *engine.Payload
	err     error
}

var _ engine.Source = (*FakeSource)(nil)

// NewFakeSource creates a FakeSource serving p.
func NewFakeSource(p *engine.Payload) *FakeSource {
	return &FakeSource{payload: p}
}

func (s *FakeSource) Current(_ context.Context) (*engine.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

// SetPayload replaces the served payload.
func (s *FakeSource) SetPayload(p *engine.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = p
}

// SetErr makes subsequent reads fail with err.
func (s *FakeSource) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
