package engine

import (
	"context"
	"fmt"
	"sync"
)

// mockEngine fabricates transcripts; used when no real backend is configured.
type mockEngine struct {
	mu     sync.Mutex
	loaded bool
}

// NewMockEngine returns an engine that echoes sample counts as text.
func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Load(_ context.Context, _ string) error {
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

func (m *mockEngine) Unload() {
	m.mu.Lock()
	m.loaded = false
	m.mu.Unlock()
}

func (m *mockEngine) IsLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *mockEngine) Transcribe(_ context.Context, samples []float32) (Result, error) {
	if !m.IsLoaded() {
		return Result{}, ErrNotLoaded
	}
	text := fmt.Sprintf("mock transcript of %d samples", len(samples))
	return Result{
		Text:     text,
		Segments: []Segment{{Text: text, Start: 0, End: 1}},
		Language: "en",
		Duration: 1,
	}, nil
}
