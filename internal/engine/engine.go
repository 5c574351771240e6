package engine

import (
	"context"
	"errors"
)

// Token is a scored sub-word unit inside a segment.
type Token struct {
	Text        string  `json:"text"`
	Probability float64 `json:"probability"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

// Segment is a timed span of recognized speech. Immutable once produced.
type Segment struct {
	Text   string  `json:"text"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Tokens []Token `json:"tokens,omitempty"`
}

// Result is the raw output of one inference pass.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
}

// ErrNotLoaded is returned when Transcribe is called before Load.
var ErrNotLoaded = errors.New("engine: no model loaded")

// Engine abstracts the on-device inference backend. Load can take minutes on
// first use of a model (compilation); callers must not hold the coordinator's
// event loop while it runs.
type Engine interface {
	Load(ctx context.Context, modelPath string) error
	Unload()
	IsLoaded() bool
	Transcribe(ctx context.Context, samples []float32) (Result, error)
}
