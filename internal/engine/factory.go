package engine

import (
	"fmt"

	"github.com/scribelabs/scribe-core/internal/config"
)

// New selects an engine implementation from config. Factory lives here so
// the composition root stays free of mode switches.
func New(cfg config.TranscriptionConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Mode)
	}
}
