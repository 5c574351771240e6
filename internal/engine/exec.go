package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/scribelabs/scribe-core/internal/config"
)

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execProcessRunner struct{}

func (execProcessRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// execEngine shells out to an external speech-to-text binary per request,
// handing audio over as a temporary WAV file.
type execEngine struct {
	cmd       []string
	cfg       config.TranscriptionConfig
	runner    commandRunner
	mu        sync.Mutex
	modelPath string
	loaded    bool
}

// NewExecEngine builds an engine from the configured command line.
func NewExecEngine(cfg config.TranscriptionConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg, runner: execProcessRunner{}}, nil
}

func (e *execEngine) Load(_ context.Context, modelPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("engine load: %w", err)
	}
	e.mu.Lock()
	e.modelPath = modelPath
	e.loaded = true
	e.mu.Unlock()
	return nil
}

func (e *execEngine) Unload() {
	e.mu.Lock()
	e.modelPath = ""
	e.loaded = false
	e.mu.Unlock()
}

func (e *execEngine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *execEngine) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	e.mu.Lock()
	modelPath := e.modelPath
	loaded := e.loaded
	e.mu.Unlock()
	if !loaded {
		return Result{}, ErrNotLoaded
	}

	file, err := os.CreateTemp(os.TempDir(), "scribe_audio_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeSamplesToWav(file, samples, e.cfg.SampleRate, e.cfg.Channels); err != nil {
		return Result{}, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name(), "--model", modelPath, "--output-json")
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}

	out, err := e.runner.Run(ctx, e.cmd[0], args...)
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal(out, &result); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	if result.Duration == 0 {
		result.Duration = float64(len(samples)) / float64(e.cfg.SampleRate*maxInt(e.cfg.Channels, 1))
	}
	return result, nil
}

func writeSamplesToWav(file *os.File, samples []float32, sampleRate, channels int) error {
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
