package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrNoAudio is returned by Stop when nothing was captured.
var ErrNoAudio = errors.New("no audio captured")

// ErrNotRecording is returned by Stop without a matching Start.
var ErrNotRecording = errors.New("source is not recording")

// Source is the audio capture collaborator. Hardware capture lives outside
// this module; implementations here buffer samples pushed in from elsewhere.
type Source interface {
	// Start begins buffering samples, discarding any previous buffer.
	Start() error
	// Stop ends buffering and returns the captured samples.
	Stop() ([]float32, error)
}

// Duration converts a sample count to wall time for mono audio.
func Duration(sampleCount, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(sampleCount) / float64(sampleRate) * float64(time.Second))
}

// MemorySource buffers samples appended by an external capture layer.
type MemorySource struct {
	mu        sync.Mutex
	recording bool
	buf       []float32
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (s *MemorySource) Start() error {
	s.mu.Lock()
	s.recording = true
	s.buf = s.buf[:0]
	s.mu.Unlock()
	return nil
}

// Append adds captured samples. Samples arriving while not recording are
// dropped.
func (s *MemorySource) Append(samples []float32) {
	s.mu.Lock()
	if s.recording {
		s.buf = append(s.buf, samples...)
	}
	s.mu.Unlock()
}

func (s *MemorySource) Stop() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return nil, ErrNotRecording
	}
	s.recording = false
	if len(s.buf) == 0 {
		return nil, ErrNoAudio
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	s.buf = s.buf[:0]
	return out, nil
}
