package audio

import (
	"testing"
	"time"
)

func TestMemorySourceRoundTrip(t *testing.T) {
	s := NewMemorySource()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Append([]float32{0.1, 0.2})
	s.Append([]float32{0.3})
	samples, err := s.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
}

func TestStopWithoutAudio(t *testing.T) {
	s := NewMemorySource()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Stop(); err != ErrNoAudio {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := NewMemorySource()
	if _, err := s.Stop(); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestStartDiscardsPreviousBuffer(t *testing.T) {
	s := NewMemorySource()
	_ = s.Start()
	s.Append([]float32{0.5})
	_ = s.Start()
	if _, err := s.Stop(); err != ErrNoAudio {
		t.Fatalf("expected empty buffer after restart, got %v", err)
	}
}

func TestAppendWhileStoppedDropped(t *testing.T) {
	s := NewMemorySource()
	s.Append([]float32{0.5})
	_ = s.Start()
	if _, err := s.Stop(); err != ErrNoAudio {
		t.Fatalf("expected dropped samples, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(8000, 16000); d != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", d)
	}
	if d := Duration(100, 0); d != 0 {
		t.Fatalf("expected 0 for invalid rate, got %v", d)
	}
}
