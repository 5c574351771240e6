package perf

import (
	"testing"

	"github.com/scribelabs/scribe-core/internal/config"
)

func newMonitor() *Monitor {
	return NewMonitor(config.Default().Performance)
}

func TestWindowBounded(t *testing.T) {
	m := newMonitor()
	for i := 0; i < 12; i++ {
		m.Record(1.0, ThermalNominal)
	}
	if got := m.SampleCount(); got != 5 {
		t.Fatalf("expected window of 5 samples, got %d", got)
	}
}

func TestAverageRTF(t *testing.T) {
	m := newMonitor()
	if avg := m.AverageRTF(); avg != 0 {
		t.Fatalf("expected 0 average on empty window, got %v", avg)
	}
	m.Record(1.0, ThermalNominal)
	m.Record(2.0, ThermalNominal)
	if avg := m.AverageRTF(); avg != 1.5 {
		t.Fatalf("expected average 1.5, got %v", avg)
	}
	// Old samples fall out of the window.
	for i := 0; i < 5; i++ {
		m.Record(0.5, ThermalNominal)
	}
	if avg := m.AverageRTF(); avg != 0.5 {
		t.Fatalf("expected average 0.5 after eviction, got %v", avg)
	}
}

func TestIsStruggling(t *testing.T) {
	m := newMonitor()
	m.Record(1.0, ThermalNominal)
	if m.IsStruggling() {
		t.Fatal("nominal load should not struggle")
	}
	m.Record(3.0, ThermalNominal)
	m.Record(3.0, ThermalNominal)
	if !m.IsStruggling() {
		t.Fatalf("average %v should struggle", m.AverageRTF())
	}

	m.Reset()
	m.Record(0.5, ThermalSerious)
	if !m.IsStruggling() {
		t.Fatal("serious thermal state should struggle regardless of speed")
	}
}

func TestSuggestions(t *testing.T) {
	m := newMonitor()

	if _, ok := m.Record(1.2, ThermalNominal); ok {
		t.Fatal("mildly slow nominal sample should not suggest")
	}
	if _, ok := m.Record(2.5, ThermalNominal); !ok {
		t.Fatal("rtf above 2.0 should suggest a smaller model")
	}
	if _, ok := m.Record(0.4, ThermalCritical); !ok {
		t.Fatal("critical thermal state should always suggest")
	}
	if _, ok := m.Record(1.2, ThermalSerious); !ok {
		t.Fatal("serious thermal state with rtf above 1.0 should suggest")
	}
	if _, ok := m.Record(0.8, ThermalSerious); ok {
		t.Fatal("serious thermal state with fast rtf should not suggest")
	}
}

func TestResetClearsWindow(t *testing.T) {
	m := newMonitor()
	m.Record(2.0, ThermalNominal)
	m.Reset()
	if m.SampleCount() != 0 {
		t.Fatal("expected empty window after reset")
	}
	if m.AverageRTF() != 0 {
		t.Fatal("expected zero average after reset")
	}
}
