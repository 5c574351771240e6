package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ThermalState mirrors the platform thermal pressure levels.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ThermalReader supplies the current thermal state. Platform sensing is an
// external concern; the default reader always reports nominal.
type ThermalReader interface {
	State() ThermalState
}

type nominalReader struct{}

func (nominalReader) State() ThermalState { return ThermalNominal }

// NominalThermalReader returns a reader that always reports nominal.
func NominalThermalReader() ThermalReader { return nominalReader{} }

// Sample is one inference speed measurement.
type Sample struct {
	RTF       float64
	Thermal   ThermalState
	Timestamp time.Time
}

// Monitor keeps a bounded rolling window of real-time-factor samples and
// advises when the active model is too slow for the hardware.
type Monitor struct {
	cfg     config.PerformanceConfig
	mu      sync.Mutex
	samples []Sample
	clock   func() time.Time
	rtfHist metric.Float64Histogram
}

func NewMonitor(cfg config.PerformanceConfig) *Monitor {
	meter := otel.GetMeterProvider().Meter("scribe.perf")
	hist, err := meter.Float64Histogram("scribe.transcription.rtf",
		metric.WithDescription("Processing time divided by audio duration"))
	if err != nil {
		hist = nil
	}
	return &Monitor{
		cfg:     cfg,
		clock:   time.Now,
		rtfHist: hist,
	}
}

// Record appends a sample, evicting the oldest once the window is full, and
// returns a user-facing suggestion when this sample indicates trouble.
func (m *Monitor) Record(rtf float64, thermal ThermalState) (string, bool) {
	m.mu.Lock()
	m.samples = append(m.samples, Sample{RTF: rtf, Thermal: thermal, Timestamp: m.clock()})
	if len(m.samples) > m.cfg.WindowSize {
		m.samples = m.samples[len(m.samples)-m.cfg.WindowSize:]
	}
	m.mu.Unlock()

	if m.rtfHist != nil {
		m.rtfHist.Record(context.Background(), rtf)
	}

	switch {
	case thermal == ThermalCritical:
		return "device is critically hot; pause dictation to let it cool down", true
	case rtf > m.cfg.SuggestionRTF:
		return fmt.Sprintf("transcription is running %.1fx slower than real time; consider a smaller model", rtf), true
	case thermal == ThermalSerious && rtf > m.cfg.ThermalSuggestRTF:
		return "device is running hot and transcription is slower than real time; consider a smaller model or a cooldown", true
	}
	return "", false
}

// AverageRTF is the mean over the current window, 0 when empty.
func (m *Monitor) AverageRTF() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s.RTF
	}
	return sum / float64(len(m.samples))
}

// IsStruggling reports sustained slowness or thermal pressure.
func (m *Monitor) IsStruggling() bool {
	m.mu.Lock()
	var latest ThermalState
	if n := len(m.samples); n > 0 {
		latest = m.samples[n-1].Thermal
	}
	m.mu.Unlock()
	if latest == ThermalSerious || latest == ThermalCritical {
		return true
	}
	avg := m.AverageRTF()
	return avg > m.cfg.StruggleRTF
}

// Reset clears the window. Called when the active model changes so old
// samples do not misattribute performance.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.samples = nil
	m.mu.Unlock()
}

// SampleCount returns how many samples the window currently holds.
func (m *Monitor) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}
