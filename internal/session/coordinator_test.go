package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/model"
	"github.com/scribelabs/scribe-core/internal/perf"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	result  engine.Result
	err     error
	block   chan struct{} // when non-nil, Transcribe waits on it
	started chan struct{} // closed on first Transcribe entry
}

func (f *fakeEngine) Load(ctx context.Context, modelPath string) error { return nil }
func (f *fakeEngine) Unload()                                          {}
func (f *fakeEngine) IsLoaded() bool                                   { return true }

func (f *fakeEngine) Transcribe(ctx context.Context, samples []float32) (engine.Result, error) {
	f.mu.Lock()
	f.calls++
	if f.calls == 1 && f.started != nil {
		close(f.started)
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.result, f.err
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeModels struct {
	mu       sync.Mutex
	status   model.StatusInfo
	eng      engine.Engine
	pending  bool
	swapping bool
	upgraded chan struct{}
}

func (f *fakeModels) Status() model.StatusInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeModels) setStatus(s model.StatusInfo) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeModels) ActiveEngine() engine.Engine { return f.eng }
func (f *fakeModels) SelectedModel() string       { return "tiny-en" }

func (f *fakeModels) SwapInFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swapping
}

func (f *fakeModels) PendingUpgrade() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return "small-en", true
	}
	return "", false
}

func (f *fakeModels) PerformUpgrade(ctx context.Context) error {
	f.mu.Lock()
	f.pending = false
	ch := f.upgraded
	f.mu.Unlock()
	if ch != nil {
		ch <- struct{}{}
	}
	return nil
}

type notice struct {
	severity, code, message string
}

type fakeSink struct {
	delivered chan string
	notices   chan notice
}

func newFakeSink() *fakeSink {
	return &fakeSink{delivered: make(chan string, 8), notices: make(chan notice, 8)}
}

func (f *fakeSink) Deliver(ctx context.Context, text string) error {
	f.delivered <- text
	return nil
}

func (f *fakeSink) Notify(severity, code, message string) {
	f.notices <- notice{severity, code, message}
}

type coordFixture struct {
	coord  *Coordinator
	source *audio.MemorySource
	models *fakeModels
	sink   *fakeSink
	cancel context.CancelFunc
}

func newCoordFixture(t *testing.T, eng *fakeEngine) *coordFixture {
	t.Helper()
	cfg := config.Default()
	models := &fakeModels{status: model.StatusInfo{State: model.StatusReady}, eng: eng}
	source := audio.NewMemorySource()
	sink := newFakeSink()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	monitor := perf.NewMonitor(cfg.Performance)
	coord := NewCoordinator(cfg, source, models, monitor, perf.NominalThermalReader(), sink, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(cancel)
	return &coordFixture{coord: coord, source: source, models: models, sink: sink, cancel: cancel}
}

func waitForState(t *testing.T, f *coordFixture, name string) State {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-f.coord.States():
			if s.Name() == name {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", name)
		}
	}
}

// samples produces count samples of non-silent audio.
func samples(count int) []float32 {
	out := make([]float32, count)
	for i := range out {
		out[i] = 0.25
	}
	return out
}

func TestShortRecordingSkipsInference(t *testing.T) {
	eng := &fakeEngine{}
	f := newCoordFixture(t, eng)

	f.coord.Toggle()
	waitForState(t, f, "recording")
	// 0.3s at 16kHz, below the 500ms minimum.
	f.source.Append(samples(4800))
	f.coord.Toggle()
	waitForState(t, f, "idle")

	if eng.callCount() != 0 {
		t.Fatalf("engine invoked %d times for sub-minimum recording", eng.callCount())
	}
}

func TestRecordProcessDeliver(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{
		Text: "hello world",
		Segments: []engine.Segment{
			{Text: "hello", Start: 0, End: 0.4},
			{Text: "world", Start: 0.6, End: 1.0},
		},
	}}
	f := newCoordFixture(t, eng)

	f.coord.Toggle()
	waitForState(t, f, "recording")
	f.source.Append(samples(16000))
	f.coord.Toggle()
	waitForState(t, f, "processing")

	select {
	case got := <-f.sink.delivered:
		if got != "Hello world." {
			t.Fatalf("delivered %q, want %q", got, "Hello world.")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("text was never delivered")
	}
	waitForState(t, f, "idle")
}

func TestToggleWhileProcessingIsNoOp(t *testing.T) {
	eng := &fakeEngine{
		result:  engine.Result{Text: "hello"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	f := newCoordFixture(t, eng)

	f.coord.Toggle()
	waitForState(t, f, "recording")
	f.source.Append(samples(16000))
	f.coord.Toggle()
	waitForState(t, f, "processing")
	<-eng.started

	// Extra toggles while inference runs must not restart recording.
	f.coord.Toggle()
	f.coord.Toggle()
	close(eng.block)

	waitForState(t, f, "idle")
	if eng.callCount() != 1 {
		t.Fatalf("engine invoked %d times, want 1", eng.callCount())
	}
}

func TestCancelDuringProcessingSuppressesDelivery(t *testing.T) {
	eng := &fakeEngine{
		result:  engine.Result{Text: "hello"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	f := newCoordFixture(t, eng)

	f.coord.Toggle()
	waitForState(t, f, "recording")
	f.source.Append(samples(16000))
	f.coord.Toggle()
	waitForState(t, f, "processing")
	<-eng.started

	f.coord.Cancel()
	waitForState(t, f, "idle")
	close(eng.block)

	select {
	case got := <-f.sink.delivered:
		t.Fatalf("canceled session still delivered %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCancelDuringRecordingDiscardsAudio(t *testing.T) {
	eng := &fakeEngine{}
	f := newCoordFixture(t, eng)

	f.coord.Toggle()
	waitForState(t, f, "recording")
	f.source.Append(samples(16000))
	f.coord.Cancel()
	waitForState(t, f, "idle")

	if eng.callCount() != 0 {
		t.Fatal("canceled recording still reached the engine")
	}
}

func TestUpgradeDeferredUntilIdle(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{Text: "hello"}}
	f := newCoordFixture(t, eng)
	f.models.mu.Lock()
	f.models.upgraded = make(chan struct{}, 1)
	f.models.mu.Unlock()

	f.coord.Toggle()
	waitForState(t, f, "recording")

	f.models.mu.Lock()
	f.models.pending = true
	f.models.mu.Unlock()
	f.coord.NotifyUpgradeReady()

	select {
	case <-f.models.upgraded:
		t.Fatal("upgrade applied while recording")
	case <-time.After(200 * time.Millisecond):
	}

	f.source.Append(samples(16000))
	f.coord.Toggle()
	<-f.sink.delivered
	waitForState(t, f, "idle")

	select {
	case <-f.models.upgraded:
	case <-time.After(3 * time.Second):
		t.Fatal("upgrade never applied after returning to idle")
	}
}

func TestNoAudioNotifiesAndReturnsIdle(t *testing.T) {
	f := newCoordFixture(t, &fakeEngine{})

	f.coord.Toggle()
	waitForState(t, f, "recording")
	f.coord.Toggle() // nothing appended
	waitForState(t, f, "idle")

	select {
	case n := <-f.sink.notices:
		if n.code != "no-audio" {
			t.Fatalf("notice code = %q, want no-audio", n.code)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a no-audio notice")
	}
}

func TestToggleWithoutModelFails(t *testing.T) {
	f := newCoordFixture(t, &fakeEngine{})
	f.models.setStatus(model.StatusInfo{State: model.StatusNotDownloaded})

	f.coord.Toggle()
	waitForState(t, f, "error")
	waitForState(t, f, "idle")
}

func TestToggleWaitsForLoadingModel(t *testing.T) {
	f := newCoordFixture(t, &fakeEngine{})
	f.models.setStatus(model.StatusInfo{State: model.StatusLoading})

	f.coord.Toggle()
	waitForState(t, f, "loading-model")

	f.models.setStatus(model.StatusInfo{State: model.StatusReady})
	waitForState(t, f, "recording")
}
