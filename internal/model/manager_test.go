package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/engine"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFetcher writes valid component artifacts unless told otherwise.
type fakeFetcher struct {
	calls   atomic.Int64
	err     error
	block   chan struct{} // when set, Fetch waits for ctx cancellation
	noFiles bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, desc Descriptor, destRoot string, progress func(float64)) error {
	f.calls.Add(1)
	if f.block != nil {
		if progress != nil {
			progress(0.5)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.block:
		}
	}
	if f.err != nil {
		return f.err
	}
	if f.noFiles {
		return nil
	}
	for _, c := range desc.Components {
		dir := filepath.Join(destRoot, c)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "weights.bin"), []byte("weights"), 0o644); err != nil {
			return err
		}
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// fakeEngine tracks load/unload calls. When gate is set, IsLoaded parks
// until the gate closes, holding callers mid-swap.
type fakeEngine struct {
	mu      sync.Mutex
	loaded  bool
	loadErr error
	unloads int
	gate    chan struct{}
}

func (e *fakeEngine) Load(_ context.Context, _ string) error {
	if e.loadErr != nil {
		return e.loadErr
	}
	e.mu.Lock()
	e.loaded = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Unload() {
	e.mu.Lock()
	e.loaded = false
	e.unloads++
	e.mu.Unlock()
}

func (e *fakeEngine) IsLoaded() bool {
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *fakeEngine) unloadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloads
}

func (e *fakeEngine) Transcribe(_ context.Context, _ []float32) (engine.Result, error) {
	return engine.Result{}, nil
}

// engineQueue hands out engines in order, repeating the last one.
type engineQueue struct {
	mu      sync.Mutex
	engines []*fakeEngine
	idx     int
}

func (q *engineQueue) next() (engine.Engine, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.idx >= len(q.engines) {
		return q.engines[len(q.engines)-1], nil
	}
	e := q.engines[q.idx]
	q.idx++
	return e, nil
}

func managerForTest(t *testing.T, fetcher Fetcher, engines ...*fakeEngine) (*Manager, *FSStorage) {
	t.Helper()
	if len(engines) == 0 {
		engines = []*fakeEngine{{}}
	}
	q := &engineQueue{engines: engines}
	cfg := config.Default().Models
	cfg.Directory = t.TempDir()
	storage := NewFSStorage(cfg.Directory)
	m := NewManager(cfg, storage, fetcher, q.next, nil, newLogger())
	return m, storage
}

func TestDownloadTwiceRunsSingleJob(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	m, _ := managerForTest(t, fetcher)

	ctx := context.Background()
	if err := m.Download(ctx, "tiny-en"); err != nil {
		t.Fatal(err)
	}
	if err := m.Download(ctx, "tiny-en"); err != nil {
		t.Fatal(err)
	}
	if !m.IsDownloading("tiny-en") {
		t.Fatal("expected running job")
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
	m.CancelDownload("tiny-en")
	_ = m.WaitDownload(ctx, "tiny-en")
}

func TestDownloadUnknownModel(t *testing.T) {
	m, _ := managerForTest(t, &fakeFetcher{})
	if err := m.Download(context.Background(), "nope"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func TestDownloadVerifiesAfterCompletion(t *testing.T) {
	// The fetch "succeeds" without writing any component.
	m, _ := managerForTest(t, &fakeFetcher{noFiles: true})
	ctx := context.Background()
	if err := m.Download(ctx, "tiny-en"); err != nil {
		t.Fatal(err)
	}
	err := m.WaitDownload(ctx, "tiny-en")
	var derr *DownloadError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if derr.Reason != ReasonVerificationFailed {
		t.Fatalf("expected verification-failed, got %s", derr.Reason)
	}
	if m.IsDownloaded("tiny-en") {
		t.Fatal("unverified model must not count as downloaded")
	}
}

func TestDownloadClassifiesFailure(t *testing.T) {
	m, _ := managerForTest(t, &fakeFetcher{err: context.DeadlineExceeded})
	ctx := context.Background()
	if err := m.Download(ctx, "tiny-en"); err != nil {
		t.Fatal(err)
	}
	err := m.WaitDownload(ctx, "tiny-en")
	var derr *DownloadError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if derr.Reason != ReasonTimedOut {
		t.Fatalf("expected timed-out, got %s", derr.Reason)
	}
}

func TestCancelDownloadResetsProgress(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	m, _ := managerForTest(t, fetcher)
	ctx := context.Background()
	if err := m.Download(ctx, "tiny-en"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Progress("tiny-en") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for progress")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.CancelDownload("tiny-en")
	if m.Progress("tiny-en") != 0 {
		t.Fatal("cancel must reset progress to 0")
	}
	if m.IsDownloading("tiny-en") {
		t.Fatal("cancel must clear the running flag")
	}
}

func TestDownloadPurgesStalePartial(t *testing.T) {
	m, storage := managerForTest(t, &fakeFetcher{})
	// Leave a partial from a previous attempt.
	desc, _ := ByID("tiny-en")
	dir := filepath.Join(storage.ModelRoot("tiny-en"), "MelSpectrogram")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stale.part"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := m.Download(ctx, "tiny-en"); err != nil {
		t.Fatal(err)
	}
	if err := m.WaitDownload(ctx, "tiny-en"); err != nil {
		t.Fatalf("download: %v", err)
	}
	if err := storage.Verify(desc); err != nil {
		t.Fatalf("expected complete model, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.part")); !os.IsNotExist(err) {
		t.Fatal("expected stale partial purged")
	}
}

func TestActivateDownloadsAndLoads(t *testing.T) {
	eng := &fakeEngine{}
	m, _ := managerForTest(t, &fakeFetcher{}, eng)
	if got := m.Status().State; got != StatusNotDownloaded {
		t.Fatalf("expected not-downloaded before activate, got %s", got)
	}
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := m.Status().State; got != StatusReady {
		t.Fatalf("expected ready, got %s", got)
	}
	if m.ActiveEngine() == nil || !m.ActiveEngine().IsLoaded() {
		t.Fatal("expected loaded active engine")
	}
	if m.SelectedModel() != "tiny-en" {
		t.Fatalf("expected fast model selected, got %s", m.SelectedModel())
	}
}

func TestActivateFailsWhenEngineLoadFails(t *testing.T) {
	eng := &fakeEngine{loadErr: errors.New("compile blew up")}
	m, _ := managerForTest(t, &fakeFetcher{}, eng)
	err := m.Activate(context.Background())
	if !errors.Is(err, ErrEngineLoad) {
		t.Fatalf("expected ErrEngineLoad, got %v", err)
	}
	if got := m.Status().State; got != StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
}

func TestBackgroundUpgradePrewarmsWithoutTouchingActive(t *testing.T) {
	activeEng := &fakeEngine{}
	upgradeEng := &fakeEngine{}
	m, _ := managerForTest(t, &fakeFetcher{}, activeEng, upgradeEng)
	if err := m.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	var notified atomic.Value
	m.SetUpgradeReadyHandler(func(id string) { notified.Store(id) })

	if err := m.StartBackgroundUpgrade(context.Background()); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if id, ok := m.PendingUpgrade(); !ok || id != "small-en" {
		t.Fatalf("expected pending upgrade small-en, got %q %v", id, ok)
	}
	if got := notified.Load(); got != "small-en" {
		t.Fatalf("expected upgrade-ready notification, got %v", got)
	}
	if m.ActiveEngine() != activeEng {
		t.Fatal("prewarm must not touch the serving engine")
	}
	if !upgradeEng.IsLoaded() {
		t.Fatal("expected upgrade engine prewarmed")
	}
	if m.SelectedModel() != "tiny-en" {
		t.Fatal("selection must not change before the swap")
	}
}

func TestUpgradePrewarmFailureIsNonFatal(t *testing.T) {
	activeEng := &fakeEngine{}
	badEng := &fakeEngine{loadErr: errors.New("out of memory")}
	m, _ := managerForTest(t, &fakeFetcher{}, activeEng, badEng)
	if err := m.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := m.StartBackgroundUpgrade(context.Background())
	if !errors.Is(err, ErrUpgradeFailed) {
		t.Fatalf("expected ErrUpgradeFailed, got %v", err)
	}
	if _, ok := m.PendingUpgrade(); ok {
		t.Fatal("failed prewarm must not leave a pending marker")
	}
	if m.ActiveEngine() != activeEng || !activeEng.IsLoaded() {
		t.Fatal("current model must remain active after failed upgrade")
	}
}

func TestPerformUpgradeCommits(t *testing.T) {
	activeEng := &fakeEngine{}
	upgradeEng := &fakeEngine{}
	m, _ := managerForTest(t, &fakeFetcher{}, activeEng, upgradeEng)
	if err := m.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.StartBackgroundUpgrade(context.Background()); err != nil {
		t.Fatal(err)
	}

	var committed atomic.Value
	m.SetSwapCommittedHandler(func(id string) { committed.Store(id) })

	if err := m.PerformUpgrade(context.Background()); err != nil {
		t.Fatalf("perform upgrade: %v", err)
	}
	if m.SelectedModel() != "small-en" {
		t.Fatalf("expected selection updated, got %s", m.SelectedModel())
	}
	if _, ok := m.PendingUpgrade(); ok {
		t.Fatal("pending marker must be cleared on commit")
	}
	if m.ActiveEngine() != upgradeEng {
		t.Fatal("expected prewarmed engine promoted to active")
	}
	if activeEng.IsLoaded() {
		t.Fatal("expected previous engine unloaded")
	}
	if committed.Load() != "small-en" {
		t.Fatal("expected swap-committed callback")
	}
}

func TestPerformUpgradeConcurrentCommitsOnce(t *testing.T) {
	activeEng := &fakeEngine{}
	upgradeEng := &fakeEngine{}
	m, _ := managerForTest(t, &fakeFetcher{}, activeEng, upgradeEng)
	if err := m.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.StartBackgroundUpgrade(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Hold the winning caller mid-swap so a second call arrives while the
	// first is still committing.
	gate := make(chan struct{})
	upgradeEng.mu.Lock()
	upgradeEng.gate = gate
	upgradeEng.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.PerformUpgrade(context.Background()); err != nil {
				t.Errorf("perform upgrade: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if m.ActiveEngine() != upgradeEng {
		t.Fatal("expected prewarmed engine promoted to active")
	}
	if !upgradeEng.IsLoaded() {
		t.Fatal("serving engine must stay loaded after concurrent swap attempts")
	}
	if got := upgradeEng.unloadCount(); got != 0 {
		t.Fatalf("serving engine unloaded %d times by a duplicate swap", got)
	}
	if got := activeEng.unloadCount(); got != 1 {
		t.Fatalf("previous engine unloaded %d times, want 1", got)
	}
}

func TestPerformUpgradeNoopWithoutPending(t *testing.T) {
	m, _ := managerForTest(t, &fakeFetcher{})
	if err := m.PerformUpgrade(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestDeleteModel(t *testing.T) {
	m, storage := managerForTest(t, &fakeFetcher{})
	desc, _ := ByID("tiny-en")
	writeCompleteModel(t, storage, desc)
	if !m.IsDownloaded("tiny-en") {
		t.Fatal("expected model downloaded")
	}
	if err := m.DeleteModel("tiny-en"); err != nil {
		t.Fatal(err)
	}
	if m.IsDownloaded("tiny-en") {
		t.Fatal("expected model removed")
	}
}
