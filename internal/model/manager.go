package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status reflects readiness of the currently selected model.
type Status int

const (
	StatusNotDownloaded Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotDownloaded:
		return "not-downloaded"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusInfo carries the status plus a failure reason when applicable.
type StatusInfo struct {
	State  Status
	Reason string
}

// Publisher is the slice of the bus client the manager needs.
type Publisher interface {
	PublishJSON(subject string, payload any)
}

type downloadJob struct {
	cancel   context.CancelFunc
	progress float64
	running  bool
	done     chan struct{}
	err      error
}

// Manager owns model downloads, verification, the active inference engine,
// and background upgrades. All background work reports back through
// channels, callbacks, and the bus; nothing here blocks the coordinator.
type Manager struct {
	cfg       config.ModelsConfig
	storage   Storage
	fetcher   Fetcher
	engineNew func() (engine.Engine, error)
	pub       Publisher
	log       *slog.Logger

	mu             sync.Mutex
	jobs           map[string]*downloadJob
	selected       string
	status         StatusInfo
	active         engine.Engine
	prewarmed      engine.Engine
	pendingUpgrade string

	// swapGuard only detects re-entrant performUpgrade calls; it is released
	// as soon as the swap begins so a new recording is never blocked on it.
	swapGuard atomic.Bool

	onUpgradeReady  func(modelID string)
	onSwapCommitted func(modelID string)

	downloads metric.Int64Counter
}

func NewManager(cfg config.ModelsConfig, storage Storage, fetcher Fetcher, engineNew func() (engine.Engine, error), pub Publisher, log *slog.Logger) *Manager {
	selected := cfg.Selected
	if selected == "" {
		selected = cfg.FastModel
	}
	meter := otel.GetMeterProvider().Meter("scribe.model")
	counter, err := meter.Int64Counter("scribe.model.downloads",
		metric.WithDescription("Model download attempts by outcome"))
	if err != nil {
		counter = nil
	}
	return &Manager{
		cfg:       cfg,
		storage:   storage,
		fetcher:   fetcher,
		engineNew: engineNew,
		pub:       pub,
		log:       log.With(slog.String("component", "model-manager")),
		jobs:      make(map[string]*downloadJob),
		selected:  selected,
		status:    StatusInfo{State: StatusNotDownloaded},
		downloads: counter,
	}
}

// SetUpgradeReadyHandler registers the coordinator's notification hook.
func (m *Manager) SetUpgradeReadyHandler(fn func(modelID string)) {
	m.mu.Lock()
	m.onUpgradeReady = fn
	m.mu.Unlock()
}

// SetSwapCommittedHandler registers the hook run after a successful swap
// (the coordinator resets performance tracking there).
func (m *Manager) SetSwapCommittedHandler(fn func(modelID string)) {
	m.mu.Lock()
	m.onSwapCommitted = fn
	m.mu.Unlock()
}

func (m *Manager) SelectedModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *Manager) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(info StatusInfo) {
	m.mu.Lock()
	m.status = info
	m.mu.Unlock()
}

// ActiveEngine returns the serving engine, nil until Activate succeeds.
func (m *Manager) ActiveEngine() engine.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsDownloaded reports whether the model passes the completeness check.
// A top-level manifest alone never counts.
func (m *Manager) IsDownloaded(id string) bool {
	desc, err := ByID(id)
	if err != nil {
		return false
	}
	return m.storage.Verify(desc) == nil
}

// Download starts a cancellable background download. A second call for a
// model that is already downloading is a no-op.
func (m *Manager) Download(ctx context.Context, id string) error {
	desc, err := ByID(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if job, ok := m.jobs[id]; ok && job.running {
		m.mu.Unlock()
		return nil
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job := &downloadJob{
		cancel:  cancel,
		running: true,
		done:    make(chan struct{}),
	}
	m.jobs[id] = job
	m.mu.Unlock()

	// Stale partial downloads are purged before any bytes move.
	if err := m.storage.Purge(desc); err != nil {
		m.finishJob(id, job, fmt.Errorf("purge partial download: %w", err))
		cancel()
		return nil
	}

	go m.runDownload(jobCtx, desc, job)
	return nil
}

func (m *Manager) runDownload(ctx context.Context, desc Descriptor, job *downloadJob) {
	err := m.fetcher.Fetch(ctx, desc, m.storage.ModelRoot(desc.ID), func(frac float64) {
		m.mu.Lock()
		job.progress = frac
		m.mu.Unlock()
		m.publishProgress(desc.ID, frac, false, "")
	})

	if err == nil {
		// A download that "finishes" must still pass verification.
		if verr := m.storage.Verify(desc); verr != nil {
			err = &DownloadError{
				ModelID: desc.ID,
				Reason:  ReasonVerificationFailed,
				Cause:   &VerificationError{ModelID: desc.ID, Cause: verr},
			}
		}
	} else if errors.Is(err, context.Canceled) {
		// Cancellation already reset the job state; partial files stay.
		m.mu.Lock()
		job.err = err
		m.mu.Unlock()
		close(job.done)
		m.countDownload(desc.ID, "canceled")
		return
	} else {
		err = &DownloadError{ModelID: desc.ID, Reason: ClassifyDownloadError(err), Cause: err}
	}

	m.finishJob(desc.ID, job, err)
}

func (m *Manager) finishJob(id string, job *downloadJob, err error) {
	m.mu.Lock()
	job.running = false
	job.err = err
	if err == nil {
		job.progress = 1
	}
	m.mu.Unlock()
	close(job.done)

	if err != nil {
		m.log.Warn("model download failed", slog.String("model", id), slog.String("error", err.Error()))
		m.publishProgress(id, 0, true, err.Error())
		m.countDownload(id, "failed")
		return
	}
	m.log.Info("model download complete", slog.String("model", id))
	m.publishProgress(id, 1, true, "")
	m.countDownload(id, "ok")
}

func (m *Manager) countDownload(id, outcome string) {
	if m.downloads != nil {
		m.downloads.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("model", id), attribute.String("outcome", outcome)))
	}
}

func (m *Manager) publishProgress(id string, frac float64, done bool, errMsg string) {
	if m.pub == nil {
		return
	}
	m.pub.PublishJSON(protocol.SubjectDownloadProgress, protocol.DownloadProgress{
		ModelID:   id,
		Progress:  frac,
		Done:      done,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
}

// CancelDownload cancels the job and resets progress. Partially written
// files are kept; the next Download purges them.
func (m *Manager) CancelDownload(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		job.cancel()
		job.progress = 0
		job.running = false
	}
	m.mu.Unlock()
}

// Progress reports the job's fraction in [0,1], 0 when no job exists.
func (m *Manager) Progress(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.progress
	}
	return 0
}

// IsDownloading reports whether a job is currently running for the model.
func (m *Manager) IsDownloading(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return ok && job.running
}

// WaitDownload blocks until the model's job resolves or ctx expires.
func (m *Manager) WaitDownload(ctx context.Context, id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no download in progress for %s", id)
	}
	select {
	case <-job.done:
		m.mu.Lock()
		err := job.err
		m.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteModel removes on-disk artifacts, failing loudly when blocked.
func (m *Manager) DeleteModel(id string) error {
	desc, err := ByID(id)
	if err != nil {
		return err
	}
	m.CancelDownload(id)
	return m.storage.Delete(desc)
}

// DeleteAllModels aggregates per-model failures.
func (m *Manager) DeleteAllModels() error {
	var errs []error
	for _, desc := range Catalog() {
		if err := m.DeleteModel(desc.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Activate makes the selected model servable: download it if missing, then
// load it into the active engine. Blocking; run it off the event loop.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	selected := m.selected
	m.mu.Unlock()

	desc, err := ByID(selected)
	if err != nil {
		m.setStatus(StatusInfo{State: StatusFailed, Reason: err.Error()})
		return err
	}

	m.setStatus(StatusInfo{State: StatusLoading})

	if m.storage.Verify(desc) != nil {
		if err := m.Download(ctx, selected); err != nil {
			m.setStatus(StatusInfo{State: StatusFailed, Reason: err.Error()})
			return err
		}
		if err := m.WaitDownload(ctx, selected); err != nil {
			m.setStatus(StatusInfo{State: StatusFailed, Reason: err.Error()})
			return err
		}
	}

	eng, err := m.loadEngine(ctx, desc)
	if err != nil {
		m.setStatus(StatusInfo{State: StatusFailed, Reason: err.Error()})
		return err
	}

	m.mu.Lock()
	old := m.active
	m.active = eng
	m.status = StatusInfo{State: StatusReady}
	m.mu.Unlock()
	if old != nil {
		old.Unload()
	}
	m.log.Info("model activated", slog.String("model", selected))
	return nil
}

// loadEngine loads desc into a fresh engine instance, bounded by the
// configured load timeout. First-time compiles can take minutes.
func (m *Manager) loadEngine(ctx context.Context, desc Descriptor) (engine.Engine, error) {
	eng, err := m.engineNew()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineLoad, err)
	}
	loadCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.LoadTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := eng.Load(loadCtx, m.storage.ModelRoot(desc.ID)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineLoad, err)
	}
	return eng, nil
}

// StartBackgroundUpgrade downloads (if needed) and prewarms the quality
// model in an isolated engine instance, then marks the upgrade pending.
// Failure is never fatal: the current model stays in place.
func (m *Manager) StartBackgroundUpgrade(ctx context.Context) error {
	target := m.cfg.QualityModel
	m.mu.Lock()
	selected := m.selected
	pending := m.pendingUpgrade
	m.mu.Unlock()
	if target == "" || target == selected || pending == target {
		return nil
	}

	desc, err := ByID(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	if m.storage.Verify(desc) != nil {
		if err := m.Download(ctx, target); err != nil {
			return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
		}
		if err := m.WaitDownload(ctx, target); err != nil {
			return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
		}
	}

	// Prewarm into a separate instance; the serving engine is untouched.
	eng, err := m.loadEngine(ctx, desc)
	if err != nil {
		m.log.Warn("upgrade prewarm failed, keeping current model",
			slog.String("model", target), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	m.mu.Lock()
	m.prewarmed = eng
	m.pendingUpgrade = target
	notify := m.onUpgradeReady
	m.mu.Unlock()

	m.log.Info("upgrade prewarmed, waiting for idle window", slog.String("model", target))
	if m.pub != nil {
		m.pub.PublishJSON(protocol.SubjectUpgradeReady, protocol.UpgradeReady{
			ModelID:   target,
			Timestamp: time.Now().UTC(),
		})
	}
	if notify != nil {
		notify(target)
	}
	return nil
}

// PendingUpgrade reports the marker set by a successful prewarm.
func (m *Manager) PendingUpgrade() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingUpgrade, m.pendingUpgrade != ""
}

// SwapInFlight reports whether a performUpgrade call is in its guard window.
func (m *Manager) SwapInFlight() bool {
	return m.swapGuard.Load()
}

// PerformUpgrade commits a pending upgrade. Invoked by the coordinator only
// when idle. If the guard is already held the call is a no-op. The pending
// marker and the prewarmed engine are claimed under the lock while the guard
// is held, so a concurrent call observes an empty marker and backs off; the
// guard is then released as soon as the swap begins, and the brief window
// while the new model becomes the serving one is accepted.
func (m *Manager) PerformUpgrade(ctx context.Context) error {
	if !m.swapGuard.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	target := m.pendingUpgrade
	prewarmed := m.prewarmed
	m.pendingUpgrade = ""
	m.prewarmed = nil
	m.mu.Unlock()
	if target == "" {
		m.swapGuard.Store(false)
		return nil
	}

	m.swapGuard.Store(false)

	newEng := prewarmed
	if newEng == nil || !newEng.IsLoaded() {
		desc, err := ByID(target)
		if err != nil {
			m.dropClaimed(prewarmed)
			return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
		}
		newEng, err = m.loadEngine(ctx, desc)
		if err != nil {
			// Previous model stays active; the failed upgrade is dropped.
			m.dropClaimed(prewarmed)
			return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
		}
	}

	m.mu.Lock()
	old := m.active
	m.active = newEng
	m.selected = target
	m.status = StatusInfo{State: StatusReady}
	committed := m.onSwapCommitted
	m.mu.Unlock()

	if old != nil {
		old.Unload()
	}
	m.log.Info("model upgrade committed", slog.String("model", target))
	if committed != nil {
		committed(target)
	}
	return nil
}

// dropClaimed releases a claimed prewarmed engine after a failed swap.
func (m *Manager) dropClaimed(prewarmed engine.Engine) {
	if prewarmed != nil {
		prewarmed.Unload()
	}
}
