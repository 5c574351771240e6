package runtime

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/model"
	"github.com/scribelabs/scribe-core/internal/natsserver"
	"github.com/scribelabs/scribe-core/internal/perf"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/session"
)

// Runtime is the composition root: it owns the bus, the model manager, the
// history store, and the coordinator, and tears them down in order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *history.Store
	coordinator *session.Coordinator
	telemetry   *telemetry
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := newTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if r.cfg.Bus.Embedded {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.natsServer = srv
	}

	r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.store, err = history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	storage := model.NewFSStorage(r.cfg.Models.Directory)
	fetcher := model.NewHTTPFetcher(r.cfg.Models.DownloadBaseURL)
	engineNew := func() (engine.Engine, error) { return engine.New(r.cfg.Transcription) }
	manager := model.NewManager(r.cfg.Models, storage, fetcher, engineNew, r.busClient, r.logger)

	monitor := perf.NewMonitor(r.cfg.Performance)
	source := audio.NewMemorySource()
	sink := &busSink{pub: r.busClient, log: r.logger}
	r.coordinator = session.NewCoordinator(
		r.cfg, source, manager, monitor, perf.NominalThermalReader(),
		sink, r.store, r.busClient, r.logger)

	manager.SetUpgradeReadyHandler(func(string) { r.coordinator.NotifyUpgradeReady() })
	manager.SetSwapCommittedHandler(func(modelID string) {
		monitor.Reset()
		r.logger.Info("active model swapped", slog.String("model", modelID))
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.coordinator.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := manager.Activate(ctx); err != nil {
			r.logger.Error("model activation failed", slog.String("error", err.Error()))
			return
		}
		if r.cfg.Models.AutoUpgrade {
			if err := manager.StartBackgroundUpgrade(ctx); err != nil {
				r.logger.Warn("background upgrade failed", slog.String("error", err.Error()))
			}
		}
	}()

	subs, err := r.subscribeControl(source)
	if err != nil {
		return fmt.Errorf("failed to subscribe control subjects: %w", err)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/history", r.handleHistory)

	var metricsServer *http.Server
	if tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.metrics)
		metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	cancel()
	r.wg.Wait()

	if err := r.store.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// subscribeControl wires the bus subjects that stand in for the platform
// capture and hotkey layers: toggle, cancel, and raw audio frames.
func (r *Runtime) subscribeControl(source *audio.MemorySource) ([]*nats.Subscription, error) {
	conn := r.busClient.Conn()
	var subs []*nats.Subscription

	toggle, err := conn.Subscribe(protocol.SubjectControlToggle, func(*nats.Msg) {
		r.coordinator.Toggle()
	})
	if err != nil {
		return subs, err
	}
	subs = append(subs, toggle)

	cancelSub, err := conn.Subscribe(protocol.SubjectControlCancel, func(*nats.Msg) {
		r.coordinator.Cancel()
	})
	if err != nil {
		return subs, err
	}
	subs = append(subs, cancelSub)

	frames, err := conn.Subscribe(protocol.SubjectAudioFrames, func(msg *nats.Msg) {
		source.Append(decodeFrames(msg.Data))
	})
	if err != nil {
		return subs, err
	}
	subs = append(subs, frames)

	return subs, nil
}

// decodeFrames converts little-endian float32 PCM bytes to samples.
func decodeFrames(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	records, err := r.store.Recent(req.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// busSink publishes delivery and notices onto the bus; the platform text
// layer subscribes and performs the actual insertion.
type busSink struct {
	pub *bus.Client
	log *slog.Logger
}

func (s *busSink) Deliver(ctx context.Context, text string) error {
	s.pub.PublishJSON(protocol.SubjectOutputText, protocol.TextOutput{
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *busSink) Notify(severity, code, message string) {
	s.log.Info("notice",
		slog.String("severity", severity),
		slog.String("code", code),
		slog.String("message", message))
	s.pub.PublishJSON(protocol.SubjectNotice, protocol.Notice{
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
