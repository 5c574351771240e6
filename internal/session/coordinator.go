package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/model"
	"github.com/scribelabs/scribe-core/internal/perf"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/textproc"
)

// Models is the slice of the model manager the coordinator consumes.
type Models interface {
	Status() model.StatusInfo
	ActiveEngine() engine.Engine
	SelectedModel() string
	SwapInFlight() bool
	PendingUpgrade() (string, bool)
	PerformUpgrade(ctx context.Context) error
}

// Sink is the output/notification collaborator: it receives final text and
// classified user-facing messages.
type Sink interface {
	Deliver(ctx context.Context, text string) error
	Notify(severity, code, message string)
}

// Record is one completed transcription, persisted by the history store.
type Record struct {
	ID           string
	RawText      string
	FinalText    string
	ModelID      string
	AudioSeconds float64
	RTF          float64
	CreatedAt    time.Time
}

// History persists completed transcriptions. Optional.
type History interface {
	Append(ctx context.Context, rec Record) error
}

// Publisher mirrors bus.Client's publishing surface. Optional.
type Publisher interface {
	PublishJSON(subject string, payload any)
}

type command int

const (
	cmdToggle command = iota
	cmdCancel
	cmdUpgradeReady
)

type modelWaitResult struct {
	gen int
	ok  bool
	msg string
}

type processResult struct {
	gen      int
	result   engine.Result
	err      error
	procTime time.Duration
	audioDur time.Duration
}

// Coordinator sequences recording, inference, and delivery. All state lives
// on a single event loop; background work posts results back as events.
type Coordinator struct {
	cfg     config.Config
	log     *slog.Logger
	source  audio.Source
	models  Models
	monitor *perf.Monitor
	thermal perf.ThermalReader
	sink    Sink
	history History
	pub     Publisher

	pipeline textproc.Options

	cmds     chan command
	waits    chan modelWaitResult
	results  chan processResult
	stateCh  chan State // observer stream, best-effort
	state    State
	gen      int
	clock    func() time.Time
	loopCtx  context.Context
}

func NewCoordinator(cfg config.Config, source audio.Source, models Models, monitor *perf.Monitor, thermal perf.ThermalReader, sink Sink, history History, pub Publisher, log *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		log:      log.With(slog.String("component", "coordinator")),
		source:   source,
		models:   models,
		monitor:  monitor,
		thermal:  thermal,
		sink:     sink,
		history:  history,
		pub:      pub,
		pipeline: pipelineOptions(cfg.PostProcess),
		cmds:     make(chan command, 16),
		waits:    make(chan modelWaitResult, 4),
		results:  make(chan processResult, 4),
		stateCh:  make(chan State, 64),
		state:    Idle{},
		clock:    time.Now,
	}
}

func pipelineOptions(cfg config.PostProcessConfig) textproc.Options {
	commands := make([]textproc.VoiceCommand, 0, len(cfg.VoiceCommands))
	for _, vc := range cfg.VoiceCommands {
		var action textproc.CommandAction
		switch vc.Action {
		case "new_line":
			action = textproc.ActionNewLine
		case "new_paragraph":
			action = textproc.ActionNewParagraph
		case "scratch_that":
			action = textproc.ActionScratchThat
		case "custom":
			action = textproc.ActionCustom
		default:
			continue
		}
		commands = append(commands, textproc.VoiceCommand{
			Phrase:  vc.Phrase,
			Action:  action,
			Text:    vc.Text,
			Enabled: vc.Enabled,
		})
	}
	return textproc.Options{
		Expansions:           cfg.Expansions,
		VoiceCommandsEnabled: cfg.VoiceCommandsEnabled,
		VoiceCommands:        commands,
	}
}

// Toggle starts recording when idle and stops it when recording. While
// processing it is a no-op, making double-invocation safe.
func (c *Coordinator) Toggle() {
	c.cmds <- cmdToggle
}

// Cancel discards any in-flight recording or processing and forces idle.
func (c *Coordinator) Cancel() {
	c.cmds <- cmdCancel
}

// NotifyUpgradeReady is wired as the model manager's upgrade-ready handler.
func (c *Coordinator) NotifyUpgradeReady() {
	select {
	case c.cmds <- cmdUpgradeReady:
	default:
	}
}

// States exposes the observer stream consumed by presentation layers.
func (c *Coordinator) States() <-chan State {
	return c.stateCh
}

// Run drives the event loop until ctx is done. It owns all state mutation.
func (c *Coordinator) Run(ctx context.Context) {
	c.loopCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			switch cmd {
			case cmdToggle:
				c.handleToggle()
			case cmdCancel:
				c.handleCancel()
			case cmdUpgradeReady:
				if _, ok := c.state.(Idle); ok {
					c.maybeUpgrade()
				}
				// Otherwise the pending marker stays; every future
				// transition into idle re-evaluates it.
			}
		case res := <-c.waits:
			c.handleModelWait(res)
		case res := <-c.results:
			c.handleProcessed(res)
		}
	}
}

func (c *Coordinator) handleToggle() {
	switch c.state.(type) {
	case Idle:
		c.startRecording()
	case Recording:
		c.stopRecording()
	case Processing, LoadingModel:
		// Idempotent with respect to visible state.
	}
}

func (c *Coordinator) startRecording() {
	if c.models.SwapInFlight() {
		c.sink.Notify("warning", "upgrade-in-progress", "model swap in progress, try again in a moment")
		return
	}
	switch status := c.models.Status(); status.State {
	case model.StatusReady:
		if err := c.source.Start(); err != nil {
			c.failThenIdle("audio-start-failed", fmt.Sprintf("could not start audio capture: %v", err))
			return
		}
		c.gen++
		c.setState(Recording{StartTime: c.clock()})
	case model.StatusLoading:
		c.setState(LoadingModel{})
		c.gen++
		go c.waitForModel(c.gen)
	case model.StatusNotDownloaded:
		c.failThenIdle("model-not-downloaded", "no transcription model is downloaded")
	case model.StatusFailed:
		c.failThenIdle("model-failed", fmt.Sprintf("transcription model unavailable: %s", status.Reason))
	}
}

// waitForModel polls until the selected model resolves to ready or failed,
// bounded by the configured load timeout.
func (c *Coordinator) waitForModel(gen int) {
	deadline := c.clock().Add(time.Duration(c.cfg.Models.LoadTimeoutMS) * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch status := c.models.Status(); status.State {
		case model.StatusReady:
			c.waits <- modelWaitResult{gen: gen, ok: true}
			return
		case model.StatusFailed:
			c.waits <- modelWaitResult{gen: gen, ok: false, msg: status.Reason}
			return
		}
		if c.clock().After(deadline) {
			c.waits <- modelWaitResult{gen: gen, ok: false, msg: "timed out waiting for model to load"}
			return
		}
		select {
		case <-c.loopCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) handleModelWait(res modelWaitResult) {
	if res.gen != c.gen {
		return
	}
	if _, ok := c.state.(LoadingModel); !ok {
		return
	}
	if !res.ok {
		c.failThenIdle("model-load-failed", res.msg)
		return
	}
	c.startRecording()
}

func (c *Coordinator) stopRecording() {
	samples, err := c.source.Stop()
	if err != nil {
		if errors.Is(err, audio.ErrNoAudio) || errors.Is(err, audio.ErrNotRecording) {
			c.sink.Notify("warning", "no-audio", "no audio was captured")
			c.toIdle()
			return
		}
		c.failThenIdle("audio-stop-failed", fmt.Sprintf("could not stop audio capture: %v", err))
		return
	}

	dur := audio.Duration(len(samples), c.cfg.Transcription.SampleRate)
	minDur := time.Duration(c.cfg.Transcription.MinDurationMS) * time.Millisecond
	if dur < minDur {
		// Too short to be speech; skip inference entirely.
		c.log.Debug("recording below minimum duration", slog.Duration("duration", dur))
		c.toIdle()
		return
	}

	c.setState(Processing{})
	go c.process(c.gen, samples, dur)
}

func (c *Coordinator) process(gen int, samples []float32, audioDur time.Duration) {
	eng := c.models.ActiveEngine()
	if eng == nil {
		c.results <- processResult{gen: gen, err: engine.ErrNotLoaded, audioDur: audioDur}
		return
	}
	ctx, cancel := context.WithTimeout(c.loopCtx, 2*time.Minute)
	defer cancel()

	start := c.clock()
	result, err := eng.Transcribe(ctx, samples)
	c.results <- processResult{
		gen:      gen,
		result:   result,
		err:      err,
		procTime: c.clock().Sub(start),
		audioDur: audioDur,
	}
}

func (c *Coordinator) handleProcessed(res processResult) {
	if res.gen != c.gen {
		// Canceled while inference was in flight; suppress delivery.
		return
	}
	if _, ok := c.state.(Processing); !ok {
		return
	}
	if res.err != nil {
		c.failThenIdle("transcription-failed", fmt.Sprintf("transcription failed: %v", res.err))
		return
	}

	c.recordPerformance(res)

	segments := make([]textproc.TimedSegment, 0, len(res.result.Segments))
	for _, seg := range res.result.Segments {
		segments = append(segments, textproc.TimedSegment{Text: seg.Text, Start: seg.Start, End: seg.End})
	}
	final := textproc.Process(res.result.Text, segments, c.pipeline)
	if final == "" {
		c.sink.Notify("info", "empty-transcript", "recording contained no usable speech")
		c.toIdle()
		return
	}

	c.setState(Completed{Text: final})
	if err := c.sink.Deliver(c.loopCtx, final); err != nil {
		c.failThenIdle("delivery-failed", fmt.Sprintf("could not deliver text: %v", err))
		return
	}
	c.publishTranscript(res, final)
	c.appendHistory(res, final)
	c.toIdle()
}

func (c *Coordinator) recordPerformance(res processResult) {
	if res.audioDur <= 0 {
		return
	}
	rtf := res.procTime.Seconds() / res.audioDur.Seconds()
	if suggestion, ok := c.monitor.Record(rtf, c.thermal.State()); ok {
		c.sink.Notify("warning", "performance", suggestion)
	}
}

func (c *Coordinator) publishTranscript(res processResult, final string) {
	if c.pub == nil {
		return
	}
	c.pub.PublishJSON(protocol.SubjectTranscriptFinal, protocol.TranscriptDelivery{
		SessionID: uuid.NewString(),
		Text:      final,
		RawText:   res.result.Text,
		ModelID:   c.models.SelectedModel(),
		Duration:  res.audioDur.Seconds(),
		Timestamp: c.clock().UTC(),
	})
}

func (c *Coordinator) appendHistory(res processResult, final string) {
	if c.history == nil {
		return
	}
	rec := Record{
		ID:           uuid.NewString(),
		RawText:      res.result.Text,
		FinalText:    final,
		ModelID:      c.models.SelectedModel(),
		AudioSeconds: res.audioDur.Seconds(),
		RTF:          res.procTime.Seconds() / res.audioDur.Seconds(),
		CreatedAt:    c.clock().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.history.Append(ctx, rec); err != nil {
			c.log.Warn("failed to append history", slog.String("error", err.Error()))
		}
	}()
}

func (c *Coordinator) handleCancel() {
	switch c.state.(type) {
	case Recording:
		if _, err := c.source.Stop(); err != nil && !errors.Is(err, audio.ErrNoAudio) && !errors.Is(err, audio.ErrNotRecording) {
			c.log.Warn("discarding audio buffer failed", slog.String("error", err.Error()))
		}
	case Processing, LoadingModel:
	default:
		return
	}
	// Invalidate any in-flight background result so delivery is suppressed.
	c.gen++
	c.toIdle()
}

func (c *Coordinator) failThenIdle(code, message string) {
	c.setState(Failed{Message: message})
	c.sink.Notify("error", code, message)
	c.toIdle()
}

// toIdle is the single funnel into the idle state; every arrival re-evaluates
// whether a pending model upgrade should now be applied.
func (c *Coordinator) toIdle() {
	c.setState(Idle{})
	c.maybeUpgrade()
}

func (c *Coordinator) maybeUpgrade() {
	if _, ok := c.models.PendingUpgrade(); !ok {
		return
	}
	go func() {
		ctx := c.loopCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.models.PerformUpgrade(ctx); err != nil {
			// Non-fatal: the previous model stays active.
			c.sink.Notify("warning", "upgrade-failed", err.Error())
		}
	}()
}

func (c *Coordinator) setState(s State) {
	c.state = s
	detail := ""
	switch v := s.(type) {
	case Completed:
		detail = v.Text
	case Failed:
		detail = v.Message
	}
	select {
	case c.stateCh <- s:
	default:
	}
	if c.pub != nil {
		c.pub.PublishJSON(protocol.SubjectStateChange, protocol.StateChange{
			State:     s.Name(),
			Detail:    detail,
			Timestamp: c.clock().UTC(),
		})
	}
}
