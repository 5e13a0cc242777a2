package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/metrics"
	"pushtalk/internal/ports"
)

var ErrControllerStopped = errors.New("session controller is not running")

// Config controls session timing and delivery.
type Config struct {
	// ResultTimeout bounds the wait for a final result after EndSession.
	ResultTimeout time.Duration
	// SuccessHold is how long Success is shown before returning to Idle.
	SuccessHold time.Duration
	// ErrorHold is how long Error is shown before returning to Idle. Zero
	// leaves Error in place until acknowledged.
	ErrorHold  time.Duration
	AutoInsert bool
}

// Deps are the collaborators of a SessionController.
type Deps struct {
	Audio     ports.AudioSource
	Backend   ports.SpeechBackend
	Processor ports.Processor
	Injector  ports.Injector
	Clipboard ports.Clipboard
	Focus     ports.FocusTarget
	History   ports.HistorySink
	Events    ports.EventSink
	Logger    *zerolog.Logger
}

// SessionController orchestrates push-to-talk recording, transcription and
// injection. All state lives on the goroutine running Run; every other
// method only posts an event to it.
type SessionController struct {
	audio     ports.AudioSource
	events    ports.EventSink
	finalizer transcriptFinalizer
	cfg       Config
	log       zerolog.Logger

	inbox chan event
	done  chan struct{}

	// Read outside the control goroutine.
	status     atomic.Pointer[domain.Status]
	activeGen  atomic.Uint64
	running    atomic.Bool
	helpers    sync.WaitGroup
	initial    snapshot
	resultTime *time.Timer
	idleTimer  *time.Timer
	runCtx     context.Context
}

func NewSessionController(deps Deps, cfg Config) *SessionController {
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 65 * time.Second
	}
	if cfg.SuccessHold <= 0 {
		cfg.SuccessHold = 1200 * time.Millisecond
	}
	logger := pushlog.WithComponent("orchestrator")
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	events := deps.Events
	if events == nil {
		events = NopEventSink{}
	}

	c := &SessionController{
		audio:  deps.Audio,
		events: events,
		finalizer: transcriptFinalizer{
			processor:  deps.Processor,
			injector:   deps.Injector,
			clipboard:  deps.Clipboard,
			focus:      deps.Focus,
			history:    deps.History,
			autoInsert: cfg.AutoInsert,
			now:        time.Now,
			log:        logger,
		},
		cfg:   cfg,
		log:   logger,
		inbox: make(chan event, 64),
		done:  make(chan struct{}),
		initial: snapshot{
			state:   domain.SessionStateIdle,
			reason:  domain.SessionReasonMicCold,
			backend: deps.Backend,
		},
	}
	initial := c.initial.status()
	c.status.Store(&initial)
	return c
}

// Run consumes events until ctx is cancelled. It must be called exactly once.
func (c *SessionController) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session controller already running")
	}
	c.runCtx = ctx
	defer func() {
		close(c.done)
		c.stopTimers()
		c.helpers.Wait()
	}()

	s := c.initial
	c.log.Info().Str("event", "orchestrator.started").Str("backend", s.status().Backend).Msg("session orchestrator started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown(s)
			return nil
		case ev := <-c.inbox:
			s = c.dispatch(s, ev)
		}
	}
}

// dispatch reduces one event and executes the resulting effects. A failing
// effect aborts the rest of its batch and its failure event is reduced
// immediately, ahead of anything still queued.
func (c *SessionController) dispatch(s snapshot, ev event) snapshot {
	for ev != nil {
		if t, ok := ev.(tagged); ok {
			gen, source := t.tag()
			if gen == 0 || gen != s.generation {
				metrics.IncStaleCallback(source)
				c.log.Debug().
					Str("event", "callback.stale_dropped").
					Str("callback", ev.name()).
					Uint64(pushlog.FieldGeneration, uint64(gen)).
					Uint64("active_generation", uint64(s.generation)).
					Msg("dropped callback from inactive generation")
				return s
			}
		}

		previous := s
		var effects []effect
		s, effects = reduce(c.cfg, s, ev)
		c.activeGen.Store(uint64(s.generation))
		if previous.backend != s.backend && s.backend != nil {
			c.log.Info().Str("event", "provider.applied").Str(pushlog.FieldBackend, s.backend.DisplayName()).Msg("speech backend installed")
		}
		if previous.pending != s.pending && s.pending != nil {
			c.log.Info().Str("event", "provider.deferred").Str(pushlog.FieldBackend, s.pending.DisplayName()).Msg("backend swap deferred until session resolves")
		}

		ev = c.execute(effects)
	}
	return s
}

func (c *SessionController) execute(effects []effect) event {
	for _, eff := range effects {
		if failure := c.run(eff); failure != nil {
			c.log.Debug().Str("event", "effect.failed").Str("effect", eff.effectName()).Msg("effect batch aborted")
			return failure
		}
	}
	return nil
}

func (c *SessionController) run(eff effect) event {
	switch e := eff.(type) {
	case beginSession:
		if err := e.backend.BeginSession(resultSink{c: c, generation: e.generation}); err != nil {
			c.log.Warn().Err(err).Str("event", "backend.begin_failed").Str(pushlog.FieldBackend, e.backend.DisplayName()).Msg("speech backend refused session")
			return beginFailed{generation: e.generation, err: err}
		}
	case startAudio:
		if c.audio == nil {
			return audioStartFailed{generation: e.generation, err: errors.New("no audio source configured")}
		}
		if err := c.audio.Start(audioSink{c: c, generation: e.generation, backend: e.backend}); err != nil {
			c.log.Warn().Err(err).Str("event", "audio.start_failed").Msg("audio capture failed to start")
			return audioStartFailed{generation: e.generation, err: err}
		}
	case stopAudio:
		if c.audio == nil {
			return nil
		}
		if err := c.audio.Stop(); err != nil {
			c.log.Warn().Err(err).Str("event", "audio.stop_failed").Msg("audio capture did not stop cleanly")
			c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		}
	case endSession:
		e.backend.EndSession()
	case cancelSession:
		if e.backend != nil {
			e.backend.CancelSession()
		}
	case armResultTimeout:
		c.disarmResultTimeout()
		generation := e.generation
		c.resultTime = time.AfterFunc(e.after, func() { c.post(resultTimedOut{generation: generation}) })
	case disarmResultTimeout:
		c.disarmResultTimeout()
	case armReturnToIdle:
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		sessionID := e.sessionID
		c.idleTimer = time.AfterFunc(e.after, func() { c.post(returnToIdle{sessionID: sessionID}) })
	case publishStatus:
		status := e.status
		previous := c.status.Swap(&status)
		metrics.SetSessionState(string(status.State))
		c.log.Info().
			Str("event", "session.state_changed").
			Str(pushlog.FieldSessionID, status.SessionID).
			Str(pushlog.FieldOldState, string(previous.State)).
			Str(pushlog.FieldNewState, string(status.State)).
			Str("reason", string(status.Reason)).
			Msg("session state changed")
		c.events.SessionStateChanged(status)
	case emitError:
		c.events.SessionError(e.code, e.detail)
	case emitPartial:
		c.events.PartialTranscript(e.text)
	case emitFinal:
		c.log.Debug().Str("event", "transcript.final").Str("raw", e.raw).Str("transformed", e.transformed).Msg("final transcript delivered")
		c.events.FinalTranscript(e.raw, e.transformed)
	case finalize:
		c.startFinalize(e)
	case recordOutcome:
		metrics.IncSession(e.outcome)
	}
	return nil
}

func (c *SessionController) startFinalize(req finalize) {
	ctx := c.runCtx
	c.helpers.Add(1)
	go func() {
		defer c.helpers.Done()
		result, err := c.finalizer.Finalize(ctx, req)
		c.post(injectionFinished{sessionID: req.sessionID, result: result, err: err})
	}()
}

// shutdown releases collaborators held by an open session.
func (c *SessionController) shutdown(s snapshot) {
	if s.state == domain.SessionStateRecording && c.audio != nil {
		_ = c.audio.Stop()
	}
	if s.state.Active() && !s.finalizing && s.backend != nil {
		s.backend.CancelSession()
	}
	c.activeGen.Store(0)
	c.log.Info().Str("event", "orchestrator.stopped").Msg("session orchestrator stopped")
}

func (c *SessionController) disarmResultTimeout() {
	if c.resultTime != nil {
		c.resultTime.Stop()
		c.resultTime = nil
	}
}

func (c *SessionController) stopTimers() {
	c.disarmResultTimeout()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
}

// post hands an event to the control goroutine. Events posted after Run
// returns are discarded.
func (c *SessionController) post(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Start requests a new session. It is ignored while a session is open.
func (c *SessionController) Start() error {
	if !c.post(startRequested{sessionID: uuid.NewString()}) {
		return ErrControllerStopped
	}
	return nil
}

// Stop ends recording and waits for the backend's final result. It is
// ignored when nothing is recording by the time it is handled.
func (c *SessionController) Stop() error {
	if !c.post(stopRequested{}) {
		return ErrControllerStopped
	}
	return nil
}

// Cancel discards an open session without injecting anything. It is
// ignored when no session is open by the time it is handled.
func (c *SessionController) Cancel() error {
	if !c.post(cancelRequested{}) {
		return ErrControllerStopped
	}
	return nil
}

// Acknowledge returns an Error state to Idle.
func (c *SessionController) Acknowledge() error {
	if !c.post(ackRequested{}) {
		return ErrControllerStopped
	}
	return nil
}

// ReplaceProvider installs backend immediately when no session is open,
// otherwise after the open session resolves.
func (c *SessionController) ReplaceProvider(backend ports.SpeechBackend) error {
	if backend == nil {
		return errors.New("replace provider: nil backend")
	}
	if !c.post(providerReplaced{backend: backend}) {
		return ErrControllerStopped
	}
	return nil
}

// Status returns the last published status.
func (c *SessionController) Status() domain.Status {
	return *c.status.Load()
}

// HoldStarted implements ports.HotkeyHandler.
func (c *SessionController) HoldStarted() { _ = c.Start() }

// HoldEnded implements ports.HotkeyHandler.
func (c *SessionController) HoldEnded() { _ = c.Stop() }

// StartFailed implements ports.HotkeyHandler.
func (c *SessionController) StartFailed(reason string) {
	_ = c.post(hotkeyFailed{reason: reason})
}

// resultSink binds backend callbacks to the generation they were issued for.
type resultSink struct {
	c          *SessionController
	generation domain.Generation
}

func (s resultSink) Result(result domain.TranscriptResult) {
	s.c.post(backendResult{generation: s.generation, result: result})
}

func (s resultSink) Error(err error) {
	s.c.post(backendFailed{generation: s.generation, err: err})
}

// audioSink forwards frames straight to the backend from the capture
// goroutine; control events go through the inbox.
type audioSink struct {
	c          *SessionController
	generation domain.Generation
	backend    ports.SpeechBackend
}

func (s audioSink) Buffer(frame domain.AudioFrame) {
	if domain.Generation(s.c.activeGen.Load()) != s.generation {
		metrics.IncStaleCallback("audio")
		return
	}
	s.backend.FeedAudio(frame)
}

func (s audioSink) Level(level float64) {
	if domain.Generation(s.c.activeGen.Load()) != s.generation {
		return
	}
	s.c.events.AudioLevelChanged(level)
}

func (s audioSink) Error(err error) {
	s.c.post(audioFailed{generation: s.generation, err: err})
}

func (s audioSink) Interrupted(reason string) {
	s.c.post(audioInterrupted{generation: s.generation, reason: reason})
}

var (
	_ ports.HotkeyHandler = (*SessionController)(nil)
	_ ports.ResultSink    = resultSink{}
	_ ports.AudioHandler  = audioSink{}
)
