package usecase

import (
	"time"

	"pushtalk/internal/domain"
	"pushtalk/internal/ports"
)

// snapshot is the orchestrator's complete state. Only reduce produces new
// snapshots; the shell never mutates one in place.
type snapshot struct {
	state     domain.SessionState
	reason    domain.SessionStateReason
	text      string
	message   string
	code      domain.ErrorCode
	sessionID string

	// generation is the engagement whose callbacks are honored. Zero once
	// the session has resolved.
	generation     domain.Generation
	lastGeneration domain.Generation

	// finalizing is set between accepting a final result and the injector
	// reporting back.
	finalizing bool

	backend ports.SpeechBackend
	pending ports.SpeechBackend
}

func (s snapshot) status() domain.Status {
	status := domain.Status{
		State:     s.state,
		Reason:    s.reason,
		Active:    s.state.Active(),
		Text:      s.text,
		Message:   s.message,
		Code:      s.code,
		SessionID: s.sessionID,
	}
	if s.backend != nil {
		status.Backend = s.backend.DisplayName()
	}
	return status
}

type event interface {
	name() string
}

// tagged is implemented by events originating from a collaborator engaged
// under a specific generation.
type tagged interface {
	event
	tag() (domain.Generation, string)
}

type (
	startRequested  struct{ sessionID string }
	stopRequested   struct{}
	cancelRequested struct{}
	ackRequested    struct{}

	hotkeyFailed struct{ reason string }

	providerReplaced struct{ backend ports.SpeechBackend }

	backendResult struct {
		generation domain.Generation
		result     domain.TranscriptResult
	}
	backendFailed struct {
		generation domain.Generation
		err        error
	}
	beginFailed struct {
		generation domain.Generation
		err        error
	}
	audioStartFailed struct {
		generation domain.Generation
		err        error
	}
	audioFailed struct {
		generation domain.Generation
		err        error
	}
	audioInterrupted struct {
		generation domain.Generation
		reason     string
	}
	resultTimedOut struct{ generation domain.Generation }

	injectionFinished struct {
		sessionID string
		result    finalizeResult
		err       error
	}
	returnToIdle struct{ sessionID string }
)

func (startRequested) name() string    { return "start" }
func (stopRequested) name() string     { return "stop" }
func (cancelRequested) name() string   { return "cancel" }
func (ackRequested) name() string      { return "ack" }
func (hotkeyFailed) name() string      { return "hotkey_failed" }
func (providerReplaced) name() string  { return "provider_replaced" }
func (backendResult) name() string     { return "backend_result" }
func (backendFailed) name() string     { return "backend_failed" }
func (beginFailed) name() string       { return "begin_failed" }
func (audioStartFailed) name() string  { return "audio_start_failed" }
func (audioFailed) name() string       { return "audio_failed" }
func (audioInterrupted) name() string  { return "audio_interrupted" }
func (resultTimedOut) name() string    { return "result_timeout" }
func (injectionFinished) name() string { return "injection_finished" }
func (returnToIdle) name() string      { return "return_to_idle" }

func (e backendResult) tag() (domain.Generation, string)    { return e.generation, "backend" }
func (e backendFailed) tag() (domain.Generation, string)    { return e.generation, "backend" }
func (e beginFailed) tag() (domain.Generation, string)      { return e.generation, "backend" }
func (e audioStartFailed) tag() (domain.Generation, string) { return e.generation, "audio" }
func (e audioFailed) tag() (domain.Generation, string)      { return e.generation, "audio" }
func (e audioInterrupted) tag() (domain.Generation, string) { return e.generation, "audio" }
func (e resultTimedOut) tag() (domain.Generation, string)   { return e.generation, "timer" }

// effect is one side effect requested by a transition. The shell runs a
// batch in order and abandons the rest of it when an effect fails.
type effect interface {
	effectName() string
}

type (
	beginSession struct {
		backend    ports.SpeechBackend
		generation domain.Generation
	}
	startAudio struct {
		backend    ports.SpeechBackend
		generation domain.Generation
	}
	stopAudio     struct{}
	endSession    struct{ backend ports.SpeechBackend }
	cancelSession struct{ backend ports.SpeechBackend }

	armResultTimeout struct {
		generation domain.Generation
		after      time.Duration
	}
	disarmResultTimeout struct{}
	armReturnToIdle     struct {
		sessionID string
		after     time.Duration
	}

	publishStatus struct{ status domain.Status }
	emitError     struct {
		code   domain.ErrorCode
		detail string
	}
	emitPartial struct{ text string }
	emitFinal   struct{ raw, transformed string }

	finalize struct {
		sessionID string
		raw       string
		backend   domain.BackendKind
	}
	recordOutcome struct{ outcome string }
)

func (beginSession) effectName() string        { return "begin_session" }
func (startAudio) effectName() string          { return "start_audio" }
func (stopAudio) effectName() string           { return "stop_audio" }
func (endSession) effectName() string          { return "end_session" }
func (cancelSession) effectName() string       { return "cancel_session" }
func (armResultTimeout) effectName() string    { return "arm_result_timeout" }
func (disarmResultTimeout) effectName() string { return "disarm_result_timeout" }
func (armReturnToIdle) effectName() string     { return "arm_return_to_idle" }
func (publishStatus) effectName() string       { return "publish_status" }
func (emitError) effectName() string           { return "emit_error" }
func (emitPartial) effectName() string         { return "emit_partial" }
func (emitFinal) effectName() string           { return "emit_final" }
func (finalize) effectName() string            { return "finalize" }
func (recordOutcome) effectName() string       { return "record_outcome" }
