package usecase

import (
	"errors"
	"strings"

	"pushtalk/internal/domain"
)

const (
	messageNoTranscript   = "No transcript returned"
	messageResultTimeout  = "Speech backend did not return a result in time"
	messageNoBackend      = "No speech backend is configured"
	messageAudioInterrupt = "Recording interrupted"
)

// reduce is the orchestrator's transition function. It is pure: all I/O is
// described by the returned effects and executed by the controller.
func reduce(cfg Config, s snapshot, ev event) (snapshot, []effect) {
	switch e := ev.(type) {
	case startRequested:
		return onStart(cfg, s, e)
	case stopRequested:
		return onStop(cfg, s)
	case cancelRequested:
		return onCancel(s)
	case ackRequested:
		if s.state != domain.SessionStateError {
			return s, nil
		}
		return toIdle(s, domain.SessionReasonAcknowledged)
	case returnToIdle:
		if e.sessionID != s.sessionID {
			return s, nil
		}
		switch s.state {
		case domain.SessionStateSuccess:
			return toIdle(s, domain.SessionReasonCompleted)
		case domain.SessionStateError:
			return toIdle(s, domain.SessionReasonMicCold)
		}
		return s, nil
	case hotkeyFailed:
		if s.state.Active() {
			return s, nil
		}
		s.sessionID = ""
		return fail(cfg, s, domain.ErrorCodeHotkey, domain.SessionReasonHotkeyUnavailable, e.reason)
	case providerReplaced:
		return onReplace(s, e)
	case beginFailed:
		if s.state != domain.SessionStateRecording {
			return s, nil
		}
		return fail(cfg, s, domain.ErrorCodeBackendStart, domain.SessionReasonBackendStartFailed, errorText(e.err))
	case audioStartFailed:
		if s.state != domain.SessionStateRecording {
			return s, nil
		}
		backend := s.backend
		next, effects := fail(cfg, s, domain.ErrorCodeAudioStart, domain.SessionReasonAudioFailed, errorText(e.err))
		return next, append([]effect{cancelSession{backend: backend}}, effects...)
	case audioFailed:
		return onAudioFault(cfg, s, domain.ErrorCodeAudioStream, domain.SessionReasonAudioFailed, errorText(e.err))
	case audioInterrupted:
		message := messageAudioInterrupt
		if reason := strings.TrimSpace(e.reason); reason != "" {
			message += ": " + reason
		}
		return onAudioFault(cfg, s, domain.ErrorCodeInterruption, domain.SessionReasonAudioInterrupted, message)
	case backendResult:
		return onResult(cfg, s, e.result)
	case backendFailed:
		if !s.state.Active() || s.finalizing {
			return s, nil
		}
		var effects []effect
		if s.state == domain.SessionStateRecording {
			effects = append(effects, stopAudio{})
		}
		effects = append(effects, disarmResultTimeout{})
		next, tail := fail(cfg, s, domain.ErrorCodeTranscription, domain.SessionReasonTranscriptionFailed, errorText(e.err))
		return next, append(effects, tail...)
	case resultTimedOut:
		if s.state != domain.SessionStateTranscribing || s.finalizing {
			return s, nil
		}
		backend := s.backend
		next, effects := fail(cfg, s, domain.ErrorCodeTimeout, domain.SessionReasonResultTimeout, messageResultTimeout)
		return next, append([]effect{cancelSession{backend: backend}}, effects...)
	case injectionFinished:
		return onInjected(cfg, s, e)
	}
	return s, nil
}

func onStart(cfg Config, s snapshot, e startRequested) (snapshot, []effect) {
	if s.state.Active() {
		return s, nil
	}
	s.sessionID = e.sessionID
	if s.backend == nil {
		return fail(cfg, s, domain.ErrorCodeBackendStart, domain.SessionReasonBackendStartFailed, messageNoBackend)
	}

	s.lastGeneration++
	s.generation = s.lastGeneration
	s.state = domain.SessionStateRecording
	s.reason = domain.SessionReasonRecordingStarted
	s.text, s.message, s.code = "", "", ""

	// beginSession precedes startAudio: a refused session must never open
	// the microphone.
	return s, []effect{
		beginSession{backend: s.backend, generation: s.generation},
		startAudio{backend: s.backend, generation: s.generation},
		publishStatus{status: s.status()},
	}
}

func onStop(cfg Config, s snapshot) (snapshot, []effect) {
	if s.state != domain.SessionStateRecording {
		return s, nil
	}
	s.state = domain.SessionStateTranscribing
	s.reason = domain.SessionReasonTranscribing
	return s, []effect{
		stopAudio{},
		endSession{backend: s.backend},
		armResultTimeout{generation: s.generation, after: cfg.ResultTimeout},
		publishStatus{status: s.status()},
	}
}

func onCancel(s snapshot) (snapshot, []effect) {
	if !s.state.Active() || s.finalizing {
		return s, nil
	}
	var effects []effect
	if s.state == domain.SessionStateRecording {
		effects = append(effects, stopAudio{})
	}
	effects = append(effects, cancelSession{backend: s.backend}, disarmResultTimeout{})
	s.generation = 0
	next, tail := toIdle(s, domain.SessionReasonRecordingDiscarded)
	return next, append(append(effects, tail...), recordOutcome{outcome: "cancelled"})
}

func onReplace(s snapshot, e providerReplaced) (snapshot, []effect) {
	if e.backend == nil {
		return s, nil
	}
	if s.state.Active() {
		s.pending = e.backend
		return s, nil
	}
	s.backend = e.backend
	s.pending = nil
	return s, []effect{publishStatus{status: s.status()}}
}

func onAudioFault(cfg Config, s snapshot, code domain.ErrorCode, reason domain.SessionStateReason, message string) (snapshot, []effect) {
	if s.state != domain.SessionStateRecording {
		return s, nil
	}
	backend := s.backend
	next, effects := fail(cfg, s, code, reason, message)
	return next, append([]effect{stopAudio{}, cancelSession{backend: backend}}, effects...)
}

func onResult(cfg Config, s snapshot, result domain.TranscriptResult) (snapshot, []effect) {
	if !s.state.Active() || s.finalizing {
		return s, nil
	}
	if result.IsPartial {
		return s, []effect{emitPartial{text: result.Text}}
	}

	var effects []effect
	if s.state == domain.SessionStateRecording {
		// A backend may finish before the hold ends; audio must not keep
		// running past the final result.
		effects = append(effects, stopAudio{})
	}
	effects = append(effects, disarmResultTimeout{})

	raw := strings.TrimSpace(result.Text)
	if raw == "" {
		next, tail := fail(cfg, s, domain.ErrorCodeNoTranscript, domain.SessionReasonNoTranscript, messageNoTranscript)
		return next, append(effects, tail...)
	}

	s.generation = 0
	s.finalizing = true
	if s.state != domain.SessionStateTranscribing {
		s.state = domain.SessionStateTranscribing
		s.reason = domain.SessionReasonTranscribing
		effects = append(effects, publishStatus{status: s.status()})
	}
	return s, append(effects, finalize{sessionID: s.sessionID, raw: raw, backend: s.backend.Kind()})
}

func onInjected(cfg Config, s snapshot, e injectionFinished) (snapshot, []effect) {
	if !s.finalizing || e.sessionID != s.sessionID {
		return s, nil
	}
	s.finalizing = false
	if e.err != nil {
		code, reason := domain.ErrorCodeInjection, domain.SessionReasonInjectionFailed
		message := errorText(e.err)
		switch {
		case errors.Is(e.err, ErrNothingToInject):
			code, reason, message = domain.ErrorCodeNoTranscript, domain.SessionReasonNoTranscript, messageNoTranscript
		case errors.Is(e.err, ErrClipboardWrite):
			code = domain.ErrorCodeClipboard
		}
		return fail(cfg, s, code, reason, message)
	}

	s.state = domain.SessionStateSuccess
	s.reason = domain.SessionReasonTranscriptInserted
	if e.result.method == domain.InjectionMethodClipboard {
		s.reason = domain.SessionReasonTranscriptCopied
	}
	s.text = e.result.transformed
	s.message, s.code = "", ""
	s = applyPending(s)
	return s, []effect{
		emitFinal{raw: e.result.raw, transformed: e.result.transformed},
		publishStatus{status: s.status()},
		recordOutcome{outcome: "success"},
		armReturnToIdle{sessionID: s.sessionID, after: cfg.SuccessHold},
	}
}

// fail resolves the session into Error. The generation is invalidated so
// late callbacks from the failed engagement are discarded.
func fail(cfg Config, s snapshot, code domain.ErrorCode, reason domain.SessionStateReason, message string) (snapshot, []effect) {
	s.state = domain.SessionStateError
	s.reason = reason
	s.code = code
	s.message = message
	s.text = ""
	s.generation = 0
	s.finalizing = false
	s = applyPending(s)

	effects := []effect{
		publishStatus{status: s.status()},
		emitError{code: code, detail: message},
		recordOutcome{outcome: "error"},
	}
	if cfg.ErrorHold > 0 {
		effects = append(effects, armReturnToIdle{sessionID: s.sessionID, after: cfg.ErrorHold})
	}
	return s, effects
}

func toIdle(s snapshot, reason domain.SessionStateReason) (snapshot, []effect) {
	s.state = domain.SessionStateIdle
	s.reason = reason
	s.text, s.message, s.code = "", "", ""
	s.generation = 0
	s.finalizing = false
	s = applyPending(s)
	return s, []effect{publishStatus{status: s.status()}}
}

// applyPending installs a deferred backend once no session is open.
func applyPending(s snapshot) snapshot {
	if s.pending == nil || s.state.Active() {
		return s
	}
	s.backend = s.pending
	s.pending = nil
	return s
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
