package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/domain"
)

var testCfg = Config{ResultTimeout: time.Second, SuccessHold: time.Second, ErrorHold: 2 * time.Second}

func idleWith(backend *fakeBackend) snapshot {
	return snapshot{state: domain.SessionStateIdle, reason: domain.SessionReasonMicCold, backend: backend}
}

func effectNames(effects []effect) []string {
	names := make([]string, 0, len(effects))
	for _, e := range effects {
		names = append(names, e.effectName())
	}
	return names
}

func TestReduceStartBeginsBackendBeforeAudio(t *testing.T) {
	t.Parallel()

	s, effects := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s1"})

	require.Equal(t, domain.SessionStateRecording, s.state)
	assert.Equal(t, domain.Generation(1), s.generation)
	assert.Equal(t, "s1", s.sessionID)
	assert.Equal(t, []string{"begin_session", "start_audio", "publish_status"}, effectNames(effects))
}

func TestReduceStartStampsFreshGeneration(t *testing.T) {
	t.Parallel()

	s := idleWith(newFakeBackend(domain.BackendWhisper, "Whisper"))
	s, _ = reduce(testCfg, s, startRequested{sessionID: "a"})
	s, _ = reduce(testCfg, s, cancelRequested{})
	require.Equal(t, domain.Generation(0), s.generation)

	s, _ = reduce(testCfg, s, startRequested{sessionID: "b"})
	assert.Equal(t, domain.Generation(2), s.generation)
}

func TestReduceIgnoresStartWhileActive(t *testing.T) {
	t.Parallel()

	for _, state := range []domain.SessionState{domain.SessionStateRecording, domain.SessionStateTranscribing} {
		s := idleWith(newFakeBackend(domain.BackendWhisper, "Whisper"))
		s.state = state
		s.generation = 3

		next, effects := reduce(testCfg, s, startRequested{sessionID: "x"})
		assert.Equal(t, s, next, string(state))
		assert.Empty(t, effects, string(state))
	}
}

func TestReduceStartWithoutBackendFails(t *testing.T) {
	t.Parallel()

	s, effects := reduce(testCfg, snapshot{state: domain.SessionStateIdle}, startRequested{sessionID: "s"})

	require.Equal(t, domain.SessionStateError, s.state)
	assert.Equal(t, domain.ErrorCodeBackendStart, s.code)
	assert.NotContains(t, effectNames(effects), "start_audio")
}

func TestReduceBeginFailureGoesToErrorWithBackendMessage(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	s, effects := reduce(testCfg, s, beginFailed{generation: s.generation, err: errors.New("mic busy")})

	require.Equal(t, domain.SessionStateError, s.state)
	assert.Equal(t, "mic busy", s.message)
	assert.Equal(t, domain.Generation(0), s.generation)
	assert.Equal(t, []string{"publish_status", "emit_error", "record_outcome", "arm_return_to_idle"}, effectNames(effects))
}

func TestReduceStopArmsResultTimeout(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	s, effects := reduce(testCfg, s, stopRequested{})

	require.Equal(t, domain.SessionStateTranscribing, s.state)
	assert.Equal(t, []string{"stop_audio", "end_session", "arm_result_timeout", "publish_status"}, effectNames(effects))
	timeout := effects[2].(armResultTimeout)
	assert.Equal(t, s.generation, timeout.generation)
	assert.Equal(t, time.Second, timeout.after)
}

func TestReduceStopOutsideRecordingIsIgnored(t *testing.T) {
	t.Parallel()

	s := idleWith(newFakeBackend(domain.BackendWhisper, "Whisper"))
	next, effects := reduce(testCfg, s, stopRequested{})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestReducePartialOnlyReachesObservers(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	next, effects := reduce(testCfg, s, backendResult{generation: s.generation, result: domain.TranscriptResult{Text: "hel", IsPartial: true}})

	assert.Equal(t, s, next)
	assert.Equal(t, []string{"emit_partial"}, effectNames(effects))
}

func TestReduceFinalResultStartsFinalizing(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	s, _ = reduce(testCfg, s, stopRequested{})
	s, effects := reduce(testCfg, s, backendResult{generation: s.generation, result: domain.TranscriptResult{Text: " hello "}})

	require.True(t, s.finalizing)
	assert.Equal(t, domain.Generation(0), s.generation)
	assert.Equal(t, domain.SessionStateTranscribing, s.state)
	require.Equal(t, []string{"disarm_result_timeout", "finalize"}, effectNames(effects))
	assert.Equal(t, "hello", effects[1].(finalize).raw)
	assert.Equal(t, domain.BackendWhisper, effects[1].(finalize).backend)

	// A second final result cannot trigger another injection.
	next, effects := reduce(testCfg, s, backendResult{generation: 1, result: domain.TranscriptResult{Text: "again"}})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestReduceBlankFinalIsNoTranscriptError(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	s, _ = reduce(testCfg, s, stopRequested{})
	s, effects := reduce(testCfg, s, backendResult{generation: s.generation, result: domain.TranscriptResult{Text: "  "}})

	require.Equal(t, domain.SessionStateError, s.state)
	assert.Equal(t, domain.ErrorCodeNoTranscript, s.code)
	assert.Equal(t, "No transcript returned", s.message)
	assert.NotContains(t, effectNames(effects), "finalize")
}

func TestReduceInjectionOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     finalizeResult
		err        error
		wantState  domain.SessionState
		wantReason domain.SessionStateReason
		wantCode   domain.ErrorCode
	}{
		{
			name:       "inserted",
			result:     finalizeResult{raw: "a", transformed: "A", method: domain.InjectionMethodDirect},
			wantState:  domain.SessionStateSuccess,
			wantReason: domain.SessionReasonTranscriptInserted,
		},
		{
			name:       "copied only",
			result:     finalizeResult{raw: "a", transformed: "A", method: domain.InjectionMethodClipboard},
			wantState:  domain.SessionStateSuccess,
			wantReason: domain.SessionReasonTranscriptCopied,
		},
		{
			name:       "injector failed",
			err:        errors.New("no focus"),
			wantState:  domain.SessionStateError,
			wantReason: domain.SessionReasonInjectionFailed,
			wantCode:   domain.ErrorCodeInjection,
		},
		{
			name:       "nothing left after processing",
			err:        ErrNothingToInject,
			wantState:  domain.SessionStateError,
			wantReason: domain.SessionReasonNoTranscript,
			wantCode:   domain.ErrorCodeNoTranscript,
		},
		{
			name:       "clipboard write failed",
			err:        errors.Join(ErrClipboardWrite, errors.New("busy")),
			wantState:  domain.SessionStateError,
			wantReason: domain.SessionReasonInjectionFailed,
			wantCode:   domain.ErrorCodeClipboard,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := idleWith(newFakeBackend(domain.BackendWhisper, "Whisper"))
			s.state = domain.SessionStateTranscribing
			s.sessionID = "s"
			s.finalizing = true

			next, _ := reduce(testCfg, s, injectionFinished{sessionID: "s", result: tc.result, err: tc.err})
			assert.Equal(t, tc.wantState, next.state)
			assert.Equal(t, tc.wantReason, next.reason)
			assert.Equal(t, tc.wantCode, next.code)
			assert.False(t, next.finalizing)
		})
	}
}

func TestReduceInjectionResultForOtherSessionIgnored(t *testing.T) {
	t.Parallel()

	s := idleWith(newFakeBackend(domain.BackendWhisper, "Whisper"))
	s.state = domain.SessionStateTranscribing
	s.sessionID = "current"
	s.finalizing = true

	next, effects := reduce(testCfg, s, injectionFinished{sessionID: "old"})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestReduceReplaceDeferredWhileActive(t *testing.T) {
	t.Parallel()

	a := newFakeBackend(domain.BackendWhisper, "A")
	b := newFakeBackend(domain.BackendDeepgram, "B")

	s, _ := reduce(testCfg, idleWith(a), startRequested{sessionID: "s"})
	s, effects := reduce(testCfg, s, providerReplaced{backend: b})
	assert.Empty(t, effects)
	assert.Same(t, a, s.backend)
	assert.Same(t, b, s.pending)

	s, effects = reduce(testCfg, s, stopRequested{})
	assert.Same(t, a, s.backend)
	assert.Same(t, a, effects[1].(endSession).backend)

	s, _ = reduce(testCfg, s, backendFailed{generation: s.generation, err: errors.New("boom")})
	require.Equal(t, domain.SessionStateError, s.state)
	assert.Same(t, b, s.backend)
	assert.Nil(t, s.pending)
}

func TestReduceReplaceAppliesImmediatelyWhenIdle(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(domain.BackendDeepgram, "B")
	s, effects := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "A")), providerReplaced{backend: b})

	assert.Same(t, b, s.backend)
	assert.Nil(t, s.pending)
	require.Equal(t, []string{"publish_status"}, effectNames(effects))
	assert.Equal(t, "B", effects[0].(publishStatus).status.Backend)
}

func TestReduceInterruptionStopsAudioAndCancelsBackend(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(domain.BackendWhisper, "Whisper")
	s, _ := reduce(testCfg, idleWith(backend), startRequested{sessionID: "s"})
	s, effects := reduce(testCfg, s, audioInterrupted{generation: s.generation, reason: "default input changed"})

	require.Equal(t, domain.SessionStateError, s.state)
	assert.Equal(t, domain.ErrorCodeInterruption, s.code)
	assert.Equal(t, "Recording interrupted: default input changed", s.message)
	names := effectNames(effects)
	assert.Equal(t, []string{"stop_audio", "cancel_session"}, names[:2])
	assert.NotContains(t, names, "finalize")
}

func TestReduceTimeoutOnlyWhileTranscribing(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	next, effects := reduce(testCfg, s, resultTimedOut{generation: s.generation})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	s, _ = reduce(testCfg, s, stopRequested{})
	s, effects = reduce(testCfg, s, resultTimedOut{generation: s.generation})
	require.Equal(t, domain.SessionStateError, s.state)
	assert.Equal(t, domain.ErrorCodeTimeout, s.code)
	assert.Equal(t, "cancel_session", effects[0].effectName())
}

func TestReduceErrorHoldZeroRequiresAck(t *testing.T) {
	t.Parallel()

	cfg := testCfg
	cfg.ErrorHold = 0

	s, _ := reduce(cfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), startRequested{sessionID: "s"})
	s, effects := reduce(cfg, s, beginFailed{generation: s.generation, err: errors.New("x")})
	assert.NotContains(t, effectNames(effects), "arm_return_to_idle")

	s, _ = reduce(cfg, s, ackRequested{})
	assert.Equal(t, domain.SessionStateIdle, s.state)
	assert.Equal(t, domain.SessionReasonAcknowledged, s.reason)
}

func TestReduceReturnToIdleMatchesSession(t *testing.T) {
	t.Parallel()

	s := idleWith(newFakeBackend(domain.BackendWhisper, "Whisper"))
	s.state = domain.SessionStateSuccess
	s.sessionID = "new"

	next, _ := reduce(testCfg, s, returnToIdle{sessionID: "old"})
	assert.Equal(t, domain.SessionStateSuccess, next.state)

	next, _ = reduce(testCfg, s, returnToIdle{sessionID: "new"})
	assert.Equal(t, domain.SessionStateIdle, next.state)
	assert.Equal(t, domain.SessionReasonCompleted, next.reason)
}

func TestReduceHotkeyFailureSurfacesError(t *testing.T) {
	t.Parallel()

	s, _ := reduce(testCfg, idleWith(newFakeBackend(domain.BackendWhisper, "Whisper")), hotkeyFailed{reason: "permission denied on /dev/input/event3"})
	assert.Equal(t, domain.SessionStateError, s.state)
	assert.Equal(t, domain.ErrorCodeHotkey, s.code)
	assert.Equal(t, domain.SessionReasonHotkeyUnavailable, s.reason)
}
