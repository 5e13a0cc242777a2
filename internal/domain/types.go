package domain

import "time"

// SessionState models the push-to-talk lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateRecording    SessionState = "recording"
	SessionStateTranscribing SessionState = "transcribing"
	SessionStateSuccess      SessionState = "success"
	SessionStateError        SessionState = "error"
)

// Active reports whether a capture or backend session is open.
func (s SessionState) Active() bool {
	return s == SessionStateRecording || s == SessionStateTranscribing
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold             SessionStateReason = "mic_cold"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonTranscribing        SessionStateReason = "transcribing"
	SessionReasonTranscriptInserted  SessionStateReason = "transcript_inserted"
	SessionReasonTranscriptCopied    SessionStateReason = "transcript_copied"
	SessionReasonRecordingDiscarded  SessionStateReason = "recording_discarded"
	SessionReasonNoTranscript        SessionStateReason = "no_transcript"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonBackendStartFailed  SessionStateReason = "backend_start_failed"
	SessionReasonAudioFailed         SessionStateReason = "audio_failed"
	SessionReasonAudioInterrupted    SessionStateReason = "audio_interrupted"
	SessionReasonResultTimeout       SessionStateReason = "result_timeout"
	SessionReasonInjectionFailed     SessionStateReason = "injection_failed"
	SessionReasonHotkeyUnavailable   SessionStateReason = "hotkey_unavailable"
	SessionReasonAcknowledged        SessionStateReason = "acknowledged"
	SessionReasonCompleted           SessionStateReason = "completed"
)

// ErrorCode identifies the subsystem behind a user-visible error.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodePermission    ErrorCode = "permission"
	ErrorCodeHotkey        ErrorCode = "hotkey"
	ErrorCodeAudioStart    ErrorCode = "audio_start"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeInterruption  ErrorCode = "interruption"
	ErrorCodeBackendStart  ErrorCode = "backend_start"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeTimeout       ErrorCode = "timeout"
	ErrorCodeNoTranscript  ErrorCode = "no_transcript"
	ErrorCodeInjection     ErrorCode = "injection"
	ErrorCodeClipboard     ErrorCode = "clipboard"
)

// Remediation returns an actionable hint shown next to the error message.
func (c ErrorCode) Remediation() string {
	switch c {
	case ErrorCodePermission:
		return "Grant the missing permission, then try again."
	case ErrorCodeHotkey:
		return "Allow access to input devices (for example, add your user to the input group) and restart."
	case ErrorCodeAudioStart, ErrorCodeAudioStream:
		return "Check that a microphone is connected and not used by another application."
	case ErrorCodeInterruption:
		return "The input device changed. Hold the hotkey again to retry."
	case ErrorCodeBackendStart, ErrorCodeTranscription:
		return "Check the speech backend in diagnostics, then try again."
	case ErrorCodeTimeout:
		return "The speech backend did not answer in time. Try again or pick another backend."
	case ErrorCodeNoTranscript:
		return "Nothing was recognized. Speak closer to the microphone and try again."
	case ErrorCodeInjection, ErrorCodeClipboard:
		return "Focus a text field and try again."
	default:
		return ""
	}
}

// Generation identifies one backend session engagement. Zero means none.
type Generation uint64

// Status summarizes the current orchestrator state for observers.
type Status struct {
	State     SessionState       `json:"state"`
	Reason    SessionStateReason `json:"reason,omitempty"`
	Active    bool               `json:"active"`
	Text      string             `json:"text,omitempty"`
	Message   string             `json:"message,omitempty"`
	Code      ErrorCode          `json:"code,omitempty"`
	Backend   string             `json:"backend,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
}

// AudioFrame is one buffer of mono samples normalized to [-1, 1].
type AudioFrame struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Duration
}

// TranscriptResult is emitted by speech backends.
type TranscriptResult struct {
	Text       string   `json:"text"`
	IsPartial  bool     `json:"isPartial"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ProcessContext is the per-invocation input of post-processing stages.
type ProcessContext struct {
	IsFinal   bool
	Timestamp time.Time
	AppID     string
}

// InjectionMethod records how text reached the focused application.
type InjectionMethod string

const (
	InjectionMethodNone      InjectionMethod = "none"
	InjectionMethodDirect    InjectionMethod = "direct"
	InjectionMethodPaste     InjectionMethod = "paste"
	InjectionMethodClipboard InjectionMethod = "clipboard"
)

// HistoryEntry is one completed session handed to downstream owners.
type HistoryEntry struct {
	SessionID   string          `json:"sessionId"`
	Raw         string          `json:"raw"`
	Transformed string          `json:"transformed"`
	Backend     BackendKind     `json:"backend"`
	Method      InjectionMethod `json:"method"`
	CreatedAt   time.Time       `json:"createdAt"`
}
