package ports

import (
	"context"

	"pushtalk/internal/domain"
)

// HotkeyHandler receives edge-triggered hold notifications.
type HotkeyHandler interface {
	HoldStarted()
	HoldEnded()
	StartFailed(reason string)
}

// HotkeySource detects press-and-hold of the configured trigger.
// Start on an already running source is a no-op.
type HotkeySource interface {
	Start(handler HotkeyHandler) error
	Stop()
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	FrameSize   int
}

// AudioHandler receives capture callbacks. Buffer runs on the capture
// goroutine and must stay cheap.
type AudioHandler interface {
	Buffer(frame domain.AudioFrame)
	Level(level float64)
	Error(err error)
	Interrupted(reason string)
}

// AudioSource produces mono normalized frames while started.
type AudioSource interface {
	Start(handler AudioHandler) error
	Stop() error
}

// ResultSink receives asynchronous backend output for one session.
type ResultSink interface {
	Result(result domain.TranscriptResult)
	Error(err error)
}

// SpeechBackend converts audio frames into partial and final text.
//
// Per session a backend emits zero or more partial results followed by
// exactly one final result, or exactly one error.
type SpeechBackend interface {
	Kind() domain.BackendKind
	DisplayName() string
	BeginSession(sink ResultSink) error
	FeedAudio(frame domain.AudioFrame)
	EndSession()
	CancelSession()
}

// Processor transforms a final transcript before injection.
type Processor interface {
	Process(text string, pctx domain.ProcessContext) string
}

// Injector delivers final text to the focused application.
type Injector interface {
	Inject(ctx context.Context, text string) (domain.InjectionMethod, error)
}

// ClipboardSnapshot holds every representation read from the clipboard.
type ClipboardSnapshot struct {
	Items       map[string][]byte
	ChangeCount int64
}

// Clipboard is the machine-wide pasteboard.
type Clipboard interface {
	Snapshot() (ClipboardSnapshot, error)
	// WriteText replaces the contents and returns the change count
	// observed right after the write.
	WriteText(text string) (int64, error)
	ChangeCount() (int64, error)
	Restore(snapshot ClipboardSnapshot) error
}

// FocusTarget inserts text at the caret of the focused application.
type FocusTarget interface {
	InsertText(ctx context.Context, text string) error
	FrontmostApp(ctx context.Context) string
}

// KeySender simulates the paste shortcut.
type KeySender interface {
	Paste(ctx context.Context) error
}

// EventSink emits orchestrator state/events to observers.
type EventSink interface {
	SessionStateChanged(status domain.Status)
	AudioLevelChanged(level float64)
	PartialTranscript(text string)
	FinalTranscript(raw string, transformed string)
	SessionError(code domain.ErrorCode, detail string)
}

// HistorySink takes ownership of completed transcripts.
type HistorySink interface {
	Record(ctx context.Context, entry domain.HistoryEntry) error
}

// CapabilitySource reports what the environment currently allows.
type CapabilitySource interface {
	Capabilities(ctx context.Context) domain.Capabilities
}
