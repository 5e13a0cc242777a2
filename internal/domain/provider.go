package domain

import "time"

// BackendKind names one speech-to-text backend variant.
type BackendKind string

const (
	BackendPlaceholder BackendKind = "placeholder"
	BackendWhisper     BackendKind = "whisper"
	BackendParakeet    BackendKind = "parakeet"
	BackendDeepgram    BackendKind = "deepgram"
)

// KnownBackendKinds lists the selectable variants in display order.
func KnownBackendKinds() []BackendKind {
	return []BackendKind{BackendPlaceholder, BackendWhisper, BackendParakeet, BackendDeepgram}
}

// Valid reports whether k is a known variant.
func (k BackendKind) Valid() bool {
	for _, known := range KnownBackendKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// IsCloud reports whether the backend sends audio off the machine.
func (k BackendKind) IsCloud() bool {
	return k == BackendDeepgram
}

// UsesLocalRuntime reports whether the backend depends on a bootstrapped
// local model runtime.
func (k BackendKind) UsesLocalRuntime() bool {
	return k == BackendParakeet
}

// Health classifies the resolved provider.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
)

// FallbackReason explains why the effective backend differs from the
// requested one.
type FallbackReason string

const (
	FallbackNone                    FallbackReason = ""
	FallbackMicrophonePermission    FallbackReason = "microphone permission missing"
	FallbackSpeechPermission        FallbackReason = "speech recognition permission missing"
	FallbackCredentialMissing       FallbackReason = "credential missing"
	FallbackNetworkUnavailable      FallbackReason = "network unavailable"
	FallbackRuntimeNotReady         FallbackReason = "runtime not ready"
	FallbackModelNotReady           FallbackReason = "model not ready"
	FallbackCloudDisabled           FallbackReason = "cloud disabled"
	FallbackUnknownBackend          FallbackReason = "unknown backend"
	FallbackBackendConstructionFail FallbackReason = "backend failed to initialize"
)

// RuntimePhase is the bootstrap state of a local model runtime.
type RuntimePhase string

const (
	RuntimeMissing       RuntimePhase = "missing"
	RuntimeBootstrapping RuntimePhase = "bootstrapping"
	RuntimeReady         RuntimePhase = "ready"
	RuntimeFailed        RuntimePhase = "failed"
)

// ModelPhase is the download state of a local model.
type ModelPhase string

const (
	ModelMissing     ModelPhase = "missing"
	ModelDownloading ModelPhase = "downloading"
	ModelReady       ModelPhase = "ready"
	ModelFailed      ModelPhase = "failed"
)

// Capabilities is a snapshot of what the environment currently allows.
type Capabilities struct {
	MicrophoneAuthorized bool         `json:"microphoneAuthorized"`
	SpeechAuthorized     bool         `json:"speechAuthorized"`
	WhisperBinary        bool         `json:"whisperBinary"`
	WhisperModel         bool         `json:"whisperModel"`
	Runtime              RuntimePhase `json:"runtime"`
	Model                ModelPhase   `json:"model"`
	CloudEnabled         bool         `json:"cloudEnabled"`
	CloudCredential      bool         `json:"cloudCredential"`
	NetworkReachable     bool         `json:"networkReachable"`
}

// Diagnostics is the immutable outcome of one provider resolution.
type Diagnostics struct {
	Requested      BackendKind    `json:"requested"`
	Effective      BackendKind    `json:"effective"`
	Health         Health         `json:"health"`
	FallbackReason FallbackReason `json:"fallbackReason,omitempty"`
	// Blocker names what keeps the requested backend from working when
	// there was nothing to fall back to.
	Blocker      FallbackReason `json:"blocker,omitempty"`
	DisplayName  string         `json:"displayName,omitempty"`
	Capabilities Capabilities   `json:"capabilities"`
	ResolvedAt   time.Time      `json:"resolvedAt"`
}

// FellBack reports whether the effective backend differs from the request.
func (d Diagnostics) FellBack() bool {
	return d.Requested != d.Effective
}

// ChangeKind names a configuration change notification.
type ChangeKind string

const (
	ChangeHotkeyBinding    ChangeKind = "hotkey-binding-changed"
	ChangeBackendSelection ChangeKind = "backend-selection-changed"
	ChangeRuntimeBootstrap ChangeKind = "backend-runtime-bootstrap-status-changed"
	ChangeModelDownload    ChangeKind = "model-download-status-changed"
	ChangePermission       ChangeKind = "permission-changed"
)
