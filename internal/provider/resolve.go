// Package provider chooses the effective speech backend from the requested
// kind and the capabilities the environment currently grants.
package provider

import "pushtalk/internal/domain"

// FallbackKind is the always-available local backend used when the
// requested one is blocked.
const FallbackKind = domain.BackendWhisper

// Resolution is the outcome of Resolve, before a backend is constructed.
type Resolution struct {
	Requested      domain.BackendKind
	Effective      domain.BackendKind
	Health         domain.Health
	FallbackReason domain.FallbackReason
	// Blocker is set instead of FallbackReason when the requested backend
	// is the fallback itself.
	Blocker domain.FallbackReason
}

// Resolve maps a requested backend kind and the current capabilities onto
// the backend that should serve the next session.
//
// A local backend whose runtime or model is still being set up stays
// selected with degraded health and no fallback reason. A backend that is
// definitively blocked falls back to FallbackKind with a specific reason,
// unless it is FallbackKind already: then it stays selected, unavailable,
// with the unmet capability in Blocker.
func Resolve(requested domain.BackendKind, caps domain.Capabilities) Resolution {
	res := Resolution{Requested: requested}

	reason, settingUp := blocker(requested, caps)
	switch {
	case reason == domain.FallbackNone && !settingUp:
		res.Effective = requested
		res.Health = domain.HealthHealthy
	case reason == domain.FallbackNone:
		res.Effective = requested
		res.Health = domain.HealthDegraded
	case requested == FallbackKind:
		res.Effective = requested
		res.Health = domain.HealthUnavailable
		res.Blocker = reason
	default:
		res.Effective = FallbackKind
		res.FallbackReason = reason
		res.Health = domain.HealthDegraded
		if fallbackReason, _ := blocker(FallbackKind, caps); fallbackReason != domain.FallbackNone {
			res.Health = domain.HealthUnavailable
		}
	}
	return res
}

// blocker returns the first unmet capability for kind, checked in a fixed
// order: microphone, backend authorization, local runtime and model, then
// cloud policy, credential and network. settingUp reports a local runtime
// or model that is still being prepared.
func blocker(kind domain.BackendKind, caps domain.Capabilities) (reason domain.FallbackReason, settingUp bool) {
	if !kind.Valid() {
		return domain.FallbackUnknownBackend, false
	}
	if !caps.MicrophoneAuthorized {
		return domain.FallbackMicrophonePermission, false
	}

	switch kind {
	case domain.BackendWhisper:
		if !caps.SpeechAuthorized {
			return domain.FallbackSpeechPermission, false
		}
		if !caps.WhisperBinary {
			return domain.FallbackRuntimeNotReady, false
		}
		if !caps.WhisperModel {
			return domain.FallbackModelNotReady, false
		}
	case domain.BackendParakeet:
		switch caps.Runtime {
		case domain.RuntimeReady:
		case domain.RuntimeBootstrapping:
			return domain.FallbackNone, true
		default:
			return domain.FallbackRuntimeNotReady, false
		}
		switch caps.Model {
		case domain.ModelReady:
		case domain.ModelDownloading:
			return domain.FallbackNone, true
		default:
			return domain.FallbackModelNotReady, false
		}
	case domain.BackendDeepgram:
		if !caps.CloudEnabled {
			return domain.FallbackCloudDisabled, false
		}
		if !caps.CloudCredential {
			return domain.FallbackCredentialMissing, false
		}
		if !caps.NetworkReachable {
			return domain.FallbackNetworkUnavailable, false
		}
	}
	return domain.FallbackNone, false
}
