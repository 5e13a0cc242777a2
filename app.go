package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pushtalk/internal/bootstrap"
	"pushtalk/internal/config"
	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
)

// App is the daemon root. It owns the runtime graph and reports session
// events to the log.
type App struct {
	log zerolog.Logger

	services *bootstrap.Services
}

func NewApp() *App {
	return &App{log: pushlog.WithComponent("app")}
}

// Run builds the runtime graph and blocks until ctx is cancelled or a
// component fails. cfg may be nil, in which case configPath is loaded.
func (a *App) Run(ctx context.Context, configPath string, cfg *config.Config) error {
	services, err := bootstrap.Build(ctx, bootstrap.Options{ConfigPath: configPath, Config: cfg, Events: a})
	if err != nil {
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			a.log.Warn().Err(err).Str("event", "app.close_failed").Msg("closing services failed")
		}
	}()
	a.services = services

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return services.Controller.Run(gctx) })
	g.Go(func() error { return services.Resolver.Run(gctx) })
	g.Go(func() error { return services.Config.Run(gctx) })
	g.Go(func() error {
		services.Runtime.Bootstrap(gctx)
		return nil
	})
	g.Go(func() error {
		// Without a hotkey the control API is still a trigger path.
		if err := services.Hotkey.Start(services.Controller); err != nil {
			a.log.Warn().Err(err).Str("event", "app.hotkey_unavailable").Msg("hotkey monitor not running")
		}
		<-gctx.Done()
		services.Hotkey.Stop()
		return nil
	})
	if services.API != nil {
		g.Go(func() error { return services.API.ListenAndServe(gctx) })
	}
	g.Go(func() error {
		a.handleHangup(gctx)
		return nil
	})

	a.SessionStateChanged(services.Controller.Status())
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleHangup reloads configuration and re-probes capabilities on SIGHUP,
// for instance after the user joined the input or audio group.
func (a *App) handleHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			a.Reload()
		}
	}
}

// Reload re-reads configuration files and re-resolves the backend.
func (a *App) Reload() {
	if a.services == nil {
		return
	}
	if _, err := a.services.Config.Reload(true); err != nil {
		a.log.Error().Err(err).Str("event", "app.reload_failed").Msg("configuration reload failed")
	}
	a.services.PermissionsChanged()
}

// SessionStateChanged logs session lifecycle updates.
func (a *App) SessionStateChanged(status domain.Status) {
	event := a.log.Info()
	if status.State == domain.SessionStateError {
		event = a.log.Warn()
	}
	event.
		Str("event", "session.state").
		Str(pushlog.FieldNewState, string(status.State)).
		Str("reason", string(status.Reason)).
		Str(pushlog.FieldSessionID, status.SessionID).
		Str(pushlog.FieldBackend, status.Backend).
		Msg(firstNonEmpty(status.Message, sessionReasonMessage(status.Reason), string(status.State)))
}

// AudioLevelChanged traces microphone levels while recording.
func (a *App) AudioLevelChanged(level float64) {
	a.log.Trace().Str("event", "session.level").Float64("level", level).Msg("audio level")
}

// PartialTranscript logs live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.log.Debug().Str("event", "session.partial").Str("text", text).Msg("partial transcript")
}

// FinalTranscript logs final transcript output.
func (a *App) FinalTranscript(raw string, transformed string) {
	a.log.Info().
		Str("event", "session.final").
		Int("raw_chars", len(raw)).
		Str("text", transformed).
		Msg("final transcript")
}

// SessionError logs user-visible errors with a remediation hint.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.log.Error().
		Str("event", "session.error").
		Str("code", string(code)).
		Str("detail", detail).
		Str("remediation", code.Remediation()).
		Msg(errorMessage(code, detail))
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.SessionReasonTranscriptInserted:
		return "Transcript inserted"
	case domain.SessionReasonTranscriptCopied:
		return "Transcript copied to clipboard"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonBackendStartFailed:
		return "Speech backend failed to start"
	case domain.SessionReasonAudioFailed:
		return "Audio capture failed"
	case domain.SessionReasonAudioInterrupted:
		return "Audio input changed; recording stopped"
	case domain.SessionReasonResultTimeout:
		return "Transcription timed out"
	case domain.SessionReasonInjectionFailed:
		return "Text could not be inserted"
	case domain.SessionReasonHotkeyUnavailable:
		return "Hotkey unavailable"
	case domain.SessionReasonAcknowledged:
		return "Error dismissed"
	case domain.SessionReasonCompleted:
		return "Ready"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Permission missing"
	case domain.ErrorCodeHotkey:
		return "Hotkey monitor failed"
	case domain.ErrorCodeAudioStart:
		return "Audio capture could not start"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeInterruption:
		return "Recording interrupted"
	case domain.ErrorCodeBackendStart:
		return "Speech backend failed to start"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeTimeout:
		return "Transcription timed out"
	case domain.ErrorCodeNoTranscript:
		return "No transcript returned"
	case domain.ErrorCodeInjection:
		return "Text insertion failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
