package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	"pushtalk/internal/metrics"
	"pushtalk/internal/ports"
)

var (
	// ErrNothingToInject is returned when post-processing leaves no text.
	ErrNothingToInject = errors.New("post-processed transcript is empty")
	ErrClipboardWrite  = errors.New("clipboard write failed")
)

type finalizeResult struct {
	raw         string
	transformed string
	method      domain.InjectionMethod
}

type transcriptFinalizer struct {
	processor  ports.Processor
	injector   ports.Injector
	clipboard  ports.Clipboard
	focus      ports.FocusTarget
	history    ports.HistorySink
	autoInsert bool
	now        func() time.Time
	log        zerolog.Logger
}

// Finalize post-processes one final transcript, delivers it, and hands it
// to the history sink. It runs off the control goroutine.
func (f transcriptFinalizer) Finalize(ctx context.Context, req finalize) (finalizeResult, error) {
	now := f.now()
	appID := ""
	if f.focus != nil {
		appID = f.focus.FrontmostApp(ctx)
	}

	transformed := req.raw
	if f.processor != nil {
		transformed = f.processor.Process(req.raw, domain.ProcessContext{IsFinal: true, Timestamp: now, AppID: appID})
	}
	if strings.TrimSpace(transformed) == "" {
		return finalizeResult{}, ErrNothingToInject
	}

	result := finalizeResult{raw: req.raw, transformed: transformed}
	method, err := f.deliver(ctx, transformed)
	if err != nil {
		metrics.IncInjection(string(method), "failed")
		return finalizeResult{}, err
	}
	metrics.IncInjection(string(method), "ok")
	result.method = method

	if f.history != nil {
		entry := domain.HistoryEntry{
			SessionID:   req.sessionID,
			Raw:         req.raw,
			Transformed: transformed,
			Backend:     req.backend,
			Method:      method,
			CreatedAt:   now,
		}
		if err := f.history.Record(ctx, entry); err != nil {
			f.log.Warn().Err(err).Str("event", "history.record_failed").Str("session_id", req.sessionID).Msg("failed to record transcript history")
		}
	}
	return result, nil
}

func (f transcriptFinalizer) deliver(ctx context.Context, text string) (domain.InjectionMethod, error) {
	if f.autoInsert {
		if f.injector == nil {
			return domain.InjectionMethodNone, errors.New("no injector configured")
		}
		return f.injector.Inject(ctx, text)
	}
	if f.clipboard == nil {
		return domain.InjectionMethodNone, errors.New("no clipboard configured")
	}
	if _, err := f.clipboard.WriteText(text); err != nil {
		return domain.InjectionMethodClipboard, fmt.Errorf("%w: %v", ErrClipboardWrite, err)
	}
	return domain.InjectionMethodClipboard, nil
}
