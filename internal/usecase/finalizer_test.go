package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/domain"
)

type fixedFocus struct{ app string }

func (fixedFocus) InsertText(context.Context, string) error { return nil }
func (f fixedFocus) FrontmostApp(context.Context) string    { return f.app }

type contextRecorder struct {
	got domain.ProcessContext
}

func (r *contextRecorder) Process(text string, pctx domain.ProcessContext) string {
	r.got = pctx
	return strings.ToUpper(text)
}

func TestTranscriptFinalizerPassesProcessContext(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	recorder := &contextRecorder{}
	injector := &fakeInjector{method: domain.InjectionMethodPaste}
	f := transcriptFinalizer{
		processor:  recorder,
		injector:   injector,
		focus:      fixedFocus{app: "code"},
		autoInsert: true,
		now:        func() time.Time { return now },
		log:        zerolog.Nop(),
	}

	result, err := f.Finalize(context.Background(), finalize{sessionID: "s", raw: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessContext{IsFinal: true, Timestamp: now, AppID: "code"}, recorder.got)
	assert.Equal(t, finalizeResult{raw: "hi", transformed: "HI", method: domain.InjectionMethodPaste}, result)
	assert.Equal(t, []string{"HI"}, injector.injected())
}

func TestTranscriptFinalizerRejectsEmptyOutput(t *testing.T) {
	t.Parallel()

	injector := &fakeInjector{}
	f := transcriptFinalizer{
		processor:  fakeProcessor{transform: func(string) string { return " " }},
		injector:   injector,
		autoInsert: true,
		now:        time.Now,
		log:        zerolog.Nop(),
	}

	_, err := f.Finalize(context.Background(), finalize{raw: "um"})
	assert.ErrorIs(t, err, ErrNothingToInject)
	assert.Empty(t, injector.injected())
}

func TestTranscriptFinalizerClipboardFailure(t *testing.T) {
	t.Parallel()

	f := transcriptFinalizer{
		clipboard: &fakeClipboard{err: errors.New("clipboard")},
		now:       time.Now,
		log:       zerolog.Nop(),
	}

	_, err := f.Finalize(context.Background(), finalize{raw: "raw"})
	assert.ErrorIs(t, err, ErrClipboardWrite)
}

func TestTranscriptFinalizerHistoryFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{err: errors.New("disk full")}
	f := transcriptFinalizer{
		injector:   &fakeInjector{},
		history:    history,
		autoInsert: true,
		now:        time.Now,
		log:        zerolog.Nop(),
	}

	result, err := f.Finalize(context.Background(), finalize{sessionID: "s", raw: "text", backend: domain.BackendDeepgram})
	require.NoError(t, err)
	assert.Equal(t, domain.InjectionMethodDirect, result.method)
	require.Len(t, history.snapshot(), 1)
	assert.Equal(t, domain.BackendDeepgram, history.snapshot()[0].Backend)
}

func TestTranscriptFinalizerCopiesWhenAutoInsertIsOff(t *testing.T) {
	t.Parallel()

	clipboard := &fakeClipboard{}
	injector := &fakeInjector{}
	f := transcriptFinalizer{
		injector:  injector,
		clipboard: clipboard,
		now:       time.Now,
		log:       zerolog.Nop(),
	}

	result, err := f.Finalize(context.Background(), finalize{raw: "copy me"})
	require.NoError(t, err)
	assert.Equal(t, domain.InjectionMethodClipboard, result.method)
	assert.Equal(t, "copy me", clipboard.lastText)
	assert.Empty(t, injector.injected())
}
