// Package batch adapts transcribers that work on complete recordings into
// streaming speech backends: audio is buffered for the whole session and
// written to a WAV file when the session ends.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/ports"
	"pushtalk/internal/providers"
)

// DefaultSampleRate is the rate local models expect.
const DefaultSampleRate = 16000

// Transcriber converts one WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Options tune a batch backend.
type Options struct {
	TempDir string
	// Timeout bounds a single transcription. Zero means no limit beyond
	// cancellation.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Backend buffers a session's audio and hands it to a Transcriber.
type Backend struct {
	kind        domain.BackendKind
	name        string
	transcriber Transcriber
	opts        Options
	log         zerolog.Logger

	mu         sync.Mutex
	sink       *providers.GuardSink
	samples    []float32
	sampleRate int
	// pending is the sink of a transcription started by EndSession.
	pending *providers.GuardSink
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var errEmptyRecording = errors.New("no audio was captured")

func New(kind domain.BackendKind, name string, transcriber Transcriber, opts Options) *Backend {
	logger := pushlog.WithComponent("backend." + string(kind))
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Backend{kind: kind, name: name, transcriber: transcriber, opts: opts, log: logger}
}

func (b *Backend) Kind() domain.BackendKind { return b.kind }

func (b *Backend) DisplayName() string { return b.name }

func (b *Backend) BeginSession(sink ports.ResultSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil {
		return providers.ErrSessionActive
	}
	b.sink = providers.Guard(sink)
	b.samples = b.samples[:0]
	b.sampleRate = 0
	return nil
}

func (b *Backend) FeedAudio(frame domain.AudioFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink == nil {
		return
	}
	if b.sampleRate == 0 {
		b.sampleRate = frame.SampleRate
	}
	b.samples = append(b.samples, frame.Samples...)
}

func (b *Backend) EndSession() {
	b.mu.Lock()
	sink := b.sink
	samples := append([]float32(nil), b.samples...)
	rate := b.sampleRate
	b.sink = nil
	if sink == nil {
		b.mu.Unlock()
		return
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if b.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), b.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	b.pending = sink
	b.cancel = cancel
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer cancel()
		defer b.settle(sink)
		text, err := b.transcribe(ctx, samples, rate)
		if err != nil {
			sink.Error(err)
			return
		}
		sink.Result(domain.TranscriptResult{Text: text})
	}()
}

// settle forgets a transcription once its outcome is delivered, unless a
// later EndSession has already taken its place.
func (b *Backend) settle(sink *providers.GuardSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != sink {
		return
	}
	b.pending = nil
	b.cancel = nil
}

// CancelSession drops the open session and aborts a transcription in
// flight. Nothing is delivered afterwards.
func (b *Backend) CancelSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil {
		b.sink.Close()
		b.sink = nil
	}
	if b.pending != nil {
		b.pending.Close()
		b.pending = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.samples = b.samples[:0]
}

// Wait blocks until background transcriptions have finished.
func (b *Backend) Wait() {
	b.wg.Wait()
}

func (b *Backend) transcribe(ctx context.Context, samples []float32, rate int) (string, error) {
	if len(samples) == 0 {
		return "", errEmptyRecording
	}
	file, err := os.CreateTemp(b.opts.TempDir, "pushtalk-*.wav")
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	path := file.Name()
	_ = file.Close()
	defer os.Remove(path)

	if err := WriteWAV(path, samples, rate); err != nil {
		return "", err
	}

	started := time.Now()
	text, err := b.transcriber.Transcribe(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.name, err)
	}
	b.log.Debug().
		Str("event", "backend.transcribed").
		Int("samples", len(samples)).
		Dur("elapsed", time.Since(started)).
		Msg("batch transcription finished")
	return strings.TrimSpace(text), nil
}

var _ ports.SpeechBackend = (*Backend)(nil)
