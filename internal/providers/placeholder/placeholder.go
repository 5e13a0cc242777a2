// Package placeholder is a speech backend that produces a canned transcript
// describing how much audio it received. It needs no model or network.
package placeholder

import (
	"fmt"
	"sync"
	"time"

	"pushtalk/internal/domain"
	"pushtalk/internal/ports"
	"pushtalk/internal/providers"
)

// Backend counts samples and reports them when the session ends.
type Backend struct {
	delay time.Duration

	mu      sync.Mutex
	sink    *providers.GuardSink
	samples int
	wg      sync.WaitGroup
}

// New returns a placeholder backend. delay postpones the final result,
// simulating transcription latency.
func New(delay time.Duration) *Backend {
	return &Backend{delay: delay}
}

func (b *Backend) Kind() domain.BackendKind { return domain.BackendPlaceholder }

func (b *Backend) DisplayName() string { return "Placeholder (simulated)" }

func (b *Backend) BeginSession(sink ports.ResultSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil && !b.sink.Done() {
		return providers.ErrSessionActive
	}
	b.sink = providers.Guard(sink)
	b.samples = 0
	return nil
}

func (b *Backend) FeedAudio(frame domain.AudioFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink == nil {
		return
	}
	b.samples += len(frame.Samples)
}

// EndSession emits the final result from a separate goroutine; callers
// may be the session controller itself.
func (b *Backend) EndSession() {
	b.mu.Lock()
	sink, samples := b.sink, b.samples
	b.sink = nil
	b.mu.Unlock()
	if sink == nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if b.delay > 0 {
			time.Sleep(b.delay)
		}
		sink.Result(domain.TranscriptResult{Text: fmt.Sprintf("Simulated transcript from %d frames.", samples)})
	}()
}

func (b *Backend) CancelSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil {
		b.sink.Close()
		b.sink = nil
	}
}

// Wait blocks until pending results were delivered.
func (b *Backend) Wait() {
	b.wg.Wait()
}

var _ ports.SpeechBackend = (*Backend)(nil)
