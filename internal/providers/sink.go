// Package providers holds what every speech backend shares: the
// terminal-once result guard, sentinel errors and PCM conversion.
package providers

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"pushtalk/internal/domain"
	"pushtalk/internal/ports"
)

var (
	ErrMissingCredential  = errors.New("speech backend credential is not configured")
	ErrSessionActive      = errors.New("speech backend session already active")
	ErrRuntimeUnavailable = errors.New("speech runtime is not available")
)

// GuardSink forwards partial results until the first final result or
// error, then drops everything. Backends wrap the orchestrator's sink with
// it so a session ends in exactly one terminal callback.
type GuardSink struct {
	mu   sync.Mutex
	sink ports.ResultSink
	done bool
}

func Guard(sink ports.ResultSink) *GuardSink {
	return &GuardSink{sink: sink}
}

// Result forwards result unless the session already terminated.
func (g *GuardSink) Result(result domain.TranscriptResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	if !result.IsPartial {
		g.done = true
	}
	g.sink.Result(result)
}

// Error forwards err unless the session already terminated.
func (g *GuardSink) Error(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	g.sink.Error(err)
}

// Close marks the session terminated without emitting anything, used when
// the session is cancelled.
func (g *GuardSink) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done = true
}

// Done reports whether a terminal callback was delivered or the guard was
// closed.
func (g *GuardSink) Done() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// PCM16 converts normalized samples to little-endian signed 16-bit PCM.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Int16(s)))
	}
	return out
}

// Int16 clamps a normalized sample and scales it to the int16 range.
func Int16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * math.MaxInt16))
}

var _ ports.ResultSink = (*GuardSink)(nil)
