// Package deepgram streams session audio to Deepgram's live transcription
// websocket.
package deepgram

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/ports"
	"pushtalk/internal/providers"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	InterimResults bool
	SampleRate     int
	DialTimeout    time.Duration
	// QueueFrames is how many audio chunks may wait for the connection.
	QueueFrames int
}

// Backend implements ports.SpeechBackend for Deepgram.
type Backend struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	session *streamingSession
	wg      sync.WaitGroup
}

func New(cfg Config, logger *zerolog.Logger) *Backend {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 1024
	}
	l := pushlog.WithComponent("backend.deepgram")
	if logger != nil {
		l = *logger
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.DialTimeout
	return &Backend{cfg: cfg, dialer: &dialer, log: l}
}

func (b *Backend) Kind() domain.BackendKind { return domain.BackendDeepgram }

func (b *Backend) DisplayName() string { return "Deepgram (cloud)" }

// BeginSession validates configuration and connects in the background so
// the caller never waits on the network.
func (b *Backend) BeginSession(sink ports.ResultSink) error {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return providers.ErrMissingCredential
	}
	wsURL, err := buildListenURL(b.cfg)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+b.cfg.APIKey)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Abort()
	}
	ctx, cancel := context.WithCancel(context.Background())
	session := newStreamingSession(providers.Guard(sink), cancel, b.cfg.QueueFrames, b.log)
	b.session = session

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		session.run(ctx, b.dialer, wsURL, headers)
		if dropped := session.dropped.Load(); dropped > 0 {
			b.log.Warn().Int64("dropped", dropped).Str("event", "deepgram.audio_dropped").Msg("audio queue overflowed")
		}
		b.mu.Lock()
		if b.session == session {
			b.session = nil
		}
		b.mu.Unlock()
	}()
	return nil
}

func (b *Backend) FeedAudio(frame domain.AudioFrame) {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()
	if session == nil {
		return
	}
	_ = session.SendAudio(providers.PCM16(frame.Samples))
}

func (b *Backend) EndSession() {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()
	if session != nil {
		_ = session.CloseSend()
	}
}

func (b *Backend) CancelSession() {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.mu.Unlock()
	if session != nil {
		session.Abort()
	}
}

// Wait blocks until every session goroutine has exited.
func (b *Backend) Wait() {
	b.wg.Wait()
}

var _ ports.SpeechBackend = (*Backend)(nil)
