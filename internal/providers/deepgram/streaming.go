package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	"pushtalk/internal/providers"
)

// streamingSession is one websocket session. Audio queued before the
// connection is established is sent once it is.
type streamingSession struct {
	sink   *providers.GuardSink
	agg    *transcriptAggregator
	log    zerolog.Logger
	cancel context.CancelFunc

	audio    chan []byte
	readDone chan struct{}
	done     chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
	dropped       atomic.Int64
}

func newStreamingSession(sink *providers.GuardSink, cancel context.CancelFunc, queue int, logger zerolog.Logger) *streamingSession {
	return &streamingSession{
		sink:     sink,
		agg:      newTranscriptAggregator(),
		log:      logger,
		cancel:   cancel,
		audio:    make(chan []byte, queue),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *streamingSession) run(ctx context.Context, dialer *websocket.Dialer, wsURL string, headers http.Header) {
	defer close(s.done)

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		s.finish(fmt.Errorf("failed to connect to Deepgram websocket: %w", err))
		return
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(s.readDone)
		s.readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(conn)
	}()
	wg.Wait()
	_ = conn.Close()

	s.finish(s.waitErr())
}

// finish delivers the session's single terminal callback.
func (s *streamingSession) finish(err error) {
	if err != nil {
		s.sink.Error(err)
		return
	}
	text, confidence := s.agg.Raw()
	s.sink.Result(domain.TranscriptResult{Text: text, Confidence: confidence})
}

// SendAudio queues a chunk without blocking the capture goroutine.
func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	select {
	case s.audio <- chunk:
		return nil
	default:
		s.dropped.Add(1)
		return errors.New("audio queue is full")
	}
}

func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

// Abort discards the session: nothing is delivered after it returns.
func (s *streamingSession) Abort() {
	s.sink.Close()
	s.cancel()
	_ = s.CloseSend()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.readDone:
			return
		case chunk, ok := <-s.audio:
			if !ok {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					s.setErr(fmt.Errorf("failed to close stream: %w", err))
				}
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		}
	}
}

func (s *streamingSession) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			s.log.Debug().Err(err).Str("event", "deepgram.bad_payload").Msg("skipping unparsable provider event")
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = strings.TrimSpace(response.Description)
			}
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		transcript, confidence := extractTranscript(response)
		if transcript == "" {
			continue
		}

		final := response.IsFinal || response.SpeechFinal
		s.agg.Add(transcript, final, confidence)
		s.sink.Result(domain.TranscriptResult{Text: s.agg.Preview(), IsPartial: true})
	}
}

type alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) (string, *float64) {
	if len(response.Channel.Alternatives) > 0 {
		alt := response.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			return text, alt.Confidence
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		alt := response.Results.Channels[0].Alternatives[0]
		return strings.TrimSpace(alt.Transcript), alt.Confidence
	}
	return "", nil
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
