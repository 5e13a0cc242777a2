package deepgram

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/domain"
	"pushtalk/internal/providers"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	b := New(Config{}, nil)
	assert.Equal(t, "https://api.deepgram.com/v1", b.cfg.APIBaseURL)
	assert.Equal(t, "nova-2", b.cfg.Model)
	assert.Equal(t, domain.BackendDeepgram, b.Kind())
}

func TestBeginSessionRequiresAPIKey(t *testing.T) {
	t.Parallel()

	b := New(Config{APIKey: "  "}, nil)
	assert.ErrorIs(t, b.BeginSession(&sink{}), providers.ErrMissingCredential)
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"})
	require.NoError(t, err)
	assert.Contains(t, url, "wss://api.deepgram.com/v1/listen")
	assert.Contains(t, url, "encoding=linear16")
	assert.Contains(t, url, "sample_rate=16000")
	assert.Contains(t, url, "channels=1")
	assert.Contains(t, url, "interim_results=false")
}

func TestBuildListenURLWithLanguageAndSmartFormat(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{
		APIBaseURL:     "http://localhost:8080/v1/",
		Model:          "m",
		Language:       "en-US",
		SmartFormat:    true,
		InterimResults: true,
		SampleRate:     8000,
	})
	require.NoError(t, err)
	assert.Contains(t, url, "ws://localhost:8080/v1/listen")
	assert.Contains(t, url, "language=en-US")
	assert.Contains(t, url, "smart_format=true")
	assert.Contains(t, url, "interim_results=true")
	assert.Contains(t, url, "sample_rate=8000")
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildListenURL(Config{APIBaseURL: ":// bad"})
	assert.Error(t, err)
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	conf := 0.9
	r1 := deepgramResponse{}
	r1.Channel.Alternatives = []alternative{{Transcript: " channel ", Confidence: &conf}}
	text, confidence := extractTranscript(r1)
	assert.Equal(t, "channel", text)
	require.NotNil(t, confidence)
	assert.Equal(t, 0.9, *confidence)

	r2 := deepgramResponse{}
	r2.Results.Channels = append(r2.Results.Channels, struct {
		Alternatives []alternative `json:"alternatives"`
	}{Alternatives: []alternative{{Transcript: "results"}}})
	text, _ = extractTranscript(r2)
	assert.Equal(t, "results", text)

	text, confidence = extractTranscript(deepgramResponse{})
	assert.Empty(t, text)
	assert.Nil(t, confidence)
}

func TestStreamingSessionSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := &streamingSession{sendClosed: true}
	assert.Error(t, s.SendAudio([]byte("x")))
}

func TestStreamingSessionSendAudioDropsWhenFull(t *testing.T) {
	t.Parallel()

	s := &streamingSession{audio: make(chan []byte, 1)}
	require.NoError(t, s.SendAudio([]byte("a")))
	assert.Error(t, s.SendAudio([]byte("b")))
	assert.Equal(t, int64(1), s.dropped.Load())
}

func TestStreamingSessionCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &streamingSession{audio: make(chan []byte, 1)}
	require.NoError(t, s.CloseSend())
	require.NoError(t, s.CloseSend())
}

func TestStreamingSessionSetErr(t *testing.T) {
	t.Parallel()

	s := &streamingSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	assert.NoError(t, s.waitErr())

	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	assert.EqualError(t, s.waitErr(), "first")
}

func TestTranscriptAggregatorUsesFinalsAndLastSpokenFallback(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add("hello", false, nil)
	assert.Equal(t, "hello", agg.Preview())
	agg.Add("hello world", true, nil)
	agg.Add("hello world again", false, nil)
	assert.Equal(t, "hello world hello world again", agg.Preview())

	got, _ := agg.Raw()
	assert.Equal(t, "hello world hello world again", got)

	empty := newTranscriptAggregator()
	empty.Add("   ", false, nil)
	got, _ = empty.Raw()
	assert.Empty(t, got)
}

type sink struct {
	mu      sync.Mutex
	results []domain.TranscriptResult
	errs    []error
}

func (s *sink) Result(r domain.TranscriptResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *sink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *sink) snapshot() ([]domain.TranscriptResult, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TranscriptResult(nil), s.results...), append([]error(nil), s.errs...)
}

// fakeDeepgram answers audio with one interim and, after CloseStream, one
// final segment before closing the socket.
type fakeDeepgram struct {
	mu        sync.Mutex
	audio     int
	auth      string
	query     string
	hang      bool
	errorMode bool
}

func (f *fakeDeepgram) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		interimSent := false
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				f.mu.Lock()
				f.audio += len(payload)
				f.mu.Unlock()
				if f.errorMode {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"quota exceeded"}`))
					return
				}
				if !interimSent {
					interimSent = true
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
				}
				continue
			}
			if strings.Contains(string(payload), "CloseStream") {
				if f.hang {
					continue
				}
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.87}]}}`))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	})
}

func newTestBackend(t *testing.T, f *fakeDeepgram) *Backend {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)
	logger := zerolog.Nop()
	b := New(Config{APIKey: "secret", APIBaseURL: server.URL + "/v1", InterimResults: true}, &logger)
	t.Cleanup(b.Wait)
	return b
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestBackendStreamsAudioAndDeliversFinal(t *testing.T) {
	t.Parallel()

	f := &fakeDeepgram{}
	b := newTestBackend(t, f)
	out := &sink{}

	require.NoError(t, b.BeginSession(out))
	b.FeedAudio(domain.AudioFrame{Samples: make([]float32, 160), SampleRate: 16000})
	b.FeedAudio(domain.AudioFrame{Samples: make([]float32, 160), SampleRate: 16000})
	require.Eventually(t, func() bool {
		results, _ := out.snapshot()
		return len(results) >= 1
	}, waitFor, tick)
	b.EndSession()

	require.Eventually(t, func() bool {
		results, _ := out.snapshot()
		return len(results) > 0 && !results[len(results)-1].IsPartial
	}, waitFor, tick)
	b.Wait()

	results, errs := out.snapshot()
	assert.Empty(t, errs)
	assert.True(t, results[0].IsPartial)
	assert.Equal(t, "hello", results[0].Text)
	final := results[len(results)-1]
	assert.Equal(t, "hello world", final.Text)
	require.NotNil(t, final.Confidence)
	assert.InDelta(t, 0.87, *final.Confidence, 1e-9)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 640, f.audio)
	assert.Equal(t, "Token secret", f.auth)
	assert.Contains(t, f.query, "encoding=linear16")
}

func TestBackendReportsProviderError(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, &fakeDeepgram{errorMode: true})
	out := &sink{}
	require.NoError(t, b.BeginSession(out))
	b.FeedAudio(domain.AudioFrame{Samples: make([]float32, 16), SampleRate: 16000})

	require.Eventually(t, func() bool {
		_, errs := out.snapshot()
		return len(errs) == 1
	}, waitFor, tick)
	b.EndSession()
	b.Wait()

	results, errs := out.snapshot()
	assert.Empty(t, results)
	assert.EqualError(t, errs[0], "quota exceeded")
}

func TestBackendCancelDeliversNothing(t *testing.T) {
	t.Parallel()

	f := &fakeDeepgram{hang: true}
	b := newTestBackend(t, f)
	out := &sink{}
	require.NoError(t, b.BeginSession(out))
	b.FeedAudio(domain.AudioFrame{Samples: make([]float32, 16), SampleRate: 16000})
	b.EndSession()
	require.Eventually(t, func() bool {
		results, _ := out.snapshot()
		return len(results) == 1
	}, waitFor, tick)

	b.CancelSession()
	b.Wait()

	results, errs := out.snapshot()
	assert.Len(t, results, 1)
	assert.True(t, results[0].IsPartial)
	assert.Empty(t, errs)
}

func TestBackendDialFailureIsAsynchronous(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	b := New(Config{APIKey: "secret", APIBaseURL: "http://127.0.0.1:1/v1", DialTimeout: time.Second}, &logger)
	out := &sink{}
	require.NoError(t, b.BeginSession(out))
	b.Wait()

	_, errs := out.snapshot()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "failed to connect")
}
