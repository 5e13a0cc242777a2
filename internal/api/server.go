// Package api exposes the local control surface: manual session triggers,
// status and diagnostics, transcript history and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/metrics"
	"pushtalk/internal/usecase"
)

// Controller is the session surface driven over HTTP.
type Controller interface {
	Start() error
	Stop() error
	Cancel() error
	Acknowledge() error
	Status() domain.Status
}

// DiagnosticsSource returns the last provider resolution.
type DiagnosticsSource interface {
	Current() (domain.Diagnostics, bool)
}

// HistoryLister returns recent transcripts, newest first.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
}

// ProviderSelector persists a backend choice and triggers re-resolution.
type ProviderSelector interface {
	SelectProvider(kind domain.BackendKind) error
}

var ErrUnknownBackend = errors.New("unknown backend kind")

type Options struct {
	Controller  Controller
	Diagnostics DiagnosticsSource
	// History may be nil when history is disabled.
	History  HistoryLister
	Provider ProviderSelector
	// RateLimit is the number of mutating requests per RateWindow and
	// client address. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	Logger     *zerolog.Logger
}

type handler struct {
	opts Options
	log  zerolog.Logger
}

// NewRouter builds the control API.
func NewRouter(opts Options) http.Handler {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	l := pushlog.WithComponent("api")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	h := &handler{opts: opts, log: l}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.healthz)
	r.Get("/status", h.status)
	r.Get("/diagnostics", h.diagnostics)
	r.Get("/history", h.history)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(rateLimit(opts.RateLimit, opts.RateWindow))
		}
		r.Post("/session/start", h.sessionCall(opts.Controller.Start))
		r.Post("/session/stop", h.sessionCall(opts.Controller.Stop))
		r.Post("/session/cancel", h.sessionCall(opts.Controller.Cancel))
		r.Post("/session/ack", h.sessionCall(opts.Controller.Acknowledge))
		r.Put("/provider", h.selectProvider)
	})
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, try again later")
		}),
	)
}

// observe logs each request and records its latency by route pattern.
func (h *handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed.Seconds())

		level := zerolog.DebugLevel
		if r.Method != http.MethodGet {
			level = zerolog.InfoLevel
		}
		h.log.WithLevel(level).
			Str("event", "api.request").
			Str("method", r.Method).
			Str("route", route).
			Int("status", ww.Status()).
			Dur("duration", elapsed).
			Msg("control request")
	})
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Controller.Status())
}

func (h *handler) diagnostics(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Diagnostics == nil {
		writeError(w, http.StatusServiceUnavailable, "not_resolved", "no provider has been resolved yet")
		return
	}
	diag, ok := h.opts.Diagnostics.Current()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "not_resolved", "no provider has been resolved yet")
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if h.opts.History == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "transcript history is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("limit must be a non-negative integer, got %q", raw))
			return
		}
		limit = n
	}
	entries, err := h.opts.History.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Str("event", "api.history_failed").Msg("listing history failed")
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// sessionCall posts a controller request and answers with the status
// observed right after it. The transition itself is asynchronous.
func (h *handler) sessionCall(call func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := call(); err != nil {
			switch {
			case errors.Is(err, usecase.ErrControllerStopped):
				writeError(w, http.StatusServiceUnavailable, "controller_stopped", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "session_failed", err.Error())
			}
			return
		}
		writeJSON(w, http.StatusAccepted, h.opts.Controller.Status())
	}
}

type providerRequest struct {
	Kind domain.BackendKind `json:"kind"`
}

func (h *handler) selectProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_backend", fmt.Sprintf("%v: %q", ErrUnknownBackend, req.Kind))
		return
	}
	if h.opts.Provider == nil {
		writeError(w, http.StatusServiceUnavailable, "provider_unavailable", "provider selection is not available")
		return
	}
	if err := h.opts.Provider.SelectProvider(req.Kind); err != nil {
		h.log.Error().Err(err).Str("event", "api.provider_select_failed").Str("kind", string(req.Kind)).Msg("provider selection failed")
		writeError(w, http.StatusInternalServerError, "provider_select_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, code int, kind, detail string) {
	writeJSON(w, code, errorBody{Error: kind, Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the control API until its context ends.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, h http.Handler, logger *zerolog.Logger) *Server {
	l := pushlog.WithComponent("api")
	if logger != nil {
		l = *logger
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: l,
	}
}

// Serve accepts on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()
	s.log.Info().Str("event", "api.listening").Str("addr", ln.Addr().String()).Msg("control API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}
	<-errCh
	s.log.Info().Str("event", "api.stopped").Msg("control API stopped")
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}
