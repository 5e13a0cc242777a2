package parakeet

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
)

// Status is the bootstrap state of the runner and its model.
type Status struct {
	Runtime domain.RuntimePhase `json:"runtime"`
	Model   domain.ModelPhase   `json:"model"`
	Detail  string              `json:"detail,omitempty"`
}

type checker interface {
	Check(ctx context.Context) error
}

// Runtime tracks whether the parakeet runner can serve sessions.
type Runtime struct {
	cfg     Config
	checker checker
	log     zerolog.Logger

	mu        sync.Mutex
	status    Status
	observers []func(Status)
}

func NewRuntime(cfg Config, logger *zerolog.Logger) *Runtime {
	l := pushlog.WithComponent("parakeet.runtime")
	if logger != nil {
		l = *logger
	}
	return &Runtime{
		cfg:     cfg,
		checker: NewTranscriber(cfg),
		log:     l,
		status:  Status{Runtime: domain.RuntimeMissing, Model: domain.ModelMissing},
	}
}

// Status returns the latest bootstrap state.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Observe registers fn for every status change.
func (r *Runtime) Observe(fn func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Bootstrap runs the runner's check and records the outcome.
func (r *Runtime) Bootstrap(ctx context.Context) Status {
	if strings.TrimSpace(r.cfg.Script) == "" || strings.TrimSpace(r.cfg.Model) == "" {
		return r.set(Status{Runtime: domain.RuntimeMissing, Model: domain.ModelMissing, Detail: "runner script or model not configured"})
	}

	r.set(Status{Runtime: domain.RuntimeBootstrapping, Model: r.Status().Model})
	status := classify(r.checker.Check(ctx))
	r.log.Info().
		Str("event", "parakeet.bootstrapped").
		Str("runtime", string(status.Runtime)).
		Str("model", string(status.Model)).
		Str("detail", status.Detail).
		Msg("parakeet runtime check finished")
	return r.set(status)
}

func (r *Runtime) set(status Status) Status {
	r.mu.Lock()
	changed := r.status != status
	r.status = status
	observers := append([]func(Status){}, r.observers...)
	r.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(status)
		}
	}
	return status
}

// classify maps a check failure onto runtime and model phases.
func classify(err error) Status {
	if err == nil {
		return Status{Runtime: domain.RuntimeReady, Model: domain.ModelReady}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Status{Runtime: domain.RuntimeFailed, Model: domain.ModelMissing, Detail: err.Error()}
	}

	var runnerErr *RunnerError
	if !errors.As(err, &runnerErr) {
		return Status{Runtime: domain.RuntimeMissing, Model: domain.ModelMissing, Detail: err.Error()}
	}
	switch {
	case strings.HasPrefix(runnerErr.Code, "DEPENDENCY_"):
		return Status{Runtime: domain.RuntimeFailed, Model: domain.ModelMissing, Detail: runnerErr.Error()}
	case strings.HasPrefix(runnerErr.Code, "MODEL_"), strings.HasPrefix(runnerErr.Code, "TOKENIZER_"):
		return Status{Runtime: domain.RuntimeReady, Model: domain.ModelFailed, Detail: runnerErr.Error()}
	case strings.Contains(runnerErr.Message, "not found"):
		return Status{Runtime: domain.RuntimeReady, Model: domain.ModelMissing, Detail: runnerErr.Error()}
	default:
		return Status{Runtime: domain.RuntimeFailed, Model: domain.ModelMissing, Detail: runnerErr.Error()}
	}
}
