package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/metrics"
	"pushtalk/internal/ports"
	"pushtalk/internal/providers/registry"
)

// Installer receives newly resolved backends. The session controller
// decides whether to swap immediately or after the open session.
type Installer interface {
	ReplaceProvider(backend ports.SpeechBackend) error
}

// Options configure a Service.
type Options struct {
	// Requested returns the user's current backend selection.
	Requested    func() domain.BackendKind
	Capabilities ports.CapabilitySource
	Backends     *registry.Registry[ports.SpeechBackend]
	Store        *Store
	// MinInterval throttles bursts of change notifications such as model
	// download progress.
	MinInterval time.Duration
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// Service re-runs resolution whenever a change notification arrives and
// hands the resulting backend to its Installer.
type Service struct {
	requested func() domain.BackendKind
	caps      ports.CapabilitySource
	backends  *registry.Registry[ports.SpeechBackend]
	store     *Store
	limiter   *rate.Limiter
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	installer Installer
	installed domain.BackendKind
	pending   map[domain.ChangeKind]struct{}
	wake      chan struct{}
}

var ErrNoBackend = errors.New("no speech backend could be constructed")

func NewService(opts Options) *Service {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 250 * time.Millisecond
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Requested == nil {
		opts.Requested = func() domain.BackendKind { return FallbackKind }
	}
	logger := pushlog.WithComponent("resolver")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Service{
		requested: opts.Requested,
		caps:      opts.Capabilities,
		backends:  opts.Backends,
		store:     opts.Store,
		limiter:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		now:       opts.Now,
		log:       logger,
		pending:   make(map[domain.ChangeKind]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Store returns the diagnostics store this service publishes to.
func (s *Service) Store() *Store { return s.store }

// Attach sets the installer that receives backends resolved by Run.
func (s *Service) Attach(installer Installer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installer = installer
}

// Initial resolves once and returns the backend to start with. The
// returned backend is nil only together with an error.
func (s *Service) Initial(ctx context.Context) (ports.SpeechBackend, domain.Diagnostics, error) {
	backend, diag, err := s.resolve(ctx)
	if err == nil {
		s.mu.Lock()
		s.installed = diag.Effective
		s.mu.Unlock()
	}
	return backend, diag, err
}

// Notify records a change and wakes Run. Notifications that arrive while a
// resolution is pending are coalesced into it.
func (s *Service) Notify(kind domain.ChangeKind) {
	s.mu.Lock()
	s.pending[kind] = struct{}{}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes change notifications until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		s.handle(ctx, s.drain())
	}
}

func (s *Service) drain() []domain.ChangeKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]domain.ChangeKind, 0, len(s.pending))
	for kind := range s.pending {
		kinds = append(kinds, kind)
	}
	clear(s.pending)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s *Service) handle(ctx context.Context, kinds []domain.ChangeKind) {
	if len(kinds) == 0 {
		return
	}
	changes := make([]string, len(kinds))
	selectionChanged := false
	for i, kind := range kinds {
		changes[i] = string(kind)
		if kind == domain.ChangeBackendSelection {
			selectionChanged = true
		}
	}

	s.mu.Lock()
	installed := s.installed
	installer := s.installer
	s.mu.Unlock()

	caps := s.capabilities(ctx)
	preview := Resolve(s.requested(), caps)
	if preview.Effective == installed && !selectionChanged {
		diag := s.diagnostics(preview, caps, "")
		if current, ok := s.store.Current(); ok {
			diag.DisplayName = current.DisplayName
		}
		s.publish(diag)
		s.log.Debug().Strs("changes", changes).Str("event", "provider.unchanged").Msg("resolution kept installed backend")
		return
	}

	backend, diag, err := s.resolve(ctx)
	if err != nil {
		s.log.Error().Err(err).Strs("changes", changes).Str("event", "provider.resolve_failed").Msg("no backend available after change")
		return
	}
	if installer == nil {
		s.log.Warn().Str("event", "provider.no_installer").Msg("resolved backend has nowhere to go")
		return
	}
	if err := installer.ReplaceProvider(backend); err != nil {
		s.log.Warn().Err(err).Str("event", "provider.install_failed").Msg("session controller rejected backend")
		return
	}
	s.mu.Lock()
	s.installed = diag.Effective
	s.mu.Unlock()
	s.log.Info().
		Strs("changes", changes).
		Str("event", "provider.resolved").
		Str("requested", string(diag.Requested)).
		Str("effective", string(diag.Effective)).
		Str("health", string(diag.Health)).
		Msg("speech backend resolved")
}

// resolve computes diagnostics, constructs the effective backend and
// publishes the result. A backend that fails to construct is replaced by
// the fallback backend.
func (s *Service) resolve(ctx context.Context) (ports.SpeechBackend, domain.Diagnostics, error) {
	caps := s.capabilities(ctx)
	res := Resolve(s.requested(), caps)

	backend, err := s.create(res.Effective)
	if err != nil && res.Effective != FallbackKind {
		s.log.Warn().Err(err).Str("event", "provider.construct_failed").Str(pushlog.FieldBackend, string(res.Effective)).Msg("falling back after backend construction failed")
		res.Effective = FallbackKind
		res.FallbackReason = domain.FallbackBackendConstructionFail
		res.Health = domain.HealthDegraded
		if reason, _ := blocker(FallbackKind, caps); reason != domain.FallbackNone {
			res.Health = domain.HealthUnavailable
		}
		backend, err = s.create(FallbackKind)
	}
	if err != nil {
		res.Health = domain.HealthUnavailable
		switch {
		case res.Effective == res.Requested && res.Blocker == domain.FallbackNone:
			res.Blocker = domain.FallbackBackendConstructionFail
		case res.Effective != res.Requested && res.FallbackReason == domain.FallbackNone:
			res.FallbackReason = domain.FallbackBackendConstructionFail
		}
		s.publish(s.diagnostics(res, caps, ""))
		return nil, domain.Diagnostics{}, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}

	diag := s.diagnostics(res, caps, backend.DisplayName())
	s.publish(diag)
	return backend, diag, nil
}

func (s *Service) create(kind domain.BackendKind) (ports.SpeechBackend, error) {
	if s.backends == nil {
		return nil, errors.New("no backend registry")
	}
	return s.backends.Create(string(kind))
}

func (s *Service) capabilities(ctx context.Context) domain.Capabilities {
	if s.caps == nil {
		return domain.Capabilities{}
	}
	return s.caps.Capabilities(ctx)
}

func (s *Service) diagnostics(res Resolution, caps domain.Capabilities, displayName string) domain.Diagnostics {
	return domain.Diagnostics{
		Requested:      res.Requested,
		Effective:      res.Effective,
		Health:         res.Health,
		FallbackReason: res.FallbackReason,
		Blocker:        res.Blocker,
		DisplayName:    displayName,
		Capabilities:   caps,
		ResolvedAt:     s.now(),
	}
}

func (s *Service) publish(d domain.Diagnostics) {
	metrics.IncResolution(string(d.Requested), string(d.Effective), string(d.Health))
	s.store.publish(d)
}
