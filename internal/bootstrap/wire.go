package bootstrap

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"

	"pushtalk/internal/api"
	"pushtalk/internal/audio"
	"pushtalk/internal/capability"
	"pushtalk/internal/config"
	"pushtalk/internal/domain"
	"pushtalk/internal/history"
	"pushtalk/internal/hotkey"
	"pushtalk/internal/inject"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/ports"
	"pushtalk/internal/postprocess"
	"pushtalk/internal/provider"
	"pushtalk/internal/providers/batch"
	"pushtalk/internal/providers/deepgram"
	"pushtalk/internal/providers/parakeet"
	"pushtalk/internal/providers/placeholder"
	"pushtalk/internal/providers/registry"
	"pushtalk/internal/providers/whisper"
	"pushtalk/internal/rules"
	"pushtalk/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     *config.Watcher
	Controller *usecase.SessionController
	Resolver   *provider.Service
	Runtime    *parakeet.Runtime
	Probe      *capability.Probe
	Hotkey     *hotkey.EvdevSource
	// History is nil when transcript history is disabled.
	History *history.Store
	// API is nil when no control address is configured.
	API *api.Server

	pipeline *livePipeline
	log      zerolog.Logger
}

// Options override parts of the graph. Zero values use the system
// implementations.
type Options struct {
	ConfigPath string
	// Config, when set, is used instead of loading ConfigPath. Reloads
	// still read ConfigPath.
	Config    *config.Config
	Events    ports.EventSink
	Clipboard ports.Clipboard
	Audio     ports.AudioSource
	Logger    *zerolog.Logger
}

// Build loads configuration and wires all runtime dependencies. The
// initial backend is resolved before the controller is created.
func Build(ctx context.Context, opts Options) (*Services, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger := pushlog.WithComponent("bootstrap")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	pipeline, err := buildPipeline(cfg.PostProcess)
	if err != nil {
		return nil, err
	}
	live := &livePipeline{}
	live.current.Store(pipeline)

	watcher := config.NewWatcher(cfg, func() (config.Config, error) {
		return config.Load(opts.ConfigPath)
	}, nil)

	runtime := parakeet.NewRuntime(parakeetConfig(cfg.Provider.Parakeet), nil)
	probe := capability.New(capability.Options{
		AudioCommand: cfg.Audio.RecorderCommand,
		AudioDevices: cfg.Audio.DeviceDir,
		Whisper:      whisperConfig(cfg.Provider.Whisper),
		Runtime:      runtime,
		Cloud:        watcher,
		NetworkAddr:  cfg.Provider.NetworkProbe,
	})
	resolver := provider.NewService(provider.Options{
		Requested:    func() domain.BackendKind { return watcher.Current().Provider.Requested },
		Capabilities: probe,
		Backends:     newBackendRegistry(watcher),
		MinInterval:  cfg.Provider.ResolveInterval,
	})

	backend, diag, err := resolver.Initial(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve initial backend: %w", err)
	}
	logger.Info().
		Str("event", "bootstrap.backend").
		Str("requested", string(diag.Requested)).
		Str("effective", string(diag.Effective)).
		Str("health", string(diag.Health)).
		Str("fallback_reason", string(diag.FallbackReason)).
		Msg("initial speech backend resolved")

	clipboard := opts.Clipboard
	if clipboard == nil {
		system := inject.NewSystemClipboard()
		if system.Unsupported() {
			logger.Warn().Str("event", "bootstrap.clipboard_unsupported").Msg("no clipboard utility found; install wl-clipboard, xclip or xsel")
		}
		clipboard = system
	}
	focus := inject.NewXdotoolTarget(cfg.Inject.Xdotool, cfg.Inject.PasteOnly)
	injector := inject.New(focus, clipboard, inject.NewKeybdPaster(), inject.Options{
		PasteDelay:   cfg.Inject.PasteDelay,
		RestoreDelay: cfg.Inject.RestoreDelay,
	})

	capture := opts.Audio
	if capture == nil {
		capture = audio.NewFFmpegCapture(ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
			FrameSize:   cfg.Audio.FrameSize,
		}, audio.Options{
			Command:       cfg.Audio.RecorderCommand,
			LevelInterval: cfg.Audio.LevelInterval,
			DeviceDir:     cfg.Audio.DeviceDir,
		})
	}

	var (
		store *history.Store
		sink  ports.HistorySink
	)
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Warn().Err(err).Str("event", "bootstrap.history_unavailable").Str("path", cfg.History.Path).Msg("transcript history disabled")
			store = nil
		} else {
			sink = store
		}
	}

	controller := usecase.NewSessionController(usecase.Deps{
		Audio:     capture,
		Backend:   backend,
		Processor: live,
		Injector:  injector,
		Clipboard: clipboard,
		Focus:     focus,
		History:   sink,
		Events:    opts.Events,
	}, usecase.Config{
		ResultTimeout: cfg.EffectiveResultTimeout(),
		SuccessHold:   cfg.Session.SuccessHold,
		ErrorHold:     cfg.Session.ErrorHold,
		AutoInsert:    cfg.Inject.AutoInsert,
	})
	resolver.Attach(controller)

	keys, err := hotkey.NewEvdevSource(hotkey.Config{
		Binding: cfg.Hotkey.Binding,
		MinHold: cfg.Hotkey.MinHold,
		Devices: cfg.Hotkey.Devices,
	}, nil)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("hotkey: %w", err)
	}

	s := &Services{
		Config:     watcher,
		Controller: controller,
		Resolver:   resolver,
		Runtime:    runtime,
		Probe:      probe,
		Hotkey:     keys,
		History:    store,
		pipeline:   live,
		log:        logger,
	}

	if cfg.Control.Listen != "" {
		var lister api.HistoryLister
		if store != nil {
			lister = store
		}
		router := api.NewRouter(api.Options{
			Controller:  controller,
			Diagnostics: resolver.Store(),
			History:     lister,
			Provider:    s,
			RateLimit:   cfg.Control.RateLimit,
		})
		s.API = api.NewServer(cfg.Control.Listen, router, nil)
	}

	s.observe()
	return s, nil
}

// observe routes runtime and configuration changes to the components that
// react to them.
func (s *Services) observe() {
	var lastModel atomic.Value
	lastModel.Store(s.Runtime.Status().Model)
	s.Runtime.Observe(func(status parakeet.Status) {
		s.Resolver.Notify(domain.ChangeRuntimeBootstrap)
		if lastModel.Swap(status.Model) != status.Model {
			s.Resolver.Notify(domain.ChangeModelDownload)
		}
	})

	s.Config.Subscribe(func(u config.Update) {
		for _, kind := range u.Kinds {
			if kind == domain.ChangeHotkeyBinding {
				if err := s.Hotkey.Rebind(u.Config.Hotkey.Binding); err != nil {
					s.log.Warn().Err(err).Str("event", "bootstrap.rebind_failed").Msg("keeping previous hotkey binding")
				}
			}
			s.Probe.Invalidate()
			s.Resolver.Notify(kind)
		}
		if u.Pipeline {
			p, err := buildPipeline(u.Config.PostProcess)
			if err != nil {
				s.log.Warn().Err(err).Str("event", "bootstrap.pipeline_reload_failed").Msg("keeping previous post-processing settings")
				return
			}
			s.pipeline.current.Store(p)
			s.log.Info().Str("event", "bootstrap.pipeline_reloaded").Strs("stages", p.Stages()).Msg("post-processing reloaded")
		}
	})
}

// SelectProvider persists kind as the requested backend and triggers a
// resolution even when the selection did not change.
func (s *Services) SelectProvider(kind domain.BackendKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", api.ErrUnknownBackend, kind)
	}
	cfg := s.Config.Current()
	if err := config.SaveState(cfg.StatePath, config.State{Provider: kind}); err != nil {
		return fmt.Errorf("persist provider selection: %w", err)
	}
	update := s.Config.Apply(func(c *config.Config) { c.Provider.Requested = kind })
	if !slices.Contains(update.Kinds, domain.ChangeBackendSelection) {
		s.Resolver.Notify(domain.ChangeBackendSelection)
	}
	return nil
}

// PermissionsChanged drops cached capability probes and re-resolves.
func (s *Services) PermissionsChanged() {
	s.Probe.Invalidate()
	s.Resolver.Notify(domain.ChangePermission)
}

// Close releases resources that outlive the run loops.
func (s *Services) Close() error {
	if s.History == nil {
		return nil
	}
	return s.History.Close()
}

func closeStore(store *history.Store) {
	if store != nil {
		_ = store.Close()
	}
}

// newBackendRegistry registers one factory per backend kind. Factories
// read the live configuration so reloads apply to the next construction.
func newBackendRegistry(watcher *config.Watcher) *registry.Registry[ports.SpeechBackend] {
	reg := registry.New[ports.SpeechBackend]()
	reg.Register(string(domain.BackendPlaceholder), func() (ports.SpeechBackend, error) {
		return placeholder.New(watcher.Current().Provider.Placeholder.Delay), nil
	})
	reg.Register(string(domain.BackendWhisper), func() (ports.SpeechBackend, error) {
		cfg := watcher.Current().Provider.Whisper
		return whisper.New(whisperConfig(cfg), batch.Options{Timeout: cfg.Timeout}), nil
	})
	reg.Register(string(domain.BackendParakeet), func() (ports.SpeechBackend, error) {
		cfg := watcher.Current().Provider.Parakeet
		return parakeet.New(parakeetConfig(cfg), batch.Options{Timeout: cfg.Timeout}), nil
	})
	reg.Register(string(domain.BackendDeepgram), func() (ports.SpeechBackend, error) {
		cfg := watcher.Current()
		dg := cfg.Provider.Deepgram
		return deepgram.New(deepgram.Config{
			APIKey:         dg.APIKey,
			APIBaseURL:     dg.APIBaseURL,
			Model:          dg.Model,
			Language:       dg.Language,
			SmartFormat:    dg.SmartFormat,
			InterimResults: dg.InterimResults,
			SampleRate:     cfg.Audio.SampleRate,
		}, nil), nil
	})
	return reg
}

func whisperConfig(cfg config.WhisperConfig) whisper.Config {
	return whisper.Config{
		Binary:   cfg.Binary,
		Model:    cfg.Model,
		Language: cfg.Language,
		Threads:  cfg.Threads,
	}
}

func parakeetConfig(cfg config.ParakeetConfig) parakeet.Config {
	return parakeet.Config{
		Python:    cfg.Python,
		Script:    cfg.Script,
		Model:     cfg.Model,
		Tokenizer: cfg.Tokenizer,
	}
}

func buildPipeline(cfg config.PostProcessConfig) (*postprocess.Pipeline, error) {
	lib, err := postprocess.LoadLibrary(cfg.LibraryFile)
	if err != nil {
		return nil, err
	}
	dict, err := rules.Load(lib.Dictionary, cfg.DictionaryFile, cfg.IterationLimit)
	if err != nil {
		return nil, fmt.Errorf("compile dictionary: %w", err)
	}
	return postprocess.NewPipeline(postprocess.Config{
		Enabled:       cfg.Enabled,
		VoiceCommands: cfg.VoiceCommands,
		DeveloperMode: cfg.DeveloperMode,
		Language:      cfg.Language,
		Dictionary:    dict,
		Snippets:      lib.Snippets,
		Profiles:      lib.Profiles,
	}), nil
}

// livePipeline lets configuration reloads replace post-processing under a
// running controller.
type livePipeline struct {
	current atomic.Pointer[postprocess.Pipeline]
}

func (l *livePipeline) Process(text string, pctx domain.ProcessContext) string {
	return l.current.Load().Process(text, pctx)
}
