// Package config resolves pushtalk settings from defaults, an optional YAML
// file, the persisted backend selection and environment overrides, in that
// order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pushtalk/internal/domain"
	"pushtalk/internal/hotkey"
)

type Config struct {
	Log         LogConfig         `yaml:"log"`
	Hotkey      HotkeyConfig      `yaml:"hotkey"`
	Audio       AudioConfig       `yaml:"audio"`
	Session     SessionConfig     `yaml:"session"`
	Provider    ProviderConfig    `yaml:"provider"`
	PostProcess PostProcessConfig `yaml:"postprocess"`
	Inject      InjectConfig      `yaml:"inject"`
	Control     ControlConfig     `yaml:"control"`
	History     HistoryConfig     `yaml:"history"`

	// Path is the file the config was read from; empty when none existed.
	Path string `yaml:"-"`
	// StatePath holds the persisted backend selection.
	StatePath string `yaml:"state_file"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type HotkeyConfig struct {
	Binding string        `yaml:"binding"`
	MinHold time.Duration `yaml:"min_hold"`
	Devices string        `yaml:"devices"`
}

type AudioConfig struct {
	RecorderCommand string        `yaml:"command"`
	InputFormat     string        `yaml:"input_format"`
	InputDevice     string        `yaml:"input_device"`
	SampleRate      int           `yaml:"sample_rate"`
	Channels        int           `yaml:"channels"`
	FrameSize       int           `yaml:"frame_size"`
	DeviceDir       string        `yaml:"device_dir"`
	LevelInterval   time.Duration `yaml:"level_interval"`
}

type SessionConfig struct {
	// ResultTimeout of zero follows the slowest local backend, see
	// EffectiveResultTimeout.
	ResultTimeout time.Duration `yaml:"result_timeout"`
	SuccessHold   time.Duration `yaml:"success_hold"`
	// ErrorHold of zero keeps errors on screen until acknowledged.
	ErrorHold time.Duration `yaml:"error_hold"`
}

type ProviderConfig struct {
	Requested       domain.BackendKind `yaml:"requested"`
	CloudEnabled    bool               `yaml:"cloud_enabled"`
	ResolveInterval time.Duration      `yaml:"resolve_interval"`
	NetworkProbe    string             `yaml:"network_probe"`
	Placeholder     PlaceholderConfig  `yaml:"placeholder"`
	Deepgram        DeepgramConfig     `yaml:"deepgram"`
	Whisper         WhisperConfig      `yaml:"whisper"`
	Parakeet        ParakeetConfig     `yaml:"parakeet"`
}

type PlaceholderConfig struct {
	Delay time.Duration `yaml:"delay"`
}

type DeepgramConfig struct {
	APIKey         string `yaml:"api_key"`
	APIBaseURL     string `yaml:"api_base_url"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	SmartFormat    bool   `yaml:"smart_format"`
	InterimResults bool   `yaml:"interim_results"`
}

type WhisperConfig struct {
	Binary   string        `yaml:"binary"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Threads  int           `yaml:"threads"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ParakeetConfig struct {
	Python    string        `yaml:"python"`
	Script    string        `yaml:"script"`
	Model     string        `yaml:"model"`
	Tokenizer string        `yaml:"tokenizer"`
	Timeout   time.Duration `yaml:"timeout"`
}

type PostProcessConfig struct {
	Enabled        bool   `yaml:"enabled"`
	VoiceCommands  bool   `yaml:"voice_commands"`
	DeveloperMode  bool   `yaml:"developer_mode"`
	Language       string `yaml:"language"`
	DictionaryFile string `yaml:"dictionary_file"`
	IterationLimit int    `yaml:"iteration_limit"`
	// LibraryFile holds dictionary pairs, snippets and style profiles.
	LibraryFile string `yaml:"library_file"`
}

type InjectConfig struct {
	AutoInsert   bool          `yaml:"auto_insert"`
	Xdotool      string        `yaml:"xdotool"`
	PasteOnly    []string      `yaml:"paste_only"`
	PasteDelay   time.Duration `yaml:"paste_delay"`
	RestoreDelay time.Duration `yaml:"restore_delay"`
}

type ControlConfig struct {
	Listen string `yaml:"listen"`
	// RateLimit is the number of mutating requests allowed per minute per
	// client address.
	RateLimit int `yaml:"rate_limit"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in settings rooted at home.
func Default(home string) Config {
	configDir := filepath.Join(home, ".config", "pushtalk")
	dataDir := filepath.Join(home, ".local", "share", "pushtalk")
	return Config{
		Log: LogConfig{Level: "info"},
		Hotkey: HotkeyConfig{
			Binding: "right_alt",
			MinHold: 150 * time.Millisecond,
			Devices: hotkey.DefaultDevices,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			FrameSize:       320,
			DeviceDir:       "/dev/snd",
			LevelInterval:   50 * time.Millisecond,
		},
		Session: SessionConfig{
			SuccessHold: 1500 * time.Millisecond,
			ErrorHold:   4 * time.Second,
		},
		Provider: ProviderConfig{
			Requested:       domain.BackendWhisper,
			ResolveInterval: 250 * time.Millisecond,
			NetworkProbe:    "api.deepgram.com:443",
			Placeholder:     PlaceholderConfig{Delay: 150 * time.Millisecond},
			Deepgram: DeepgramConfig{
				APIBaseURL:  "https://api.deepgram.com/v1",
				Model:       "nova-2",
				SmartFormat: true,
			},
			Whisper: WhisperConfig{
				Binary:   "whisper-cli",
				Model:    filepath.Join(dataDir, "models", "ggml-base.en.bin"),
				Language: "en",
				Timeout:  60 * time.Second,
			},
			Parakeet: ParakeetConfig{
				Python:  "python3",
				Script:  filepath.Join(dataDir, "parakeet", "parakeet_infer.py"),
				Model:   filepath.Join(dataDir, "models", "parakeet-tdt-0.6b.onnx"),
				Timeout: 60 * time.Second,
			},
		},
		PostProcess: PostProcessConfig{
			Enabled:       true,
			VoiceCommands: true,
			Language:      "en",
			DictionaryFile: firstExisting(
				filepath.Join(configDir, "substitutions.rules"),
				filepath.Join(home, ".config", "hypr", "whisper-substitutions.rules"),
			),
			IterationLimit: 30,
			LibraryFile:    filepath.Join(configDir, "library.yaml"),
		},
		Inject: InjectConfig{
			AutoInsert:   true,
			Xdotool:      "xdotool",
			PasteOnly:    []string{"kitty", "alacritty", "gnome-terminal-server", "konsole", "org.wezfurlong.wezterm"},
			PasteDelay:   80 * time.Millisecond,
			RestoreDelay: 120 * time.Millisecond,
		},
		Control: ControlConfig{
			Listen:    "127.0.0.1:7331",
			RateLimit: 30,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history.db"),
		},
		StatePath: filepath.Join(home, ".local", "state", "pushtalk", "state.yaml"),
	}
}

// DefaultPath is where Load looks when PUSHTALK_CONFIG is unset.
func DefaultPath(home string) string {
	return filepath.Join(home, ".config", "pushtalk", "config.yaml")
}

// Load resolves configuration. An explicit path must exist; the default
// path may be absent.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	cfg := Default(home)

	explicit := firstNonEmpty(path, os.Getenv("PUSHTALK_CONFIG"))
	file := explicit
	if file == "" {
		file = DefaultPath(home)
	}
	found, err := readFile(file, &cfg)
	switch {
	case err != nil:
		return Config{}, err
	case found:
		cfg.Path = file
	case explicit != "":
		return Config{}, fmt.Errorf("config file %q not found", explicit)
	}

	cfg.StatePath = envOrDefault("PUSHTALK_STATE_FILE", cfg.StatePath)
	state, err := LoadState(cfg.StatePath)
	if err != nil {
		return Config{}, err
	}
	if state.Provider != "" {
		cfg.Provider.Requested = state.Provider
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("parse config %q: %w", path, err)
	}
	return true, nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = firstNonEmpty(os.Getenv("LOG_LEVEL"), os.Getenv("PUSHTALK_LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.File = envOrDefault("PUSHTALK_LOG_FILE", cfg.Log.File)

	cfg.Hotkey.Binding = envOrDefault("PUSHTALK_HOTKEY", cfg.Hotkey.Binding)
	cfg.Hotkey.MinHold = envOrDefaultMillis("PUSHTALK_HOTKEY_MIN_HOLD_MS", cfg.Hotkey.MinHold)

	cfg.Audio.RecorderCommand = envOrDefault("PUSHTALK_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("PUSHTALK_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("PUSHTALK_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("PUSHTALK_SAMPLE_RATE", cfg.Audio.SampleRate)

	cfg.Session.ResultTimeout = envOrDefaultMillis("PUSHTALK_RESULT_TIMEOUT_MS", cfg.Session.ResultTimeout)

	cfg.Provider.Requested = domain.BackendKind(envOrDefault("PUSHTALK_PROVIDER", string(cfg.Provider.Requested)))
	cfg.Provider.CloudEnabled = envOrDefaultBool("PUSHTALK_CLOUD_ENABLED", cfg.Provider.CloudEnabled)
	cfg.Provider.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Provider.Deepgram.APIKey)
	cfg.Provider.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Provider.Deepgram.APIBaseURL)
	cfg.Provider.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Provider.Deepgram.Model)
	cfg.Provider.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Provider.Deepgram.Language)
	cfg.Provider.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Provider.Deepgram.SmartFormat)
	cfg.Provider.Whisper.Binary = envOrDefault("PUSHTALK_WHISPER_BINARY", cfg.Provider.Whisper.Binary)
	cfg.Provider.Whisper.Model = envOrDefault("PUSHTALK_WHISPER_MODEL", cfg.Provider.Whisper.Model)
	cfg.Provider.Parakeet.Python = envOrDefault("PUSHTALK_PARAKEET_PYTHON", cfg.Provider.Parakeet.Python)
	cfg.Provider.Parakeet.Model = envOrDefault("PUSHTALK_PARAKEET_MODEL", cfg.Provider.Parakeet.Model)

	cfg.PostProcess.DictionaryFile = envOrDefault("PUSHTALK_RULES_FILE", cfg.PostProcess.DictionaryFile)
	cfg.PostProcess.IterationLimit = envOrDefaultInt("PUSHTALK_RULE_ITERATION_LIMIT", cfg.PostProcess.IterationLimit)

	cfg.Inject.AutoInsert = envOrDefaultBool("PUSHTALK_AUTO_INSERT", cfg.Inject.AutoInsert)
	cfg.Control.Listen = envOrDefault("PUSHTALK_LISTEN", cfg.Control.Listen)
	cfg.History.Path = envOrDefault("PUSHTALK_HISTORY_PATH", cfg.History.Path)
}

// Validate rejects settings no component could run with. An unknown
// backend kind is left to the resolver, which reports it as a fallback.
func (c Config) Validate() error {
	var errs []error
	if _, err := hotkey.ParseBinding(c.Hotkey.Binding); err != nil {
		errs = append(errs, fmt.Errorf("hotkey.binding: %w", err))
	}
	if c.Hotkey.MinHold < 0 {
		errs = append(errs, errors.New("hotkey.min_hold must not be negative"))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Session.ResultTimeout < 0 {
		errs = append(errs, errors.New("session.result_timeout must not be negative"))
	}
	if c.Session.SuccessHold < 0 || c.Session.ErrorHold < 0 {
		errs = append(errs, errors.New("session hold durations must not be negative"))
	}
	if c.PostProcess.IterationLimit <= 0 {
		errs = append(errs, errors.New("postprocess.iteration_limit must be positive"))
	}
	if c.Control.RateLimit < 0 {
		errs = append(errs, errors.New("control.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// resultTimeoutMargin covers process startup and decoding on top of the
// backend's own deadline.
const resultTimeoutMargin = 5 * time.Second

// EffectiveResultTimeout is how long the orchestrator waits for a final
// result. Unless set explicitly it outlasts the whisper and parakeet
// deadlines, so a slow local transcription fails inside the backend with
// its own error rather than as an orchestrator timeout.
func (c Config) EffectiveResultTimeout() time.Duration {
	if c.Session.ResultTimeout > 0 {
		return c.Session.ResultTimeout
	}
	return max(c.Provider.Whisper.Timeout, c.Provider.Parakeet.Timeout) + resultTimeoutMargin
}

// CloudEnabled and CloudCredential let the capability probe read live
// cloud settings.
func (c Config) CloudEnabled() bool      { return c.Provider.CloudEnabled }
func (c Config) CloudCredential() string { return c.Provider.Deepgram.APIKey }

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
