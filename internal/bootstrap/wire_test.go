package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/config"
	"pushtalk/internal/domain"
	"pushtalk/internal/ports"
)

var envKeys = []string{
	"PUSHTALK_CONFIG", "PUSHTALK_STATE_FILE", "PUSHTALK_PROVIDER", "PUSHTALK_CLOUD_ENABLED",
	"DEEPGRAM_API_KEY", "PUSHTALK_RULES_FILE", "PUSHTALK_LISTEN", "PUSHTALK_HISTORY_PATH",
	"PUSHTALK_HOTKEY", "PUSHTALK_FFMPEG_COMMAND",
}

type fixture struct {
	dir    string
	config string
	state  string
}

// newFixture isolates HOME and writes a config whose microphone check
// passes without ffmpeg installed.
func newFixture(t *testing.T, provider string) fixture {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, key := range envKeys {
		t.Setenv(key, "")
	}

	f := fixture{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		state:  filepath.Join(dir, "state", "state.yaml"),
	}
	contents := "audio:\n" +
		"  command: sh\n" +
		"  device_dir: " + dir + "\n" +
		"provider:\n" +
		"  requested: " + provider + "\n" +
		"control:\n" +
		"  listen: \"\"\n" +
		"history:\n" +
		"  path: " + filepath.Join(dir, "history.db") + "\n" +
		"state_file: " + f.state + "\n"
	require.NoError(t, os.WriteFile(f.config, []byte(contents), 0o600))
	return f
}

func quiet() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func build(t *testing.T, f fixture) *Services {
	t.Helper()
	services, err := Build(context.Background(), Options{
		ConfigPath: f.config,
		Clipboard:  &memClipboard{},
		Audio:      silentAudio{},
		Logger:     quiet(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })
	return services
}

func TestBuildSuccess(t *testing.T) {
	f := newFixture(t, "placeholder")
	services := build(t, f)

	require.NotNil(t, services.Controller)
	require.NotNil(t, services.History)
	assert.Nil(t, services.API)
	assert.Equal(t, domain.SessionStateIdle, services.Controller.Status().State)
	assert.Equal(t, "Placeholder (simulated)", services.Controller.Status().Backend)

	diag, ok := services.Resolver.Store().Current()
	require.True(t, ok)
	assert.Equal(t, domain.BackendPlaceholder, diag.Effective)
	assert.Equal(t, domain.HealthHealthy, diag.Health)
}

func TestBuildUsesPreloadedConfig(t *testing.T) {
	f := newFixture(t, "placeholder")
	cfg, err := config.Load(f.config)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.config))

	services, err := Build(context.Background(), Options{
		ConfigPath: f.config,
		Config:     &cfg,
		Clipboard:  &memClipboard{},
		Audio:      silentAudio{},
		Logger:     quiet(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })
	assert.Equal(t, domain.BackendPlaceholder, services.Config.Current().Provider.Requested)

	_, err = Build(context.Background(), Options{ConfigPath: f.config, Clipboard: &memClipboard{}, Audio: silentAudio{}, Logger: quiet()})
	require.Error(t, err, "without a preloaded config the missing file is read")
}

func TestBuildFallsBackWhenCloudIsDisabled(t *testing.T) {
	f := newFixture(t, "deepgram")
	services := build(t, f)

	diag, ok := services.Resolver.Store().Current()
	require.True(t, ok)
	assert.Equal(t, domain.BackendDeepgram, diag.Requested)
	assert.Equal(t, domain.BackendWhisper, diag.Effective)
	assert.Equal(t, domain.FallbackCloudDisabled, diag.FallbackReason)
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	f := newFixture(t, "placeholder")
	rules := filepath.Join(f.dir, "bad.rules")
	require.NoError(t, os.WriteFile(rules, []byte("not a valid rule\n"), 0o600))
	t.Setenv("PUSHTALK_RULES_FILE", rules)

	_, err := Build(context.Background(), Options{ConfigPath: f.config, Clipboard: &memClipboard{}, Audio: silentAudio{}, Logger: quiet()})
	require.Error(t, err)
}

func TestSelectProviderPersistsAndReresolves(t *testing.T) {
	f := newFixture(t, "whisper")
	services := build(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = services.Resolver.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	require.NoError(t, services.SelectProvider(domain.BackendPlaceholder))

	state, err := config.LoadState(f.state)
	require.NoError(t, err)
	assert.Equal(t, domain.BackendPlaceholder, state.Provider)
	assert.Equal(t, domain.BackendPlaceholder, services.Config.Current().Provider.Requested)

	require.Eventually(t, func() bool {
		diag, ok := services.Resolver.Store().Current()
		return ok && diag.Effective == domain.BackendPlaceholder
	}, 2*time.Second, 10*time.Millisecond)

	require.Error(t, services.SelectProvider("vosk"))
}

func TestPipelineReloadsOnConfigChange(t *testing.T) {
	f := newFixture(t, "placeholder")
	services := build(t, f)

	final := domain.ProcessContext{IsFinal: true}
	assert.Equal(t, "Hello, world", services.pipeline.Process("hello comma world", final))

	services.Config.Apply(func(c *config.Config) { c.PostProcess.VoiceCommands = false })
	assert.Equal(t, "Hello comma world", services.pipeline.Process("hello comma world", final))
}

func TestHotkeyRebindOnConfigChange(t *testing.T) {
	f := newFixture(t, "placeholder")
	services := build(t, f)

	update := services.Config.Apply(func(c *config.Config) { c.Hotkey.Binding = "ctrl+space" })
	assert.Contains(t, update.Kinds, domain.ChangeHotkeyBinding)

	// An invalid binding is rejected by the source and the old one stays.
	services.Config.Apply(func(c *config.Config) { c.Hotkey.Binding = "hyper+nothing" })
	assert.Equal(t, "hyper+nothing", services.Config.Current().Hotkey.Binding)
}

type silentAudio struct{}

func (silentAudio) Start(ports.AudioHandler) error { return nil }
func (silentAudio) Stop() error                    { return nil }

type memClipboard struct {
	mu      sync.Mutex
	text    string
	changes int64
}

func (c *memClipboard) Snapshot() (ports.ClipboardSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ports.ClipboardSnapshot{
		Items:       map[string][]byte{"text/plain;charset=utf-8": []byte(c.text)},
		ChangeCount: c.changes,
	}, nil
}

func (c *memClipboard) WriteText(text string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	c.changes++
	return c.changes, nil
}

func (c *memClipboard) ChangeCount() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes, nil
}

func (c *memClipboard) Restore(snapshot ports.ClipboardSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = string(snapshot.Items["text/plain;charset=utf-8"])
	c.changes++
	return nil
}
