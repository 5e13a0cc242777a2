package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
)

type updates struct {
	mu   sync.Mutex
	seen []Update
}

func (u *updates) add(update Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.seen = append(u.seen, update)
}

func (u *updates) all() []Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Update(nil), u.seen...)
}

func newTestWatcher(initial Config, load func() (Config, error)) *Watcher {
	logger := pushlog.Nop()
	w := NewWatcher(initial, load, &logger)
	w.debounce = 20 * time.Millisecond
	return w
}

func TestWatcherApplyNotifiesBackendSelection(t *testing.T) {
	t.Parallel()

	w := newTestWatcher(Default(t.TempDir()), nil)
	got := &updates{}
	w.Subscribe(got.add)

	update := w.Apply(func(c *Config) { c.Provider.Requested = domain.BackendDeepgram })
	assert.Equal(t, []domain.ChangeKind{domain.ChangeBackendSelection}, update.Kinds)
	assert.False(t, update.Pipeline)
	assert.Equal(t, domain.BackendDeepgram, w.Current().Provider.Requested)

	// No-op edits stay quiet.
	w.Apply(func(c *Config) { c.Provider.Requested = domain.BackendDeepgram })
	assert.Len(t, got.all(), 1)

	w.Apply(func(c *Config) {
		c.Provider.CloudEnabled = true
		c.Provider.Deepgram.APIKey = "k"
	})
	assert.True(t, w.CloudEnabled())
	assert.Equal(t, "k", w.CloudCredential())
}

func TestWatcherDiff(t *testing.T) {
	t.Parallel()

	base := Default(t.TempDir())
	next := base
	next.Hotkey.Binding = "f9"
	next.PostProcess.DeveloperMode = true

	u := diff(base, next)
	assert.Equal(t, []domain.ChangeKind{domain.ChangeHotkeyBinding}, u.Kinds)
	assert.True(t, u.Pipeline)
	assert.True(t, diff(base, base).empty())
}

func TestWatcherReloadKeepsCurrentOnError(t *testing.T) {
	t.Parallel()

	initial := Default(t.TempDir())
	w := newTestWatcher(initial, func() (Config, error) { return Config{}, errors.New("bad yaml") })

	_, err := w.Reload(false)
	assert.Error(t, err)
	assert.Equal(t, "right_alt", w.Current().Hotkey.Binding)
}

func TestWatcherRunReloadsOnFileChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dict := filepath.Join(dir, "substitutions.rules")
	writeFile(t, path, "hotkey:\n  binding: right_alt\n")

	load := func() (Config, error) {
		cfg := Default(dir)
		cfg.PostProcess.DictionaryFile = dict
		found, err := readFile(path, &cfg)
		if err == nil && !found {
			err = errors.New("config vanished")
		}
		cfg.Path = path
		return cfg, err
	}
	initial, err := load()
	require.NoError(t, err)

	w := newTestWatcher(initial, load)
	got := &updates{}
	w.Subscribe(got.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("hotkey:\n  binding: f9\n"), 0o600))
	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.ChangeKind{domain.ChangeHotkeyBinding}, got.all()[0].Kinds)
	assert.Equal(t, "f9", w.Current().Hotkey.Binding)

	require.NoError(t, os.WriteFile(dict, []byte("teh => the\n"), 0o600))
	require.Eventually(t, func() bool { return len(got.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, got.all()[1].Pipeline)
	assert.Empty(t, got.all()[1].Kinds)
}
