package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
)

// Update describes one applied configuration change.
type Update struct {
	Config Config
	Kinds  []domain.ChangeKind
	// Pipeline is set when post-processing settings or files changed.
	Pipeline bool
}

func (u Update) empty() bool { return len(u.Kinds) == 0 && !u.Pipeline }

// Watcher owns the live configuration. It reloads when the config file,
// dictionary rules or text library change on disk, and accepts in-process
// edits through Apply.
type Watcher struct {
	load     func() (Config, error)
	debounce time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	current   Config
	listeners []func(Update)
}

func NewWatcher(initial Config, load func() (Config, error), logger *zerolog.Logger) *Watcher {
	l := pushlog.WithComponent("config")
	if logger != nil {
		l = *logger
	}
	return &Watcher{load: load, debounce: 500 * time.Millisecond, log: l, current: initial}
}

func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe registers fn for every non-empty update.
func (w *Watcher) Subscribe(fn func(Update)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Watcher) CloudEnabled() bool      { return w.Current().Provider.CloudEnabled }
func (w *Watcher) CloudCredential() string { return w.Current().Provider.Deepgram.APIKey }

// Apply edits the live configuration in memory and notifies listeners.
func (w *Watcher) Apply(edit func(*Config)) Update {
	w.mu.Lock()
	next := w.current
	edit(&next)
	return w.swapLocked(next, false)
}

// Reload re-reads configuration from disk. On error the current
// configuration stays in effect.
func (w *Watcher) Reload(filesChanged bool) (Update, error) {
	next, err := w.load()
	if err != nil {
		return Update{}, err
	}
	w.mu.Lock()
	return w.swapLocked(next, filesChanged)
}

// swapLocked installs next and notifies listeners after unlocking.
func (w *Watcher) swapLocked(next Config, filesChanged bool) Update {
	update := diff(w.current, next)
	update.Pipeline = update.Pipeline || filesChanged
	w.current = next
	listeners := append([]func(Update){}, w.listeners...)
	w.mu.Unlock()

	if update.empty() {
		return update
	}
	w.log.Info().
		Str("event", "config.changed").
		Interface("kinds", update.Kinds).
		Bool("pipeline", update.Pipeline).
		Msg("configuration changed")
	for _, fn := range listeners {
		fn(update)
	}
	return update
}

func diff(prev, next Config) Update {
	u := Update{Config: next}
	if prev.Hotkey != next.Hotkey {
		u.Kinds = append(u.Kinds, domain.ChangeHotkeyBinding)
	}
	if prev.Provider != next.Provider {
		u.Kinds = append(u.Kinds, domain.ChangeBackendSelection)
	}
	if prev.PostProcess != next.PostProcess {
		u.Pipeline = true
	}
	return u
}

// Run watches the files until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	cfg := w.Current()
	targets := map[string]bool{}
	for _, p := range []string{cfg.Path, cfg.PostProcess.DictionaryFile, cfg.PostProcess.LibraryFile} {
		if p != "" {
			targets[filepath.Clean(p)] = true
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Directories, not files: editors replace files by rename.
	watched := 0
	dirs := map[string]bool{}
	for p := range targets {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			w.log.Warn().Err(err).Str("event", "config.watch_failed").Str("dir", dir).Msg("cannot watch directory")
			continue
		}
		watched++
	}
	w.log.Info().Str("event", "config.watcher_started").Int("dirs", watched).Msg("watching configuration files")

	var (
		timer *time.Timer
		fire  <-chan time.Time
		files bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if !targets[name] || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			w.log.Debug().Str("event", "config.file_changed").Str("path", name).Str("op", event.Op.String()).Msg("watched file changed")
			if name != filepath.Clean(cfg.Path) {
				files = true
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if _, err := w.Reload(files); err != nil {
				w.log.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic config reload failed")
			}
			files = false

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}
