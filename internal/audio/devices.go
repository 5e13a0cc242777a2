package audio

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchDevices reports the first sound device node that appears or goes
// away during a capture. The watch ends with the capture.
func (c *capture) watchDevices(dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-c.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				c.log.Info().
					Str("event", "audio.device_changed").
					Str("path", event.Name).
					Str("op", event.Op.String()).
					Msg("sound device changed during capture")
				c.handler.Interrupted("input device changed: " + filepath.Base(event.Name))
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn().Err(err).Str("event", "audio.device_watch_error").Msg("device watcher error")
			}
		}
	}()
	return nil
}
