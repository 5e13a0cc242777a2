// Package inject delivers final text to the focused application: direct
// insertion first, then a clipboard paste that puts the user's clipboard
// back afterwards.
package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/metrics"
	"pushtalk/internal/ports"
)

var (
	ErrDirectInsertUnavailable = errors.New("direct insertion unavailable for focused application")
	ErrNoPasteRoute            = errors.New("no clipboard or key sender configured")
)

type Options struct {
	// PasteDelay lets the clipboard owner settle before the shortcut.
	PasteDelay time.Duration
	// RestoreDelay lets the target application read the clipboard.
	RestoreDelay time.Duration
	Logger       *zerolog.Logger
}

type Injector struct {
	focus     ports.FocusTarget
	clipboard ports.Clipboard
	keys      ports.KeySender
	opts      Options
	log       zerolog.Logger
}

func New(focus ports.FocusTarget, clipboard ports.Clipboard, keys ports.KeySender, opts Options) *Injector {
	if opts.PasteDelay <= 0 {
		opts.PasteDelay = 80 * time.Millisecond
	}
	if opts.RestoreDelay <= 0 {
		opts.RestoreDelay = 120 * time.Millisecond
	}
	l := pushlog.WithComponent("inject")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Injector{focus: focus, clipboard: clipboard, keys: keys, opts: opts, log: l}
}

func (i *Injector) Inject(ctx context.Context, text string) (domain.InjectionMethod, error) {
	if i.focus != nil {
		err := i.focus.InsertText(ctx, text)
		if err == nil {
			return domain.InjectionMethodDirect, nil
		}
		if !errors.Is(err, ErrDirectInsertUnavailable) {
			i.log.Warn().Err(err).Str("event", "inject.direct_failed").Msg("direct insertion failed, falling back to paste")
		}
	}
	return domain.InjectionMethodPaste, i.paste(ctx, text)
}

func (i *Injector) paste(ctx context.Context, text string) error {
	if i.clipboard == nil || i.keys == nil {
		return ErrNoPasteRoute
	}

	snapshot, snapErr := i.clipboard.Snapshot()
	if snapErr != nil {
		i.log.Warn().Err(snapErr).Str("event", "inject.snapshot_failed").Msg("clipboard will not be restored")
	}

	written, err := i.clipboard.WriteText(text)
	if err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := sleep(ctx, i.opts.PasteDelay); err != nil {
		i.restore(snapshot, snapErr, written)
		return err
	}

	pasteErr := i.keys.Paste(ctx)
	if pasteErr == nil {
		// The target reads the clipboard asynchronously after the shortcut.
		_ = sleep(ctx, i.opts.RestoreDelay)
	}
	i.restore(snapshot, snapErr, written)
	if pasteErr != nil {
		return fmt.Errorf("send paste shortcut: %w", pasteErr)
	}
	return nil
}

// restore puts the snapshot back unless someone wrote to the clipboard
// after our own write.
func (i *Injector) restore(snapshot ports.ClipboardSnapshot, snapErr error, written int64) {
	if snapErr != nil {
		metrics.IncClipboardRestore("no_snapshot")
		return
	}
	current, err := i.clipboard.ChangeCount()
	if err != nil {
		metrics.IncClipboardRestore("failed")
		i.log.Warn().Err(err).Str("event", "inject.change_count_failed").Msg("clipboard not restored")
		return
	}
	if current != written {
		metrics.IncClipboardRestore("skipped")
		i.log.Info().
			Str("event", "inject.restore_skipped").
			Int64("written", written).
			Int64("current", current).
			Msg("clipboard changed during injection, leaving it alone")
		return
	}
	if err := i.clipboard.Restore(snapshot); err != nil {
		metrics.IncClipboardRestore("failed")
		i.log.Warn().Err(err).Str("event", "inject.restore_failed").Msg("clipboard restore failed")
		return
	}
	metrics.IncClipboardRestore("restored")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ ports.Injector    = (*Injector)(nil)
	_ ports.FocusTarget = (*XdotoolTarget)(nil)
	_ ports.KeySender   = (*KeybdPaster)(nil)
)
