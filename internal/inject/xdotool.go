package inject

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// XdotoolTarget types text into the focused X11 window. Applications in
// PasteOnly are reported as unavailable so the injector pastes instead;
// terminals and some Electron apps drop synthesized keystrokes.
type XdotoolTarget struct {
	Command   string
	PasteOnly []string
}

func NewXdotoolTarget(command string, pasteOnly []string) *XdotoolTarget {
	if command == "" {
		command = "xdotool"
	}
	return &XdotoolTarget{Command: command, PasteOnly: pasteOnly}
}

func (x *XdotoolTarget) InsertText(ctx context.Context, text string) error {
	if _, err := exec.LookPath(x.Command); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectInsertUnavailable, err)
	}
	app := x.FrontmostApp(ctx)
	if app == "" {
		return fmt.Errorf("%w: no focused window", ErrDirectInsertUnavailable)
	}
	for _, blocked := range x.PasteOnly {
		if strings.EqualFold(blocked, app) {
			return fmt.Errorf("%w: %s", ErrDirectInsertUnavailable, app)
		}
	}
	if _, err := x.run(ctx, "type", "--clearmodifiers", "--delay", "0", "--", text); err != nil {
		return fmt.Errorf("xdotool type: %w", err)
	}
	return nil
}

// FrontmostApp returns the lowercased window class of the focused window,
// or "" when it cannot be determined.
func (x *XdotoolTarget) FrontmostApp(ctx context.Context) string {
	out, err := x.run(ctx, "getactivewindow", "getwindowclassname")
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func (x *XdotoolTarget) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, x.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
