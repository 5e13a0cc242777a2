package inject

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Selection reads and writes typed clipboard contents.
type Selection interface {
	Targets() ([]string, error)
	Read(target string) ([]byte, error)
	Write(target string, data []byte) error
}

type runFunc func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// commandSelection drives wl-clipboard or xclip.
type commandSelection struct {
	list    []string
	read    func(target string) []string
	write   func(target string) []string
	run     runFunc
	timeout time.Duration
}

// DetectSelection returns the typed clipboard for the running session, or
// nil when neither wl-clipboard (under Wayland) nor xclip is installed.
func DetectSelection() Selection {
	return detectSelection(os.Getenv("WAYLAND_DISPLAY") != "", exec.LookPath, runCommand)
}

func detectSelection(wayland bool, lookPath func(string) (string, error), run runFunc) Selection {
	if wayland {
		_, pasteErr := lookPath("wl-paste")
		_, copyErr := lookPath("wl-copy")
		if pasteErr == nil && copyErr == nil {
			return waylandSelection(run)
		}
	}
	if _, err := lookPath("xclip"); err == nil {
		return xclipSelection(run)
	}
	return nil
}

func waylandSelection(run runFunc) *commandSelection {
	return &commandSelection{
		list: []string{"wl-paste", "--list-types"},
		read: func(target string) []string {
			return []string{"wl-paste", "--no-newline", "--type", target}
		},
		write: func(target string) []string {
			return []string{"wl-copy", "--type", target}
		},
		run:     run,
		timeout: 2 * time.Second,
	}
}

func xclipSelection(run runFunc) *commandSelection {
	return &commandSelection{
		list: []string{"xclip", "-selection", "clipboard", "-t", "TARGETS", "-o"},
		read: func(target string) []string {
			return []string{"xclip", "-selection", "clipboard", "-t", target, "-o"}
		},
		write: func(target string) []string {
			return []string{"xclip", "-selection", "clipboard", "-t", target, "-i"}
		},
		run:     run,
		timeout: 2 * time.Second,
	}
}

func (s *commandSelection) Targets() ([]string, error) {
	out, err := s.exec(nil, s.list)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			targets = append(targets, line)
		}
	}
	return targets, nil
}

func (s *commandSelection) Read(target string) ([]byte, error) {
	return s.exec(nil, s.read(target))
}

func (s *commandSelection) Write(target string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.exec(data, s.write(target))
	return err
}

func (s *commandSelection) exec(stdin []byte, argv []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	out, err := s.run(ctx, stdin, argv[0], argv[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}

// runCommand captures stdout only for reads. Writers fork a child that
// keeps serving the selection, and a captured pipe would wait on it.
func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
		return nil, cmd.Run()
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

var _ Selection = (*commandSelection)(nil)
