// Package whisper runs the whisper.cpp command line tool on recorded audio.
// It is the fully local backend and the resolver's designated fallback.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"pushtalk/internal/domain"
	"pushtalk/internal/providers"
	"pushtalk/internal/providers/batch"
)

// Config locates the whisper.cpp binary and model.
type Config struct {
	Binary   string
	Model    string
	Language string
	Threads  int
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "whisper-cli"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	return c
}

// Transcriber invokes whisper.cpp once per recording.
type Transcriber struct {
	cfg Config
}

func NewTranscriber(cfg Config) *Transcriber {
	return &Transcriber{cfg: cfg.withDefaults()}
}

// New returns a whisper backend ready to register with the resolver.
func New(cfg Config, opts batch.Options) *batch.Backend {
	return batch.New(domain.BackendWhisper, "Whisper (local)", NewTranscriber(cfg), opts)
}

var (
	ErrBinaryMissing = errors.New("whisper binary not found")
	ErrModelMissing  = errors.New("whisper model not found")
)

// Check reports whether the binary and model are present. Errors wrap
// ErrBinaryMissing or ErrModelMissing as well as
// providers.ErrRuntimeUnavailable.
func Check(cfg Config) error {
	cfg = cfg.withDefaults()
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		return fmt.Errorf("%w: %w: %s: %v", providers.ErrRuntimeUnavailable, ErrBinaryMissing, cfg.Binary, err)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("%w: %w: none configured", providers.ErrRuntimeUnavailable, ErrModelMissing)
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return fmt.Errorf("%w: %w: %v", providers.ErrRuntimeUnavailable, ErrModelMissing, err)
	}
	return nil
}

func (t *Transcriber) args(wavPath string) []string {
	args := []string{
		"-m", t.cfg.Model,
		"-f", wavPath,
		"-l", t.cfg.Language,
		"--no-timestamps",
		"--no-prints",
	}
	if t.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(t.cfg.Threads))
	}
	return args
}

func (t *Transcriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	cmd := exec.CommandContext(ctx, t.cfg.Binary, t.args(wavPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("whisper exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("run whisper: %w", err)
	}
	return joinLines(stdout.String()), nil
}

// joinLines flattens whisper's per-segment output into one line.
func joinLines(output string) string {
	return strings.Join(strings.Fields(output), " ")
}
