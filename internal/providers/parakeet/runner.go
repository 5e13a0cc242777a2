// Package parakeet drives the Parakeet ONNX runner script: a check mode
// used while bootstrapping the runtime, and one inference run per
// recording.
package parakeet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"pushtalk/internal/domain"
	"pushtalk/internal/providers/batch"
)

// Config locates the runner and the model it loads.
type Config struct {
	Python    string
	Script    string
	Model     string
	Tokenizer string
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python3"
	}
	return c
}

// Runner error codes printed as "CODE: message" on stderr.
const (
	CodeDependencyMissing = "DEPENDENCY_MISSING"
	CodeDependencyError   = "DEPENDENCY_ERROR"
	CodeModelLoad         = "MODEL_LOAD_ERROR"
	CodeModelSignature    = "MODEL_SIGNATURE_ERROR"
	CodeModelOutput       = "MODEL_OUTPUT_ERROR"
	CodeAudioFormat       = "AUDIO_FORMAT_ERROR"
	CodeTokenizerMissing  = "TOKENIZER_MISSING"
	CodeTokenizerError    = "TOKENIZER_ERROR"
	CodeInference         = "INFERENCE_ERROR"
	CodeUnknown           = "UNKNOWN"
)

// RunnerError is a failure reported by the runner script.
type RunnerError struct {
	Code     string
	Message  string
	ExitCode int
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("parakeet %s: %s", e.Code, e.Message)
}

var codedLine = regexp.MustCompile(`^([A-Z][A-Z_]+): (.*)$`)

// parseRunnerError extracts the last "CODE: message" line from stderr.
func parseRunnerError(stderr string, exitCode int) *RunnerError {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := codedLine.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			return &RunnerError{Code: m[1], Message: m[2], ExitCode: exitCode}
		}
	}
	message := strings.TrimSpace(stderr)
	if message == "" {
		message = "runner exited without output"
	}
	return &RunnerError{Code: CodeUnknown, Message: message, ExitCode: exitCode}
}

// Transcriber runs one inference per recording.
type Transcriber struct {
	cfg Config
}

func NewTranscriber(cfg Config) *Transcriber {
	return &Transcriber{cfg: cfg.withDefaults()}
}

// New returns a parakeet backend ready to register with the resolver.
func New(cfg Config, opts batch.Options) *batch.Backend {
	return batch.New(domain.BackendParakeet, "Parakeet (local)", NewTranscriber(cfg), opts)
}

func (t *Transcriber) baseArgs() []string {
	args := []string{t.cfg.Script, "--model", t.cfg.Model}
	if t.cfg.Tokenizer != "" {
		args = append(args, "--tokenizer", t.cfg.Tokenizer)
	}
	return args
}

func (t *Transcriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	out, err := t.run(ctx, append(t.baseArgs(), "--audio", wavPath)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Check runs the runner's self test. It succeeds when the runner prints ok.
func (t *Transcriber) Check(ctx context.Context) error {
	out, err := t.run(ctx, append(t.baseArgs(), "--check")...)
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "ok" {
		return &RunnerError{Code: CodeUnknown, Message: fmt.Sprintf("unexpected check output %q", strings.TrimSpace(out))}
	}
	return nil
}

func (t *Transcriber) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.cfg.Python, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", parseRunnerError(stderr.String(), exitErr.ExitCode())
		}
		return "", fmt.Errorf("start parakeet runner: %w", err)
	}
	return stdout.String(), nil
}
