package whisper

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/domain"
	"pushtalk/internal/providers"
	"pushtalk/internal/providers/batch"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestTranscriberJoinsSegments(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "printf ' Hello there.\\n General Kenobi.\\n'\n")
	tr := NewTranscriber(Config{Binary: bin, Model: "model.bin"})
	text, err := tr.Transcribe(context.Background(), "clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "Hello there. General Kenobi.", text)
}

func TestTranscriberSurfacesStderr(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "echo 'failed to load model' >&2\nexit 3\n")
	_, err := NewTranscriber(Config{Binary: bin}).Transcribe(context.Background(), "clip.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load model")
	assert.Contains(t, err.Error(), "3")
}

func TestArgs(t *testing.T) {
	t.Parallel()

	tr := NewTranscriber(Config{Model: "/models/base.en.bin", Threads: 4})
	assert.Equal(t, []string{
		"-m", "/models/base.en.bin",
		"-f", "in.wav",
		"-l", "en",
		"--no-timestamps",
		"--no-prints",
		"-t", "4",
	}, tr.args("in.wav"))
}

func TestCheck(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "exit 0\n")
	model := filepath.Join(t.TempDir(), "ggml-base.bin")

	assert.ErrorIs(t, Check(Config{Binary: bin, Model: model}), providers.ErrRuntimeUnavailable)
	assert.ErrorIs(t, Check(Config{Binary: bin, Model: model}), ErrModelMissing)
	assert.ErrorIs(t, Check(Config{Binary: bin}), ErrModelMissing)
	require.NoError(t, os.WriteFile(model, []byte("x"), 0o600))
	assert.NoError(t, Check(Config{Binary: bin, Model: model}))
	missing := Check(Config{Binary: filepath.Join(t.TempDir(), "nope"), Model: model})
	assert.ErrorIs(t, missing, providers.ErrRuntimeUnavailable)
	assert.ErrorIs(t, missing, ErrBinaryMissing)
}

func TestNewBackendKind(t *testing.T) {
	t.Parallel()

	b := New(Config{}, batchOptions(t))
	assert.Equal(t, domain.BackendWhisper, b.Kind())
	assert.Equal(t, "Whisper (local)", b.DisplayName())
}

func batchOptions(t *testing.T) batch.Options {
	t.Helper()
	logger := zerolog.Nop()
	return batch.Options{TempDir: t.TempDir(), Logger: &logger}
}
