package capability

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/providers/parakeet"
	"pushtalk/internal/providers/whisper"
)

type staticRuntime parakeet.Status

func (r staticRuntime) Status() parakeet.Status { return parakeet.Status(r) }

type cloud struct {
	enabled bool
	key     string
}

func (c cloud) CloudEnabled() bool      { return c.enabled }
func (c cloud) CloudCredential() string { return c.key }

func executable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o700))
	return path
}

type dialer struct {
	calls int
	err   error
}

func (d *dialer) dial(context.Context, string, string) (net.Conn, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func newProbe(t *testing.T, opts Options) *Probe {
	t.Helper()
	logger := pushlog.Nop()
	opts.Logger = &logger
	return New(opts)
}

func TestProbeAllAvailable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o600))
	d := &dialer{}

	p := newProbe(t, Options{
		AudioCommand: executable(t, dir, "ffmpeg"),
		AudioDevices: dir,
		Whisper:      whisper.Config{Binary: executable(t, dir, "whisper-cli"), Model: model},
		Runtime:      staticRuntime{Runtime: domain.RuntimeReady, Model: domain.ModelReady},
		Cloud:        cloud{enabled: true, key: "secret"},
		Dial:         d.dial,
	})

	assert.Equal(t, domain.Capabilities{
		MicrophoneAuthorized: true,
		SpeechAuthorized:     true,
		WhisperBinary:        true,
		WhisperModel:         true,
		Runtime:              domain.RuntimeReady,
		Model:                domain.ModelReady,
		CloudEnabled:         true,
		CloudCredential:      true,
		NetworkReachable:     true,
	}, p.Capabilities(context.Background()))
	assert.Equal(t, 1, d.calls)
}

func TestProbeMissingPieces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d := &dialer{}
	p := newProbe(t, Options{
		AudioCommand: filepath.Join(dir, "no-ffmpeg"),
		Whisper:      whisper.Config{Binary: executable(t, dir, "whisper-cli"), Model: filepath.Join(dir, "missing.bin")},
		Cloud:        cloud{enabled: true},
		Dial:         d.dial,
	})

	caps := p.Capabilities(context.Background())
	assert.False(t, caps.MicrophoneAuthorized)
	assert.True(t, caps.SpeechAuthorized)
	assert.True(t, caps.WhisperBinary)
	assert.False(t, caps.WhisperModel)
	assert.Equal(t, domain.RuntimeMissing, caps.Runtime)
	assert.Equal(t, domain.ModelMissing, caps.Model)
	assert.True(t, caps.CloudEnabled)
	assert.False(t, caps.CloudCredential)
	assert.False(t, caps.NetworkReachable)
	assert.Zero(t, d.calls, "no dial without a credential")
}

func TestCapabilitiesReportMissingWhisperBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o600))
	p := newProbe(t, Options{
		AudioCommand: executable(t, dir, "ffmpeg"),
		Whisper:      whisper.Config{Binary: filepath.Join(dir, "no-whisper-cli"), Model: model},
	})

	caps := p.Capabilities(context.Background())
	assert.True(t, caps.MicrophoneAuthorized)
	assert.True(t, caps.SpeechAuthorized)
	assert.False(t, caps.WhisperBinary)
	assert.False(t, caps.WhisperModel)
}

func TestProbeCachesReachability(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := &dialer{err: errors.New("no route to host")}
	p := newProbe(t, Options{
		Cloud:      cloud{enabled: true, key: "k"},
		Dial:       d.dial,
		NetworkTTL: time.Minute,
		Now:        func() time.Time { return now },
	})

	assert.False(t, p.Capabilities(context.Background()).NetworkReachable)
	d.err = nil
	assert.False(t, p.Capabilities(context.Background()).NetworkReachable, "cached")
	assert.Equal(t, 1, d.calls)

	now = now.Add(2 * time.Minute)
	assert.True(t, p.Capabilities(context.Background()).NetworkReachable)

	d.err = errors.New("down again")
	p.Invalidate()
	assert.False(t, p.Capabilities(context.Background()).NetworkReachable)
	assert.Equal(t, 3, d.calls)
}
