// Package capability probes the machine for what each speech backend
// needs before the resolver picks one.
package capability

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/ports"
	"pushtalk/internal/providers/parakeet"
	"pushtalk/internal/providers/whisper"
)

// RuntimeStatus reports the locally hosted model runtime.
type RuntimeStatus interface {
	Status() parakeet.Status
}

// CloudSettings are read on every probe so config reloads apply.
type CloudSettings interface {
	CloudEnabled() bool
	CloudCredential() string
}

type Options struct {
	// AudioCommand must be on PATH for capture to work.
	AudioCommand string
	// AudioDevices, when set, must be readable (e.g. /dev/snd).
	AudioDevices string
	Whisper      whisper.Config
	Runtime      RuntimeStatus
	Cloud        CloudSettings
	// NetworkAddr is dialed to decide whether the cloud API is reachable.
	NetworkAddr string
	DialTimeout time.Duration
	// NetworkTTL caches the reachability result between probes.
	NetworkTTL time.Duration
	Dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	Logger     *zerolog.Logger
	Now        func() time.Time
}

type Probe struct {
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	reachable bool
	checkedAt time.Time
}

func New(opts Options) *Probe {
	if opts.AudioCommand == "" {
		opts.AudioCommand = "ffmpeg"
	}
	if opts.NetworkAddr == "" {
		opts.NetworkAddr = "api.deepgram.com:443"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.NetworkTTL <= 0 {
		opts.NetworkTTL = 30 * time.Second
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := pushlog.WithComponent("capability")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Probe{opts: opts, log: l}
}

func (p *Probe) Capabilities(ctx context.Context) domain.Capabilities {
	whisperErr := whisper.Check(p.opts.Whisper)
	caps := domain.Capabilities{
		MicrophoneAuthorized: p.microphone(),
		// Linux has no per-app speech recognition consent.
		SpeechAuthorized: true,
		WhisperBinary:    !errors.Is(whisperErr, whisper.ErrBinaryMissing),
		WhisperModel:     whisperErr == nil,
		Runtime:          domain.RuntimeMissing,
		Model:            domain.ModelMissing,
	}
	if p.opts.Runtime != nil {
		status := p.opts.Runtime.Status()
		caps.Runtime, caps.Model = status.Runtime, status.Model
	}
	if p.opts.Cloud != nil {
		caps.CloudEnabled = p.opts.Cloud.CloudEnabled()
		caps.CloudCredential = p.opts.Cloud.CloudCredential() != ""
	}
	// No point dialing for a backend that cannot be used anyway.
	if caps.CloudEnabled && caps.CloudCredential {
		caps.NetworkReachable = p.network(ctx)
	}

	p.log.Debug().
		Str("event", "capability.probed").
		Bool("microphone", caps.MicrophoneAuthorized).
		Bool("whisper_binary", caps.WhisperBinary).
		Bool("whisper_model", caps.WhisperModel).
		Str("runtime", string(caps.Runtime)).
		Str("model", string(caps.Model)).
		Bool("cloud", caps.CloudEnabled).
		Bool("network", caps.NetworkReachable).
		Msg("capabilities probed")
	return caps
}

func (p *Probe) microphone() bool {
	if _, err := exec.LookPath(p.opts.AudioCommand); err != nil {
		return false
	}
	if p.opts.AudioDevices == "" {
		return true
	}
	f, err := os.Open(p.opts.AudioDevices)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func (p *Probe) network(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.opts.Now()
	if !p.checkedAt.IsZero() && now.Sub(p.checkedAt) < p.opts.NetworkTTL {
		return p.reachable
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	defer cancel()
	conn, err := p.opts.Dial(dialCtx, "tcp", p.opts.NetworkAddr)
	p.reachable = err == nil
	p.checkedAt = now
	if err != nil {
		p.log.Info().Err(err).Str("event", "capability.network_unreachable").Str("addr", p.opts.NetworkAddr).Msg("cloud endpoint unreachable")
		return false
	}
	_ = conn.Close()
	return true
}

// Invalidate drops the cached reachability result.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedAt = time.Time{}
}

var _ ports.CapabilitySource = (*Probe)(nil)
