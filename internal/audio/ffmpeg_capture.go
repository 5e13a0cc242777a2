// Package audio captures the microphone through ffmpeg and delivers mono
// normalized frames.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/ports"
)

var ErrAlreadyRunning = errors.New("audio capture already running")

// Options tune the ffmpeg capture. Zero values pick defaults.
type Options struct {
	Command       string
	StartGrace    time.Duration
	StopTimeout   time.Duration
	LevelInterval time.Duration
	// DeviceDir is watched for sound devices appearing or disappearing.
	// Empty disables the watch.
	DeviceDir string
	Logger    *zerolog.Logger
}

// FFmpegCapture streams microphone PCM through an ffmpeg child process.
// One capture runs at a time.
type FFmpegCapture struct {
	cfg  ports.AudioConfig
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	current *capture
}

func NewFFmpegCapture(cfg ports.AudioConfig, opts Options) *FFmpegCapture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = cfg.SampleRate / 50
	}
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.StartGrace <= 0 {
		opts.StartGrace = 250 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 1200 * time.Millisecond
	}
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = 50 * time.Millisecond
	}
	l := pushlog.WithComponent("audio")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &FFmpegCapture{cfg: cfg, opts: opts, log: l}
}

// Command reports the ffmpeg binary used for capture.
func (c *FFmpegCapture) Command() string { return c.opts.Command }

func (c *FFmpegCapture) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.InputDevice,
		"-ac", strconv.Itoa(c.cfg.Channels),
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

func (c *FFmpegCapture) Start(handler ports.AudioHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return ErrAlreadyRunning
	}

	cmd := exec.Command(c.opts.Command, c.args()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	// A plain pipe rather than StdoutPipe: Wait must not close the read
	// side before the tail of the recording has been drained.
	stdout, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = w
	err = cmd.Start()
	_ = w.Close()
	if err != nil {
		_ = stdout.Close()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimmed(stderr))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-time.After(c.opts.StartGrace):
	}

	session := &capture{
		cfg:      c.cfg,
		handler:  handler,
		stdout:   stdout,
		stderr:   stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		interval: c.opts.LevelInterval,
		log:      c.log,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	if c.opts.DeviceDir != "" {
		if err := session.watchDevices(c.opts.DeviceDir); err != nil {
			c.log.Warn().Err(err).Str("event", "audio.device_watch_failed").Str("dir", c.opts.DeviceDir).Msg("device changes will not interrupt capture")
		}
	}
	go session.read()

	c.current = session
	c.log.Debug().
		Str("event", "audio.started").
		Str("format", c.cfg.InputFormat).
		Str("device", c.cfg.InputDevice).
		Int("sample_rate", c.cfg.SampleRate).
		Msg("audio capture started")
	return nil
}

// Stop ends the capture and returns once every captured frame has been
// delivered to the handler.
func (c *FFmpegCapture) Stop() error {
	c.mu.Lock()
	session := c.current
	c.current = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	err := session.stop(c.opts.StopTimeout)
	c.log.Debug().Err(err).Str("event", "audio.stopped").Int64("samples", session.samples).Msg("audio capture stopped")
	return err
}

type capture struct {
	cfg      ports.AudioConfig
	handler  ports.AudioHandler
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	process  *os.Process
	waitErr  <-chan error
	interval time.Duration
	log      zerolog.Logger

	stopping  sync.Once
	done      chan struct{}
	readDone  chan struct{}
	samples   int64
	lastLevel time.Time
	stopErr   error
}

func (c *capture) read() {
	defer close(c.readDone)
	buf := make([]byte, c.cfg.FrameSize*c.cfg.Channels*2)
	for {
		n, err := io.ReadFull(c.stdout, buf)
		if n > 0 {
			c.deliver(buf[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-c.done:
			return
		default:
		}

		exitErr := <-c.waitErr
		if exitErr == nil {
			exitErr = errors.New("ffmpeg exited")
		}
		c.log.Warn().Err(exitErr).Str("event", "audio.capture_lost").Str("stderr", trimmed(c.stderr)).Msg("audio capture ended unexpectedly")
		c.handler.Error(fmt.Errorf("audio capture ended unexpectedly: %w", exitErr))
		return
	}
}

func (c *capture) deliver(raw []byte) {
	samples := Decode(raw, c.cfg.Channels)
	if len(samples) == 0 {
		return
	}
	frame := domain.AudioFrame{
		Samples:    samples,
		SampleRate: c.cfg.SampleRate,
		Timestamp:  time.Duration(c.samples) * time.Second / time.Duration(c.cfg.SampleRate),
	}
	c.samples += int64(len(samples))
	c.handler.Buffer(frame)

	now := time.Now()
	if now.Sub(c.lastLevel) >= c.interval {
		c.lastLevel = now
		c.handler.Level(RMS(samples))
	}
}

func (c *capture) stop(timeout time.Duration) error {
	c.stopping.Do(func() {
		close(c.done)
		if c.process != nil {
			_ = c.process.Signal(os.Interrupt)
		}

		select {
		case <-c.readDone:
		case <-time.After(timeout):
			if c.process != nil {
				_ = c.process.Kill()
			}
			<-c.readDone
		}
		if err, ok := <-c.waitErr; ok {
			c.stopErr = normalizeStopErr(err)
		}

		if closeErr := c.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = closeErr
		}
		if c.stopErr != nil && c.stderr.Len() > 0 {
			c.stopErr = fmt.Errorf("%w: %s", c.stopErr, trimmed(c.stderr))
		}
	})
	return c.stopErr
}

// An interrupted ffmpeg exits non-zero; that is the normal way to stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(buf *bytes.Buffer) string {
	if buf == nil {
		return ""
	}
	return string(bytes.TrimSpace(buf.Bytes()))
}

var _ ports.AudioSource = (*FFmpegCapture)(nil)
