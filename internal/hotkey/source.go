package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pushlog "pushtalk/internal/log"
	"pushtalk/internal/ports"
)

var (
	ErrPermissionDenied = errors.New("no permission to read input devices")
	ErrNoDevices        = errors.New("no input devices found")
	ErrUnsupported      = errors.New("global hotkeys are not supported on this platform")
)

// DefaultDevices matches every evdev node.
const DefaultDevices = "/dev/input/event*"

// Size of struct input_event on 64-bit Linux: timeval, type, code, value.
const eventSize = 24

const evKey = 1

type inputEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// decodeEvents parses whole input_event records from buf and returns the
// number of bytes consumed.
func decodeEvents(buf []byte, fn func(inputEvent)) int {
	n := 0
	for len(buf)-n >= eventSize {
		rec := buf[n : n+eventSize]
		fn(inputEvent{
			Type:  binary.LittleEndian.Uint16(rec[16:18]),
			Code:  binary.LittleEndian.Uint16(rec[18:20]),
			Value: int32(binary.LittleEndian.Uint32(rec[20:24])),
		})
		n += eventSize
	}
	return n
}

type Config struct {
	Binding string
	MinHold time.Duration
	// Devices is a glob of evdev nodes; defaults to DefaultDevices.
	Devices string
}

// EvdevSource watches keyboards through /dev/input. The user needs read
// access to the event nodes, usually via the input group.
type EvdevSource struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	binding  Binding
	running  bool
	files    []io.Closer
	detector *Detector
	wg       sync.WaitGroup
}

func NewEvdevSource(cfg Config, logger *zerolog.Logger) (*EvdevSource, error) {
	binding, err := ParseBinding(cfg.Binding)
	if err != nil {
		return nil, err
	}
	if cfg.Devices == "" {
		cfg.Devices = DefaultDevices
	}
	l := pushlog.WithComponent("hotkey")
	if logger != nil {
		l = *logger
	}
	return &EvdevSource{cfg: cfg, log: l, binding: binding}, nil
}

func (s *EvdevSource) Start(handler ports.HotkeyHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if runtime.GOOS != "linux" {
		handler.StartFailed(ErrUnsupported.Error())
		return ErrUnsupported
	}

	files, err := openDevices(s.cfg.Devices)
	if err != nil {
		s.log.Warn().Err(err).Str("event", "hotkey.start_failed").Str("devices", s.cfg.Devices).Msg("hotkey monitor unavailable")
		handler.StartFailed(err.Error())
		return err
	}

	s.detector = NewDetector(s.binding, s.cfg.MinHold, handler)
	s.files = s.files[:0]
	for _, f := range files {
		s.files = append(s.files, f)
		s.wg.Add(1)
		go s.read(f, s.detector)
	}
	s.running = true
	s.log.Info().
		Str("event", "hotkey.started").
		Str("binding", s.binding.Spec).
		Int("devices", len(files)).
		Dur("min_hold", s.cfg.MinHold).
		Msg("hotkey monitor started")
	return nil
}

func (s *EvdevSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, f := range s.files {
		_ = f.Close()
	}
	s.files = nil
	detector := s.detector
	s.mu.Unlock()

	s.wg.Wait()
	detector.Reset()
	s.log.Info().Str("event", "hotkey.stopped").Msg("hotkey monitor stopped")
}

// Rebind applies a new trigger without reopening devices.
func (s *EvdevSource) Rebind(spec string) error {
	binding, err := ParseBinding(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binding = binding
	if s.detector != nil {
		s.detector.SetBinding(binding)
	}
	s.log.Info().Str("event", "hotkey.rebound").Str("binding", binding.Spec).Msg("hotkey binding changed")
	return nil
}

func (s *EvdevSource) read(r io.Reader, detector *Detector) {
	defer s.wg.Done()
	buf := make([]byte, eventSize*64)
	pending := 0
	for {
		n, err := r.Read(buf[pending:])
		pending += n
		used := decodeEvents(buf[:pending], func(ev inputEvent) {
			if ev.Type == evKey {
				detector.Key(ev.Code, ev.Value)
			}
		})
		pending = copy(buf, buf[used:pending])
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("event", "hotkey.device_lost").Msg("input device read ended")
			}
			return
		}
	}
}

func openDevices(pattern string) ([]*os.File, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	var (
		files  []*os.File
		denied bool
	)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				denied = true
			}
			continue
		}
		files = append(files, f)
	}
	switch {
	case len(files) > 0:
		return files, nil
	case denied:
		return nil, ErrPermissionDenied
	default:
		return nil, ErrNoDevices
	}
}
