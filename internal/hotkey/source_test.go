package hotkey

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pushlog "pushtalk/internal/log"
)

func encode(events ...inputEvent) []byte {
	buf := make([]byte, 0, len(events)*eventSize)
	for _, ev := range events {
		rec := make([]byte, eventSize)
		binary.LittleEndian.PutUint16(rec[16:18], ev.Type)
		binary.LittleEndian.PutUint16(rec[18:20], ev.Code)
		binary.LittleEndian.PutUint32(rec[20:24], uint32(ev.Value))
		buf = append(buf, rec...)
	}
	return buf
}

func TestDecodeEventsKeepsPartialRecord(t *testing.T) {
	t.Parallel()

	data := encode(
		inputEvent{Type: evKey, Code: codeRightAlt, Value: keyPressed},
		inputEvent{Type: 0, Code: 0, Value: 0},
	)
	data = append(data, 1, 2, 3)

	var got []inputEvent
	used := decodeEvents(data, func(ev inputEvent) { got = append(got, ev) })
	assert.Equal(t, 2*eventSize, used)
	require.Len(t, got, 2)
	assert.Equal(t, inputEvent{Type: evKey, Code: codeRightAlt, Value: keyPressed}, got[0])
}

func newTestSource(t *testing.T, pattern string) *EvdevSource {
	t.Helper()
	logger := pushlog.Nop()
	s, err := NewEvdevSource(Config{Binding: "right_alt", Devices: pattern}, &logger)
	require.NoError(t, err)
	return s
}

func TestEvdevSourceDeliversHold(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("evdev is linux only")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "event0"), encode(
		inputEvent{Type: evKey, Code: codeRightAlt, Value: keyPressed},
		inputEvent{Type: evKey, Code: codeRightAlt, Value: keyRepeat},
		inputEvent{Type: evKey, Code: codeRightAlt, Value: keyReleased},
	), 0o600))

	s := newTestSource(t, filepath.Join(dir, "event*"))
	h := &recordingHandler{}
	require.NoError(t, s.Start(h))
	require.NoError(t, s.Start(h), "second start is a no-op")

	require.Eventually(t, func() bool { return len(h.Events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"started", "ended"}, h.Events())
	s.Stop()
	s.Stop()
}

func TestEvdevSourceReportsMissingDevices(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("evdev is linux only")
	}
	s := newTestSource(t, filepath.Join(t.TempDir(), "event*"))
	h := &recordingHandler{}

	err := s.Start(h)
	require.ErrorIs(t, err, ErrNoDevices)
	assert.Equal(t, []string{"failed: " + ErrNoDevices.Error()}, h.Events())
	s.Stop()
}

func TestNewEvdevSourceRejectsBadBinding(t *testing.T) {
	t.Parallel()

	_, err := NewEvdevSource(Config{Binding: "hyper"}, nil)
	assert.Error(t, err)
}
