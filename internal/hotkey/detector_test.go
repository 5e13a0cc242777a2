package hotkey

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) HoldStarted() { h.add("started") }
func (h *recordingHandler) HoldEnded()   { h.add("ended") }

func (h *recordingHandler) StartFailed(reason string) { h.add("failed: " + reason) }

func (h *recordingHandler) add(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func mustBinding(t *testing.T, spec string) Binding {
	t.Helper()
	b, err := ParseBinding(spec)
	require.NoError(t, err)
	return b
}

const (
	codeRightAlt = 100
	codeLeftCtrl = 29
	codeSpace    = 57
	codeTab      = 15
)

func TestDetectorHoldAfterMinimumDuration(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := NewDetector(mustBinding(t, "right_alt"), 20*time.Millisecond, h)

	d.Key(codeRightAlt, keyPressed)
	assert.Empty(t, h.Events())
	require.Eventually(t, d.Holding, time.Second, 5*time.Millisecond)

	d.Key(codeRightAlt, keyRepeat)
	d.Key(codeRightAlt, keyReleased)
	assert.Equal(t, []string{"started", "ended"}, h.Events())
}

func TestDetectorIgnoresTap(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := NewDetector(mustBinding(t, "right_alt"), 50*time.Millisecond, h)

	d.Key(codeRightAlt, keyPressed)
	d.Key(codeRightAlt, keyReleased)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.Events())
}

func TestDetectorModifierUsedAsChordIsNotAHold(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := NewDetector(mustBinding(t, "right_alt"), 30*time.Millisecond, h)

	d.Key(codeRightAlt, keyPressed)
	d.Key(codeTab, keyPressed)
	time.Sleep(80 * time.Millisecond)
	d.Key(codeTab, keyReleased)
	d.Key(codeRightAlt, keyReleased)
	assert.Empty(t, h.Events())
}

func TestDetectorCombinationNeedsEveryModifier(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := NewDetector(mustBinding(t, "ctrl+space"), 0, h)

	d.Key(codeSpace, keyPressed)
	d.Key(codeSpace, keyReleased)
	assert.Empty(t, h.Events())

	d.Key(codeLeftCtrl, keyPressed)
	d.Key(codeSpace, keyPressed)
	assert.Equal(t, []string{"started"}, h.Events())

	// Releasing a required modifier ends the hold.
	d.Key(codeLeftCtrl, keyReleased)
	assert.Equal(t, []string{"started", "ended"}, h.Events())
	d.Key(codeSpace, keyReleased)
	assert.Equal(t, []string{"started", "ended"}, h.Events())
}

func TestDetectorResetEndsHold(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := NewDetector(mustBinding(t, "f9"), 0, h)

	d.Key(67, keyPressed)
	d.SetBinding(mustBinding(t, "f10"))
	assert.Equal(t, []string{"started", "ended"}, h.Events())

	d.Key(67, keyReleased)
	d.Key(68, keyPressed)
	d.Reset()
	assert.Equal(t, []string{"started", "ended", "started", "ended"}, h.Events())
	assert.False(t, d.Holding())
}
