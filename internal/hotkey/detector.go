package hotkey

import (
	"sync"
	"time"

	"pushtalk/internal/ports"
)

// Key event values as reported by the kernel.
const (
	keyReleased = 0
	keyPressed  = 1
	keyRepeat   = 2
)

// Detector turns raw key transitions into hold-start and hold-end edges.
// A trigger released before minHold elapses is a tap and produces nothing.
type Detector struct {
	minHold time.Duration
	handler ports.HotkeyHandler

	mu      sync.Mutex
	binding Binding
	down    map[uint16]bool
	timer   *time.Timer
	armed   bool
	holding bool
	gen     uint64
}

func NewDetector(binding Binding, minHold time.Duration, handler ports.HotkeyHandler) *Detector {
	return &Detector{
		binding: binding,
		minHold: minHold,
		handler: handler,
		down:    make(map[uint16]bool),
	}
}

// Key feeds one transition. Handler callbacks run with the detector locked
// so edges are delivered in order.
func (d *Detector) Key(code uint16, value int32) {
	if value == keyRepeat {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pressed := value == keyPressed
	if pressed {
		d.down[code] = true
	} else {
		delete(d.down, code)
	}

	switch {
	case pressed && d.binding.involves(code):
		if !d.armed && !d.holding && d.active() {
			d.arm()
		}
	case pressed:
		// alt+tab and friends: a modifier used as a chord is not a hold.
		if d.armed && d.binding.ModifierAlone() {
			d.disarm()
		}
	case d.binding.involves(code) && !d.active():
		d.disarm()
		if d.holding {
			d.holding = false
			d.handler.HoldEnded()
		}
	}
}

// SetBinding swaps the trigger. An ongoing hold ends.
func (d *Detector) SetBinding(binding Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.binding = binding
}

// Reset forgets all pressed keys, ending an ongoing hold.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *Detector) resetLocked() {
	d.disarm()
	d.down = make(map[uint16]bool)
	if d.holding {
		d.holding = false
		d.handler.HoldEnded()
	}
}

func (d *Detector) active() bool {
	if !anyDown(d.down, d.binding.Keys) {
		return false
	}
	for _, group := range d.binding.Modifiers {
		if !anyDown(d.down, group) {
			return false
		}
	}
	return true
}

func anyDown(down map[uint16]bool, codes []uint16) bool {
	for _, c := range codes {
		if down[c] {
			return true
		}
	}
	return false
}

func (d *Detector) arm() {
	d.gen++
	d.armed = true
	if d.minHold <= 0 {
		d.start()
		return
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.minHold, func() { d.fire(gen) })
}

func (d *Detector) disarm() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
}

func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed || gen != d.gen {
		return
	}
	d.timer = nil
	d.start()
}

func (d *Detector) start() {
	d.armed = false
	d.holding = true
	d.handler.HoldStarted()
}

// Holding reports whether a hold is in progress.
func (d *Detector) Holding() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holding
}
