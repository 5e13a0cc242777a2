package inject

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// KeybdPaster sends Ctrl+V through a virtual keyboard. On Linux this needs
// write access to /dev/uinput.
type KeybdPaster struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func NewKeybdPaster() *KeybdPaster {
	return &KeybdPaster{}
}

func (p *KeybdPaster) init() {
	p.kb, p.err = keybd_event.NewKeyBonding()
	if p.err != nil {
		p.err = fmt.Errorf("create virtual keyboard: %w", p.err)
		return
	}
	// The compositor needs a moment to pick up a fresh uinput device.
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
}

func (p *KeybdPaster) Paste(ctx context.Context) error {
	p.once.Do(p.init)
	if p.err != nil {
		return p.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.kb.Clear()
	p.kb.HasCTRL(true)
	p.kb.SetKeys(keybd_event.VK_V)
	if err := p.kb.Launching(); err != nil {
		return fmt.Errorf("send ctrl+v: %w", err)
	}
	return nil
}
