package inject

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/cespare/xxhash/v2"

	"pushtalk/internal/ports"
)

const mimeText = "text/plain;charset=utf-8"

// SystemClipboard is the desktop clipboard. Text goes through
// atotto/clipboard, which shells out to xclip, xsel or wl-clipboard. When
// a Selection is available, snapshots hold every representation on the
// clipboard (images, rich text, file lists) and not just the text.
//
// The desktop exposes no change counter, so one is kept here: every write
// we make bumps it, and so does any content we did not write ourselves.
type SystemClipboard struct {
	read  func() (string, error)
	write func(string) error
	sel   Selection

	mu      sync.Mutex
	changes int64
	last    uint64
	seen    bool
}

func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{read: clipboard.ReadAll, write: clipboard.WriteAll, sel: DetectSelection()}
}

// Unsupported reports whether no clipboard utility is installed.
func (c *SystemClipboard) Unsupported() bool { return clipboard.Unsupported }

func (c *SystemClipboard) Snapshot() (ports.ClipboardSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, err := c.contents(true)
	if err != nil {
		return ports.ClipboardSnapshot{}, err
	}
	c.observe(items)
	return ports.ClipboardSnapshot{Items: items, ChangeCount: c.changes}, nil
}

func (c *SystemClipboard) WriteText(text string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(text); err != nil {
		return c.changes, fmt.Errorf("write clipboard: %w", err)
	}
	c.changes++
	c.settle(map[string][]byte{mimeText: []byte(text)})
	return c.changes, nil
}

func (c *SystemClipboard) ChangeCount() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, err := c.contents(false)
	if err != nil {
		return 0, err
	}
	c.observe(items)
	return c.changes, nil
}

// Restore puts back the richest representation in the snapshot. The
// selection tools own the clipboard with one type at a time; text types
// written through atotto are offered under every text alias.
func (c *SystemClipboard) Restore(snapshot ports.ClipboardSnapshot) error {
	target, ok := preferredTarget(snapshot.Items)
	if !ok {
		return nil
	}
	if c.sel == nil || isPlainText(target) {
		_, err := c.WriteText(string(snapshot.Items[target]))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sel.Write(target, snapshot.Items[target]); err != nil {
		return fmt.Errorf("restore clipboard %s: %w", target, err)
	}
	c.changes++
	c.settle(map[string][]byte{target: snapshot.Items[target]})
	return nil
}

// contents reads the clipboard. full reads every representation; otherwise
// only the type list and the text are read, which is enough to notice a
// foreign change.
func (c *SystemClipboard) contents(full bool) (map[string][]byte, error) {
	if c.sel == nil {
		text, err := c.read()
		if err != nil {
			return nil, fmt.Errorf("read clipboard: %w", err)
		}
		return map[string][]byte{mimeText: []byte(text)}, nil
	}

	targets, err := c.sel.Targets()
	if err != nil {
		return nil, fmt.Errorf("list clipboard targets: %w", err)
	}
	items := make(map[string][]byte, len(targets))
	for _, target := range contentTargets(targets) {
		if !full && !isPlainText(target) {
			items[target] = nil
			continue
		}
		data, err := c.sel.Read(target)
		if err != nil {
			return nil, fmt.Errorf("read clipboard %s: %w", target, err)
		}
		items[target] = data
	}
	return items, nil
}

// observe counts a change when the clipboard no longer matches what was
// last seen.
func (c *SystemClipboard) observe(items map[string][]byte) {
	sum := fingerprint(items)
	if c.seen && sum != c.last {
		c.changes++
	}
	c.last, c.seen = sum, true
}

// settle records the state after our own write. The selection tool may
// advertise more types than were written, so it is read back when possible.
func (c *SystemClipboard) settle(written map[string][]byte) {
	items, err := c.contents(false)
	if err != nil {
		items = written
	}
	c.last, c.seen = fingerprint(items), true
}

// fingerprint hashes type names and text. Binary payloads are skipped so
// that cheap reads and full snapshots agree.
func fingerprint(items map[string][]byte) uint64 {
	targets := make([]string, 0, len(items))
	for target := range items {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	h := xxhash.New()
	for _, target := range targets {
		_, _ = h.WriteString(target)
		_, _ = h.Write([]byte{0})
		if isPlainText(target) {
			_, _ = h.Write(items[target])
		}
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// contentTargets keeps MIME types and drops X11 bookkeeping atoms. A bare
// UTF8_STRING offer is mapped to the text type.
func contentTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	hasText := false
	for _, target := range targets {
		if !strings.Contains(target, "/") {
			continue
		}
		hasText = hasText || isPlainText(target)
		out = append(out, target)
	}
	if !hasText {
		for _, target := range targets {
			if target == "UTF8_STRING" {
				out = append(out, "UTF8_STRING")
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func isPlainText(target string) bool {
	return strings.HasPrefix(target, "text/plain") || target == "UTF8_STRING"
}

// preferredTarget picks the representation to restore: images first, then
// rich text, then anything else that is not plain text, then plain text.
func preferredTarget(items map[string][]byte) (string, bool) {
	if len(items) == 0 {
		return "", false
	}
	targets := make([]string, 0, len(items))
	for target := range items {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	sort.SliceStable(targets, func(i, j int) bool {
		return targetRank(targets[i]) < targetRank(targets[j])
	})
	return targets[0], true
}

func targetRank(target string) int {
	switch {
	case target == "image/png":
		return 0
	case strings.HasPrefix(target, "image/"):
		return 1
	case target == "text/html" || target == "text/rtf":
		return 2
	case !isPlainText(target):
		return 3
	case target == mimeText:
		return 4
	default:
		return 5
	}
}

var _ ports.Clipboard = (*SystemClipboard)(nil)
