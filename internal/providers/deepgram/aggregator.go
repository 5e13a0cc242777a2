package deepgram

import (
	"strings"
	"sync"
)

// transcriptAggregator assembles Deepgram's finalized segments into one
// transcript and keeps the latest interim text for previews.
type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	interim    string
	lastSpoken string
	confidence *float64
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(text string, final bool, confidence *float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if final {
		a.finals = append(a.finals, text)
		a.interim = ""
		if confidence != nil {
			c := *confidence
			a.confidence = &c
		}
		return
	}
	a.interim = text
}

// Preview is the finalized text followed by the current interim segment.
func (a *transcriptAggregator) Preview() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(strings.Join(append(append([]string{}, a.finals...), a.interim), " "))
}

// Raw is the transcript to deliver when the stream ends. When no segment
// was finalized, the last interim text is used.
func (a *transcriptAggregator) Raw() (string, *float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken, a.confidence
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined, a.confidence
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken), a.confidence
	}
	return joined, a.confidence
}
