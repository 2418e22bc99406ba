package session

import (
	"strings"
	"sync"
)

// Transcript accumulates agent transcript deltas. Consecutive deltas are
// merged into one fragment until a fragment ends with terminal punctuation;
// the next delta after that starts a new fragment. This keeps partial
// sentences growing in place instead of stacking up as fragments.
type Transcript struct {
	fragments []string
	deltas    uint64
	mu        sync.RWMutex
}

// Append adds one delta. Empty deltas are ignored.
func (t *Transcript) Append(delta string) {
	trimmed := strings.TrimSpace(delta)
	if trimmed == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.deltas++

	n := len(t.fragments)
	if n > 0 && !hasTerminalPunctuation(t.fragments[n-1]) {
		t.fragments[n-1] = t.fragments[n-1] + " " + trimmed
		return
	}
	t.fragments = append(t.fragments, trimmed)
}

// Fragments returns a copy of the coalesced fragments
func (t *Transcript) Fragments() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.fragments))
	copy(out, t.fragments)
	return out
}

// Text returns the full transcript as one string
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return strings.Join(t.fragments, " ")
}

// Deltas returns the number of deltas appended
func (t *Transcript) Deltas() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deltas
}

func hasTerminalPunctuation(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
