package filter

import (
	"sync"
	"time"

	"uiroute/internal/event"
)

// Burst is a sliding-window rate detector with one window per event type.
// Types never share a lock, so a scroll flood cannot slow content events.
type Burst struct {
	windows [event.NumTypes]window
}

type window struct {
	mu sync.Mutex
	ts []int64 // unix nanos, non-decreasing
}

// Allow prunes timestamps older than at-size, appends at and reports whether
// the window length is within threshold. The append happens even when the
// notification is suppressed, so a sustained burst stays suppressed.
// A threshold <= 0 disables detection.
func (b *Burst) Allow(t event.Type, at time.Time, threshold int, size time.Duration) bool {
	if threshold <= 0 || int(t) >= len(b.windows) {
		return true
	}
	w := &b.windows[t]
	now := at.UnixNano()
	cutoff := now - int64(size)

	w.mu.Lock()
	defer w.mu.Unlock()

	i := 0
	for i < len(w.ts) && w.ts[i] < cutoff {
		i++
	}
	if i > 0 {
		n := copy(w.ts, w.ts[i:])
		w.ts = w.ts[:n]
	}

	// Keep order when the source delivers a slightly late timestamp.
	pos := len(w.ts)
	for pos > 0 && w.ts[pos-1] > now {
		pos--
	}
	w.ts = append(w.ts, 0)
	copy(w.ts[pos+1:], w.ts[pos:])
	w.ts[pos] = now

	return len(w.ts) <= threshold
}

// Count returns the unpruned window length for t.
func (b *Burst) Count(t event.Type) int {
	if int(t) >= len(b.windows) {
		return 0
	}
	w := &b.windows[t]
	w.mu.Lock()
	n := len(w.ts)
	w.mu.Unlock()
	return n
}

// Reset clears every window.
func (b *Burst) Reset() {
	for i := range b.windows {
		w := &b.windows[i]
		w.mu.Lock()
		w.ts = w.ts[:0]
		w.mu.Unlock()
	}
}
