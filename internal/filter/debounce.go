package filter

import (
	"sync"
	"sync/atomic"
	"time"
)

// Ledger remembers the last accepted timestamp per identity key.
//
// Each key owns an atomic slot, so concurrent producers only contend when they
// report the same key, and then resolve with a CAS instead of a lock.
type Ledger struct {
	m sync.Map // string -> *atomic.Int64 (unix nanos)
}

// Allow reports whether a notification with key arriving at `at` is accepted.
// The ledger is only written on acceptance.
func (l *Ledger) Allow(key string, at time.Time, interval time.Duration) bool {
	now := at.UnixNano()
	if v, ok := l.m.Load(key); ok {
		return tryAdvance(v.(*atomic.Int64), now, interval)
	}
	slot := new(atomic.Int64)
	slot.Store(now)
	if v, loaded := l.m.LoadOrStore(key, slot); loaded {
		return tryAdvance(v.(*atomic.Int64), now, interval)
	}
	return true
}

func tryAdvance(slot *atomic.Int64, now int64, interval time.Duration) bool {
	for {
		last := slot.Load()
		if now-last < int64(interval) {
			return false
		}
		if slot.CompareAndSwap(last, now) {
			return true
		}
	}
}

// Last returns the last accepted time for key.
func (l *Ledger) Last(key string) (time.Time, bool) {
	v, ok := l.m.Load(key)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, v.(*atomic.Int64).Load()), true
}

// Len counts tracked keys. O(n); observability only.
func (l *Ledger) Len() int {
	n := 0
	l.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Reset forgets every key.
func (l *Ledger) Reset() { l.m.Clear() }
