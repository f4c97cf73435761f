// Package queue is the bounded hand-off between the producer path and the
// dispatch loop.
//
// Push never blocks and never rejects the new item: when the queue is full the
// oldest entry (by arrival sequence) is evicted. Two orderings are offered:
// FIFO, and Priority (tier first, then arrival).
package queue

import (
	"fmt"
	"strings"
	"sync"

	"uiroute/internal/event"
)

const DefaultCapacity = 100

// Ordering selects the dequeue order.
type Ordering int

const (
	FIFO Ordering = iota
	Priority
)

func (o Ordering) String() string {
	if o == Priority {
		return "priority"
	}
	return "fifo"
}

// ParseOrdering accepts "fifo" (default when empty) or "priority".
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return FIFO, nil
	case "priority":
		return Priority, nil
	default:
		return FIFO, fmt.Errorf("unknown queue ordering %q (use fifo or priority)", s)
	}
}

// Queue is safe for concurrent use. The lock is only held for O(1) ring
// operations (O(log n) for heap, O(n) scan on priority overflow).
type Queue struct {
	mu       sync.Mutex
	ordering Ordering
	capacity int
	seq      uint64

	// FIFO ring.
	buf  []event.Notification
	head int
	n    int

	// Priority min-heap keyed by (tier, seq).
	heap []event.Notification

	ready chan struct{}
}

// New returns a queue with the given capacity (DefaultCapacity when <= 0).
func New(capacity int, ord Ordering) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{ordering: ord, capacity: capacity, ready: make(chan struct{}, 1)}
	if ord == Priority {
		q.heap = make([]event.Notification, 0, capacity)
	} else {
		q.buf = make([]event.Notification, capacity)
	}
	return q
}

// Push stores n. When full, the oldest entry is evicted and returned.
func (q *Queue) Push(n event.Notification) (evicted event.Notification, ok bool) {
	q.mu.Lock()
	q.seq++
	n.Seq = q.seq
	if q.ordering == Priority {
		evicted, ok = q.pushHeapLocked(n)
	} else {
		evicted, ok = q.pushRingLocked(n)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted, ok
}

func (q *Queue) pushRingLocked(n event.Notification) (event.Notification, bool) {
	var old event.Notification
	evicted := false
	if q.n == q.capacity {
		old = q.buf[q.head]
		q.buf[q.head] = event.Notification{}
		q.head = (q.head + 1) % q.capacity
		q.n--
		evicted = true
	}
	q.buf[(q.head+q.n)%q.capacity] = n
	q.n++
	return old, evicted
}

func (q *Queue) pushHeapLocked(n event.Notification) (event.Notification, bool) {
	var old event.Notification
	evicted := false
	if len(q.heap) == q.capacity {
		oldest := 0
		for i := 1; i < len(q.heap); i++ {
			if q.heap[i].Seq < q.heap[oldest].Seq {
				oldest = i
			}
		}
		old = q.heap[oldest]
		q.removeHeapLocked(oldest)
		evicted = true
	}
	q.heap = append(q.heap, n)
	q.up(len(q.heap) - 1)
	return old, evicted
}

// Pop removes the next entry. ok is false when the queue is empty.
func (q *Queue) Pop() (n event.Notification, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ordering == Priority {
		if len(q.heap) == 0 {
			return n, false
		}
		n = q.heap[0]
		q.removeHeapLocked(0)
		return n, true
	}
	if q.n == 0 {
		return n, false
	}
	n = q.buf[q.head]
	q.buf[q.head] = event.Notification{}
	q.head = (q.head + 1) % q.capacity
	q.n--
	return n, true
}

// Ready is signalled after every Push. It is a hint; always Pop until empty.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ordering == Priority {
		return len(q.heap)
	}
	return q.n
}

func (q *Queue) Cap() int { return q.capacity }

func (q *Queue) Ordering() Ordering { return q.ordering }

// Drain discards every entry and returns how many were dropped.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ordering == Priority {
		n := len(q.heap)
		clear(q.heap)
		q.heap = q.heap[:0]
		return n
	}
	n := q.n
	clear(q.buf)
	q.head, q.n = 0, 0
	return n
}

// Snapshot returns a copy of the entries in dequeue order.
func (q *Queue) Snapshot() []event.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ordering == Priority {
		tmp := &Queue{ordering: Priority, heap: append([]event.Notification(nil), q.heap...)}
		out := make([]event.Notification, 0, len(tmp.heap))
		for len(tmp.heap) > 0 {
			out = append(out, tmp.heap[0])
			tmp.removeHeapLocked(0)
		}
		return out
	}
	out := make([]event.Notification, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.buf[(q.head+i)%q.capacity])
	}
	return out
}

// ---- heap helpers (caller holds mu) ----

func less(a, b *event.Notification) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	return a.Seq < b.Seq
}

func (q *Queue) up(i int) {
	h := q.heap
	for i > 0 {
		p := (i - 1) / 2
		if !less(&h[i], &h[p]) {
			break
		}
		h[i], h[p] = h[p], h[i]
		i = p
	}
}

func (q *Queue) down(i int) {
	h := q.heap
	n := len(h)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && less(&h[r], &h[l]) {
			m = r
		}
		if !less(&h[m], &h[i]) {
			return
		}
		h[i], h[m] = h[m], h[i]
		i = m
	}
}

func (q *Queue) removeHeapLocked(i int) {
	last := len(q.heap) - 1
	if i != last {
		q.heap[i] = q.heap[last]
	}
	q.heap[last] = event.Notification{}
	q.heap = q.heap[:last]
	if i < len(q.heap) {
		q.down(i)
		q.up(i)
	}
}
