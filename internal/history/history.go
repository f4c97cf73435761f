// Package history keeps a bounded ring of dispatch records.
//
// Records are for operators only; nothing in the pipeline reads them back to
// make decisions.
package history

import (
	"sync"
	"time"

	"uiroute/internal/event"
)

const DefaultCapacity = 100

// Outcome is the result of one consumer invocation.
type Outcome uint8

const (
	Success Outcome = iota
	Failure
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// ConsumerResult describes one consumer invocation.
type ConsumerResult struct {
	Target   event.Target  `json:"-"`
	Name     string        `json:"consumer"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Record describes what happened to one notification.
type Record struct {
	Type     event.Type       `json:"type"`
	Package  string           `json:"package"`
	Class    string           `json:"class"`
	Verdict  event.Verdict    `json:"verdict"`
	Targets  event.Targets    `json:"targets"`
	At       time.Time        `json:"at"`
	Duration time.Duration    `json:"duration"`
	Results  []ConsumerResult `json:"results,omitempty"`
}

// Failed counts failed or timed-out consumer invocations.
func (r Record) Failed() int {
	n := 0
	for _, c := range r.Results {
		if c.Outcome != Success {
			n++
		}
	}
	return n
}

// Ring is a fixed-capacity record buffer; the oldest record is overwritten.
type Ring struct {
	mu   sync.Mutex
	buf  []Record
	next int
	n    int
}

func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Record, capacity)}
}

func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.mu.Unlock()
}

// Last returns up to n most recent records, oldest first.
// n <= 0 returns everything retained.
func (r *Ring) Last(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]Record, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Ring) Cap() int { return len(r.buf) }
