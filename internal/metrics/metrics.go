// Package metrics keeps the pipeline counters.
//
// Counters are per event type and updated with atomics from the producer
// path; only the rolling duration averages (written by the single dispatch
// loop) take a mutex.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"uiroute/internal/event"
)

const rollingSamples = 64

type counters struct {
	received  atomic.Uint64
	enqueued  atomic.Uint64
	processed atomic.Uint64
	filtered  atomic.Uint64
	debounced atomic.Uint64
	bursting  atomic.Uint64
	evicted   atomic.Uint64
	errors    atomic.Uint64
}

type rolling struct {
	samples [rollingSamples]time.Duration
	n, next int
	sum     time.Duration
}

func (r *rolling) add(d time.Duration) {
	if r.n == rollingSamples {
		r.sum -= r.samples[r.next]
	} else {
		r.n++
	}
	r.samples[r.next] = d
	r.sum += d
	r.next = (r.next + 1) % rollingSamples
}

func (r *rolling) avg() time.Duration {
	if r.n == 0 {
		return 0
	}
	return r.sum / time.Duration(r.n)
}

// Metrics is safe for concurrent use. The zero value is ready.
type Metrics struct {
	types   [event.NumTypes]counters
	refused atomic.Uint64

	durMu sync.Mutex
	dur   [event.NumTypes]rolling
	all   rolling

	resetAt atomic.Int64
}

func (m *Metrics) slot(t event.Type) *counters {
	if int(t) >= len(m.types) {
		return &m.types[event.TypeUnknown]
	}
	return &m.types[t]
}

func (m *Metrics) Received(t event.Type)  { m.slot(t).received.Add(1) }
func (m *Metrics) Enqueued(t event.Type)  { m.slot(t).enqueued.Add(1) }
func (m *Metrics) Filtered(t event.Type)  { m.slot(t).filtered.Add(1) }
func (m *Metrics) Debounced(t event.Type) { m.slot(t).debounced.Add(1) }
func (m *Metrics) Bursting(t event.Type)  { m.slot(t).bursting.Add(1) }
func (m *Metrics) Evicted(t event.Type)   { m.slot(t).evicted.Add(1) }
func (m *Metrics) Refused()               { m.refused.Add(1) }

// Processed records one dispatched notification, its duration and how many
// consumer invocations failed or timed out.
func (m *Metrics) Processed(t event.Type, took time.Duration, failures int) {
	c := m.slot(t)
	c.processed.Add(1)
	if failures > 0 {
		c.errors.Add(uint64(failures))
	}
	m.durMu.Lock()
	if int(t) < len(m.dur) {
		m.dur[t].add(took)
	}
	m.all.add(took)
	m.durMu.Unlock()
}

// TypeCounts is the per-type part of a Snapshot.
type TypeCounts struct {
	Type        event.Type    `json:"type"`
	Received    uint64        `json:"received"`
	Enqueued    uint64        `json:"enqueued"`
	Processed   uint64        `json:"processed"`
	Filtered    uint64        `json:"filtered"`
	Debounced   uint64        `json:"debounced"`
	Bursting    uint64        `json:"burst_suppressed"`
	Evicted     uint64        `json:"evicted"`
	Errors      uint64        `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	At          time.Time     `json:"at"`
	Since       time.Time     `json:"since"`
	Types       []TypeCounts  `json:"types"`
	Refused     uint64        `json:"refused"`
	Errors      uint64        `json:"errors"`
	Evicted     uint64        `json:"evicted"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Totals sums the per-type counters.
func (s Snapshot) Totals() TypeCounts {
	var t TypeCounts
	for _, c := range s.Types {
		t.Received += c.Received
		t.Enqueued += c.Enqueued
		t.Processed += c.Processed
		t.Filtered += c.Filtered
		t.Debounced += c.Debounced
		t.Bursting += c.Bursting
		t.Evicted += c.Evicted
		t.Errors += c.Errors
	}
	t.AvgDuration = s.AvgDuration
	return t
}

// For returns the counters of one type.
func (s Snapshot) For(t event.Type) TypeCounts {
	for _, c := range s.Types {
		if c.Type == t {
			return c
		}
	}
	return TypeCounts{Type: t}
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		At:      time.Now(),
		Refused: m.refused.Load(),
		Types:   make([]TypeCounts, 0, event.NumTypes),
	}
	if ns := m.resetAt.Load(); ns != 0 {
		snap.Since = time.Unix(0, ns)
	}

	m.durMu.Lock()
	var avgs [event.NumTypes]time.Duration
	for i := range m.dur {
		avgs[i] = m.dur[i].avg()
	}
	snap.AvgDuration = m.all.avg()
	m.durMu.Unlock()

	for _, t := range append([]event.Type{event.TypeUnknown}, event.Types()...) {
		c := &m.types[t]
		tc := TypeCounts{
			Type:        t,
			Received:    c.received.Load(),
			Enqueued:    c.enqueued.Load(),
			Processed:   c.processed.Load(),
			Filtered:    c.filtered.Load(),
			Debounced:   c.debounced.Load(),
			Bursting:    c.bursting.Load(),
			Evicted:     c.evicted.Load(),
			Errors:      c.errors.Load(),
			AvgDuration: avgs[t],
		}
		if t == event.TypeUnknown && tc.Received == 0 {
			continue
		}
		snap.Errors += tc.Errors
		snap.Evicted += tc.Evicted
		snap.Types = append(snap.Types, tc)
	}
	return snap
}

// Reset zeroes every counter and average.
func (m *Metrics) Reset() {
	for i := range m.types {
		c := &m.types[i]
		c.received.Store(0)
		c.enqueued.Store(0)
		c.processed.Store(0)
		c.filtered.Store(0)
		c.debounced.Store(0)
		c.bursting.Store(0)
		c.evicted.Store(0)
		c.errors.Store(0)
	}
	m.refused.Store(0)
	m.durMu.Lock()
	m.dur = [event.NumTypes]rolling{}
	m.all = rolling{}
	m.durMu.Unlock()
	m.resetAt.Store(time.Now().UnixNano())
}
