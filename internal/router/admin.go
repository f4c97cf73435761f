package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/filter"
	"uiroute/internal/history"
	"uiroute/internal/metrics"
	"uiroute/internal/runtime/supervisor"
	"uiroute/pkg/logx"
)

var ErrUnknownType = errors.New("unknown event type")

func checkType(t event.Type) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return nil
}

// Debounce returns the debounce interval for t.
func (r *Router) Debounce(t event.Type) time.Duration {
	return r.rules.Load().DebounceFor(t)
}

// SetDebounce changes the debounce interval for t. Zero disables debouncing.
func (r *Router) SetDebounce(t event.Type, d time.Duration) error {
	if err := checkType(t); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative debounce interval %s", d)
	}
	r.rules.Update(func(p *filter.Policy) { p.Debounce[t] = d })
	return nil
}

// AddAllow adds a package pattern to the allow list. Adding an existing
// pattern is a no-op.
func (r *Router) AddAllow(pattern string) error {
	pat, ok := filter.NormalizePattern(pattern)
	if !ok {
		return fmt.Errorf("empty allow pattern")
	}
	r.rules.Update(func(p *filter.Policy) {
		if !slices.Contains(p.Allow, pat) {
			p.Allow = append(p.Allow, pat)
		}
	})
	return nil
}

// RemoveAllow removes a pattern and reports whether it was present.
// Removing the last pattern opens admission to every package.
func (r *Router) RemoveAllow(pattern string) bool {
	pat, ok := filter.NormalizePattern(pattern)
	if !ok {
		return false
	}
	removed := false
	r.rules.Update(func(p *filter.Policy) {
		if i := slices.Index(p.Allow, pat); i >= 0 {
			p.Allow = slices.Delete(p.Allow, i, i+1)
			removed = true
		}
	})
	return removed
}

func (r *Router) EnableType(t event.Type) error  { return r.setDisabled(t, false) }
func (r *Router) DisableType(t event.Type) error { return r.setDisabled(t, true) }

func (r *Router) setDisabled(t event.Type, disabled bool) error {
	if err := checkType(t); err != nil {
		return err
	}
	r.rules.Update(func(p *filter.Policy) { p.Disabled[t] = disabled })
	return nil
}

// Burst returns the burst threshold and window.
func (r *Router) Burst() (int, time.Duration) {
	p := r.rules.Load()
	return p.BurstThreshold, p.BurstWindow
}

// SetBurst changes the burst limit. A threshold of zero disables burst
// suppression.
func (r *Router) SetBurst(threshold int, window time.Duration) error {
	if threshold < 0 {
		return fmt.Errorf("negative burst threshold %d", threshold)
	}
	if window <= 0 {
		return fmt.Errorf("burst window must be positive, got %s", window)
	}
	r.rules.Update(func(p *filter.Policy) {
		p.BurstThreshold = threshold
		p.BurstWindow = window
	})
	return nil
}

// Policy returns a copy of the current rules.
func (r *Router) Policy() filter.Policy {
	p := *r.rules.Load()
	p.Allow = slices.Clone(p.Allow)
	return p
}

// ApplyPolicy replaces the rules wholesale (config reload).
func (r *Router) ApplyPolicy(p filter.Policy) {
	r.rules.Replace(p)
}

func (r *Router) Metrics() metrics.Snapshot { return r.metrics.Snapshot() }

// ResetMetrics zeroes the counters. Debounce and burst state are kept.
func (r *Router) ResetMetrics() { r.metrics.Reset() }

// ResetFilters forgets debounce timestamps and burst windows, so the next
// notification of every key and type is accepted.
func (r *Router) ResetFilters() {
	r.ledger.Reset()
	r.burst.Reset()
}

// History returns up to n recent records, oldest first (n <= 0: all).
func (r *Router) History(n int) []history.Record { return r.hist.Last(n) }

func (r *Router) QueueLen() int { return r.q.Len() }
func (r *Router) QueueCap() int { return r.q.Cap() }

// Status is a compact view for operators.
type Status struct {
	State      State               `json:"state"`
	Ordering   string              `json:"ordering"`
	QueueLen   int                 `json:"queue_len"`
	QueueCap   int                 `json:"queue_cap"`
	Consumers  map[string][]string `json:"consumers"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}

func (r *Router) Status() Status {
	st := Status{
		State:     r.State(),
		Ordering:  r.q.Ordering().String(),
		QueueLen:  r.q.Len(),
		QueueCap:  r.q.Cap(),
		Consumers: map[string][]string{},
	}
	for t, names := range r.Consumers() {
		st.Consumers[t.String()] = names
	}
	r.lcMu.Lock()
	sup := r.sup
	r.lcMu.Unlock()
	if sup != nil {
		st.Supervisor = sup.Snapshot()
	}
	return st
}

// summaryLoop logs producer-side suppression totals. The producer path stays
// silent and this is where operators see floods and overflow.
func (r *Router) summaryLoop(ctx context.Context) {
	t := time.NewTicker(r.summary)
	defer t.Stop()
	var prev metrics.TypeCounts
	var prevRefused uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		snap := r.metrics.Snapshot()
		cur := snap.Totals()
		if cur.Received < prev.Received {
			// reset in between
			prev, prevRefused = metrics.TypeCounts{}, 0
		}
		d := metrics.TypeCounts{
			Received:  cur.Received - prev.Received,
			Filtered:  cur.Filtered - prev.Filtered,
			Debounced: cur.Debounced - prev.Debounced,
			Bursting:  cur.Bursting - prev.Bursting,
			Evicted:   cur.Evicted - prev.Evicted,
		}
		refused := snap.Refused - prevRefused
		prev, prevRefused = cur, snap.Refused
		if d.Received == 0 && refused == 0 {
			continue
		}
		lvl := r.log.Debug
		if d.Evicted > 0 || refused > 0 {
			lvl = r.log.Info
		}
		lvl("pipeline summary",
			logx.Uint64("received", d.Received),
			logx.Uint64("filtered", d.Filtered),
			logx.Uint64("debounced", d.Debounced),
			logx.Uint64("bursting", d.Bursting),
			logx.Uint64("evicted", d.Evicted),
			logx.Uint64("refused", refused),
			logx.Int("queue_len", r.q.Len()),
			logx.Duration("interval", r.summary),
		)
	}
}
