package filter

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"uiroute/internal/event"
)

func note(t event.Type, pkg, class string, at time.Time) event.Notification {
	return event.Classify(event.Raw{Type: t, Package: pkg, Class: class, At: at})
}

func TestAdmit(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	p.Allow = []string{"good.app", "google.*"}
	p.Disabled[event.TypeTextChanged] = true
	now := time.Now()

	tests := []struct {
		name string
		n    event.Notification
		want error
	}{
		{name: "exact allow", n: note(event.TypeScrolled, "good.app", "X", now)},
		{name: "wildcard allow", n: note(event.TypeScrolled, "google.maps", "X", now)},
		{name: "blocked", n: note(event.TypeContentReplaced, "blocked.app", "X", now), want: ErrNotAllowed},
		{name: "prefix without dot", n: note(event.TypeScrolled, "googlex", "X", now), want: ErrNotAllowed},
		{name: "disabled type", n: note(event.TypeTextChanged, "good.app", "X", now), want: ErrTypeDisabled},
		{name: "empty package", n: note(event.TypeScrolled, " ", "X", now), want: ErrNoPackage},
		{name: "unknown type", n: note(event.TypeUnknown, "good.app", "X", now), want: ErrMalformed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Admit(&p, &tt.n); !errors.Is(got, tt.want) {
				t.Fatalf("Admit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdmitEmptyAllowListAllowsAll(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	n := note(event.TypeWindowChanged, "any.app", "C", time.Now())
	if err := Admit(&p, &n); err != nil {
		t.Fatalf("Admit = %v, want nil", err)
	}
}

func TestRulesUpdateDoesNotMutatePreviousSnapshot(t *testing.T) {
	t.Parallel()
	r := NewRules(DefaultPolicy())
	before := r.Load()
	r.Update(func(p *Policy) {
		p.Allow = append(p.Allow, "good.app")
		p.Disabled[event.TypeScrolled] = true
	})
	if len(before.Allow) != 0 || before.Disabled[event.TypeScrolled] {
		t.Fatalf("previous snapshot was mutated: %+v", before)
	}
	after := r.Load()
	if len(after.Allow) != 1 || !after.Disabled[event.TypeScrolled] {
		t.Fatalf("update not published: %+v", after)
	}
}

func TestRulesConcurrentReadsDuringUpdates(t *testing.T) {
	r := NewRules(DefaultPolicy())
	var stop atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				p := r.Load()
				// Allow and Disabled are written together; a torn read would split them.
				if (len(p.Allow) > 0) != p.Disabled[event.TypeScrolled] {
					t.Error("torn policy snapshot observed")
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		on := i%2 == 0
		r.Update(func(p *Policy) {
			if on {
				p.Allow = []string{"a"}
			} else {
				p.Allow = nil
			}
			p.Disabled[event.TypeScrolled] = on
		})
	}
	stop.Store(true)
	wg.Wait()
}

// Scenario A: three identical notifications 50ms apart with a 1s interval.
func TestLedgerSuppressesWithinInterval(t *testing.T) {
	t.Parallel()
	var l Ledger
	base := time.Now()
	key := event.IdentityKey("app.a", "X", event.TypeContentReplaced)

	var accepted int
	for i := 0; i < 3; i++ {
		if l.Allow(key, base.Add(time.Duration(i)*50*time.Millisecond), time.Second) {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}
	last, ok := l.Last(key)
	if !ok || !last.Equal(time.Unix(0, base.UnixNano())) {
		t.Fatalf("ledger advanced on suppression: %v", last)
	}
	if !l.Allow(key, base.Add(time.Second), time.Second) {
		t.Fatal("expected acceptance once the interval elapsed")
	}
}

func TestLedgerKeysAreIndependent(t *testing.T) {
	t.Parallel()
	var l Ledger
	now := time.Now()
	a := event.IdentityKey("app.a", "X", event.TypeScrolled)
	b := event.IdentityKey("app.b", "X", event.TypeScrolled)
	if !l.Allow(a, now, time.Second) || !l.Allow(b, now, time.Second) {
		t.Fatal("distinct keys must not silence each other")
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("Len after reset = %d", l.Len())
	}
}

func TestLedgerConcurrentSameKeyAcceptsOnce(t *testing.T) {
	var l Ledger
	now := time.Now()
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("k", now, time.Second) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := accepted.Load(); got != 1 {
		t.Fatalf("accepted = %d, want 1", got)
	}
}

// Scenario B: 15 scroll events within 800ms, threshold 10 per 1s.
func TestBurstSuppressesExcess(t *testing.T) {
	t.Parallel()
	var b Burst
	base := time.Now()
	var accepted, suppressed int
	for i := 0; i < 15; i++ {
		at := base.Add(time.Duration(i) * 800 * time.Millisecond / 15)
		if b.Allow(event.TypeScrolled, at, 10, time.Second) {
			accepted++
		} else {
			suppressed++
		}
	}
	if accepted != 10 || suppressed != 5 {
		t.Fatalf("accepted=%d suppressed=%d, want 10/5", accepted, suppressed)
	}
	// Other types are unaffected.
	if !b.Allow(event.TypeContentReplaced, base.Add(800*time.Millisecond), 10, time.Second) {
		t.Fatal("content events must not be suppressed by a scroll burst")
	}
}

func TestBurstRecoversAfterWindow(t *testing.T) {
	t.Parallel()
	var b Burst
	base := time.Now()
	for i := 0; i < 12; i++ {
		b.Allow(event.TypeScrolled, base.Add(time.Duration(i)*time.Millisecond), 10, time.Second)
	}
	if b.Allow(event.TypeScrolled, base.Add(500*time.Millisecond), 10, time.Second) {
		t.Fatal("expected sustained burst to stay suppressed")
	}
	if !b.Allow(event.TypeScrolled, base.Add(2*time.Second), 10, time.Second) {
		t.Fatal("first event after a quiet period must be accepted")
	}
	if got := b.Count(event.TypeScrolled); got != 1 {
		t.Fatalf("window length = %d, want 1", got)
	}
}

func TestBurstKeepsOrderForLateTimestamps(t *testing.T) {
	t.Parallel()
	var b Burst
	base := time.Now()
	b.Allow(event.TypeScrolled, base.Add(10*time.Millisecond), 10, time.Second)
	b.Allow(event.TypeScrolled, base, 10, time.Second)
	w := &b.windows[event.TypeScrolled]
	for i := 1; i < len(w.ts); i++ {
		if w.ts[i] < w.ts[i-1] {
			t.Fatalf("window not ordered: %v", w.ts)
		}
	}
}
