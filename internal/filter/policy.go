// Package filter holds the producer-path stages: admission, debounce and
// burst detection.
//
// None of the stages perform I/O or block on locks that administrative calls
// can hold. The admission rules, debounce intervals and burst limits form one
// immutable Policy snapshot that is swapped atomically on update.
package filter

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"uiroute/internal/event"
)

const (
	DefaultDebounce       = time.Second
	DefaultBurstThreshold = 10
	DefaultBurstWindow    = time.Second
)

// Policy is an immutable snapshot of the runtime-tunable pipeline rules.
// Never mutate a Policy obtained from Rules.Load; use Rules.Update.
type Policy struct {
	// Allow holds exact package names or wildcard prefixes ("google.*").
	// Empty means every package is allowed.
	Allow    []string
	Disabled [event.NumTypes]bool
	Debounce [event.NumTypes]time.Duration

	BurstThreshold int
	BurstWindow    time.Duration
}

// DefaultPolicy allows every package and type, with 1s debounce and 10/1s bursts.
func DefaultPolicy() Policy {
	p := Policy{BurstThreshold: DefaultBurstThreshold, BurstWindow: DefaultBurstWindow}
	for i := range p.Debounce {
		p.Debounce[i] = DefaultDebounce
	}
	return p
}

func (p Policy) clone() Policy {
	cp := p
	cp.Allow = slices.Clone(p.Allow)
	return cp
}

// DebounceFor returns the debounce interval for t.
func (p *Policy) DebounceFor(t event.Type) time.Duration {
	if int(t) >= len(p.Debounce) {
		return DefaultDebounce
	}
	return p.Debounce[t]
}

// Allowed reports whether pkg matches the allow list (empty list allows all).
func (p *Policy) Allowed(pkg string) bool {
	if len(p.Allow) == 0 {
		return true
	}
	for _, pat := range p.Allow {
		if matchPattern(pat, pkg) {
			return true
		}
	}
	return false
}

// matchPattern is exact equality, or prefix match when pat ends with '*'.
func matchPattern(pat, pkg string) bool {
	if prefix, ok := strings.CutSuffix(pat, "*"); ok {
		return strings.HasPrefix(pkg, prefix)
	}
	return pat == pkg
}

// NormalizePattern trims a pattern and reports whether it is usable.
func NormalizePattern(pat string) (string, bool) {
	pat = strings.TrimSpace(pat)
	return pat, pat != ""
}

// Rules owns the current Policy. Readers never lock; writers serialize on mu
// and publish a fresh copy.
type Rules struct {
	mu  sync.Mutex
	cur atomic.Pointer[Policy]
}

// NewRules returns Rules initialized with p.
func NewRules(p Policy) *Rules {
	r := &Rules{}
	cp := p.clone()
	r.cur.Store(&cp)
	return r
}

// Load returns the current snapshot. Callers must treat it as read-only.
func (r *Rules) Load() *Policy { return r.cur.Load() }

// Update applies fn to a private copy and publishes it.
func (r *Rules) Update(fn func(p *Policy)) Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cur.Load().clone()
	fn(&next)
	r.cur.Store(&next)
	return next
}

// Replace publishes p wholesale (config reload).
func (r *Rules) Replace(p Policy) {
	cp := p.clone()
	r.mu.Lock()
	r.cur.Store(&cp)
	r.mu.Unlock()
}
