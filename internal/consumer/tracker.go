package consumer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/runtime/supervisor"
	"uiroute/internal/storage"
	"uiroute/pkg/logx"
)

// Tracker is the built-in state tracker. It remembers the foreground
// package/class and the last notification per package, and persists that
// state best-effort.
type Tracker struct {
	store storage.Store
	log   logx.Logger

	mu         sync.RWMutex
	states     map[string]storage.PackageState
	foreground storage.PackageState

	pch     chan storage.PackageState
	dropped atomic.Uint64

	lcMu sync.Mutex
	sup  *supervisor.Supervisor
}

// NewTracker returns a tracker. store may be nil.
func NewTracker(store storage.Store, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		store:  store,
		log:    log.With(logx.String("comp", "tracker")),
		states: map[string]storage.PackageState{},
		pch:    make(chan storage.PackageState, 256),
	}
}

func (t *Tracker) Name() string { return "tracker" }

func (t *Tracker) Accept(_ context.Context, n event.Notification) error {
	t.mu.Lock()
	st := t.states[n.Package]
	st.Package = n.Package
	st.Class = n.Class
	st.LastType = n.Type.String()
	st.At = n.At
	st.Events++
	t.states[n.Package] = st
	if n.Type == event.TypeWindowChanged || n.Type == event.TypeContentReplaced {
		t.foreground = st
	}
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	select {
	case t.pch <- st:
	default:
		t.dropped.Add(1)
	}
	return nil
}

// Init restores persisted state and starts the persist loop.
func (t *Tracker) Init(ctx context.Context) error {
	t.lcMu.Lock()
	defer t.lcMu.Unlock()
	if t.store == nil || t.sup != nil {
		return nil
	}
	prev, err := t.store.ListStates(ctx)
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		return err
	}
	t.mu.Lock()
	for _, st := range prev {
		if _, ok := t.states[st.Package]; !ok {
			t.states[st.Package] = st
		}
	}
	t.mu.Unlock()

	t.sup = supervisor.New(context.Background(), supervisor.WithLogger(t.log))
	t.sup.Go0("tracker.persist", t.persistLoop)
	return nil
}

// Close stops the persist loop after flushing what is queued.
func (t *Tracker) Close() error {
	t.lcMu.Lock()
	sup := t.sup
	t.sup = nil
	t.lcMu.Unlock()
	if sup == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sup.Stop(ctx)
	t.flush()
	if n := t.dropped.Load(); n > 0 {
		t.log.Info("tracker dropped state writes", logx.Uint64("dropped", n))
	}
	return nil
}

func (t *Tracker) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-t.pch:
			t.put(ctx, st)
		}
	}
}

func (t *Tracker) flush() {
	for {
		select {
		case st := <-t.pch:
			t.put(context.Background(), st)
		default:
			return
		}
	}
}

func (t *Tracker) put(ctx context.Context, st storage.PackageState) {
	cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if err := t.store.PutState(cctx, st); err != nil {
		t.log.Debug("persist state failed", logx.String("package", st.Package), logx.Err(err))
	}
}

// Foreground returns the package/class of the last structural change.
func (t *Tracker) Foreground() (storage.PackageState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.foreground, t.foreground.Package != ""
}

// States lists every tracked package.
func (t *Tracker) States() []storage.PackageState {
	t.mu.RLock()
	out := make([]storage.PackageState, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, st)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}
