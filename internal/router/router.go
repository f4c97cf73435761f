// Package router wires the producer path (classify, admit, debounce, burst,
// enqueue) to a single dispatch loop that fans each notification out to its
// consumer set.
//
// Submit runs on the caller's goroutine and never blocks: no I/O, no logging
// above trace, and only short-held locks. Everything slow happens on the
// dispatch loop, which runs under a supervisor.
package router

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"uiroute/internal/consumer"
	"uiroute/internal/event"
	"uiroute/internal/eventbus"
	"uiroute/internal/filter"
	"uiroute/internal/history"
	"uiroute/internal/metrics"
	"uiroute/internal/queue"
	"uiroute/internal/runtime/supervisor"
	"uiroute/pkg/logx"
)

const (
	DefaultConsumerTimeout = 100 * time.Millisecond
	DefaultSummaryInterval = 5 * time.Second
)

type Options struct {
	QueueSize       int
	Ordering        queue.Ordering
	ConsumerTimeout time.Duration
	HistorySize     int
	Policy          *filter.Policy

	// Required targets must have at least one consumer when Start runs.
	Required []event.Target

	// SummaryInterval is how often suppression totals are logged.
	// Negative disables the summary.
	SummaryInterval time.Duration

	Bus    eventbus.Bus
	Logger logx.Logger

	// Now stamps notifications that arrive without a timestamp.
	Now func() time.Time
}

type binding struct {
	target event.Target
	c      consumer.Consumer
}

type Router struct {
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	timeout time.Duration
	summary time.Duration

	state atomic.Int32
	lcMu  sync.Mutex // serializes lifecycle transitions

	rules   *filter.Rules
	ledger  filter.Ledger
	burst   filter.Burst
	q       *queue.Queue
	metrics metrics.Metrics
	hist    *history.Ring

	regMu     sync.RWMutex
	consumers map[event.Target][]consumer.Consumer
	required  []event.Target

	sup    *supervisor.Supervisor
	resume chan struct{}
}

func New(opts Options) *Router {
	if opts.ConsumerTimeout <= 0 {
		opts.ConsumerTimeout = DefaultConsumerTimeout
	}
	if opts.SummaryInterval == 0 {
		opts.SummaryInterval = DefaultSummaryInterval
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pol := filter.DefaultPolicy()
	if opts.Policy != nil {
		pol = *opts.Policy
	}
	return &Router{
		log:       opts.Logger.With(logx.String("comp", "router")),
		bus:       opts.Bus,
		now:       opts.Now,
		timeout:   opts.ConsumerTimeout,
		summary:   opts.SummaryInterval,
		rules:     filter.NewRules(pol),
		q:         queue.New(opts.QueueSize, opts.Ordering),
		hist:      history.New(opts.HistorySize),
		consumers: map[event.Target][]consumer.Consumer{},
		required:  slices.Clone(opts.Required),
		resume:    make(chan struct{}, 1),
	}
}

// Register adds c to the consumer set of target t.
func (r *Router) Register(t event.Target, c consumer.Consumer) error {
	if c == nil {
		return fmt.Errorf("register %s: nil consumer", t)
	}
	if r.State() == StateShutDown {
		return ErrShutDown
	}
	r.regMu.Lock()
	r.consumers[t] = append(r.consumers[t], c)
	r.regMu.Unlock()
	return nil
}

// Consumers lists registered consumer names per target.
func (r *Router) Consumers() map[event.Target][]string {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	out := make(map[event.Target][]string, len(r.consumers))
	for t, cs := range r.consumers {
		for _, c := range cs {
			out[t] = append(out[t], c.Name())
		}
	}
	return out
}

func (r *Router) State() State { return State(r.state.Load()) }

func (r *Router) setState(to State, err error) {
	from := State(r.state.Swap(int32(to)))
	if from == to {
		return
	}
	ch := StateChange{From: from, To: to}
	if err != nil {
		ch.Err = err.Error()
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeState, Data: ch})
	r.log.Info("state changed", logx.Stringer("from", from), logx.Stringer("to", to), logx.Err(err))
}

// Submit runs the producer path for one raw notification and reports what
// happened to it. It never blocks and never fails; the verdict is
// informational.
func (r *Router) Submit(raw event.Raw) event.Verdict {
	if !r.State().Accepting() {
		r.metrics.Refused()
		return event.Refused
	}
	if raw.At.IsZero() {
		raw.At = r.now()
	}
	n := event.Classify(raw)
	r.metrics.Received(n.Type)

	p := r.rules.Load()
	if err := filter.Admit(p, &n); err != nil {
		r.metrics.Filtered(n.Type)
		r.log.Trace("notification rejected", logx.String("package", n.Package), logx.Stringer("type", n.Type), logx.Err(err))
		return event.Rejected
	}
	if !r.ledger.Allow(n.Key, n.At, p.DebounceFor(n.Type)) {
		r.metrics.Debounced(n.Type)
		r.suppressed(n, event.Debounced)
		return event.Debounced
	}
	if !r.burst.Allow(n.Type, n.At, p.BurstThreshold, p.BurstWindow) {
		r.metrics.Bursting(n.Type)
		r.suppressed(n, event.Bursting)
		return event.Bursting
	}
	if old, evicted := r.q.Push(n); evicted {
		r.metrics.Evicted(old.Type)
	}
	r.metrics.Enqueued(n.Type)
	return event.Enqueued
}

func (r *Router) suppressed(n event.Notification, v event.Verdict) {
	r.hist.Add(history.Record{
		Type:    n.Type,
		Package: n.Package,
		Class:   n.Class,
		Verdict: v,
		Targets: n.Type.Targets(),
		At:      n.At,
	})
}

// Start validates required consumers, runs Init on consumers that need it and
// launches the dispatch loop. It may be retried after a failure (ERROR).
// ctx bounds initialization only; the loop lives until Shutdown.
func (r *Router) Start(ctx context.Context) error {
	r.lcMu.Lock()
	defer r.lcMu.Unlock()

	switch st := r.State(); st {
	case StateUnstarted, StateError:
	case StateShutDown:
		return ErrShutDown
	default:
		return fmt.Errorf("%w: cannot start from %s", ErrBadState, st)
	}
	r.setState(StateInitializing, nil)

	if err := r.initConsumers(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrInit, err)
		r.setState(StateError, err)
		return err
	}

	r.sup = supervisor.New(context.Background(), supervisor.WithLogger(r.log))
	r.sup.GoRestart("router.dispatch", r.loop,
		supervisor.WithRestartBackoff(10*time.Millisecond, time.Second),
		supervisor.WithPublishFirstError(true),
	)
	if r.summary > 0 {
		r.sup.Go0("router.summary", r.summaryLoop)
	}
	r.setState(StateReady, nil)
	return nil
}

func (r *Router) initConsumers(ctx context.Context) error {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	for _, t := range r.required {
		if len(r.consumers[t]) == 0 {
			return fmt.Errorf("no consumer registered for required target %s", t)
		}
	}
	for _, t := range event.AllTargets() {
		for _, c := range r.consumers[t] {
			in, ok := c.(consumer.Initializer)
			if !ok {
				continue
			}
			if err := in.Init(ctx); err != nil {
				return fmt.Errorf("consumer %s: %w", c.Name(), err)
			}
		}
	}
	return nil
}

// Pause withholds dispatch. Submit keeps enqueueing.
func (r *Router) Pause() error {
	r.lcMu.Lock()
	defer r.lcMu.Unlock()
	switch st := r.State(); st {
	case StatePaused:
		return nil
	case StateReady:
		r.setState(StatePaused, nil)
		return nil
	case StateShutDown:
		return ErrShutDown
	default:
		return fmt.Errorf("%w: cannot pause from %s", ErrBadState, st)
	}
}

// Resume restarts dispatch; queued notifications go out in queue order.
func (r *Router) Resume() error {
	r.lcMu.Lock()
	defer r.lcMu.Unlock()
	switch st := r.State(); st {
	case StateReady:
		return nil
	case StatePaused:
		r.setState(StateReady, nil)
		select {
		case r.resume <- struct{}{}:
		default:
		}
		return nil
	case StateShutDown:
		return ErrShutDown
	default:
		return fmt.Errorf("%w: cannot resume from %s", ErrBadState, st)
	}
}

// Shutdown is terminal. It stops the loop (an in-flight dispatch completes
// within its consumer timeouts), drops whatever is still queued, closes
// consumers that implement io.Closer and forgets registrations.
func (r *Router) Shutdown(ctx context.Context) error {
	r.lcMu.Lock()
	defer r.lcMu.Unlock()
	if r.State() == StateShutDown {
		return nil
	}
	r.setState(StateShutDown, nil)

	var stopErr error
	if r.sup != nil {
		if err := r.sup.Stop(ctx); err != nil {
			if ctx.Err() != nil {
				stopErr = err
			} else {
				r.log.Warn("dispatch loop reported error", logx.Err(err))
			}
		}
	}
	if dropped := r.q.Drain(); dropped > 0 {
		r.log.Info("queue drained without dispatch", logx.Int("dropped", dropped))
	}

	r.regMu.Lock()
	regs := r.consumers
	r.consumers = map[event.Target][]consumer.Consumer{}
	r.regMu.Unlock()

	// A consumer registered for several targets is closed once. Only
	// comparable dynamic types can be map keys.
	closed := map[consumer.Consumer]bool{}
	for _, cs := range regs {
		for _, c := range cs {
			cl, ok := c.(io.Closer)
			if !ok {
				continue
			}
			if reflect.TypeOf(c).Comparable() {
				if closed[c] {
					continue
				}
				closed[c] = true
			}
			if err := cl.Close(); err != nil {
				r.log.Warn("consumer close failed", logx.String("consumer", c.Name()), logx.Err(err))
			}
		}
	}
	return stopErr
}

func (r *Router) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.State() == StatePaused {
			select {
			case <-ctx.Done():
				return nil
			case <-r.resume:
			}
			continue
		}
		n, ok := r.q.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-r.q.Ready():
			case <-r.resume:
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		r.dispatch(n)
	}
}

func (r *Router) resolve(ts event.Targets) []binding {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	var out []binding
	for _, t := range ts.List() {
		for _, c := range r.consumers[t] {
			out = append(out, binding{target: t, c: c})
		}
	}
	return out
}
