package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/eventbus"
	"uiroute/internal/history"
	"uiroute/pkg/logx"
)

// DispatchFailure is the payload of eventbus.TypeDispatchFailed events.
type DispatchFailure struct {
	Type    event.Type               `json:"type"`
	Package string                   `json:"package"`
	Class   string                   `json:"class"`
	Results []history.ConsumerResult `json:"results"`
}

// dispatch hands n to every consumer of its type concurrently and waits at
// most the consumer timeout for each.
func (r *Router) dispatch(n event.Notification) {
	start := time.Now()
	targets := n.Type.Targets()
	bs := r.resolve(targets)

	results := make([]history.ConsumerResult, len(bs))
	var wg sync.WaitGroup
	for i, b := range bs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.invoke(b, n)
		}()
	}
	wg.Wait()

	took := time.Since(start)
	rec := history.Record{
		Type:     n.Type,
		Package:  n.Package,
		Class:    n.Class,
		Verdict:  event.Enqueued,
		Targets:  targets,
		At:       n.At,
		Duration: took,
		Results:  results,
	}
	r.hist.Add(rec)
	failed := rec.Failed()
	r.metrics.Processed(n.Type, took, failed)

	if failed > 0 {
		for _, res := range results {
			if res.Outcome == history.Success {
				continue
			}
			r.log.Warn("consumer failed",
				logx.String("consumer", res.Name),
				logx.Stringer("target", res.Target),
				logx.Stringer("outcome", res.Outcome),
				logx.String("reason", res.Reason),
				logx.Stringer("type", n.Type),
				logx.String("package", n.Package),
			)
		}
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFailed, Data: DispatchFailure{
			Type:    n.Type,
			Package: n.Package,
			Class:   n.Class,
			Results: results,
		}})
	}
	if took > r.timeout {
		r.log.Debug("slow dispatch", logx.Stringer("type", n.Type), logx.Duration("took", took))
	}
}

// invoke runs one consumer with its own deadline. A consumer that ignores
// ctx is abandoned at the deadline; its goroutine exits whenever Accept
// returns.
func (r *Router) invoke(b binding, n event.Notification) history.ConsumerResult {
	res := history.ConsumerResult{Target: b.target, Name: b.c.Name()}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- b.c.Accept(ctx, n)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Outcome = history.Success
	case errors.Is(err, context.DeadlineExceeded):
		res.Outcome = history.Timeout
		res.Reason = fmt.Sprintf("no result within %s", r.timeout)
	default:
		res.Outcome = history.Failure
		res.Reason = err.Error()
	}
	return res
}
