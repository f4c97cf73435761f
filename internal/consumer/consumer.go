// Package consumer holds the downstream side of the pipeline: the Consumer
// contract plus the built-in consumers (tracker, webhook, log, func).
package consumer

import (
	"context"

	"uiroute/internal/event"
	"uiroute/pkg/logx"
)

// Consumer reacts to one dispatched notification.
//
// Accept must honour ctx: the router stops waiting once the deadline passes
// and records a timeout. A returned error is recorded as a failure.
type Consumer interface {
	Name() string
	Accept(ctx context.Context, n event.Notification) error
}

// Initializer is implemented by consumers that need setup before the
// pipeline becomes ready. A failing Init puts the router in ERROR.
type Initializer interface {
	Init(ctx context.Context) error
}

// Func adapts a plain function.
type Func struct {
	ID string
	Fn func(ctx context.Context, n event.Notification) error
}

func (f Func) Name() string { return f.ID }

func (f Func) Accept(ctx context.Context, n event.Notification) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, n)
}

// Log only logs what it receives. It stands in for a target with nothing
// else configured.
type Log struct {
	ID  string
	Log logx.Logger
}

func (l Log) Name() string { return l.ID }

func (l Log) Accept(_ context.Context, n event.Notification) error {
	l.Log.Debug("notification",
		logx.String("consumer", l.ID),
		logx.Stringer("type", n.Type),
		logx.String("package", n.Package),
		logx.String("class", n.Class),
		logx.Int("tier", int(n.Tier)),
	)
	return nil
}
