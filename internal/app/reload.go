package app

import (
	"context"
	"strings"

	"uiroute/internal/config"
	"uiroute/internal/eventbus"
	"uiroute/pkg/logx"
)

// reloadLoop diffs each published config against the last applied one.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	// A reload committed before the subscription existed.
	if cur := a.cfgm.Get(); cur != nil && cur != a.applied {
		a.apply(ctx, a.applied, cur)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, a.applied, next)
		}
	}
}

// apply pushes the live-applicable parts of next into the running
// components. The pipeline policy is replaced as a whole, so runtime admin
// edits do not survive a reload.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	a.applied = next
	if len(changed) == 0 {
		return
	}

	if prev == nil || prev.Logging != next.Logging {
		a.logs.Apply(mapLogConfig(next))
	}
	if pol, err := next.Pipeline.Policy(); err != nil {
		a.log.Warn("pipeline policy not applied", logx.Err(err))
	} else {
		a.router.ApplyPolicy(pol)
	}
	if err := a.report.Apply(mapReportConfig(next)); err != nil {
		a.log.Warn("report config not applied", logx.Err(err))
	}
	if d, err := mapDebugConfig(next); err != nil {
		a.log.Warn("debug config not applied", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, d)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	if len(restart) > 0 {
		a.log.Warn("some settings take effect after restart", logx.String("settings", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: changed})
}
