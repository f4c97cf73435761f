// Package app wires configuration, the router, its consumers and the
// operator surfaces into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"uiroute/internal/admin"
	"uiroute/internal/config"
	"uiroute/internal/consumer"
	"uiroute/internal/event"
	"uiroute/internal/eventbus"
	"uiroute/internal/observability/debug"
	"uiroute/internal/report"
	"uiroute/internal/router"
	"uiroute/internal/runtime/supervisor"
	"uiroute/internal/source"
	"uiroute/internal/storage"
	"uiroute/internal/transport/telegram"
	"uiroute/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	// applied is the config the running components reflect. Only the
	// config.reload task touches it after Start.
	applied *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	router  *router.Router
	tracker *consumer.Tracker
	admin   *admin.Controller
	report  *report.Reporter
	debug   *debug.Service
	tg      *telegram.Adapter

	in         io.ReadCloser
	reader     *source.Reader
	sourceDone chan struct{}
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:       cfgm,
		applied:    cfg,
		logs:       logSvc,
		log:        log.With(logx.String("comp", "app")),
		bus:        eventbus.New(),
		sourceDone: make(chan struct{}),
	}
	defer func() {
		if err != nil {
			a.closeEarly()
		}
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	pl, err := cfg.Pipeline.Resolve()
	if err != nil {
		return nil, err
	}
	a.router = router.New(router.Options{
		QueueSize:       pl.QueueSize,
		Ordering:        pl.Ordering,
		ConsumerTimeout: pl.ConsumerTimeout,
		HistorySize:     pl.HistorySize,
		SummaryInterval: pl.SummaryInterval,
		Policy:          &pl.Policy,
		Required:        pl.Required,
		Bus:             a.bus,
		Logger:          log,
	})
	if err := a.registerConsumers(cfg, log); err != nil {
		return nil, err
	}

	a.admin = admin.New(a.router, a.store, log.With(logx.String("comp", "admin")))

	if a.report, err = report.New(mapReportConfig(cfg), a.router, log.With(logx.String("comp", "report"))); err != nil {
		return nil, err
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.debug = debug.New(dcfg, a.router, a.admin.Execute, log)

	if tcfg, enabled, err := mapTelegramConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if a.tg, err = telegram.New(tcfg, a.admin, log); err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
	}

	in, err := source.Open(mapSourceConfig(cfg))
	if err != nil {
		return nil, err
	}
	if in != nil {
		a.in = in
		a.reader = source.NewReader(a.router, log)
	}
	return a, nil
}

func (a *App) registerConsumers(cfg *config.Config, log logx.Logger) error {
	client := &http.Client{}
	hooks := []struct {
		name string
		t    event.Target
		wc   *config.WebhookConfig
	}{
		{"refresh", event.TargetRefresh, cfg.Consumers.Refresh},
		{"command", event.TargetCommand, cfg.Consumers.Command},
	}
	for _, h := range hooks {
		var c consumer.Consumer
		if h.wc != nil {
			whc, err := mapWebhookConfig(h.name, h.t, h.wc)
			if err != nil {
				return err
			}
			wh, err := consumer.NewWebhook(whc, client, log)
			if err != nil {
				return fmt.Errorf("consumers.%s: %w", h.name, err)
			}
			c = wh
		} else {
			c = consumer.Log{ID: "log:" + h.name, Log: log.With(logx.String("comp", "consumer"))}
		}
		if err := a.router.Register(h.t, c); err != nil {
			return err
		}
	}

	if cfg.TrackingEnabled() {
		var st storage.Store
		if cfg.Consumers.Tracking.Persist {
			if a.store == nil {
				a.log.Warn("consumers.tracking.persist is set but storage is disabled")
			}
			st = a.store
		}
		a.tracker = consumer.NewTracker(st, log)
		if err := a.router.Register(event.TargetTracking, a.tracker); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Router() *router.Router      { return a.router }
func (a *App) Admin() *admin.Controller    { return a.admin }
func (a *App) Tracker() *consumer.Tracker  { return a.tracker }
func (a *App) Debug() *debug.Service       { return a.debug }
func (a *App) Config() *config.Config      { return a.cfgm.Get() }
func (a *App) SourceDone() <-chan struct{} { return a.sourceDone }

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := a.router.Start(initCtx)
	cancel()
	if err != nil {
		return err
	}

	a.report.Start(a.sup.Context())
	a.debug.Reconfigure(a.sup.Context(), a.currentDebugConfig())
	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.reader != nil {
		a.sup.Go0("source", func(c context.Context) {
			defer close(a.sourceDone)
			if err := a.reader.Run(c, a.in); err != nil {
				a.log.Warn("source stopped", logx.Err(err))
			}
		})
	}

	a.log.Info("app started", logx.String("state", a.router.State().String()))
	return nil
}

func (a *App) currentDebugConfig() debug.Config {
	d, err := mapDebugConfig(a.cfgm.Get())
	if err != nil {
		// Validated at load.
		a.log.Warn("invalid debug config", logx.Err(err))
	}
	return d
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case router.StateChange:
				if d.Err != "" {
					a.log.Warn("pipeline state", logx.Stringer("from", d.From), logx.Stringer("to", d.To), logx.String("err", d.Err))
				} else {
					a.log.Info("pipeline state", logx.Stringer("from", d.From), logx.Stringer("to", d.To))
				}
			case router.DispatchFailure:
				a.log.Debug("dispatch failed", logx.Stringer("type", d.Type), logx.String("package", d.Package), logx.Int("failed", len(d.Results)))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

// Drain waits until the queue is empty or ctx ends. Used after the source
// reaches EOF so piped input is fully dispatched before shutdown.
func (a *App) Drain(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for a.router.QueueLen() > 0 && a.router.State() == router.StateReady {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("router", 3*time.Second, a.router.Shutdown)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// closeEarly releases what build acquired when the app never started.
func (a *App) closeEarly() {
	if a.in != nil {
		_ = a.in.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
