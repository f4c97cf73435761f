// Package report logs a periodic summary of the pipeline counters.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"uiroute/internal/metrics"
	"uiroute/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
}

// Source returns the current counters and queue length.
type Source interface {
	Metrics() metrics.Snapshot
	QueueLen() int
}

type Reporter struct {
	src Source
	log logx.Logger

	mu    sync.Mutex
	cfg   Config
	sched Schedule
	loc   *time.Location
	c     *cron.Cron
	last  metrics.Snapshot
	runs  int
}

// New validates cfg. The reporter does nothing until Start.
func New(cfg Config, src Source, log logx.Logger) (*Reporter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sched, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Reporter{src: src, log: log, cfg: cfg, sched: sched}, nil
}

func parseConfig(cfg Config) (Schedule, error) {
	raw := strings.TrimSpace(cfg.Schedule)
	if raw == "" {
		raw = DefaultSchedule
	}
	return ParseSchedule(raw)
}

// Validate checks a config without applying it.
func Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if _, err := parseConfig(cfg); err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("report.timezone: %w", err)
		}
	}
	return nil
}

func (r *Reporter) Start(ctx context.Context) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.startLocked()
}

func (r *Reporter) startLocked() {
	if !r.cfg.Enabled {
		r.log.Debug("report disabled")
		return
	}
	r.loc = r.loadLocationLocked()
	r.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(r.loc),
		cron.WithChain(cron.Recover(cronLogger{r.log}), cron.SkipIfStillRunning(cronLogger{r.log})),
	)
	job := cron.FuncJob(r.Run)
	var err error
	if r.sched.Kind == KindInterval {
		r.c.Schedule(cron.Every(r.sched.Every), job)
	} else {
		_, err = r.c.AddJob(r.sched.Cron, job)
	}
	if err != nil {
		// ParseSchedule already ran the same parser.
		r.log.Error("report schedule rejected", logx.String("schedule", r.sched.String()), logx.Err(err))
		r.c = nil
		return
	}
	r.c.Start()
	r.log.Info("report started", logx.String("schedule", r.sched.String()), logx.String("tz", r.loc.String()))
}

// Apply swaps the schedule live. An invalid config is rejected and the
// running schedule kept.
func (r *Reporter) Apply(cfg Config) error {
	sched, err := parseConfig(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg == r.cfg {
		return nil
	}
	running := r.c != nil
	if running {
		<-r.c.Stop().Done()
		r.c = nil
	}
	r.cfg = cfg
	r.sched = sched
	r.startLocked()
	if !running && r.c != nil {
		r.log.Info("report enabled")
	}
	return nil
}

func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Debug("report stopped")
}

// Next returns the next scheduled run, or zero when not running.
func (r *Reporter) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return time.Time{}
	}
	for _, e := range r.c.Entries() {
		return e.Next
	}
	return time.Time{}
}

// Run logs one summary. It is what the schedule invokes.
func (r *Reporter) Run() {
	snap := r.src.Metrics()
	qlen := r.src.QueueLen()

	r.mu.Lock()
	prev := r.last
	r.last = snap
	r.runs++
	r.mu.Unlock()

	cur, old := snap.Totals(), prev.Totals()
	// A reset between runs makes the previous totals meaningless.
	if cur.Received < old.Received {
		old = metrics.TypeCounts{}
	}
	r.log.Info("pipeline report",
		logx.Uint64("received", cur.Received),
		logx.Uint64("received_delta", sub(cur.Received, old.Received)),
		logx.Uint64("processed", cur.Processed),
		logx.Uint64("processed_delta", sub(cur.Processed, old.Processed)),
		logx.Uint64("filtered", cur.Filtered),
		logx.Uint64("debounced", cur.Debounced),
		logx.Uint64("burst_suppressed", cur.Bursting),
		logx.Uint64("evicted", cur.Evicted),
		logx.Uint64("errors", cur.Errors),
		logx.Uint64("refused", snap.Refused),
		logx.Int("queue_len", qlen),
		logx.Duration("avg_dispatch", snap.AvgDuration),
	)
}

func sub(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return a - b
}

func (r *Reporter) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func (r *Reporter) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(r.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger for the job wrappers.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
