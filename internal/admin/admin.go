// Package admin turns operator text commands into router administrative
// calls. It is transport agnostic: the Telegram adapter, the debug server and
// tests all go through Controller.Execute.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/filter"
	"uiroute/internal/history"
	"uiroute/internal/metrics"
	"uiroute/internal/router"
	"uiroute/internal/storage"
	"uiroute/pkg/logx"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Pipeline is the administrative surface of *router.Router.
type Pipeline interface {
	Status() router.Status
	Metrics() metrics.Snapshot
	ResetMetrics()
	ResetFilters()
	History(n int) []history.Record
	Policy() filter.Policy

	Pause() error
	Resume() error

	Debounce(t event.Type) time.Duration
	SetDebounce(t event.Type, d time.Duration) error
	Burst() (int, time.Duration)
	SetBurst(threshold int, window time.Duration) error
	AddAllow(pattern string) error
	RemoveAllow(pattern string) bool
	EnableType(t event.Type) error
	DisableType(t event.Type) error
}

// Request carries one parsed command.
type Request struct {
	Actor  string
	Source string
	Name   string
	Args   []string
}

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Command struct {
	Name        string
	Usage       string
	Description string
	// Mutating commands are written to the audit log.
	Mutating bool
	// ReadOnly, when set, reports whether a call with these args only shows
	// state. Such calls are not audited.
	ReadOnly func(args []string) bool
	Handle   HandlerFunc
}

func (cmd *Command) mutates(args []string) bool {
	return cmd.Mutating && (cmd.ReadOnly == nil || !cmd.ReadOnly(args))
}

const (
	defaultHistory = 10
	maxHistory     = 100
	defaultAudit   = 10
)

type Controller struct {
	p     Pipeline
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	cmds map[string]*Command
}

// New builds a controller. store may be nil, in which case nothing is audited
// and the audit command reports storage as disabled.
func New(p Pipeline, store storage.Store, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{p: p, store: store, log: log, now: time.Now, cmds: map[string]*Command{}}
	c.registerBuiltins()
	return c
}

func (c *Controller) register(cmd *Command) { c.cmds[cmd.Name] = cmd }

// Commands returns the registered commands sorted by name.
func (c *Controller) Commands() []Command {
	out := make([]Command, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one command line on behalf of actor. The returned text is
// meant for the operator; the error, if any, is also safe to show.
func (c *Controller) Execute(ctx context.Context, actor, source, line string) (string, error) {
	toks := tokenize(line)
	if len(toks) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}
	req := &Request{Actor: actor, Source: source, Name: commandName(toks[0]), Args: toks[1:]}
	cmd, ok := c.cmds[req.Name]
	if !ok {
		return "", fmt.Errorf("%w: %q (try help)", ErrUnknownCommand, req.Name)
	}

	mutates := cmd.mutates(req.Args)
	start := c.now()
	out, err := cmd.Handle(ctx, req)
	took := c.now().Sub(start)

	log := c.log.With(
		logx.String("cmd", cmd.Name),
		logx.String("actor", actor),
		logx.String("source", source),
		logx.Duration("took", took),
	)
	if err != nil {
		log.Warn("admin command failed", logx.Err(err))
	} else if mutates {
		log.Info("admin command applied", logx.String("args", strings.Join(req.Args, " ")))
	} else {
		log.Debug("admin command served")
	}

	if mutates {
		c.audit(ctx, req, start, took, err)
	}
	return out, err
}

func (c *Controller) audit(ctx context.Context, req *Request, at time.Time, took time.Duration, cmdErr error) {
	if c.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     at,
		Actor:  req.Actor,
		Source: req.Source,
		Action: req.Name,
		Target: strings.Join(req.Args, " "),
		TookMS: took.Milliseconds(),
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.store.AppendAudit(actx, e); err != nil {
		c.log.Warn("audit append failed", logx.String("cmd", req.Name), logx.Err(err))
	}
}

func usage(cmd string) error {
	return fmt.Errorf("%w: %s", ErrUsage, cmd)
}

func parseType(s string) (event.Type, error) {
	t, ok := event.ParseType(s)
	if !ok {
		names := make([]string, 0, event.NumTypes-1)
		for _, t := range event.Types() {
			names = append(names, t.String())
		}
		return 0, fmt.Errorf("unknown event type %q (one of %s)", s, strings.Join(names, ", "))
	}
	return t, nil
}
