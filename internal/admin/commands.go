package admin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/storage"
)

func (c *Controller) registerBuiltins() {
	for _, cmd := range []*Command{
		{Name: "help", Usage: "help", Description: "list commands", Handle: c.cmdHelp},
		{Name: "status", Usage: "status", Description: "lifecycle state, queue and consumers", Handle: c.cmdStatus},
		{Name: "metrics", Usage: "metrics [type]", Description: "per-type counters", Handle: c.cmdMetrics},
		{Name: "history", Usage: "history [n]", Description: "last n dispatch records", Handle: c.cmdHistory},
		{Name: "policy", Usage: "policy", Description: "admission, debounce and burst rules", Handle: c.cmdPolicy},
		{Name: "audit", Usage: "audit [n]", Description: "recent administrative actions", Handle: c.cmdAudit},

		{Name: "pause", Usage: "pause", Description: "stop dispatching (queue keeps filling)", Mutating: true, Handle: c.cmdPause},
		{Name: "resume", Usage: "resume", Description: "resume dispatching", Mutating: true, Handle: c.cmdResume},
		{Name: "debounce", Usage: "debounce <type> [interval]", Description: "show or set a debounce interval (0 disables)", Mutating: true, ReadOnly: argsBelow(2), Handle: c.cmdDebounce},
		{Name: "burst", Usage: "burst [threshold window]", Description: "show or set the burst limit (threshold 0 disables)", Mutating: true, ReadOnly: argsBelow(1), Handle: c.cmdBurst},
		{Name: "allow", Usage: "allow <pattern>", Description: "add a package pattern (exact or prefix*)", Mutating: true, Handle: c.cmdAllow},
		{Name: "deny", Usage: "deny <pattern>", Description: "remove a package pattern", Mutating: true, Handle: c.cmdDeny},
		{Name: "enable", Usage: "enable <type>", Description: "admit an event type", Mutating: true, Handle: c.cmdEnable},
		{Name: "disable", Usage: "disable <type>", Description: "reject an event type", Mutating: true, Handle: c.cmdDisable},
		{Name: "reset", Usage: "reset", Description: "zero metrics counters", Mutating: true, Handle: c.cmdReset},
		{Name: "forget", Usage: "forget", Description: "forget debounce and burst state", Mutating: true, Handle: c.cmdForget},
	} {
		c.register(cmd)
	}
}

// argsBelow marks calls with fewer than n args as read-only.
func argsBelow(n int) func([]string) bool {
	return func(args []string) bool { return len(args) < n }
}

func (c *Controller) cmdHelp(_ context.Context, _ *Request) (string, error) {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, cmd := range c.Commands() {
		fmt.Fprintf(tw, "%s\t%s\n", cmd.Usage, cmd.Description)
	}
	_ = tw.Flush()
	return b.String(), nil
}

func (c *Controller) cmdStatus(_ context.Context, _ *Request) (string, error) {
	st := c.p.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", st.State)
	fmt.Fprintf(&b, "queue: %d/%d (%s)\n", st.QueueLen, st.QueueCap, st.Ordering)
	targets := make([]string, 0, len(st.Consumers))
	for t := range st.Consumers {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		fmt.Fprintf(&b, "consumers.%s: %s\n", t, strings.Join(st.Consumers[t], ", "))
	}
	if sup := st.Supervisor; sup.Started > 0 {
		fmt.Fprintf(&b, "goroutines: %d active, %d started\n", sup.Active, sup.Started)
		for _, ts := range sup.Tasks {
			if ts.Restarts > 0 {
				fmt.Fprintf(&b, "  %s restarted %d times\n", ts.Name, ts.Restarts)
			}
		}
		if sup.FirstError != "" {
			fmt.Fprintf(&b, "first error: %s\n", sup.FirstError)
		}
	}
	return b.String(), nil
}

func (c *Controller) cmdMetrics(_ context.Context, req *Request) (string, error) {
	snap := c.p.Metrics()
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "type\trecv\tenq\tproc\tfilt\tdeb\tburst\tevict\terr\tavg\t")
	rows := snap.Types
	if len(req.Args) > 0 {
		t, err := parseType(req.Args[0])
		if err != nil {
			return "", err
		}
		rows = rows[:0:0]
		rows = append(rows, snap.For(t))
	}
	for _, tc := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			tc.Type, tc.Received, tc.Enqueued, tc.Processed, tc.Filtered,
			tc.Debounced, tc.Bursting, tc.Evicted, tc.Errors, tc.AvgDuration.Round(time.Microsecond))
	}
	_ = tw.Flush()
	fmt.Fprintf(&b, "refused: %d, avg dispatch: %s", snap.Refused, snap.AvgDuration.Round(time.Microsecond))
	if !snap.Since.IsZero() {
		fmt.Fprintf(&b, ", since %s", snap.Since.Format(time.RFC3339))
	}
	b.WriteByte('\n')
	return b.String(), nil
}

func (c *Controller) cmdHistory(_ context.Context, req *Request) (string, error) {
	n, err := countArg(req.Args, defaultHistory, maxHistory)
	if err != nil {
		return "", err
	}
	recs := c.p.History(n)
	if len(recs) == 0 {
		return "no dispatch records\n", nil
	}
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %s %s/%s %s", r.At.Format("15:04:05.000"), r.Verdict, r.Package, r.Class, r.Type)
		if len(r.Results) > 0 {
			fmt.Fprintf(&b, " took=%s", r.Duration.Round(time.Microsecond))
			for _, res := range r.Results {
				fmt.Fprintf(&b, " %s=%s", res.Name, res.Outcome)
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (c *Controller) cmdPolicy(_ context.Context, _ *Request) (string, error) {
	p := c.p.Policy()
	var b strings.Builder
	if len(p.Allow) == 0 {
		b.WriteString("allow: * (every package)\n")
	} else {
		fmt.Fprintf(&b, "allow: %s\n", strings.Join(p.Allow, ", "))
	}
	fmt.Fprintf(&b, "burst: %d per %s\n", p.BurstThreshold, p.BurstWindow)
	for _, t := range event.Types() {
		state := "enabled"
		if p.Disabled[t] {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s: %s, debounce %s\n", t, state, p.Debounce[t])
	}
	return b.String(), nil
}

func (c *Controller) cmdAudit(ctx context.Context, req *Request) (string, error) {
	if c.store == nil {
		return "", storage.ErrDisabled
	}
	n, err := countArg(req.Args, defaultAudit, maxHistory)
	if err != nil {
		return "", err
	}
	entries, err := c.store.RecentAudit(ctx, n)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "audit log is empty\n", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s@%s %s", e.At.Format(time.RFC3339), e.Actor, e.Source, e.Action)
		if e.Target != "" {
			fmt.Fprintf(&b, " %s", e.Target)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, " (error: %s)", e.Error)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (c *Controller) cmdPause(_ context.Context, _ *Request) (string, error) {
	if err := c.p.Pause(); err != nil {
		return "", err
	}
	return "paused\n", nil
}

func (c *Controller) cmdResume(_ context.Context, _ *Request) (string, error) {
	if err := c.p.Resume(); err != nil {
		return "", err
	}
	return "resumed\n", nil
}

func (c *Controller) cmdDebounce(_ context.Context, req *Request) (string, error) {
	if len(req.Args) == 0 || len(req.Args) > 2 {
		return "", usage("debounce <type> [interval]")
	}
	t, err := parseType(req.Args[0])
	if err != nil {
		return "", err
	}
	if len(req.Args) == 2 {
		d, err := parseDuration(req.Args[1])
		if err != nil {
			return "", err
		}
		if err := c.p.SetDebounce(t, d); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("debounce %s: %s\n", t, c.p.Debounce(t)), nil
}

func (c *Controller) cmdBurst(_ context.Context, req *Request) (string, error) {
	switch len(req.Args) {
	case 0:
	case 2:
		n, err := strconv.Atoi(req.Args[0])
		if err != nil {
			return "", fmt.Errorf("burst threshold %q: not a number", req.Args[0])
		}
		w, err := parseDuration(req.Args[1])
		if err != nil {
			return "", err
		}
		if err := c.p.SetBurst(n, w); err != nil {
			return "", err
		}
	default:
		return "", usage("burst [threshold window]")
	}
	n, w := c.p.Burst()
	return fmt.Sprintf("burst: %d per %s\n", n, w), nil
}

func (c *Controller) cmdAllow(_ context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", usage("allow <pattern>")
	}
	if err := c.p.AddAllow(req.Args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("allowed %s\n", strings.TrimSpace(req.Args[0])), nil
}

func (c *Controller) cmdDeny(_ context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", usage("deny <pattern>")
	}
	if !c.p.RemoveAllow(req.Args[0]) {
		return "", fmt.Errorf("pattern %q is not in the allow list", req.Args[0])
	}
	if len(c.p.Policy().Allow) == 0 {
		return "removed; allow list is now empty (every package admitted)\n", nil
	}
	return fmt.Sprintf("removed %s\n", strings.TrimSpace(req.Args[0])), nil
}

func (c *Controller) cmdEnable(_ context.Context, req *Request) (string, error) {
	return c.toggleType(req, "enable", c.p.EnableType)
}

func (c *Controller) cmdDisable(_ context.Context, req *Request) (string, error) {
	return c.toggleType(req, "disable", c.p.DisableType)
}

func (c *Controller) toggleType(req *Request, verb string, fn func(event.Type) error) (string, error) {
	if len(req.Args) != 1 {
		return "", usage(verb + " <type>")
	}
	t, err := parseType(req.Args[0])
	if err != nil {
		return "", err
	}
	if err := fn(t); err != nil {
		return "", err
	}
	return fmt.Sprintf("%sd %s\n", verb, t), nil
}

func (c *Controller) cmdReset(_ context.Context, _ *Request) (string, error) {
	c.p.ResetMetrics()
	return "metrics reset\n", nil
}

func (c *Controller) cmdForget(_ context.Context, _ *Request) (string, error) {
	c.p.ResetFilters()
	return "debounce and burst state cleared\n", nil
}

func countArg(args []string, def, limit int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("count %q: want a positive number", args[0])
	}
	return min(n, limit), nil
}

// parseDuration accepts Go durations and bare milliseconds ("250").
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("interval %q must be >= 0", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", s, err)
	}
	return d, nil
}
