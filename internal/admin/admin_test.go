package admin

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"uiroute/internal/consumer"
	"uiroute/internal/event"
	"uiroute/internal/router"
	"uiroute/internal/storage"
	"uiroute/pkg/logx"
)

func newController(t *testing.T, withStore bool) (*Controller, *router.Router, storage.Store) {
	t.Helper()
	r := router.New(router.Options{SummaryInterval: -1, HistorySize: 16})
	for _, tgt := range event.AllTargets() {
		if err := r.Register(tgt, consumer.Func{ID: tgt.String()}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	var st storage.Store
	if withStore {
		var err error
		st, err = storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "uiroute")}, logx.Nop())
		if err != nil {
			t.Fatalf("storage.Open: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
	}
	return New(r, st, logx.Nop()), r, st
}

func exec(t *testing.T, c *Controller, line string) string {
	t.Helper()
	out, err := c.Execute(context.Background(), "42", "test", line)
	if err != nil {
		t.Fatalf("Execute(%q): %v", line, err)
	}
	return out
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  status  ", []string{"status"}},
		{`allow "com.example.*"`, []string{"allow", "com.example.*"}},
		{`allow 'a b' c\ d`, []string{"allow", "a b", "c d"}},
		{`deny ""`, []string{"deny", ""}},
	}
	for _, tt := range tests {
		got := tokenize(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := commandName("/Pause@uiroute_bot"); got != "pause" {
		t.Fatalf("commandName = %q, want pause", got)
	}
}

func TestUnknownAndUsage(t *testing.T) {
	t.Parallel()
	c, _, _ := newController(t, false)
	if _, err := c.Execute(context.Background(), "a", "test", "launch"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
	if _, err := c.Execute(context.Background(), "a", "test", "  "); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("empty line err = %v, want ErrUnknownCommand", err)
	}
	if _, err := c.Execute(context.Background(), "a", "test", "allow"); !errors.Is(err, ErrUsage) {
		t.Fatalf("err = %v, want ErrUsage", err)
	}
	if _, err := c.Execute(context.Background(), "a", "test", "disable swiped"); err == nil || !strings.Contains(err.Error(), "scrolled") {
		t.Fatalf("unknown type err = %v, want list of types", err)
	}
	if _, err := c.Execute(context.Background(), "a", "test", "audit"); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("audit without store = %v, want ErrDisabled", err)
	}
	if out := exec(t, c, "help"); !strings.Contains(out, "debounce <type> [interval]") {
		t.Fatalf("help missing debounce:\n%s", out)
	}
}

func TestPolicyCommands(t *testing.T) {
	t.Parallel()
	c, r, _ := newController(t, false)

	if out := exec(t, c, "debounce scrolled 250"); !strings.Contains(out, "250ms") {
		t.Fatalf("debounce out = %q", out)
	}
	if got := r.Debounce(event.TypeScrolled); got != 250*time.Millisecond {
		t.Fatalf("Debounce = %v, want 250ms", got)
	}
	exec(t, c, "debounce window-changed 0s")
	if got := r.Debounce(event.TypeWindowChanged); got != 0 {
		t.Fatalf("Debounce = %v, want 0", got)
	}

	exec(t, c, "burst 3 2s")
	if n, w := r.Burst(); n != 3 || w != 2*time.Second {
		t.Fatalf("Burst = %d/%v", n, w)
	}
	if _, err := c.Execute(context.Background(), "a", "test", "burst 3 0s"); err == nil {
		t.Fatal("zero burst window accepted")
	}

	exec(t, c, `allow "google.*"`)
	exec(t, c, "allow good.app")
	pol := r.Policy()
	if !pol.Allowed("google.maps") || pol.Allowed("blocked.app") {
		t.Fatalf("allow list = %v", pol.Allow)
	}
	exec(t, c, "deny good.app")
	if _, err := c.Execute(context.Background(), "a", "test", "deny good.app"); err == nil {
		t.Fatal("removing an absent pattern succeeded")
	}
	if out := exec(t, c, "deny google.*"); !strings.Contains(out, "every package") {
		t.Fatalf("deny last pattern = %q", out)
	}

	exec(t, c, "disable text-changed")
	if !r.Policy().Disabled[event.TypeTextChanged] {
		t.Fatal("text-changed not disabled")
	}
	if v := r.Submit(event.Raw{Type: event.TypeTextChanged, Package: "p", Class: "c"}); v != event.Rejected {
		t.Fatalf("Submit on disabled type = %v, want rejected", v)
	}
	exec(t, c, "enable text-changed")
	if r.Policy().Disabled[event.TypeTextChanged] {
		t.Fatal("text-changed still disabled")
	}

	out := exec(t, c, "policy")
	if !strings.Contains(out, "burst: 3 per 2s") || !strings.Contains(out, "scrolled: enabled, debounce 250ms") {
		t.Fatalf("policy out:\n%s", out)
	}
}

func TestLifecycleAndReports(t *testing.T) {
	t.Parallel()
	c, r, _ := newController(t, false)

	exec(t, c, "pause")
	if r.State() != router.StatePaused {
		t.Fatalf("state = %s, want paused", r.State())
	}
	r.Submit(event.Raw{Type: event.TypeContentReplaced, Package: "app", Class: "Main"})
	if out := exec(t, c, "status"); !strings.Contains(out, "state: paused") || !strings.Contains(out, "queue: 1/") {
		t.Fatalf("status:\n%s", out)
	}
	exec(t, c, "resume")

	deadline := time.Now().Add(2 * time.Second)
	for r.Metrics().Totals().Processed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if out := exec(t, c, "metrics full-content-replaced"); !strings.Contains(out, "full-content-replaced") {
		t.Fatalf("metrics:\n%s", out)
	}
	if out := exec(t, c, "history 5"); !strings.Contains(out, "app/Main") || !strings.Contains(out, "refresh=success") {
		t.Fatalf("history:\n%s", out)
	}
	if _, err := c.Execute(context.Background(), "a", "test", "history -1"); err == nil {
		t.Fatal("negative history count accepted")
	}

	exec(t, c, "reset")
	if got := r.Metrics().Totals().Received; got != 0 {
		t.Fatalf("received after reset = %d", got)
	}
}

func TestMutatingCommandsAreAudited(t *testing.T) {
	t.Parallel()
	c, _, st := newController(t, true)

	exec(t, c, "status")
	exec(t, c, "debounce scrolled")
	exec(t, c, "burst")
	exec(t, c, "debounce scrolled 1s")
	if _, err := c.Execute(context.Background(), "42", "test", "enable swiped"); err == nil {
		t.Fatal("expected error")
	}

	entries, err := st.RecentAudit(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2 (read-only commands are not audited): %+v", len(entries), entries)
	}
	if e := entries[0]; e.Action != "debounce" || e.Target != "scrolled 1s" || e.Actor != "42" || e.Error != "" {
		t.Fatalf("entry[0] = %+v", e)
	}
	if e := entries[1]; e.Action != "enable" || e.Error == "" {
		t.Fatalf("entry[1] = %+v", e)
	}

	if out := exec(t, c, "audit 1"); !strings.Contains(out, "enable swiped") {
		t.Fatalf("audit:\n%s", out)
	}
}

func TestResetKeepsDebounceUntilForget(t *testing.T) {
	t.Parallel()
	c, r, _ := newController(t, false)
	exec(t, c, "debounce full-content-replaced 10s")

	at := time.Now()
	n := event.Raw{Type: event.TypeContentReplaced, Package: "app", Class: "Main", At: at}
	if v := r.Submit(n); v != event.Enqueued {
		t.Fatalf("first = %s", v)
	}
	exec(t, c, "reset")
	n.At = at.Add(time.Second)
	if v := r.Submit(n); v != event.Debounced {
		t.Fatalf("after reset = %s, want %s", v, event.Debounced)
	}
	exec(t, c, "forget")
	if v := r.Submit(n); v != event.Enqueued {
		t.Fatalf("after forget = %s, want %s", v, event.Enqueued)
	}
}
