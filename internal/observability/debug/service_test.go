package debug

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/history"
	"uiroute/internal/metrics"
	"uiroute/internal/router"
	"uiroute/pkg/logx"
)

type fakeSource struct {
	m     metrics.Metrics
	state router.State
	recs  []history.Record
}

func (f *fakeSource) Metrics() metrics.Snapshot { return f.m.Snapshot() }
func (f *fakeSource) QueueLen() int             { return 7 }
func (f *fakeSource) Status() router.Status {
	return router.Status{State: f.state, QueueLen: 7, QueueCap: 100, Ordering: "fifo"}
}

func (f *fakeSource) History(n int) []history.Record {
	if n > 0 && n < len(f.recs) {
		return f.recs[len(f.recs)-n:]
	}
	return f.recs
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestHealthzFollowsState(t *testing.T) {
	t.Parallel()
	src := &fakeSource{state: router.StateReady}
	s := New(Config{}, src, nil, logx.Nop())
	if code, body := get(t, s.Handler(), "/healthz", nil); code != http.StatusOK || body != "ready" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	src.state = router.StateError
	if code, _ := get(t, s.Handler(), "/healthz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("healthz in error state = %d, want 503", code)
	}
}

func TestMetricsStatusHistory(t *testing.T) {
	t.Parallel()
	src := &fakeSource{state: router.StateReady}
	src.m.Received(event.TypeScrolled)
	src.m.Received(event.TypeScrolled)
	src.m.Debounced(event.TypeScrolled)
	for i := 0; i < 3; i++ {
		src.recs = append(src.recs, history.Record{Type: event.TypeWindowChanged, Package: "app", Verdict: event.Enqueued})
	}
	h := New(Config{}, src, nil, logx.Nop()).Handler()

	code, body := get(t, h, "/metrics", nil)
	if code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	for _, want := range []string{
		`uiroute_notifications_received_total{type="scrolled"} 2`,
		`uiroute_notifications_debounced_total{type="scrolled"} 1`,
		`uiroute_queue_length 7`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	if _, body := get(t, h, "/status", nil); !strings.Contains(body, `"state": "ready"`) {
		t.Fatalf("/status = %s", body)
	}
	if _, body := get(t, h, "/history?n=2", nil); strings.Count(body, `"window-changed"`) != 2 {
		t.Fatalf("/history?n=2 = %s", body)
	}
	if code, _ := get(t, h, "/history?n=x", nil); code != http.StatusBadRequest {
		t.Fatalf("/history?n=x = %d, want 400", code)
	}
}

func TestTokenAndAdmin(t *testing.T) {
	t.Parallel()
	var gotLine, gotSource string
	exec := func(_ context.Context, _, source, line string) (string, error) {
		gotLine, gotSource = line, source
		return "paused\n", nil
	}
	src := &fakeSource{state: router.StateReady}
	h := New(Config{Token: "s3cret", Prefix: "/pp"}, src, exec, logx.Nop()).Handler()

	if code, _ := get(t, h, "/status", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/status?token=wrong", nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/status?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", code)
	}
	bearer := map[string]string{"Authorization": "Bearer s3cret"}
	if code, body := get(t, h, "/pp/", bearer); code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index = %d", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader("pause"))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "paused\n" {
		t.Fatalf("/admin = %d %q", rec.Code, rec.Body.String())
	}
	if gotLine != "pause" || gotSource != "http" {
		t.Fatalf("exec got %q from %q", gotLine, gotSource)
	}

	// Without a token the admin endpoint is not mounted at all.
	open := New(Config{}, src, exec, logx.Nop()).Handler()
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader("pause")))
	if rec.Code == http.StatusOK {
		t.Fatal("/admin served without a token")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, &fakeSource{state: router.StateReady}, nil, logx.Nop())
	s.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ready" {
		t.Fatalf("/healthz = %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatal("server still running after disable")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	if isLoopbackAddr("0.0.0.0:6060") || isLoopbackAddr(":6060") || !isLoopbackAddr("localhost:1") || !isLoopbackAddr("[::1]:1") {
		t.Fatal("isLoopbackAddr misclassified")
	}
	s := New(Config{Addr: "0.0.0.0:0"}, &fakeSource{}, nil, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Fatalf("serveOnce = %v, want insecure bind error", err)
	}
}
