package report

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/metrics"
	"uiroute/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		kind  Kind
		every time.Duration
	}{
		{raw: "*/5 * * * *", kind: KindCron},
		{raw: "0 */2 * * * *", kind: KindCron},
		{raw: "@hourly", kind: KindCron},
		{raw: "@every 1m", kind: KindCron},
		{raw: "cron:0 0 * * *", kind: KindCron},
		{raw: "55m", kind: KindInterval, every: 55 * time.Minute},
		{raw: "every:45s", kind: KindInterval, every: 45 * time.Second},
		{raw: "00:30", kind: KindInterval, every: 30 * time.Minute},
		{raw: "02:05", kind: KindInterval, every: 2*time.Hour + 5*time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "61 * * * *", "cron:", "00:75", "500ms", "every:-1m"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded, want error", raw)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(Config{Enabled: false, Schedule: "garbage"}); err != nil {
		t.Fatalf("disabled config validated: %v", err)
	}
	if err := Validate(Config{Enabled: true}); err != nil {
		t.Fatalf("default schedule rejected: %v", err)
	}
	if err := Validate(Config{Enabled: true, Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

type fakeSource struct {
	m metrics.Metrics
}

func (f *fakeSource) Metrics() metrics.Snapshot { return f.m.Snapshot() }
func (f *fakeSource) QueueLen() int             { return 3 }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRunLogsDeltas(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	var buf syncBuffer
	r, err := New(Config{}, src, logx.NewWriter(&buf, "info"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src.m.Received(event.TypeScrolled)
	src.m.Received(event.TypeScrolled)
	r.Run()
	src.m.Received(event.TypeScrolled)
	r.Run()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"received_delta":2`) || !strings.Contains(lines[1], `"received_delta":1`) {
		t.Fatalf("unexpected deltas:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], `"queue_len":3`) {
		t.Fatalf("queue length missing: %s", lines[1])
	}

	src.m.Reset()
	r.Run()
	if !strings.Contains(buf.String(), `"received_delta":0`) {
		t.Fatalf("reset not handled:\n%s", buf.String())
	}
}

func TestReporterRunsOnInterval(t *testing.T) {
	t.Parallel()
	r, err := New(Config{Enabled: true, Schedule: "every:1s"}, &fakeSource{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start(context.Background())
	defer r.Stop(context.Background())
	if r.Next().IsZero() {
		t.Fatal("Next() is zero after Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Runs() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reporter never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()
	r, err := New(Config{}, &fakeSource{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start(context.Background())
	if !r.Next().IsZero() {
		t.Fatal("disabled reporter scheduled a run")
	}
	if err := r.Apply(Config{Enabled: true, Schedule: "nonsense"}); err == nil {
		t.Fatal("Apply accepted a bad schedule")
	}
	if err := r.Apply(Config{Enabled: true, Schedule: "@hourly"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.Next().IsZero() {
		t.Fatal("enabled reporter has no next run")
	}
	if err := r.Apply(Config{}); err != nil {
		t.Fatalf("Apply(disable): %v", err)
	}
	if !r.Next().IsZero() {
		t.Fatal("reporter still scheduled after disable")
	}
	r.Stop(context.Background())
}
