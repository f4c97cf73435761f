package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"uiroute/internal/event"
	"uiroute/pkg/logx"
)

type sink struct {
	mu   sync.Mutex
	raws []event.Raw
}

func (s *sink) Submit(r event.Raw) event.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raws = append(s.raws, r)
	if r.Type == event.TypeUnknown {
		return event.Rejected
	}
	return event.Enqueued
}

func (s *sink) got() []event.Raw {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Raw(nil), s.raws...)
}

const input = `
# comment
{"type":"window-changed","package":"com.app","class":"Main","at":"2026-01-02T15:04:05Z"}
{"type":"scrolled","package":"com.app","class":"List","ts_ms":1700000000000}
{"type":"swiped","package":"com.app","class":"List"}
not json
{"type":"text-changed","package":"com.app","class":"Edit"}
`

func TestRunSubmitsLines(t *testing.T) {
	t.Parallel()
	s := &sink{}
	arrival := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := NewReader(s, logx.Nop())
	r.now = func() time.Time { return arrival }

	if err := r.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := s.got()
	if len(got) != 4 {
		t.Fatalf("submitted %d, want 4", len(got))
	}
	if got[0].Type != event.TypeWindowChanged || got[0].Package != "com.app" || !got[0].At.Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if !got[1].At.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("ts_ms not used: %v", got[1].At)
	}
	if got[2].Type != event.TypeUnknown {
		t.Fatalf("unknown kind mapped to %v", got[2].Type)
	}
	if !got[3].At.Equal(arrival) {
		t.Fatalf("arrival stamp = %v, want %v", got[3].At, arrival)
	}

	st := r.Stats()
	if st.Lines != 5 || st.Malformed != 1 || st.Verdicts[event.Enqueued] != 3 || st.Verdicts[event.Rejected] != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(&sink{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, pr) }()

	if _, err := io.WriteString(pw, `{"type":"scrolled","package":"a","class":"b"}`+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "in.jsonl")
	if err := os.WriteFile(p, []byte(input), 0o600); err != nil {
		t.Fatal(err)
	}
	rc, err := Open(Config{Kind: "file", Path: p})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	_ = rc.Close()

	if rc, err := Open(Config{Kind: "none"}); rc != nil || err != nil {
		t.Fatalf("Open none = %v, %v", rc, err)
	}
	if _, err := Open(Config{Kind: "socket"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
}
