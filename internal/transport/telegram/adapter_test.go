package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"uiroute/internal/admin"
	"uiroute/pkg/logx"
)

type fakeCtrl struct {
	actor, source, line string
	out                 string
	err                 error
}

func (f *fakeCtrl) Execute(_ context.Context, actor, source, line string) (string, error) {
	f.actor, f.source, f.line = actor, source, line
	return f.out, f.err
}

func (f *fakeCtrl) Commands() []admin.Command {
	return []admin.Command{{Name: "status", Description: "state"}}
}

func offlineAdapter(t *testing.T, ctrl Controller) *Adapter {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return newAdapter(Config{Token: "x", OwnerUserIDs: []int64{7, 9}}, ctrl, logx.Nop(), b)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, &fakeCtrl{}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
	if _, err := New(Config{Token: "x"}, &fakeCtrl{}, logx.Nop()); err == nil {
		t.Fatal("missing owners accepted")
	}
}

func TestAuthorized(t *testing.T) {
	t.Parallel()
	a := offlineAdapter(t, &fakeCtrl{})
	for id, want := range map[int64]bool{7: true, 9: true, 8: false, 0: false} {
		if got := a.authorized(id); got != want {
			t.Errorf("authorized(%d) = %v, want %v", id, got, want)
		}
	}
}

func TestReply(t *testing.T) {
	t.Parallel()
	ctrl := &fakeCtrl{out: "state: ready\nqueue: 0/100 <fifo>\n"}
	a := offlineAdapter(t, ctrl)

	got := a.reply(context.Background(), 7, "/status")
	if len(got) != 1 || got[0] != "<pre>state: ready\nqueue: 0/100 &lt;fifo&gt;</pre>" {
		t.Fatalf("reply = %q", got)
	}
	if ctrl.actor != "7" || ctrl.source != "telegram" || ctrl.line != "/status" {
		t.Fatalf("controller saw %q %q %q", ctrl.actor, ctrl.source, ctrl.line)
	}

	ctrl.out, ctrl.err = "", errors.New("bad <type>")
	if got := a.reply(context.Background(), 7, "disable x"); got[0] != "<b>error:</b> bad &lt;type&gt;" {
		t.Fatalf("error reply = %q", got)
	}
	ctrl.err = nil
	if got := a.reply(context.Background(), 7, "reset"); got[0] != "ok" {
		t.Fatalf("empty reply = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("split short = %q", got)
	}

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("é", 9))
	}
	text := strings.Join(lines, "\n")
	parts := splitMessage(text, 50)
	if len(parts) < 2 {
		t.Fatalf("got %d parts, want several", len(parts))
	}
	for _, p := range parts {
		if n := utf8.RuneCountInString(p); n > 50 {
			t.Fatalf("part has %d runes > 50", n)
		}
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Fatalf("part %q not trimmed", p)
		}
		if !utf8.ValidString(p) {
			t.Fatal("part split inside a rune")
		}
	}
	if strings.Join(parts, "\n") != text {
		t.Fatal("parts do not reassemble to the original text")
	}

	long := strings.Repeat("x", 120)
	if got := splitMessage(long, 50); len(got) != 3 || got[2] != strings.Repeat("x", 20) {
		t.Fatalf("split without newlines = %d parts", len(got))
	}
}
