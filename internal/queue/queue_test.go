package queue

import (
	"fmt"
	"testing"
	"time"

	"uiroute/internal/event"
)

func mk(t event.Type, i int) event.Notification {
	return event.Classify(event.Raw{Type: t, Package: fmt.Sprintf("app.%d", i), Class: "C", At: time.Now()})
}

// Scenario D: a full queue of 100 evicts exactly the oldest on the 101st push.
func TestPushEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()
	for _, ord := range []Ordering{FIFO, Priority} {
		ord := ord
		t.Run(ord.String(), func(t *testing.T) {
			q := New(100, ord)
			for i := 0; i < 100; i++ {
				if _, ev := q.Push(mk(event.TypeScrolled, i)); ev {
					t.Fatalf("unexpected eviction at %d", i)
				}
			}
			old, ev := q.Push(mk(event.TypeScrolled, 100))
			if !ev {
				t.Fatal("expected eviction on overflow")
			}
			if old.Package != "app.0" {
				t.Fatalf("evicted %q, want app.0", old.Package)
			}
			if q.Len() != 100 {
				t.Fatalf("Len = %d, want 100", q.Len())
			}
			snap := q.Snapshot()
			var sawNew bool
			for _, n := range snap {
				if n.Package == "app.0" {
					t.Fatal("oldest entry still present")
				}
				if n.Package == "app.100" {
					sawNew = true
				}
			}
			if !sawNew {
				t.Fatal("newest entry missing")
			}
		})
	}
}

func TestFIFOOrder(t *testing.T) {
	t.Parallel()
	q := New(4, FIFO)
	q.Push(mk(event.TypeScrolled, 1))
	q.Push(mk(event.TypeContentReplaced, 2))
	q.Push(mk(event.TypeElementFocused, 3))
	for _, want := range []string{"app.1", "app.2", "app.3"} {
		n, ok := q.Pop()
		if !ok || n.Package != want {
			t.Fatalf("Pop = %q (ok=%v), want %q", n.Package, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestPriorityOrderByTierThenArrival(t *testing.T) {
	t.Parallel()
	q := New(8, Priority)
	q.Push(mk(event.TypeScrolled, 1))
	q.Push(mk(event.TypeTextChanged, 2))
	q.Push(mk(event.TypeContentReplaced, 3))
	q.Push(mk(event.TypeElementActivated, 4))
	q.Push(mk(event.TypeContentReplaced, 5))
	var got []string
	for {
		n, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, n.Package)
	}
	want := []string{"app.3", "app.5", "app.4", "app.1", "app.2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestRingWrapsAround(t *testing.T) {
	t.Parallel()
	q := New(3, FIFO)
	for i := 0; i < 7; i++ {
		q.Push(mk(event.TypeScrolled, i))
	}
	snap := q.Snapshot()
	if len(snap) != 3 || snap[0].Package != "app.4" || snap[2].Package != "app.6" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[0].Seq >= snap[1].Seq {
		t.Fatal("sequence numbers must increase")
	}
}

func TestDrainAndReadySignal(t *testing.T) {
	t.Parallel()
	q := New(5, FIFO)
	q.Push(mk(event.TypeScrolled, 1))
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}
	q.Push(mk(event.TypeScrolled, 2))
	if got := q.Drain(); got != 2 {
		t.Fatalf("Drain = %d, want 2", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after drain", q.Len())
	}
}

func TestParseOrdering(t *testing.T) {
	t.Parallel()
	if o, err := ParseOrdering(""); err != nil || o != FIFO {
		t.Fatalf("ParseOrdering(\"\") = %v, %v", o, err)
	}
	if o, err := ParseOrdering("Priority"); err != nil || o != Priority {
		t.Fatalf("ParseOrdering(Priority) = %v, %v", o, err)
	}
	if _, err := ParseOrdering("lifo"); err == nil {
		t.Fatal("expected error")
	}
}
