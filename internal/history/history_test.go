package history

import (
	"fmt"
	"testing"

	"uiroute/internal/event"
)

func TestRingKeepsMostRecent(t *testing.T) {
	t.Parallel()
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Add(Record{Package: fmt.Sprintf("p%d", i), Type: event.TypeScrolled})
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	got := r.Last(0)
	if len(got) != 3 || got[0].Package != "p2" || got[2].Package != "p4" {
		t.Fatalf("Last(0) = %+v", got)
	}
	two := r.Last(2)
	if len(two) != 2 || two[0].Package != "p3" || two[1].Package != "p4" {
		t.Fatalf("Last(2) = %+v", two)
	}
}

func TestRingPartiallyFilled(t *testing.T) {
	t.Parallel()
	r := New(0)
	if r.Cap() != DefaultCapacity {
		t.Fatalf("Cap = %d, want %d", r.Cap(), DefaultCapacity)
	}
	r.Add(Record{Package: "a"})
	if got := r.Last(10); len(got) != 1 || got[0].Package != "a" {
		t.Fatalf("Last(10) = %+v", got)
	}
}

func TestRecordFailed(t *testing.T) {
	t.Parallel()
	rec := Record{Results: []ConsumerResult{{Outcome: Success}, {Outcome: Failure}, {Outcome: Timeout}}}
	if rec.Failed() != 2 {
		t.Fatalf("Failed = %d, want 2", rec.Failed())
	}
}
