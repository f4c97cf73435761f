package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeState, Data: "ready"})
	b.Publish(Event{Type: TypeState, Data: "paused"}) // a is full, dropped

	if e := <-a; e.Data != "ready" || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d, want 2", len(c))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeDispatchFailed})
}
