package eventbus

import (
	"sync"
	"testing"
)

func TestSubscribeEmit_OrderAndFIFO(t *testing.T) {
	b := New(nil)
	var order []int

	b.Subscribe("x", func(Event) { order = append(order, 1) })
	b.Subscribe("x", func(Event) { order = append(order, 2) })
	b.Subscribe("x", func(Event) { order = append(order, 3) })

	b.Publish("x", nil)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestEmit_ExactSubjectOnly(t *testing.T) {
	b := New(nil)
	called := false
	b.Subscribe("process.spawned", func(Event) { called = true })

	b.Publish("process.spawned.extra", nil)
	if called {
		t.Fatal("handler should not fire for a different subject")
	}

	b.Publish("process.spawned", nil)
	if !called {
		t.Fatal("handler should fire for exact subject match")
	}
}

func TestEmit_PanicIsolated(t *testing.T) {
	b := New(nil)
	secondCalled := false

	b.Subscribe("x", func(Event) { panic("boom") })
	b.Subscribe("x", func(Event) { secondCalled = true })

	b.Publish("x", nil)

	if !secondCalled {
		t.Fatal("a panicking handler must not prevent later handlers from running")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	calls := 0
	unsub := b.Subscribe("x", func(Event) { calls++ })

	b.Publish("x", nil)
	unsub()
	b.Publish("x", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	b := New(nil)
	var unsub func()
	var secondCalled bool
	firstCalls := 0

	unsub = b.Subscribe("x", func(Event) { firstCalls++; unsub() })
	b.Subscribe("x", func(Event) { secondCalled = true })

	b.Publish("x", nil)
	if !secondCalled {
		t.Fatal("unsubscribing mid-emit must not skip later handlers in this emit")
	}

	secondCalled = false
	b.Publish("x", nil)
	if !secondCalled || firstCalls != 1 {
		t.Fatal("second-handler-only subscriber list expected after self-unsubscribe")
	}
}

func TestPublish_PayloadRoundTrip(t *testing.T) {
	b := New(nil)
	type payload struct {
		Name string `json:"name"`
	}

	var got payload
	b.Subscribe("x", func(e Event) {
		_ = e.Unmarshal(&got)
	})
	b.Publish("x", payload{Name: "hi"})

	if got.Name != "hi" {
		t.Fatalf("expected payload round trip, got %+v", got)
	}
}

func TestSubscribeWildcard_ReceivesEverySubject(t *testing.T) {
	b := New(nil)
	var seen []string
	b.Subscribe(WildcardSubject, func(e Event) { seen = append(seen, e.Subject) })

	b.Publish("a.one", nil)
	b.Publish("b.two", nil)

	if len(seen) != 2 || seen[0] != "a.one" || seen[1] != "b.two" {
		t.Fatalf("wildcard subscriber saw %v, want [a.one b.two]", seen)
	}
}

func TestConcurrentSubscribeEmit(t *testing.T) {
	b := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("x", func(Event) {})
			b.Publish("x", nil)
			unsub()
		}()
	}
	wg.Wait()
}
