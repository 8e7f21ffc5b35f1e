package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aether-os/kernel/internal/eventbus"
)

func TestFanout_StreamsConnectedThenMatchingEvent(t *testing.T) {
	bus := eventbus.New(nil)
	f := New(bus, nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events?subjects=process.*", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.ServeHTTP(rec, req)
		close(done)
	}()

	waitForClients(t, f, 1)

	bus.Publish("process.spawned", map[string]any{"pid": 1})
	bus.Publish("unrelated.subject", map[string]any{"x": 1})

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "connected") {
		t.Fatalf("expected a connected heartbeat frame, got: %q", body)
	}
	if !strings.Contains(body, "process.spawned") {
		t.Fatalf("expected a process.spawned event frame, got: %q", body)
	}
	if strings.Contains(body, "unrelated.subject") {
		t.Fatalf("non-matching subject should have been filtered out, got: %q", body)
	}
	if f.ClientCount() != 0 {
		t.Fatal("expected client to be unregistered after disconnect")
	}
}

func TestFanout_EmptySubjectsReceivesEverything(t *testing.T) {
	bus := eventbus.New(nil)
	f := New(bus, nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.ServeHTTP(rec, req)
		close(done)
	}()

	waitForClients(t, f, 1)
	bus.Publish("anything.goes", nil)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(rec.Body.String(), "anything.goes") {
		t.Fatalf("empty subjects filter should receive every subject, got: %q", rec.Body.String())
	}
}

func TestFanout_BareFilterRequiresExactMatch(t *testing.T) {
	bus := eventbus.New(nil)
	f := New(bus, nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events?subjects=process", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.ServeHTTP(rec, req)
		close(done)
	}()

	waitForClients(t, f, 1)

	bus.Publish("process", map[string]any{"pid": 1})
	bus.Publish("process.spawned", map[string]any{"pid": 1})

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: process\n") {
		t.Fatalf("expected the exact-match subject %q to pass, got: %q", "process", body)
	}
	if strings.Contains(body, "process.spawned") {
		t.Fatalf("a bare filter must not prefix-match, got: %q", body)
	}
}

func waitForClients(t *testing.T, f *Fanout, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connected clients", want)
}
