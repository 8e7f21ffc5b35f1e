// Package sse fans out event-bus traffic to connected HTTP clients as
// Server-Sent Events, per spec.md §4.7.
package sse

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	ginsse "github.com/gin-contrib/sse"

	"github.com/aether-os/kernel/internal/eventbus"
)

// Fanout subscribes to the event bus once and relays matching events to
// every connected client's own filtered channel.
type Fanout struct {
	bus    *eventbus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	unsub   func()
}

type client struct {
	prefixes []string
	ch       chan eventbus.Event
}

// matches reports whether subject satisfies one of the client's filters.
// A filter of "*" matches everything; a filter ending in ".*" matches the
// stripped prefix or anything dot-scoped under it; anything else must match
// subject exactly. Same semantics as scheduler.matchesEventPattern, per
// spec.md §4.7.
func (c *client) matches(subject string) bool {
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if p == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ".*"); ok {
			if subject == prefix || strings.HasPrefix(subject, prefix+".") {
				return true
			}
			continue
		}
		if subject == p {
			return true
		}
	}
	return false
}

// New constructs a Fanout and subscribes it to the bus immediately; call
// Close to unsubscribe.
func New(bus *eventbus.Bus, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{
		bus:     bus,
		logger:  logger.With("component", "sse.fanout"),
		clients: make(map[*client]struct{}),
	}
	f.unsub = bus.Subscribe(eventbus.WildcardSubject, f.broadcast)
	return f
}

// Close unsubscribes the fanout from the bus.
func (f *Fanout) Close() {
	f.unsub()
}

func (f *Fanout) broadcast(e eventbus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		if !c.matches(e.Subject) {
			continue
		}
		select {
		case c.ch <- e:
		default:
			f.logger.Warn("dropping sse event for a slow client", "subject", e.Subject)
		}
	}
}

// ServeHTTP streams events matching the "subjects" query parameter (a
// comma-separated list of exact subjects or ".*"-suffixed prefixes; empty
// means everything) to w until the request's context is cancelled, per
// spec.md §4.7.
func (f *Fanout) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var prefixes []string
	if raw := r.URL.Query().Get("subjects"); raw != "" {
		prefixes = strings.Split(raw, ",")
	}

	c := &client{prefixes: prefixes, ch: make(chan eventbus.Event, 64)}
	f.register(c)
	defer f.unregister(c)

	if err := (ginsse.Event{Event: "connected", Data: map[string]bool{"connected": true}}).Render(w); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.ch:
			ev := ginsse.Event{Event: e.Subject, Id: e.Timestamp.Format("20060102150405.000000000")}
			if len(e.Data) > 0 {
				var payload any
				if err := e.Unmarshal(&payload); err == nil {
					ev.Data = payload
				}
			}
			if err := ev.Render(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (f *Fanout) register(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c] = struct{}{}
}

// unregister releases every subscription a disconnecting client created,
// per spec.md §4.7.
func (f *Fanout) unregister(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, c)
}

// ClientCount reports the number of currently connected clients.
func (f *Fanout) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
