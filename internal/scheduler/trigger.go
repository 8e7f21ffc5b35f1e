package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/process"
	"github.com/aether-os/kernel/internal/store"
)

// TriggerRunner evaluates enabled EventTrigger entries against every event
// emitted on the bus, per spec.md §4.5.2.
type TriggerRunner struct {
	store  store.Store
	table  *process.Table
	bus    *eventbus.Bus
	logger *slog.Logger

	mu          sync.Mutex
	lastFiredAt map[string]time.Time
}

// NewTriggerRunner constructs a TriggerRunner.
func NewTriggerRunner(s store.Store, table *process.Table, bus *eventbus.Bus, logger *slog.Logger) *TriggerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerRunner{
		store:       s,
		table:       table,
		bus:         bus,
		logger:      logger.With("component", "scheduler.trigger"),
		lastFiredAt: make(map[string]time.Time),
	}
}

// Start subscribes the runner to every bus event and returns an unsubscribe
// function.
func (r *TriggerRunner) Start(ctx context.Context) (stop func()) {
	return r.bus.Subscribe(eventbus.WildcardSubject, func(e eventbus.Event) {
		r.handle(ctx, e)
	})
}

func (r *TriggerRunner) handle(ctx context.Context, e eventbus.Event) {
	triggers, err := r.store.ListEnabledEventTriggers(ctx)
	if err != nil {
		r.logger.Error("list enabled event triggers", "error", err)
		return
	}

	var payload map[string]any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			// Non-object payloads (numbers, strings, arrays) can never
			// satisfy a filter sub-tree match; skip filter evaluation
			// rather than failing every trigger.
			payload = nil
		}
	}

	for i := range triggers {
		r.evaluate(ctx, &triggers[i], e.Subject, payload)
	}
}

func (r *TriggerRunner) evaluate(ctx context.Context, trg *store.EventTrigger, subject string, payload map[string]any) {
	if !matchesEventPattern(trg.EventPattern, subject) {
		return
	}

	var filter map[string]any
	if len(trg.Filter) > 0 {
		if err := json.Unmarshal(trg.Filter, &filter); err != nil {
			r.logger.Warn("invalid trigger filter, skipping", "trigger_id", trg.ID, "error", err)
			r.bus.Publish("trigger.error", map[string]any{"trigger_id": trg.ID, "owner_uid": trg.OwnerUID, "error": err.Error()})
			return
		}
	}
	if !filterMatches(filter, payload) {
		return
	}

	if r.inCooldown(trg) {
		return
	}

	var cfg process.SpawnConfig
	if len(trg.AgentConfig) > 0 {
		if err := json.Unmarshal(trg.AgentConfig, &cfg); err != nil {
			r.logger.Error("unmarshal trigger agent config", "trigger_id", trg.ID, "error", err)
			r.bus.Publish("trigger.error", map[string]any{"trigger_id": trg.ID, "owner_uid": trg.OwnerUID, "error": err.Error()})
			return
		}
	}

	if _, err := r.table.Spawn(cfg, 0, trg.OwnerUID); err != nil && err != process.ErrQueued {
		r.logger.Error("spawn from event trigger failed", "trigger_id", trg.ID, "error", err)
		r.bus.Publish("trigger.error", map[string]any{"trigger_id": trg.ID, "owner_uid": trg.OwnerUID, "error": err.Error()})
		return
	}

	now := time.Now()
	r.markFired(trg.ID, now)
	trg.LastFiredAt = &now
	if err := r.store.UpdateEventTrigger(ctx, trg); err != nil {
		r.logger.Error("update trigger lastFiredAt", "trigger_id", trg.ID, "error", err)
		r.bus.Publish("trigger.error", map[string]any{"trigger_id": trg.ID, "owner_uid": trg.OwnerUID, "error": err.Error()})
	}
	r.bus.Publish("trigger.fired", map[string]any{"trigger_id": trg.ID, "owner_uid": trg.OwnerUID, "subject": subject})
}

func (r *TriggerRunner) inCooldown(trg *store.EventTrigger) bool {
	r.mu.Lock()
	last, ok := r.lastFiredAt[trg.ID]
	r.mu.Unlock()
	if !ok && trg.LastFiredAt != nil {
		last = *trg.LastFiredAt
		ok = true
	}
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(trg.CooldownMs)*time.Millisecond
}

// inCooldownByID applies inCooldown's in-memory check by trigger id,
// independent of a full EventTrigger record. Unlike inCooldown it does not
// fall back to a persisted LastFiredAt.
func (r *TriggerRunner) inCooldownByID(id string, cooldownMs int64) bool {
	r.mu.Lock()
	last, ok := r.lastFiredAt[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(cooldownMs)*time.Millisecond
}

func (r *TriggerRunner) markFired(triggerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFiredAt[triggerID] = at
}

// matchesEventPattern implements spec.md §4.5.2's pattern: an exact subject,
// or a prefix ending in ".*" matching any subject sharing that prefix.
func matchesEventPattern(pattern, subject string) bool {
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return subject == prefix || strings.HasPrefix(subject, prefix+".")
	}
	return pattern == subject
}

// filterMatches implements spec.md §4.5.2's sub-tree equality: every leaf
// key in filter must exist in payload with an equal value; missing keys
// fail the match. A nil/empty filter always matches.
func filterMatches(filter, payload map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	if payload == nil {
		return false
	}
	for k, want := range filter {
		got, ok := payload[k]
		if !ok {
			return false
		}
		switch wantVal := want.(type) {
		case map[string]any:
			gotMap, ok := got.(map[string]any)
			if !ok || !filterMatches(wantVal, gotMap) {
				return false
			}
		default:
			if got != want {
				return false
			}
		}
	}
	return true
}
