package audit

import (
	"context"
	"testing"

	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/store"
)

func TestLogger_RecordsRecognizedSubjects(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	bus := eventbus.New(nil)
	l := New(s, nil)
	stop := l.Start(bus)
	defer stop()

	pid := 7
	bus.Publish("process.spawned", map[string]any{"pid": pid, "outcome": "ok"})
	bus.Publish("auth.success", map[string]any{"username": "alice"})
	bus.Publish("unrelated.subject", map[string]any{"x": 1})

	entries, total, err := l.Query(ctx, store.AuditFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2 (unrelated.subject must not be recorded)", total)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	var sawSpawn bool
	for _, e := range entries {
		if e.EventType == "process.spawned" {
			sawSpawn = true
			if e.PID == nil || *e.PID != pid {
				t.Fatalf("expected pid %d extracted onto the audit entry, got %+v", pid, e.PID)
			}
		}
	}
	if !sawSpawn {
		t.Fatal("expected a process.spawned entry")
	}
}

func TestLogger_RecordPolicyDecision(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := New(s, nil)

	if err := l.RecordPolicyDecision(ctx, "user:1", "tool.rm.execute", "rm", "deny", "policy-1"); err != nil {
		t.Fatalf("RecordPolicyDecision: %v", err)
	}

	entries, total, err := l.Query(ctx, store.AuditFilter{EventType: "permission.decision", Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected exactly one permission.decision entry, got total=%d len=%d", total, len(entries))
	}
	if entries[0].Outcome != "deny" || entries[0].Subject != "user:1" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestLogger_QueryPagination(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	bus := eventbus.New(nil)
	l := New(s, nil)
	stop := l.Start(bus)
	defer stop()

	for i := 0; i < 5; i++ {
		bus.Publish("cron.fired", map[string]any{"job_id": "j"})
	}

	page, total, err := l.Query(ctx, store.AuditFilter{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("page len = %d, want 2", len(page))
	}
}
