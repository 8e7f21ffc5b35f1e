package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/process"
	"github.com/aether-os/kernel/internal/store"
)

func TestValidateExpr(t *testing.T) {
	if err := ValidateExpr("*/5 * * * *"); err != nil {
		t.Fatalf("ValidateExpr on a valid expr: %v", err)
	}
	if err := ValidateExpr("not a cron expr"); err == nil {
		t.Fatal("ValidateExpr should reject a malformed expression")
	}
}

func TestCronRunner_FiresOnMatchingMinute(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tbl := process.New(eventbus.New(nil), nil, 10, 10)
	bus := eventbus.New(nil)
	r := NewCronRunner(s, tbl, bus, nil)

	fired := false
	bus.Subscribe("cron.fired", func(eventbus.Event) { fired = true })

	now := time.Date(2026, 7, 30, 12, 30, 0, 0, time.UTC)
	job := &store.CronJob{ID: "j1", Name: "every-half-hour", CronExpr: "30 * * * *", OwnerUID: "u1", Enabled: true}
	if err := s.CreateCronJob(ctx, job); err != nil {
		t.Fatalf("CreateCronJob: %v", err)
	}

	r.tick(ctx, now)

	if !fired {
		t.Fatal("expected cron.fired to be published on a matching minute")
	}
	counts := tbl.GetCounts()
	if counts[process.Created] != 1 {
		t.Fatalf("expected a process spawned from the cron fire, counts = %+v", counts)
	}

	reloaded, err := s.GetCronJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetCronJob: %v", err)
	}
	if reloaded.LastFiredAt == nil {
		t.Fatal("expected LastFiredAt to be set after firing")
	}
}

func TestCronRunner_SkipsNonMatchingMinute(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tbl := process.New(eventbus.New(nil), nil, 10, 10)
	bus := eventbus.New(nil)
	r := NewCronRunner(s, tbl, bus, nil)

	now := time.Date(2026, 7, 30, 12, 15, 0, 0, time.UTC)
	job := &store.CronJob{ID: "j1", CronExpr: "30 * * * *", OwnerUID: "u1", Enabled: true}
	if err := s.CreateCronJob(ctx, job); err != nil {
		t.Fatalf("CreateCronJob: %v", err)
	}

	r.tick(ctx, now)

	counts := tbl.GetCounts()
	if len(counts) != 0 {
		t.Fatalf("no process should have spawned, counts = %+v", counts)
	}
}

func TestCronRunner_SkipsWhenOwnerAlreadyActive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tbl := process.New(eventbus.New(nil), nil, 10, 10)
	bus := eventbus.New(nil)
	r := NewCronRunner(s, tbl, bus, nil)

	now := time.Date(2026, 7, 30, 12, 30, 0, 0, time.UTC)
	job := &store.CronJob{ID: "j1", CronExpr: "30 * * * *", OwnerUID: "u1", Enabled: true}
	if err := s.CreateCronJob(ctx, job); err != nil {
		t.Fatalf("CreateCronJob: %v", err)
	}

	r.tick(ctx, now)
	firstCounts := tbl.GetCounts()
	if firstCounts[process.Created] != 1 {
		t.Fatalf("expected one process after first fire, counts = %+v", firstCounts)
	}

	// "30 * * * *" matches again one hour later; simulate that next
	// matching minute while the first spawned process is still active.
	r.tick(ctx, now.Add(time.Hour))
	secondCounts := tbl.GetCounts()
	if secondCounts[process.Created] != 1 {
		t.Fatalf("expected overlap-skip to prevent a second spawn, counts = %+v", secondCounts)
	}
}
