// Package scheduler evaluates CronJob and EventTrigger entries, spawning
// processes through the process table on each fire, per spec.md §4.5.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/process"
	"github.com/aether-os/kernel/internal/store"
)

// cronParser accepts standard five-field expressions (min hour dom mon
// dow), including lists, ranges, steps, and `*`/`?`. Parsing and
// next-occurrence math is delegated to robfig/cron/v3 — used here purely
// as a parser and Schedule.Next(t) calculator; the minute-boundary tick
// loop and overlap-skip bookkeeping below are the kernel's own, because
// cron.v3's own goroutine scheduler has no hook for intercepting every
// fire through ProcessTable.Spawn.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronRunner evaluates enabled CronJob entries at each wall-clock minute
// boundary.
type CronRunner struct {
	store  store.Store
	table  *process.Table
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewCronRunner constructs a CronRunner.
func NewCronRunner(s store.Store, table *process.Table, bus *eventbus.Bus, logger *slog.Logger) *CronRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronRunner{store: s, table: table, bus: bus, logger: logger.With("component", "scheduler.cron")}
}

// ValidateExpr reports whether expr is a well-formed five-field cron
// expression.
func ValidateExpr(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Run blocks, evaluating jobs at each minute boundary until ctx is
// cancelled.
func (r *CronRunner) Run(ctx context.Context) {
	for {
		next := nextMinuteBoundary(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.tick(ctx, next)
		}
	}
}

func nextMinuteBoundary(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// tick evaluates every enabled job against now, firing the ones whose
// expression matches this minute.
func (r *CronRunner) tick(ctx context.Context, now time.Time) {
	jobs, err := r.store.ListEnabledCronJobs(ctx)
	if err != nil {
		r.logger.Error("list enabled cron jobs", "error", err)
		return
	}
	for i := range jobs {
		r.evaluate(ctx, &jobs[i], now)
	}
}

func (r *CronRunner) evaluate(ctx context.Context, job *store.CronJob, now time.Time) {
	sched, err := cronParser.Parse(job.CronExpr)
	if err != nil {
		r.logger.Warn("invalid cron expression, skipping", "job_id", job.ID, "expr", job.CronExpr, "error", err)
		r.bus.Publish("cron.error", map[string]any{"job_id": job.ID, "owner_uid": job.OwnerUID, "error": err.Error()})
		return
	}

	windowStart := now.Truncate(time.Minute)
	if sched.Next(windowStart.Add(-time.Second)).Truncate(time.Minute) != windowStart {
		return
	}

	// Overlap policy: skip this fire if the owner already has an active
	// process for this job, per spec.md §4.5.1.
	if r.ownerHasActiveJobProcess(job) {
		r.logger.Debug("skipping cron fire, job already active", "job_id", job.ID)
		return
	}

	var cfg process.SpawnConfig
	if len(job.AgentConfig) > 0 {
		if err := json.Unmarshal(job.AgentConfig, &cfg); err != nil {
			r.logger.Error("unmarshal cron job agent config", "job_id", job.ID, "error", err)
			r.bus.Publish("cron.error", map[string]any{"job_id": job.ID, "owner_uid": job.OwnerUID, "error": err.Error()})
			return
		}
	}
	if cfg.Extra == nil {
		cfg.Extra = map[string]any{}
	}
	cfg.Extra["cron_job_id"] = job.ID

	if _, err := r.table.Spawn(cfg, 0, job.OwnerUID); err != nil && err != process.ErrQueued {
		r.logger.Error("spawn from cron job failed", "job_id", job.ID, "error", err)
		r.bus.Publish("cron.error", map[string]any{"job_id": job.ID, "owner_uid": job.OwnerUID, "error": err.Error()})
		return
	}

	job.LastFiredAt = &now
	if err := r.store.UpdateCronJob(ctx, job); err != nil {
		r.logger.Error("update cron job lastFiredAt", "job_id", job.ID, "error", err)
		r.bus.Publish("cron.error", map[string]any{"job_id": job.ID, "owner_uid": job.OwnerUID, "error": err.Error()})
	}
	r.bus.Publish("cron.fired", map[string]any{"job_id": job.ID, "owner_uid": job.OwnerUID})
}

func (r *CronRunner) ownerHasActiveJobProcess(job *store.CronJob) bool {
	for _, p := range r.table.GetActiveByOwner(job.OwnerUID, false) {
		if p.Config.Extra != nil && p.Config.Extra["cron_job_id"] == job.ID {
			return true
		}
	}
	return false
}
