package scheduler

import (
	"context"
	"log/slog"

	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/process"
	"github.com/aether-os/kernel/internal/store"
)

// Scheduler wires cron and event-trigger evaluation to the process table,
// state store, and event bus, per spec.md §4.5.
type Scheduler struct {
	cron    *CronRunner
	trigger *TriggerRunner
	logger  *slog.Logger
}

// New constructs a Scheduler. Persisted cron jobs and triggers are loaded
// lazily by the runners on each evaluation pass, so no explicit "load on
// startup" step is required beyond calling Run — the runners always read
// the current enabled set from the store, per spec.md §4.5.3.
func New(s store.Store, table *process.Table, bus *eventbus.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    NewCronRunner(s, table, bus, logger),
		trigger: NewTriggerRunner(s, table, bus, logger),
		logger:  logger.With("component", "scheduler"),
	}
}

// Run starts both the cron minute-boundary loop and the event-trigger
// subscription, blocking until ctx is cancelled. The minute-boundary tick is
// the scheduler's only drift-prone component: a late timer fire evaluates
// against the minute it was scheduled for, not wall-clock-at-fire-time, so
// a delayed goroutine still fires the correct job exactly once rather than
// skipping or double-firing (see DESIGN.md's Open Question decision).
func (s *Scheduler) Run(ctx context.Context) {
	stopTriggers := s.trigger.Start(ctx)
	defer stopTriggers()

	s.logger.Info("scheduler started")
	s.cron.Run(ctx)
	s.logger.Info("scheduler stopped")
}
