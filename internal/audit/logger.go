// Package audit subscribes to the event bus and persists a decision-grade
// audit trail, per spec.md §4.6.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/store"
)

// entriesTotal and decisionsTotal are exported for registration by the
// boundary layer's metrics endpoint, following the pack's
// package-level-var-plus-Collectors()-list convention
// (wisbric-nightowl/internal/telemetry/metrics.go).
var (
	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aether",
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total number of audit entries appended, by event type.",
		},
		[]string{"event_type"},
	)
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aether",
			Subsystem: "audit",
			Name:      "policy_decisions_total",
			Help:      "Total number of policy decisions recorded, by effect.",
		},
		[]string{"effect"},
	)
)

// Collectors returns every metric this package registers, for the
// boundary layer's Prometheus registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{entriesTotal, decisionsTotal}
}

// subjectEventType maps the bus subjects the logger cares about to the
// audit event_type column, per spec.md §4.6's "every policy decision,
// every process lifecycle emit, every login success/failure, every spawn".
var subjectEventType = map[string]string{
	"process.spawned":       "process.spawned",
	"process.stateChange":   "process.stateChange",
	"process.exit":          "process.exit",
	"process.reaped":        "process.reaped",
	"process.queued":        "process.queued",
	"process.dequeued":      "process.dequeued",
	"process.priorityChanged": "process.priorityChanged",
	"auth.success":           "auth.success",
	"auth.failure":           "auth.failure",
	"permission.decision":    "permission.decision",
	"cron.fired":             "cron.fired",
	"trigger.fired":          "trigger.fired",
	"cron.error":             "cron.error",
	"trigger.error":          "trigger.error",
}

// Logger subscribes to the event bus and appends a row to the store for
// every subject it recognizes.
type Logger struct {
	store  store.Store
	logger *slog.Logger
}

// New constructs a Logger.
func New(s store.Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: s, logger: logger.With("component", "audit")}
}

// Start subscribes to every recognized subject and returns a combined
// unsubscribe function.
func (l *Logger) Start(bus *eventbus.Bus) (stop func()) {
	var unsubs []func()
	for subject, eventType := range subjectEventType {
		eventType := eventType
		unsubs = append(unsubs, bus.Subscribe(subject, func(e eventbus.Event) {
			l.record(e, eventType)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (l *Logger) record(e eventbus.Event, eventType string) {
	entry := &store.AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: e.Timestamp,
		Action:    e.Subject,
		EventType: eventType,
		Outcome:   "recorded",
		Detail:    e.Data,
	}
	l.extractFields(entry, e.Data)

	if err := l.store.AppendAudit(context.Background(), entry); err != nil {
		l.logger.Error("append audit entry", "subject", e.Subject, "error", err)
		return
	}
	entriesTotal.WithLabelValues(eventType).Inc()

	if eventType == "permission.decision" {
		var decision struct {
			Effect string `json:"effect"`
		}
		if json.Unmarshal(e.Data, &decision) == nil && decision.Effect != "" {
			decisionsTotal.WithLabelValues(decision.Effect).Inc()
		}
	}
}

// extractFields best-effort-decodes pid/outcome out of a generic event
// payload without requiring every publisher to agree on one struct shape.
func (l *Logger) extractFields(entry *store.AuditEntry, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var fields struct {
		PID     *int   `json:"pid"`
		UID     string `json:"uid"`
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	entry.PID = fields.PID
	if fields.UID != "" {
		entry.UID = fields.UID
	}
	if fields.Outcome != "" {
		entry.Outcome = fields.Outcome
	}
}

// Query is a thin pass-through to the store's filtered, paginated audit
// read path, per spec.md §4.6.
func (l *Logger) Query(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, int, error) {
	return l.store.QueryAudit(ctx, filter)
}

// RecordPolicyDecision is called directly by the boundary layer's
// requirePermission middleware after its CheckPermission call (rather
// than over the bus, since the decision itself carries
// subject/action/resource/rule-id detail no other subscriber needs) to
// log a policy decision, per spec.md §4.6.
func (l *Logger) RecordPolicyDecision(ctx context.Context, subject, action, resource, effect, ruleID string) error {
	detail, _ := json.Marshal(map[string]string{
		"subject": subject, "action": action, "resource": resource, "effect": effect, "rule_id": ruleID,
	})
	entry := &store.AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Action:    action,
		EventType: "permission.decision",
		Subject:   subject,
		Resource:  resource,
		Outcome:   effect,
		Detail:    detail,
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		return err
	}
	entriesTotal.WithLabelValues(entry.EventType).Inc()
	decisionsTotal.WithLabelValues(effect).Inc()
	return nil
}
