package boundary

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/scheduler"
	"github.com/aether-os/kernel/internal/store"
)

// handleCreateCronJob creates a cron job owned by the calling user, per
// spec.md §4.5.1.
func (s *Server) handleCreateCronJob(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var req struct {
		Name        string          `json:"name"`
		CronExpr    string          `json:"cron_expr"`
		AgentConfig json.RawMessage `json:"agent_config"`
		Enabled     bool            `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := scheduler.ValidateExpr(req.CronExpr); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvalidInput, "invalid cron expression", err))
		return
	}

	job := &store.CronJob{
		ID:          uuid.New().String(),
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		AgentConfig: req.AgentConfig,
		OwnerUID:    u.ID,
		Enabled:     req.Enabled,
	}
	if err := s.store.CreateCronJob(r.Context(), job); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, job)
}

// handleListCronJobs lists enabled cron jobs. The store contract only
// exposes the enabled set (spec.md §4.5.3 evaluates enabled entries only),
// so that's what this endpoint surfaces.
func (s *Server) handleListCronJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListEnabledCronJobs(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []store.CronJob{}
	}
	writeList(w, http.StatusOK, jobs, len(jobs), len(jobs), 0)
}

// handleUpdateCronJob toggles/edits a cron job.
func (s *Server) handleUpdateCronJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.store.GetCronJob(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req struct {
		CronExpr *string `json:"cron_expr,omitempty"`
		Enabled  *bool   `json:"enabled,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.CronExpr != nil {
		if err := scheduler.ValidateExpr(*req.CronExpr); err != nil {
			writeErr(w, apperr.Wrap(apperr.InvalidInput, "invalid cron expression", err))
			return
		}
		job.CronExpr = *req.CronExpr
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if err := s.store.UpdateCronJob(r.Context(), job); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, job)
}

// handleDeleteCronJob removes a cron job.
func (s *Server) handleDeleteCronJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.store.DeleteCronJob(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleCreateTrigger creates an event trigger owned by the calling user,
// per spec.md §4.5.2.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var req struct {
		Name         string          `json:"name"`
		EventPattern string          `json:"event_pattern"`
		Filter       json.RawMessage `json:"filter,omitempty"`
		AgentConfig  json.RawMessage `json:"agent_config"`
		Enabled      bool            `json:"enabled"`
		CooldownMs   int64           `json:"cooldown_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	trg := &store.EventTrigger{
		ID:           uuid.New().String(),
		Name:         req.Name,
		EventPattern: req.EventPattern,
		Filter:       req.Filter,
		AgentConfig:  req.AgentConfig,
		OwnerUID:     u.ID,
		Enabled:      req.Enabled,
		CooldownMs:   req.CooldownMs,
	}
	if err := s.store.CreateEventTrigger(r.Context(), trg); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, trg)
}

// handleListTriggers lists enabled event triggers.
func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.ListEnabledEventTriggers(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if triggers == nil {
		triggers = []store.EventTrigger{}
	}
	writeList(w, http.StatusOK, triggers, len(triggers), len(triggers), 0)
}

// handleUpdateTrigger toggles/edits an event trigger.
func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerID")
	trg, err := s.store.GetEventTrigger(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req struct {
		Enabled    *bool  `json:"enabled,omitempty"`
		CooldownMs *int64 `json:"cooldown_ms,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Enabled != nil {
		trg.Enabled = *req.Enabled
	}
	if req.CooldownMs != nil {
		trg.CooldownMs = *req.CooldownMs
	}
	if err := s.store.UpdateEventTrigger(r.Context(), trg); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, trg)
}

// handleDeleteTrigger removes an event trigger.
func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerID")
	if err := s.store.DeleteEventTrigger(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}
