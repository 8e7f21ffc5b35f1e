package boundary

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/store"
)

// handleQueryAudit answers admin audit queries, per spec.md §4.7. Filters
// are supplied as query params: pid, action, event_type, start_time,
// end_time (RFC3339), limit, offset.
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.AuditFilter{
		Action:    q.Get("action"),
		EventType: q.Get("event_type"),
		Limit:     50,
	}

	if raw := q.Get("pid"); raw != "" {
		pid, err := strconv.Atoi(raw)
		if err != nil {
			writeErr(w, apperr.Newf(apperr.InvalidInput, "invalid pid: %q", raw))
			return
		}
		filter.PID = &pid
	}
	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErr(w, apperr.Newf(apperr.InvalidInput, "invalid start_time: %q", raw))
			return
		}
		filter.StartTime = &t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErr(w, apperr.Newf(apperr.InvalidInput, "invalid end_time: %q", raw))
			return
		}
		filter.EndTime = &t
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	entries, total, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeList(w, http.StatusOK, entries, total, filter.Limit, filter.Offset)
}
