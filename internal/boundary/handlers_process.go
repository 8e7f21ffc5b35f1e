package boundary

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/process"
)

// handleSpawn creates a new agent process owned by the calling user, per
// spec.md §4.4.1. A process.ErrQueued result (admission limit reached) is
// reported as a 202-accepted single-item response carrying queued=true
// rather than an error — queueing is expected backpressure, not failure.
func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	var req process.SpawnConfig
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	p, err := s.procs.Spawn(req, 0, u.ID)
	if err != nil {
		if err == process.ErrQueued {
			writeData(w, http.StatusAccepted, map[string]any{"queued": true, "message": err.Error()})
			return
		}
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, p)
}

// handleGetProcess returns a single process, enforcing ownership.
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	pid, err := pidParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.procs.IsOwner(pid, u.ID, u.Role == "admin") {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "not your process")
		return
	}
	p, err := s.procs.Get(pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// handleListProcesses lists the calling user's active processes (every
// active process for an admin).
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	list := s.procs.GetActiveByOwner(u.ID, u.Role == "admin")
	if list == nil {
		list = []*process.Process{}
	}
	writeList(w, http.StatusOK, list, len(list), len(list), 0)
}

// handleSignal dispatches a SIGTERM/SIGKILL/SIGSTOP/SIGCONT to a process,
// per spec.md §4.4.3.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	pid, err := pidParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.procs.IsOwner(pid, u.ID, u.Role == "admin") {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "not your process")
		return
	}

	var req struct {
		Signal process.Signal `json:"signal"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if !s.procs.Signal(pid, req.Signal) {
		writeErrCode(w, http.StatusConflict, string(apperr.InvalidState), "signal does not apply to process's current state")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "signaled"})
}

// handleSetPriority updates a process's priority, per spec.md §4.4.1.
func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	pid, err := pidParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.procs.IsOwner(pid, u.ID, u.Role == "admin") {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "not your process")
		return
	}

	var req struct {
		Priority int `json:"priority"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	ok, err := s.procs.SetPriority(pid, req.Priority)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"updated": ok})
}

// handleSendMessage appends a message to a target process's mailbox, per
// spec.md §4.4.5.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	toPID, err := pidParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.procs.IsOwner(toPID, u.ID, u.Role == "admin") {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "not your process")
		return
	}

	var req struct {
		FromPID int    `json:"from_pid"`
		Channel string `json:"channel"`
		Payload any    `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	msg, err := s.procs.SendMessage(req.FromPID, toPID, req.Channel, req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, msg)
}

// handleDrainMessages drains and returns pid's mailbox.
func (s *Server) handleDrainMessages(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	pid, err := pidParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.procs.IsOwner(pid, u.ID, u.Role == "admin") {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "not your process")
		return
	}
	msgs, err := s.procs.DrainMessages(pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, http.StatusOK, msgs, len(msgs), len(msgs), 0)
}

func pidParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "pid")
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.InvalidInput, "invalid pid: %q", raw)
	}
	return pid, nil
}

// resourceFromPIDParam derives the "resource" half of a (action, resource)
// policy check from the route's pid path param, per spec.md §4.8.
func resourceFromPIDParam(r *http.Request) string {
	return "process:" + chi.URLParam(r, "pid")
}
