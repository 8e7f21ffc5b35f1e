package boundary

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aether-os/kernel/internal/store"
)

// handleCreatePolicy creates a permission policy, per spec.md §4.6. Subject
// is expected as "user:<id>" or "role:<name>" per the policy engine's
// subject-set evaluation.
func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var req struct {
		Subject  string `json:"subject"`
		Action   string `json:"action"`
		Resource string `json:"resource"`
		Effect   string `json:"effect"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	p := &store.PermissionPolicy{
		ID:        uuid.New().String(),
		Subject:   req.Subject,
		Action:    req.Action,
		Resource:  req.Resource,
		Effect:    req.Effect,
		CreatedBy: u.ID,
	}
	if err := s.store.CreatePolicy(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, p)
}

// handleGetPolicy returns a single policy.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "policyID")
	p, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// handleListPolicies lists every policy in the system.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListAllPolicies(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if policies == nil {
		policies = []store.PermissionPolicy{}
	}
	writeList(w, http.StatusOK, policies, len(policies), len(policies), 0)
}

// handleDeletePolicy removes a policy.
func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "policyID")
	if err := s.store.DeletePolicy(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}
