package boundary

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleCreateOrg creates an organization owned by the calling user, per
// spec.md §4.3.3.
func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	org, err := s.auth.CreateOrganization(r.Context(), u.ID, req.Name, req.DisplayName)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, org)
}

// handleInviteMember adds a user to an org at a given role.
func (s *Server) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	m, err := s.auth.InviteMember(r.Context(), orgID, req.UserID, req.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, m)
}

// handlePromoteMember changes a member's role within an org.
func (s *Server) handlePromoteMember(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	userID := chi.URLParam(r, "userID")
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.auth.PromoteMember(r.Context(), orgID, userID, req.Role); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleRemoveMember removes a member from an org.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	userID := chi.URLParam(r, "userID")
	if err := s.auth.RemoveMember(r.Context(), orgID, userID); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleCreateTeam creates a team under an org.
func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")
	ok, err := s.auth.HasPermission(r.Context(), u.ID, "teams.create", orgID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "teams.create permission required")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	team, err := s.auth.CreateTeam(r.Context(), orgID, req.Name, req.Description)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, team)
}

// handleAddTeamMember adds a user to a team.
func (s *Server) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	tm, err := s.auth.AddTeamMember(r.Context(), teamID, req.UserID, req.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, tm)
}

func resourceFromOrgParam(r *http.Request) string {
	return "org:" + chi.URLParam(r, "orgID")
}

func resourceFromTeamParam(r *http.Request) string {
	return "team:" + chi.URLParam(r, "teamID")
}
