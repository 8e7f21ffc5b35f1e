package boundary

import (
	"net/http"
)

// handleRegister creates a new user account, per spec.md §4.3.1.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	u, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	u.PasswordHash = ""
	writeData(w, http.StatusCreated, u)
}

// handleLogin implements spec.md §4.3.2's password step.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// handleVerifyMFA implements spec.md §4.3.2's TOTP step.
func (s *Server) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MFAToken string `json:"mfa_token"`
		Code     string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.auth.VerifyMFA(r.Context(), req.MFAToken, req.Code)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// handleSetupMFA mints a new TOTP secret for the calling user without
// turning MFA on; the client must confirm possession via handleEnableMFA.
func (s *Server) handleSetupMFA(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	uri, err := s.auth.SetupMFA(r.Context(), u.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"totp_uri": uri})
}

// handleEnableMFA turns MFA on once the caller proves possession of the
// secret minted by handleSetupMFA via a valid TOTP code.
func (s *Server) handleEnableMFA(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.auth.EnableMFA(r.Context(), u.ID, req.Code); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// handleDisableMFA disables TOTP for the calling user.
func (s *Server) handleDisableMFA(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	if err := s.auth.DisableMFA(r.Context(), u.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// handleMe returns the calling user's own identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	u.PasswordHash = ""
	writeData(w, http.StatusOK, u)
}
