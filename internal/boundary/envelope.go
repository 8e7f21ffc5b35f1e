// Package boundary hosts the REST surface in front of the kernel core:
// identity + policy enforcement on every route, then thin dispatch into
// AuthCore, ProcessTable, Scheduler, AuditLogger, and SSEFanout. Grounded on
// hub/internal/api/server.go's chi.Mux + envelope conventions.
package boundary

import (
	"encoding/json"
	"net/http"

	"github.com/aether-os/kernel/internal/apperr"
)

// apiVersion is sent on every response via the X-Aether-Version header, per
// spec.md §6.
const apiVersion = "1"

// writeData answers the single-item success envelope `{"data": T}`.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Aether-Version", apiVersion)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// listMeta carries the pagination metadata of the list success envelope.
type listMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// writeList answers the list success envelope
// `{"data": [T], "meta": {"total", "limit", "offset"}}`.
func writeList(w http.ResponseWriter, status int, data any, total, limit, offset int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Aether-Version", apiVersion)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": data,
		"meta": listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// writeErr maps err's apperr.Code onto the HTTP status table of spec.md §6
// and answers the error envelope `{"error": {"code", "message"}}`.
func writeErr(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	writeErrCode(w, apperr.HTTPStatus(code), string(code), err.Error())
}

// writeErrCode answers the error envelope with an explicit status/code pair,
// for the handful of boundary-only errors (bad bearer header, invalid
// webhook signature) that never pass through the kernel's error taxonomy.
func writeErrCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Aether-Version", apiVersion)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "invalid request body", err)
	}
	return nil
}
