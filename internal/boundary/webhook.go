package boundary

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	goslack "github.com/slack-go/slack"
)

// slackVerify checks the X-Slack-Signature / X-Slack-Request-Timestamp pair
// against the configured signing secret, restoring the request body
// afterward so the handler can still decode it. Grounded on
// pkg/slack/verify.go's VerifyMiddleware. An empty signing secret disables
// verification (dev mode).
func slackVerify(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if signingSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeErrCode(w, http.StatusBadRequest, "INVALID_INPUT", "failed to read body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sv, err := goslack.NewSecretsVerifier(r.Header, signingSecret)
			if err != nil {
				writeErrCode(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature headers")
				return
			}
			if _, err := sv.Write(body); err != nil {
				writeErrCode(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
				return
			}
			if err := sv.Ensure(); err != nil {
				writeErrCode(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// handleWebhook accepts an inbound event payload, answers Slack's
// URL-verification handshake, and otherwise republishes the payload onto
// the bus as a "webhook.received" event so event triggers can react to it
// per spec.md §4.5.2.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrCode(w, http.StatusBadRequest, "INVALID_INPUT", "failed to read body")
		return
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Type == "url_verification" {
		writeData(w, http.StatusOK, map[string]string{"challenge": payload.Challenge})
		return
	}

	s.bus.Publish("webhook.received", json.RawMessage(body))
	writeData(w, http.StatusOK, map[string]string{"status": "accepted"})
}
