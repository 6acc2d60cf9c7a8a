package api

import (
	"io"
	"log"
	"net/http"

	"github.com/metorial/scriptforge/internal/webhook"
)

const maxWebhookBody = 5 << 20

// handleWebhook is the inbound GitHub endpoint. The signature is checked
// over the raw body before any parsing; unknown event types still return
// success so the remote does not disable the hook.
func (api *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if !api.webhooks.VerifySignature(payload, r.Header.Get("X-Hub-Signature-256")) {
		log.Printf("Webhook rejected: bad signature from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	if ts := r.Header.Get("X-Webhook-Timestamp"); ts != "" {
		if !api.webhooks.VerifyTimestamp(ts, webhook.DefaultTolerance) {
			log.Printf("Webhook rejected: stale timestamp from %s", r.RemoteAddr)
			http.Error(w, "Timestamp outside tolerance", http.StatusUnauthorized)
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "Missing event type header", http.StatusBadRequest)
		return
	}

	result := api.webhooks.ProcessEvent(r.Context(), eventType, payload)

	status := http.StatusOK
	switch result.Status {
	case webhook.StatusRejected:
		status = http.StatusBadRequest
	case webhook.StatusError:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, result)
}
