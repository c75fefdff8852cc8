package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"github.com/tinywideclouds/go-loot-relay/internal/fanout"
	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

// WebhookAPI accepts game-client drop events and triggers the fan-out.
type WebhookAPI struct {
	Broadcaster *fanout.Broadcaster
	ChannelID   string
	Logger      *slog.Logger
}

func NewWebhookAPI(broadcaster *fanout.Broadcaster, channelID string, logger *slog.Logger) *WebhookAPI {
	return &WebhookAPI{
		Broadcaster: broadcaster,
		ChannelID:   channelID,
		Logger:      logger,
	}
}

// webhookPayload mirrors the game client's form-encoded webhook: a
// payload_json field holding the event under an "extra" wrapper.
type webhookPayload struct {
	Extra loot.Event `json:"extra"`
}

type ignoredResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WebhookHandler handles POST /webhook. Malformed or empty payloads are
// expected traffic from the third-party client and answered with an
// "ignored" 200, never an error. A payload with items selects the most
// valuable one and broadcasts it, returning the delivery report.
func (api *WebhookAPI) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, ignoredResponse{Status: "ignored"})
		return
	}

	raw := r.PostFormValue("payload_json")
	if raw == "" {
		writeJSON(w, http.StatusOK, ignoredResponse{Status: "ignored"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		api.Logger.Debug("Webhook payload failed to parse, ignoring", "err", err)
		writeJSON(w, http.StatusOK, ignoredResponse{Status: "ignored"})
		return
	}

	top := loot.TopItem(payload.Extra.Items)
	if top == nil {
		writeJSON(w, http.StatusOK, ignoredResponse{
			Status:  "ignored",
			Message: "no valid items in payload",
		})
		return
	}

	api.Logger.Info("Loot event received",
		"item", top.Name,
		"quantity", top.Quantity,
		"value", top.TotalValue(),
		"source", payload.Extra.Source,
	)

	// Delivery must outlive the request: game clients fire webhooks with
	// short timeouts, and a disconnect must not abandon in-flight retries.
	msg := loot.NewDropMessage(*top, payload.Extra.Source, time.Now(), api.ChannelID)
	report := api.Broadcaster.Broadcast(context.WithoutCancel(r.Context()), *top, msg)

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		*loot.DeliveryReport
	}{Status: "success", DeliveryReport: report})
}
