package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/pixpay-backend/api/responses"
	openpixwebhook "github.com/angelmondragon/pixpay-backend/internal/webhooks/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
)

const (
	webhookIDHeader = "X-Webhook-Id"
	maxWebhookBody  = 1 << 20
)

type OpenPixWebhookService interface {
	HandleDelivery(ctx context.Context, deliveryID string, event *openpixwebhook.Event) openpixwebhook.Outcome
}

// OpenPixWebhook reconciles charge events. It answers 200 for every delivery
// and reports the outcome in the body so the provider does not retry
// permanent rejections.
func OpenPixWebhook(svc OpenPixWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		deliveryID := strings.TrimSpace(r.Header.Get(webhookIDHeader))
		if deliveryID != "" && logg != nil {
			ctx = logg.WithField(ctx, "webhook_id", deliveryID)
		}

		if svc == nil {
			if logg != nil {
				logg.Warn(ctx, "openpix.webhook.service_unavailable")
			}
			responses.WriteJSON(w, http.StatusOK, openpixwebhook.Outcome{Success: false, Error: "Webhook processing unavailable"})
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "openpix.webhook.read_failed", err)
			}
			responses.WriteJSON(w, http.StatusOK, openpixwebhook.Outcome{Success: false, Error: "Invalid payload"})
			return
		}

		var event *openpixwebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "openpix.webhook.decode_failed")
			}
			event = nil
		}

		outcome := svc.HandleDelivery(ctx, deliveryID, event)
		responses.WriteJSON(w, http.StatusOK, outcome)
	}
}
