// Package handler contains HTTP handlers for the Reelgauge metering core.
//
// This file implements the Stripe webhook intake.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it
// directly. Authentication is via the Stripe webhook signature verification,
// which must succeed before any side effect.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/reelgauge/reelgauge/internal/billing"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/metrics"
	"github.com/reelgauge/reelgauge/internal/service"
)

// maxWebhookBody caps the webhook payload size (64KB).
const maxWebhookBody = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing billing.Service
	ingest  service.IngestService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(billingService billing.Service, ingest service.IngestService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		ingest:  ingest,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Response codes steer Stripe's retry behavior: 400 for unverifiable or
// malformed deliveries (never retried), 503 when a verified event could not
// be fully applied (retried; every dispatch path is idempotent so
// redelivery is safe), 200 otherwise.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		metrics.WebhookRejected.Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		metrics.WebhookRejected.Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	if err := h.ingest.Process(r.Context(), event); err != nil {
		switch domain.ErrorCode(err) {
		case domain.EUNAVAILABLE:
			// Not fully applied; ask Stripe to redeliver.
			h.logger.Error("webhook processing failed, requesting redelivery",
				"type", event.Type, "id", event.ID, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
		case domain.EINVALID:
			h.logger.Warn("webhook payload rejected", "type", event.Type, "id", event.ID, "error", err)
			metrics.WebhookRejected.Inc()
			w.WriteHeader(http.StatusBadRequest)
		default:
			h.logger.Error("webhook processing failed",
				"type", event.Type, "id", event.ID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}
