// Package handler contains HTTP handlers for the Reelgauge metering core.
//
// This file implements the affiliate-facing balance and ledger queries.
// Balances are always computed from the ledger, never served from a cache.
//
// Routes:
//   - GET /api/affiliates/{id}/balance -> HandleBalance
//   - GET /api/affiliates/{id}/ledger  -> HandleLedger
package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/service"
)

// AffiliateHandler serves affiliate balance and ledger queries.
type AffiliateHandler struct {
	ledger service.LedgerService
	logger *slog.Logger
}

// NewAffiliateHandler creates a new AffiliateHandler.
func NewAffiliateHandler(ledger service.LedgerService, logger *slog.Logger) *AffiliateHandler {
	return &AffiliateHandler{ledger: ledger, logger: logger}
}

// RegisterRoutes registers affiliate routes on the provided mux.
func (h *AffiliateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/affiliates/{id}/balance", h.HandleBalance)
	mux.HandleFunc("GET /api/affiliates/{id}/ledger", h.HandleLedger)
}

func (h *AffiliateHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	affiliateID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("affiliate.balance", "invalid affiliate id"))
		return
	}

	balance, err := h.ledger.Balance(r.Context(), affiliateID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  balance.Pending.StringFixed(2),
		"paid":     balance.Paid.StringFixed(2),
		"lifetime": balance.Lifetime.StringFixed(2),
	})
}

func (h *AffiliateHandler) HandleLedger(w http.ResponseWriter, r *http.Request) {
	affiliateID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("affiliate.ledger", "invalid affiliate id"))
		return
	}

	entries, err := h.ledger.Entries(r.Context(), affiliateID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"id":              e.ID,
			"referred_id":     e.ReferredAccountID,
			"original_amount": e.OriginalAmount.StringFixed(2),
			"commission":      e.Commission.StringFixed(2),
			"status":          e.Status,
			"created_at":      e.CreatedAt,
		}
		if e.PaidAt != nil {
			item["paid_at"] = e.PaidAt
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
