// Package handler contains HTTP handlers for the Reelgauge metering core.
//
// This file implements the signup-flow and bonus-grant surfaces.
//
// Routes:
//   - POST   /api/accounts                      -> HandleSignup
//   - POST   /api/accounts/{id}/referrer        -> HandleAttachReferrer
//   - POST   /api/accounts/{id}/review-grant    -> HandleReviewGrant
//   - DELETE /api/accounts/{id}                 -> HandleDelete
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/metrics"
	"github.com/reelgauge/reelgauge/internal/ratelimit"
	"github.com/reelgauge/reelgauge/internal/service"
)

// AccountHandler handles account lifecycle and bonus-grant requests.
type AccountHandler struct {
	accounts    service.AccountService
	entitlement service.EntitlementService
	review      *ratelimit.Limiter
	logger      *slog.Logger
}

// NewAccountHandler creates a new AccountHandler. The review limiter
// throttles review-grant submissions to deter credit farming.
func NewAccountHandler(accounts service.AccountService, entitlement service.EntitlementService, review *ratelimit.Limiter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:    accounts,
		entitlement: entitlement,
		review:      review,
		logger:      logger,
	}
}

// RegisterRoutes registers account routes on the provided mux.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/accounts", h.HandleSignup)
	mux.HandleFunc("POST /api/accounts/{id}/referrer", h.HandleAttachReferrer)
	mux.HandleFunc("POST /api/accounts/{id}/review-grant", h.HandleReviewGrant)
	mux.HandleFunc("DELETE /api/accounts/{id}", h.HandleDelete)
}

func (h *AccountHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		ReferralCode string `json:"referral_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("account.signup", "malformed request body"))
		return
	}

	account, err := h.accounts.Signup(r.Context(), req.Email, req.ReferralCode)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            account.ID,
		"email":         account.Email,
		"tier":          account.SubscriptionTier,
		"referral_code": account.ReferralCode,
		"has_referrer":  account.HasReferrer(),
	})
}

func (h *AccountHandler) HandleAttachReferrer(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("account.attach_referrer", "invalid account id"))
		return
	}

	var req struct {
		ReferralCode string `json:"referral_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReferralCode == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("account.attach_referrer", "referral_code is required"))
		return
	}

	if err := h.accounts.AttachReferrer(r.Context(), accountID, req.ReferralCode); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReviewGrant credits the account for submitting a product review.
// Rate limited per account to deter farming.
func (h *AccountHandler) HandleReviewGrant(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("account.review_grant", "invalid account id"))
		return
	}

	res := h.review.Check(accountID.String())
	if !res.Allowed {
		metrics.RateLimitChecks.WithLabelValues("review", "denied").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
		ErrorResponse(w, r, h.logger, domain.RateLimit("account.review_grant"))
		return
	}
	metrics.RateLimitChecks.WithLabelValues("review", "allowed").Inc()

	if err := h.entitlement.GrantBonusCredits(r.Context(), accountID, service.ReviewGrantCredits, "review_submission"); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": service.ReviewGrantCredits})
}

func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("account.delete", "invalid account id"))
		return
	}

	if err := h.accounts.Delete(r.Context(), accountID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
