// Package handler contains HTTP handlers for the Reelgauge metering core.
//
// This file implements the admission check consumed by the request-handling
// layer before it dispatches a video analysis.
//
// Routes:
//   - POST /api/accounts/{id}/admissions/analysis -> HandleAnalysisAdmission
//   - GET  /api/accounts/{id}/usage               -> HandleUsage
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/metrics"
	"github.com/reelgauge/reelgauge/internal/ratelimit"
	"github.com/reelgauge/reelgauge/internal/service"
)

// AdmissionHandler gates expensive analysis operations behind the window
// rate limiter and the monthly entitlement check.
type AdmissionHandler struct {
	entitlement service.EntitlementService
	inference   *ratelimit.Limiter
	logger      *slog.Logger
}

// NewAdmissionHandler creates a new AdmissionHandler.
func NewAdmissionHandler(entitlement service.EntitlementService, inference *ratelimit.Limiter, logger *slog.Logger) *AdmissionHandler {
	return &AdmissionHandler{
		entitlement: entitlement,
		inference:   inference,
		logger:      logger,
	}
}

// RegisterRoutes registers admission routes on the provided mux.
func (h *AdmissionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/accounts/{id}/admissions/analysis", h.HandleAnalysisAdmission)
	mux.HandleFunc("GET /api/accounts/{id}/usage", h.HandleUsage)
}

// admissionResponse is the wire shape of an admission decision.
type admissionResponse struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// HandleAnalysisAdmission runs the two-stage admission check: the cheap
// in-memory window limiter first, then the entitlement consume. Admission
// charges the quota unit immediately; the caller must not start the
// analysis when allowed=false.
func (h *AdmissionHandler) HandleAnalysisAdmission(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admission.analysis", "invalid account id"))
		return
	}

	res := h.inference.Check(accountID.String())
	if !res.Allowed {
		metrics.RateLimitChecks.WithLabelValues("analysis", "denied").Inc()
		h.logger.Info("analysis rate limited", "account_id", accountID)
		retryAfter := res.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, admissionResponse{
			Allowed:           false,
			Reason:            "rate_limited",
			RetryAfterSeconds: retryAfter,
		})
		return
	}
	metrics.RateLimitChecks.WithLabelValues("analysis", "allowed").Inc()

	decision, err := h.entitlement.Consume(r.Context(), accountID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if !decision.Allowed {
		resp := admissionResponse{Allowed: false, Reason: string(decision.Reason)}
		// A quota denial resolves at the period boundary, not the limiter
		// window, so the hint points there.
		if !decision.ResetAt.IsZero() {
			resp.RetryAfterSeconds = ceilSeconds(time.Until(decision.ResetAt))
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}

	writeJSON(w, http.StatusOK, admissionResponse{
		Allowed: true,
		Reason:  string(decision.Reason),
	})
}

// ceilSeconds rounds a duration up to whole seconds, never below 1.
func ceilSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// HandleUsage reports the account's standing without consuming anything.
func (h *AdmissionHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admission.usage", "invalid account id"))
		return
	}

	usage, err := h.entitlement.Usage(r.Context(), accountID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"used":          usage.Used,
		"limit":         usage.Limit,
		"unlimited":     usage.Unlimited,
		"bonus_credits": usage.BonusCredits,
		"reset_at":      usage.ResetAt,
	})
}
