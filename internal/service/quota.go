// Package service contains the business logic layer.
//
// Services orchestrate interactions between the repository, external APIs,
// and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Error translation (database errors -> domain errors)
//
// This file implements the entitlement service: the monthly quota tracker
// plus the tier-policy resolution that decides whether one more metered
// operation may run.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/metrics"
	"github.com/reelgauge/reelgauge/internal/repository"
)

// Bonus credit grant sizes.
const (
	ReferralSignupCredits = 1
	ReviewGrantCredits    = 5
)

// consumeMaxRetries bounds the re-read loop around a period boundary
// crossing. One retry is enough in practice; the cap guards against a
// store that keeps returning stale boundaries.
const consumeMaxRetries = 3

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService decides whether an account may run one more metered
// operation, and records the consumption when it may.
type EntitlementService interface {
	// Consume charges one unit against the account's monthly allowance.
	// Tier quota is always exhausted before bonus credits are spent.
	// The unit is charged on attempt, not on downstream success; a failed
	// analysis is not refunded.
	Consume(ctx context.Context, accountID uuid.UUID) (*domain.EntitlementDecision, error)

	// Usage returns the account's current standing without consuming.
	Usage(ctx context.Context, accountID uuid.UUID) (*domain.QuotaUsage, error)

	// GrantBonusCredits adds credits to the account's overflow pool.
	GrantBonusCredits(ctx context.Context, accountID uuid.UUID, n int64, reason string) error
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(store repository.Store, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Consume charges one unit against the account's monthly allowance.
//
// A request that observes a stale period boundary performs the reset via a
// compare-and-set on the stored boundary: exactly one of any number of
// concurrent crossings zeroes the counter, and losers simply re-read the
// fresh state. Consumption itself is a conditional increment in the store,
// so two concurrent requests can never both take the last unit.
func (s *entitlementService) Consume(ctx context.Context, accountID uuid.UUID) (*domain.EntitlementDecision, error) {
	const op = "entitlement.consume"

	for attempt := 0; attempt < consumeMaxRetries; attempt++ {
		account, err := s.getAccount(ctx, op, accountID)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		if account.PeriodResetAt.IsZero() || !now.Before(account.PeriodResetAt) {
			won, err := s.store.ResetPeriod(ctx, accountID, account.PeriodResetAt, domain.NextPeriodStart(now))
			if err != nil {
				return nil, domain.Unavailable(err, op, "failed to reset quota period")
			}
			if won {
				s.logger.Info("quota period reset",
					"account_id", accountID,
					"new_reset_at", domain.NextPeriodStart(now),
				)
			}
			// Winner or loser, the boundary moved; evaluate against fresh state.
			continue
		}

		limit, unlimited := domain.TierLimit(account.SubscriptionTier)
		storeLimit := limit
		if unlimited {
			storeLimit = -1
		}

		ok, err := s.store.IncrementUsage(ctx, accountID, storeLimit)
		if err != nil {
			return nil, domain.Unavailable(err, op, "failed to increment usage")
		}
		if ok {
			metrics.EntitlementDecisions.WithLabelValues(string(domain.ReasonWithinTierQuota)).Inc()
			return &domain.EntitlementDecision{Allowed: true, Reason: domain.ReasonWithinTierQuota}, nil
		}

		// Tier allowance exhausted; fall back to the bonus pool.
		ok, err = s.store.ConsumeBonusCredit(ctx, accountID)
		if err != nil {
			return nil, domain.Unavailable(err, op, "failed to consume bonus credit")
		}
		if ok {
			metrics.EntitlementDecisions.WithLabelValues(string(domain.ReasonUsedBonusCredit)).Inc()
			return &domain.EntitlementDecision{Allowed: true, Reason: domain.ReasonUsedBonusCredit}, nil
		}

		s.logger.Info("quota exhausted",
			"account_id", accountID,
			"tier", account.SubscriptionTier,
			"limit", limit,
		)
		metrics.EntitlementDecisions.WithLabelValues(string(domain.ReasonTierExhausted)).Inc()
		return &domain.EntitlementDecision{
			Allowed: false,
			Reason:  domain.ReasonTierExhausted,
			ResetAt: account.PeriodResetAt,
		}, nil
	}

	return nil, domain.Internal(nil, op, "period boundary did not settle")
}

func (s *entitlementService) Usage(ctx context.Context, accountID uuid.UUID) (*domain.QuotaUsage, error) {
	const op = "entitlement.usage"

	account, err := s.getAccount(ctx, op, accountID)
	if err != nil {
		return nil, err
	}

	limit, unlimited := domain.TierLimit(account.SubscriptionTier)
	usage := &domain.QuotaUsage{
		Used:         account.PeriodUsageCount,
		Limit:        limit,
		Unlimited:    unlimited,
		BonusCredits: account.BonusCredits,
		ResetAt:      account.PeriodResetAt,
	}

	// A stale boundary means the stored counter belongs to a past period.
	if !account.PeriodResetAt.IsZero() && !s.now().UTC().Before(account.PeriodResetAt) {
		usage.Used = 0
		usage.ResetAt = domain.NextPeriodStart(s.now().UTC())
	}
	return usage, nil
}

func (s *entitlementService) GrantBonusCredits(ctx context.Context, accountID uuid.UUID, n int64, reason string) error {
	const op = "entitlement.grant_bonus"

	if n <= 0 {
		return domain.Invalid(op, "grant must be positive")
	}
	if err := s.store.GrantBonusCredits(ctx, accountID, n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "account", accountID.String())
		}
		return domain.Unavailable(err, op, "failed to grant bonus credits")
	}

	s.logger.Info("bonus credits granted",
		"account_id", accountID,
		"credits", n,
		"reason", reason,
	)
	metrics.BonusCreditsGranted.WithLabelValues(reason).Add(float64(n))
	return nil
}

func (s *entitlementService) getAccount(ctx context.Context, op string, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "account", accountID.String())
		}
		return nil, domain.Unavailable(err, op, "failed to load account")
	}
	return account, nil
}
