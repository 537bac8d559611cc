// Package service contains the business logic layer.
//
// This file implements the commission ledger: an append-only record of
// referral payment events with balances derived by aggregation.
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
	"github.com/shopspring/decimal"
)

// =============================================================================
// Interface Definition
// =============================================================================

// LedgerService records referral commissions and answers balance queries.
type LedgerService interface {
	// RecordPayment appends a PENDING ledger entry for a referred payment.
	// It is idempotent on externalRef: a replayed delivery returns the
	// stored entry unchanged, and the commission is never counted twice.
	RecordPayment(ctx context.Context, affiliateID, referredID uuid.UUID, amount decimal.Decimal, externalRef string) (*domain.LedgerEntry, error)

	// MarkPaid transitions an entry from PENDING to PAID and stamps PaidAt.
	// Any other starting state is a conflict; PAID and FAILED are terminal.
	MarkPaid(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error)

	// MarkFailed transitions an entry from PENDING to FAILED.
	MarkFailed(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error)

	// Balance aggregates the affiliate's pending, paid, and lifetime
	// commissions directly from the ledger.
	Balance(ctx context.Context, affiliateID uuid.UUID) (*domain.AffiliateBalance, error)

	// Entries lists the affiliate's ledger entries, newest first.
	Entries(ctx context.Context, affiliateID uuid.UUID) ([]*domain.LedgerEntry, error)
}

// =============================================================================
// Implementation
// =============================================================================

type ledgerService struct {
	store  repository.Store
	rate   decimal.Decimal
	logger *slog.Logger
}

// NewLedgerService creates a new LedgerService with the given commission
// rate (the affiliate's fraction of each referred payment).
func NewLedgerService(store repository.Store, rate decimal.Decimal, logger *slog.Logger) LedgerService {
	return &ledgerService{
		store:  store,
		rate:   rate,
		logger: logger,
	}
}

func (s *ledgerService) RecordPayment(ctx context.Context, affiliateID, referredID uuid.UUID, amount decimal.Decimal, externalRef string) (*domain.LedgerEntry, error) {
	const op = "ledger.record_payment"

	if externalRef == "" {
		return nil, domain.Invalid(op, "external payment ref is required")
	}
	if !amount.IsPositive() {
		return nil, domain.Invalid(op, "payment amount must be positive")
	}
	if affiliateID == referredID {
		return nil, domain.Invalid(op, "affiliate and referred account must differ")
	}

	entry := &domain.LedgerEntry{
		ID:                 uuid.New(),
		AffiliateAccountID: affiliateID,
		ReferredAccountID:  referredID,
		OriginalAmount:     amount,
		Commission:         amount.Mul(s.rate).Round(2),
		ExternalPaymentRef: externalRef,
		Status:             domain.LedgerStatusPending,
		CreatedAt:          time.Now().UTC(),
	}

	inserted, stored, err := s.store.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to insert ledger entry")
	}
	if !inserted {
		// Duplicate delivery: a successful no-op, logged for auditability.
		s.logger.Info("duplicate payment event ignored",
			"external_ref", externalRef,
			"existing_entry_id", stored.ID,
			"affiliate_id", stored.AffiliateAccountID,
		)
		metrics.LedgerEntries.WithLabelValues("duplicate").Inc()
		return stored, nil
	}

	s.logger.Info("commission recorded",
		"entry_id", stored.ID,
		"affiliate_id", affiliateID,
		"referred_id", referredID,
		"amount", amount.StringFixed(2),
		"commission", stored.Commission.StringFixed(2),
		"external_ref", externalRef,
	)
	metrics.LedgerEntries.WithLabelValues("recorded").Inc()
	return stored, nil
}

func (s *ledgerService) MarkPaid(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	now := time.Now().UTC()
	return s.transition(ctx, "ledger.mark_paid", entryID, domain.LedgerStatusPaid, &now)
}

func (s *ledgerService) MarkFailed(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	return s.transition(ctx, "ledger.mark_failed", entryID, domain.LedgerStatusFailed, nil)
}

// transition applies a PENDING -> terminal status change. A refused change
// is a programming error upstream (payout processing re-applying a
// terminal transition), so it comes back loud as a conflict rather than a
// silent no-op.
func (s *ledgerService) transition(ctx context.Context, op string, entryID uuid.UUID, status domain.LedgerStatus, paidAt *time.Time) (*domain.LedgerEntry, error) {
	ok, err := s.store.SetLedgerStatus(ctx, entryID, status, paidAt)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to update ledger status")
	}
	if !ok {
		entry, err := s.store.GetLedgerEntry(ctx, entryID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domain.NotFound(op, "ledger entry", entryID.String())
			}
			return nil, domain.Unavailable(err, op, "failed to load ledger entry")
		}
		return nil, domain.Errorf(domain.ECONFLICT, op,
			"ledger entry is %s; only PENDING entries may transition", entry.Status)
	}
	return s.store.GetLedgerEntry(ctx, entryID)
}

func (s *ledgerService) Balance(ctx context.Context, affiliateID uuid.UUID) (*domain.AffiliateBalance, error) {
	const op = "ledger.balance"

	balance, err := s.store.AffiliateBalance(ctx, affiliateID)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to aggregate balance")
	}
	return balance, nil
}

func (s *ledgerService) Entries(ctx context.Context, affiliateID uuid.UUID) ([]*domain.LedgerEntry, error) {
	const op = "ledger.entries"

	entries, err := s.store.ListLedgerEntries(ctx, affiliateID)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to list ledger entries")
	}
	return entries, nil
}
