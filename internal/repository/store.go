// Package repository contains the storage layer for accounts and the
// commission ledger.
//
// Services depend on the Store interface. PostgresStore is the production
// implementation; MemoryStore mirrors its semantics for tests and local
// development without a database. The conditional single-statement mutators
// (ResetPeriod, IncrementUsage, ConsumeBonusCredit, InsertLedgerEntry) are
// the atomic primitives the quota and ledger invariants are built on, so
// both implementations must honor their compare-and-set contracts exactly.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
)

// Store defines the persistence operations required by the metering and
// ledger services. Methods that return a bool report whether the guarded
// mutation actually applied; false means the guard condition did not hold.
type Store interface {
	// Accounts

	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error)

	// AttachReferrer sets referrer_id if and only if it is currently unset.
	AttachReferrer(ctx context.Context, accountID, referrerID uuid.UUID) (bool, error)

	// SetStripeCustomerID records the billing provider's customer reference
	// for an account. Webhook event routing matches on this value.
	SetStripeCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error

	// UpdateSubscription replaces the subscription status, tier, and
	// provider subscription reference. Setting the same values twice is a
	// no-op, which keeps tier-change webhook processing idempotent.
	UpdateSubscription(ctx context.Context, accountID uuid.UUID, status domain.SubscriptionStatus, tier domain.SubscriptionTier, subscriptionID string) error

	// ResetPeriod zeroes the usage counter and advances the reset boundary,
	// but only if the stored boundary still equals observedResetAt. Exactly
	// one of any set of concurrent crossings wins.
	ResetPeriod(ctx context.Context, accountID uuid.UUID, observedResetAt, newResetAt time.Time) (bool, error)

	// IncrementUsage increments the period usage counter if it is below
	// limit. A negative limit increments unconditionally (unlimited tiers).
	IncrementUsage(ctx context.Context, accountID uuid.UUID, limit int64) (bool, error)

	// ConsumeBonusCredit decrements the bonus credit balance if it is
	// positive.
	ConsumeBonusCredit(ctx context.Context, accountID uuid.UUID) (bool, error)

	// GrantBonusCredits adds n credits to the account's bonus pool.
	GrantBonusCredits(ctx context.Context, accountID uuid.UUID, n int64) error

	// DeleteAccount removes an account. It fails with domain.ECONFLICT if
	// any ledger entry references the account.
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	// Commission ledger

	// InsertLedgerEntry appends a ledger entry unless one with the same
	// external payment ref already exists. Returns (true, entry) on a fresh
	// insert and (false, existing) when the ref was already present.
	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, *domain.LedgerEntry, error)

	GetLedgerEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetLedgerEntryByRef(ctx context.Context, externalRef string) (*domain.LedgerEntry, error)

	// SetLedgerStatus transitions an entry from PENDING to the given
	// terminal status. Returns false if the entry was not PENDING.
	SetLedgerStatus(ctx context.Context, id uuid.UUID, status domain.LedgerStatus, paidAt *time.Time) (bool, error)

	// AffiliateBalance aggregates commissions over the affiliate's ledger
	// entries. Balances are always derived, never cached.
	AffiliateBalance(ctx context.Context, affiliateID uuid.UUID) (*domain.AffiliateBalance, error)

	ListLedgerEntries(ctx context.Context, affiliateID uuid.UUID) ([]*domain.LedgerEntry, error)
}
