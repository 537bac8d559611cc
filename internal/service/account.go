// Package service contains the business logic layer.
//
// This file implements the account service: signup, referral attribution,
// and subscription state changes driven by billing events.
package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/repository"
)

// ReferralCodeBytes is the number of random bytes in a referral code.
// 6 bytes hex-encodes to a 12-character code, short enough to share.
const ReferralCodeBytes = 6

// =============================================================================
// Interface Definition
// =============================================================================

// AccountService defines account lifecycle operations.
type AccountService interface {
	// Signup creates a new free-tier account. If referralCode names an
	// existing account, the referrer is attached at creation and the
	// referrer earns a signup bonus credit.
	Signup(ctx context.Context, email, referralCode string) (*domain.Account, error)

	// GetByID retrieves an account.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// GetByStripeCustomerID retrieves an account by its billing customer ref.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error)

	// AttachReferrer binds an account to an affiliate's referral code.
	// At most once per account: a second call is a conflict, as is
	// self-referral or an unknown code.
	AttachReferrer(ctx context.Context, accountID uuid.UUID, referralCode string) error

	// AttachBillingCustomer records the billing provider's customer
	// reference for an account. Webhook deliveries are routed to accounts
	// by this value, so it must be bound before subscription and payment
	// events can take effect. Idempotent: re-binding the same customer is
	// a no-op.
	AttachBillingCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error

	// UpdateSubscription replaces subscription status, tier, and provider
	// reference. Idempotent: applying the same event twice is a no-op.
	UpdateSubscription(ctx context.Context, accountID uuid.UUID, status domain.SubscriptionStatus, tier domain.SubscriptionTier, subscriptionID string) error

	// Delete removes an account; refused while ledger entries reference it.
	Delete(ctx context.Context, id uuid.UUID) error
}

// =============================================================================
// Implementation
// =============================================================================

type accountService struct {
	store       repository.Store
	entitlement EntitlementService
	logger      *slog.Logger
}

// NewAccountService creates a new AccountService. The entitlement service
// is used to grant the referrer's signup bonus.
func NewAccountService(store repository.Store, entitlement EntitlementService, logger *slog.Logger) AccountService {
	return &accountService{
		store:       store,
		entitlement: entitlement,
		logger:      logger,
	}
}

func (s *accountService) Signup(ctx context.Context, email, referralCode string) (*domain.Account, error) {
	const op = "account.signup"

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.Invalid(op, "a valid email address is required")
	}

	code, err := generateReferralCode()
	if err != nil {
		return nil, domain.Internal(err, op, "failed to generate referral code")
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:                 uuid.New(),
		Email:              email,
		SubscriptionStatus: domain.SubscriptionStatusInactive,
		SubscriptionTier:   domain.SubscriptionTierFree,
		PeriodResetAt:      domain.NextPeriodStart(now),
		ReferralCode:       code,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, derr
		}
		return nil, domain.Unavailable(err, op, "failed to create account")
	}

	s.logger.Info("account created", "account_id", account.ID, "email", email)

	if referralCode != "" {
		if err := s.AttachReferrer(ctx, account.ID, referralCode); err != nil {
			// Signup succeeds even when attribution fails; a bad code is
			// not worth losing the account over.
			s.logger.Warn("referral attribution failed at signup",
				"account_id", account.ID,
				"referral_code", referralCode,
				"error", err,
			)
		}
	}

	return s.GetByID(ctx, account.ID)
}

func (s *accountService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "account.get"

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "account", id.String())
		}
		return nil, domain.Unavailable(err, op, "failed to load account")
	}
	return account, nil
}

func (s *accountService) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	const op = "account.get_by_customer"

	account, err := s.store.GetAccountByStripeCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "account", customerID)
		}
		return nil, domain.Unavailable(err, op, "failed to load account")
	}
	return account, nil
}

func (s *accountService) AttachReferrer(ctx context.Context, accountID uuid.UUID, referralCode string) error {
	const op = "account.attach_referrer"

	referrer, err := s.store.GetAccountByReferralCode(ctx, strings.TrimSpace(referralCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invalid(op, "unknown referral code")
		}
		return domain.Unavailable(err, op, "failed to resolve referral code")
	}
	if referrer.ID == accountID {
		return domain.Invalid(op, "an account cannot refer itself")
	}

	attached, err := s.store.AttachReferrer(ctx, accountID, referrer.ID)
	if err != nil {
		return domain.Unavailable(err, op, "failed to attach referrer")
	}
	if !attached {
		return domain.Conflict(op, "account already has a referrer")
	}

	s.logger.Info("referrer attached",
		"account_id", accountID,
		"affiliate_id", referrer.ID,
		"referral_code", referralCode,
	)

	if err := s.entitlement.GrantBonusCredits(ctx, referrer.ID, ReferralSignupCredits, "referral_signup"); err != nil {
		// Attribution is durable; a missed bonus is recoverable and should
		// not unwind it.
		s.logger.Error("failed to grant referral signup bonus",
			"affiliate_id", referrer.ID,
			"error", err,
		)
	}
	return nil
}

func (s *accountService) AttachBillingCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error {
	const op = "account.attach_billing_customer"

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Invalid(op, "billing customer id is required")
	}

	if err := s.store.SetStripeCustomerID(ctx, accountID, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "account", accountID.String())
		}
		return domain.Unavailable(err, op, "failed to attach billing customer")
	}

	s.logger.Info("billing customer attached",
		"account_id", accountID,
		"customer_id", customerID,
	)
	return nil
}

func (s *accountService) UpdateSubscription(ctx context.Context, accountID uuid.UUID, status domain.SubscriptionStatus, tier domain.SubscriptionTier, subscriptionID string) error {
	const op = "account.update_subscription"

	if err := s.store.UpdateSubscription(ctx, accountID, status, tier, subscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "account", accountID.String())
		}
		return domain.Unavailable(err, op, "failed to update subscription")
	}
	return nil
}

func (s *accountService) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "account.delete"

	if err := s.store.DeleteAccount(ctx, id); err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return derr
		}
		return domain.Unavailable(err, op, "failed to delete account")
	}
	return nil
}

func generateReferralCode() (string, error) {
	buf := make([]byte, ReferralCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
