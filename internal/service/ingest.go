// Package service contains the business logic layer.
//
// This file implements the billing event ingestion gateway: classifying
// verified provider events and dispatching them to the account and ledger
// services. Signature verification happens in the HTTP handler before
// anything here runs.
//
// Delivery is at-least-once, so every dispatch path must be safe to invoke
// twice with the same event: tier updates are naturally idempotent, and
// payment recording deduplicates on the provider's payment reference.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/billing"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
)

// =============================================================================
// Interface Definition
// =============================================================================

// IngestService applies verified billing events.
type IngestService interface {
	// Process dispatches one verified event. A returned error with code
	// EUNAVAILABLE means the event was not fully applied and the provider
	// should redeliver; any other outcome (including unknown event types
	// and accounts we cannot match) is terminal and must not be retried.
	Process(ctx context.Context, event stripe.Event) error
}

// =============================================================================
// Implementation
// =============================================================================

type ingestService struct {
	accounts AccountService
	ledger   LedgerService
	billing  billing.Service
	logger   *slog.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(accounts AccountService, ledger LedgerService, billingService billing.Service, logger *slog.Logger) IngestService {
	return &ingestService{
		accounts: accounts,
		ledger:   ledger,
		billing:  billingService,
		logger:   logger,
	}
}

func (s *ingestService) Process(ctx context.Context, event stripe.Event) error {
	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		err = s.handleSubscriptionChange(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		err = s.handlePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		err = s.handlePaymentFailed(ctx, event)
	default:
		s.logger.Debug("unhandled webhook event type", "type", event.Type)
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "ignored").Inc()
		return nil
	}

	outcome := "applied"
	if err != nil {
		outcome = "failed"
	}
	metrics.WebhookEvents.WithLabelValues(string(event.Type), outcome).Inc()
	return err
}

// handleCheckoutCompleted binds the provider's customer reference to the
// account that started the checkout. Sessions are created with the account
// ID as the client reference, and this binding is what lets every later
// subscription and invoice event find its account.
func (s *ingestService) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	const op = "ingest.checkout_completed"

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return domain.Invalid(op, "malformed checkout session payload")
	}
	if session.Customer == nil {
		return domain.Invalid(op, "checkout session missing customer")
	}
	if session.ClientReferenceID == "" {
		s.logger.Debug("checkout session without account reference", "session_id", session.ID)
		return nil
	}

	accountID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return domain.Invalid(op, "checkout session client reference is not an account id")
	}

	if err := s.accounts.AttachBillingCustomer(ctx, accountID, session.Customer.ID); err != nil {
		return s.dropUnlessTransient(err, "no account for checkout session", "account_id", accountID)
	}

	s.logger.Info("billing customer bound from checkout",
		"account_id", accountID,
		"customer_id", session.Customer.ID,
	)
	return nil
}

func (s *ingestService) handleSubscriptionChange(ctx context.Context, event stripe.Event) error {
	const op = "ingest.subscription_change"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid(op, "malformed subscription payload")
	}
	if sub.Customer == nil {
		return domain.Invalid(op, "subscription event missing customer")
	}

	account, err := s.accounts.GetByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return s.dropUnlessTransient(err, "no account for subscription event", "customer_id", sub.Customer.ID)
	}

	tier := domain.SubscriptionTierFree
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		tier = s.billing.TierForPriceID(sub.Items.Data[0].Price.ID)
	}
	status := subscriptionStatus(sub.Status)

	if err := s.accounts.UpdateSubscription(ctx, account.ID, status, tier, sub.ID); err != nil {
		return err
	}

	s.logger.Info("subscription updated from billing event",
		"account_id", account.ID,
		"status", status,
		"tier", tier,
		"subscription_id", sub.ID,
	)
	return nil
}

func (s *ingestService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	const op = "ingest.subscription_deleted"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return domain.Invalid(op, "malformed subscription payload")
	}
	if sub.Customer == nil {
		return domain.Invalid(op, "subscription event missing customer")
	}

	account, err := s.accounts.GetByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return s.dropUnlessTransient(err, "no account for subscription deletion", "customer_id", sub.Customer.ID)
	}

	// Downgrade to free and clear the provider reference.
	if err := s.accounts.UpdateSubscription(ctx, account.ID, domain.SubscriptionStatusCanceled, domain.SubscriptionTierFree, ""); err != nil {
		return err
	}

	s.logger.Info("subscription canceled", "account_id", account.ID, "subscription_id", sub.ID)
	return nil
}

func (s *ingestService) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	const op = "ingest.payment_succeeded"

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return domain.Invalid(op, "malformed invoice payload")
	}
	if invoice.Customer == nil {
		return domain.Invalid(op, "invoice event missing customer")
	}

	account, err := s.accounts.GetByStripeCustomerID(ctx, invoice.Customer.ID)
	if err != nil {
		return s.dropUnlessTransient(err, "no account for payment", "customer_id", invoice.Customer.ID)
	}

	// Recovery from past_due: a successful payment reactivates.
	if account.SubscriptionStatus != domain.SubscriptionStatusActive {
		if err := s.accounts.UpdateSubscription(ctx, account.ID,
			domain.SubscriptionStatusActive, account.SubscriptionTier, account.SubscriptionID); err != nil {
			return err
		}
	}

	if !account.HasReferrer() || invoice.AmountPaid <= 0 {
		return nil
	}

	amount := decimal.New(invoice.AmountPaid, -2) // Stripe amounts are cents
	ref := invoice.ID
	if invoice.PaymentIntent != nil && invoice.PaymentIntent.ID != "" {
		ref = invoice.PaymentIntent.ID
	}

	_, err = s.ledger.RecordPayment(ctx, *account.ReferrerID, account.ID, amount, ref)
	return err
}

func (s *ingestService) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	const op = "ingest.payment_failed"

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return domain.Invalid(op, "malformed invoice payload")
	}
	if invoice.Customer == nil {
		return domain.Invalid(op, "invoice event missing customer")
	}

	account, err := s.accounts.GetByStripeCustomerID(ctx, invoice.Customer.ID)
	if err != nil {
		return s.dropUnlessTransient(err, "no account for failed payment", "customer_id", invoice.Customer.ID)
	}

	if err := s.accounts.UpdateSubscription(ctx, account.ID,
		domain.SubscriptionStatusPastDue, account.SubscriptionTier, account.SubscriptionID); err != nil {
		return err
	}

	s.logger.Warn("payment failed", "account_id", account.ID, "customer_id", invoice.Customer.ID)
	return nil
}

// dropUnlessTransient swallows lookup misses (the customer may not be one
// of ours) but propagates transient store failures so the provider retries.
func (s *ingestService) dropUnlessTransient(err error, msg string, args ...any) error {
	if domain.ErrorCode(err) == domain.EUNAVAILABLE {
		return err
	}
	s.logger.Debug(msg, args...)
	return nil
}

// subscriptionStatus maps a Stripe subscription status onto ours.
func subscriptionStatus(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusInactive
	}
}
