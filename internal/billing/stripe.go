// Package billing provides the Stripe-facing surface of webhook ingestion:
// signature verification and price-to-tier mapping.
package billing

import (
	"fmt"

	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Service defines the billing operations the ingestion gateway depends on.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature against
	// the raw payload and returns the parsed event. No side effect may
	// happen before this succeeds.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the subscription tier for a Stripe price ID,
	// or the free tier when the price is unknown.
	TierForPriceID(priceID string) domain.SubscriptionTier
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	ProMonthlyPriceID       string
	ProYearlyPriceID        string
	UnlimitedMonthlyPriceID string
	UnlimitedYearlyPriceID  string
}

type stripeService struct {
	webhookSecret string
	priceToTier   map[string]domain.SubscriptionTier
}

// NewStripeService creates a new Stripe billing service.
//
// The webhookSecret verifies incoming webhook signatures; prices configure
// which Stripe price IDs map to which tiers.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToTier := make(map[string]domain.SubscriptionTier)
	for _, p := range []struct {
		id   string
		tier domain.SubscriptionTier
	}{
		{prices.ProMonthlyPriceID, domain.SubscriptionTierPro},
		{prices.ProYearlyPriceID, domain.SubscriptionTierPro},
		{prices.UnlimitedMonthlyPriceID, domain.SubscriptionTierUnlimited},
		{prices.UnlimitedYearlyPriceID, domain.SubscriptionTierUnlimited},
	} {
		if p.id != "" {
			priceToTier[p.id] = p.tier
		}
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) domain.SubscriptionTier {
	if tier, ok := s.priceToTier[priceID]; ok {
		return tier
	}
	return domain.SubscriptionTierFree
}
