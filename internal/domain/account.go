// Package domain contains core business types and interfaces.
//
// This file defines the Account domain type: subscription tier, monthly
// usage counters, bonus credits, and referral attribution.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of an account's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// SubscriptionTier represents the pricing tier of a subscription.
type SubscriptionTier string

const (
	SubscriptionTierFree      SubscriptionTier = "free"
	SubscriptionTierPro       SubscriptionTier = "pro"
	SubscriptionTierUnlimited SubscriptionTier = "unlimited"
)

// Monthly analysis allowances per tier.
const (
	FreeTierMonthlyLimit = 3
	ProTierMonthlyLimit  = 30
)

// TierLimit returns the monthly analysis allowance for a tier and whether
// the tier is unlimited. Unknown tiers fall back to the free allowance.
func TierLimit(tier SubscriptionTier) (limit int64, unlimited bool) {
	switch tier {
	case SubscriptionTierPro:
		return ProTierMonthlyLimit, false
	case SubscriptionTierUnlimited:
		return 0, true
	default:
		return FreeTierMonthlyLimit, false
	}
}

// Account represents a registered account of the Reelgauge platform.
//
// PeriodUsageCount and PeriodResetAt track consumption against the monthly
// tier allowance. BonusCredits are an overflow pool: they are only granted
// by explicit events (referral signup, review submission), only spent after
// the tier allowance is exhausted, and never touched by the monthly reset.
type Account struct {
	ID                 uuid.UUID
	Email              string
	SubscriptionStatus SubscriptionStatus
	SubscriptionTier   SubscriptionTier
	SubscriptionID     string // Provider subscription reference; cleared on cancellation
	StripeCustomerID   string
	PeriodUsageCount   int64
	PeriodResetAt      time.Time
	BonusCredits       int64
	ReferralCode       string     // This account's own code, handed to prospects
	ReferrerID         *uuid.UUID // Set at most once, at signup
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive returns true if the account has an active subscription.
func (a *Account) IsActive() bool {
	return a.SubscriptionStatus == SubscriptionStatusActive
}

// HasReferrer returns true if the account was attributed to an affiliate.
func (a *Account) HasReferrer() bool {
	return a.ReferrerID != nil
}

// NextPeriodStart returns the first instant of the calendar month after now,
// in UTC. It is the value PeriodResetAt advances to on a boundary crossing.
func NextPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
