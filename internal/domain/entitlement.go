package domain

import "time"

// EntitlementReason explains why an admission decision came out the way it did.
type EntitlementReason string

const (
	ReasonWithinTierQuota EntitlementReason = "within_tier_quota"
	ReasonUsedBonusCredit EntitlementReason = "used_bonus_credit"
	ReasonTierExhausted   EntitlementReason = "tier_exhausted"
)

// EntitlementDecision is the result of resolving an account's permission to
// run one metered operation. It is derived, never stored. ResetAt is the
// current period boundary and is populated on a quota denial so callers can
// tell the client when capacity returns.
type EntitlementDecision struct {
	Allowed bool
	Reason  EntitlementReason
	ResetAt time.Time
}

// QuotaUsage is a read-only snapshot of an account's standing against its
// monthly allowance.
type QuotaUsage struct {
	Used         int64
	Limit        int64
	Unlimited    bool
	BonusCredits int64
	ResetAt      time.Time
}
