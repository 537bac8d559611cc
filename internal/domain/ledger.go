// Package domain contains core business types and interfaces.
//
// This file defines the commission ledger types. Ledger entries are
// immutable records of commission-bearing payment events; affiliate
// balances are always derived from them by aggregation, never mutated
// independently.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStatus represents the state of a commission ledger entry.
//
// PENDING -> PAID and PENDING -> FAILED are the only legal transitions;
// both targets are terminal.
type LedgerStatus string

const (
	LedgerStatusPending LedgerStatus = "pending"
	LedgerStatusPaid    LedgerStatus = "paid"
	LedgerStatusFailed  LedgerStatus = "failed"
)

// DefaultCommissionRate is the affiliate's share of a referred payment.
var DefaultCommissionRate = decimal.New(5, -1) // 0.5

// LedgerEntry is one commission-bearing payment event. The commission is
// computed once at creation and never recomputed; ExternalPaymentRef is the
// provider's payment identifier and is unique across the ledger, which is
// what makes at-least-once webhook delivery safe to replay.
type LedgerEntry struct {
	ID                 uuid.UUID
	AffiliateAccountID uuid.UUID
	ReferredAccountID  uuid.UUID
	OriginalAmount     decimal.Decimal
	Commission         decimal.Decimal
	ExternalPaymentRef string
	Status             LedgerStatus
	CreatedAt          time.Time
	PaidAt             *time.Time
}

// AffiliateBalance is the aggregate view over an affiliate's ledger entries.
type AffiliateBalance struct {
	Pending  decimal.Decimal
	Paid     decimal.Decimal
	Lifetime decimal.Decimal
}
