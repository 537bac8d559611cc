package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors PostgresStore semantics: guarded mutations are atomic under a
// single mutex, missing rows surface as sql.ErrNoRows, and ledger inserts
// deduplicate on the external payment ref exactly like the unique index.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	entries  map[uuid.UUID]*domain.LedgerEntry
	byRef    map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*domain.Account),
		entries:  make(map[uuid.UUID]*domain.LedgerEntry),
		byRef:    make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email || (a.ReferralCode != "" && existing.ReferralCode == a.ReferralCode) {
			return domain.Conflict("repository.create_account", "account with this email or referral code already exists")
		}
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyAccount(id)
}

func (s *MemoryStore) GetAccountByStripeCustomerID(_ context.Context, customerID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.StripeCustomerID == customerID && customerID != "" {
			return s.copyAccount(id)
		}
	}
	return nil, sql.ErrNoRows
}

func (s *MemoryStore) GetAccountByReferralCode(_ context.Context, code string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.ReferralCode == code && code != "" {
			return s.copyAccount(id)
		}
	}
	return nil, sql.ErrNoRows
}

func (s *MemoryStore) AttachReferrer(_ context.Context, accountID, referrerID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.ReferrerID != nil {
		return false, nil
	}
	id := referrerID
	a.ReferrerID = &id
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) SetStripeCustomerID(_ context.Context, accountID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	a.StripeCustomerID = customerID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, accountID uuid.UUID, status domain.SubscriptionStatus, tier domain.SubscriptionTier, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	a.SubscriptionStatus = status
	a.SubscriptionTier = tier
	a.SubscriptionID = subscriptionID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ResetPeriod(_ context.Context, accountID uuid.UUID, observedResetAt, newResetAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || !a.PeriodResetAt.Equal(observedResetAt) {
		return false, nil
	}
	a.PeriodUsageCount = 0
	a.PeriodResetAt = newResetAt
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, accountID uuid.UUID, limit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, nil
	}
	if limit >= 0 && a.PeriodUsageCount >= limit {
		return false, nil
	}
	a.PeriodUsageCount++
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ConsumeBonusCredit(_ context.Context, accountID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.BonusCredits <= 0 {
		return false, nil
	}
	a.BonusCredits--
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) GrantBonusCredits(_ context.Context, accountID uuid.UUID, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	a.BonusCredits += n
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.AffiliateAccountID == id || e.ReferredAccountID == id {
			return domain.Conflict("repository.delete_account", "account has ledger entries and cannot be deleted")
		}
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) (bool, *domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byRef[e.ExternalPaymentRef]; ok {
		cp := *s.entries[existingID]
		return false, &cp, nil
	}
	cp := *e
	s.entries[e.ID] = &cp
	s.byRef[e.ExternalPaymentRef] = e.ID
	out := cp
	return true, &out, nil
}

func (s *MemoryStore) GetLedgerEntry(_ context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) GetLedgerEntryByRef(_ context.Context, externalRef string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[externalRef]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s.entries[id]
	return &cp, nil
}

func (s *MemoryStore) SetLedgerStatus(_ context.Context, id uuid.UUID, status domain.LedgerStatus, paidAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status != domain.LedgerStatusPending {
		return false, nil
	}
	e.Status = status
	if paidAt != nil {
		t := *paidAt
		e.PaidAt = &t
	}
	return true, nil
}

func (s *MemoryStore) AffiliateBalance(_ context.Context, affiliateID uuid.UUID) (*domain.AffiliateBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &domain.AffiliateBalance{
		Pending: decimal.Zero,
		Paid:    decimal.Zero,
	}
	for _, e := range s.entries {
		if e.AffiliateAccountID != affiliateID {
			continue
		}
		switch e.Status {
		case domain.LedgerStatusPending:
			b.Pending = b.Pending.Add(e.Commission)
		case domain.LedgerStatusPaid:
			b.Paid = b.Paid.Add(e.Commission)
		}
	}
	b.Lifetime = b.Pending.Add(b.Paid)
	return b, nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, affiliateID uuid.UUID) ([]*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []*domain.LedgerEntry
	for _, e := range s.entries {
		if e.AffiliateAccountID == affiliateID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

func (s *MemoryStore) copyAccount(id uuid.UUID) (*domain.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *a
	if a.ReferrerID != nil {
		rid := *a.ReferrerID
		cp.ReferrerID = &rid
	}
	return &cp, nil
}
