package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedAccount inserts an account directly into the store, bypassing signup.
func seedAccount(t *testing.T, store *repository.MemoryStore, mutate func(*domain.Account)) *domain.Account {
	t.Helper()

	now := time.Now().UTC()
	account := &domain.Account{
		ID:                 uuid.New(),
		Email:              uuid.NewString() + "@example.com",
		SubscriptionStatus: domain.SubscriptionStatusInactive,
		SubscriptionTier:   domain.SubscriptionTierFree,
		PeriodResetAt:      domain.NextPeriodStart(now),
		ReferralCode:       uuid.NewString(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(account)
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func newTestEntitlementService(store *repository.MemoryStore) *entitlementService {
	return &entitlementService{
		store:  store,
		logger: testLogger(),
		now:    time.Now,
	}
}

func TestEntitlementService_Consume_FreeTier(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, nil)

	for i := 0; i < domain.FreeTierMonthlyLimit; i++ {
		decision, err := svc.Consume(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "consumption %d should be allowed", i+1)
		assert.Equal(t, domain.ReasonWithinTierQuota, decision.Reason)
	}

	decision, err := svc.Consume(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonTierExhausted, decision.Reason)
	assert.True(t, decision.ResetAt.Equal(account.PeriodResetAt),
		"a denial carries the period boundary so callers can say when capacity returns")
}

func TestEntitlementService_Consume_TierBeforeBonus(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.BonusCredits = 5
	})

	// The tier allowance must drain before a single bonus credit is touched.
	for i := 0; i < domain.FreeTierMonthlyLimit; i++ {
		decision, err := svc.Consume(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonWithinTierQuota, decision.Reason, "consumption %d", i+1)
	}

	for i := 0; i < 5; i++ {
		decision, err := svc.Consume(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "bonus consumption %d should be allowed", i+1)
		assert.Equal(t, domain.ReasonUsedBonusCredit, decision.Reason)
	}

	decision, err := svc.Consume(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonTierExhausted, decision.Reason)

	usage, err := svc.Usage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.BonusCredits)
}

func TestEntitlementService_Consume_UnlimitedTier(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.SubscriptionTier = domain.SubscriptionTierUnlimited
	})

	for i := 0; i < 100; i++ {
		decision, err := svc.Consume(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, domain.ReasonWithinTierQuota, decision.Reason)
	}
}

func TestEntitlementService_Consume_PeriodBoundaryReset(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)

	// Account exhausted its allowance in a period that has since ended.
	staleReset := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.PeriodUsageCount = domain.FreeTierMonthlyLimit
		a.PeriodResetAt = staleReset
	})

	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	decision, err := svc.Consume(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "fresh period should start with a clean counter")
	assert.Equal(t, domain.ReasonWithinTierQuota, decision.Reason)

	stored, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.PeriodUsageCount)
	assert.True(t, stored.PeriodResetAt.Equal(time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)))
}

// TestEntitlementService_Consume_ConcurrentBoundaryCrossing drives many
// concurrent consumptions across a stale period boundary. Exactly one reset
// must win, and the fresh period must admit exactly the tier allowance.
func TestEntitlementService_Consume_ConcurrentBoundaryCrossing(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)

	staleReset := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.PeriodUsageCount = domain.FreeTierMonthlyLimit
		a.PeriodResetAt = staleReset
	})

	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	const workers = 100
	var allowed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			decision, err := svc.Consume(ctx, account.ID)
			if err != nil {
				t.Error(err)
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(domain.FreeTierMonthlyLimit), allowed.Load(),
		"the reset must apply once, not once per concurrent crossing")

	stored, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(domain.FreeTierMonthlyLimit), stored.PeriodUsageCount)
}

// TestEntitlementService_Consume_ConcurrentLastUnit races many consumers for
// a nearly exhausted allowance; the conditional increment must hand the last
// unit to exactly one of them.
func TestEntitlementService_Consume_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.PeriodUsageCount = domain.FreeTierMonthlyLimit - 1
	})

	const workers = 50
	var allowed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			decision, err := svc.Consume(ctx, account.ID)
			if err != nil {
				t.Error(err)
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), allowed.Load())
}

func TestEntitlementService_Consume_UnknownAccount(t *testing.T) {
	svc := newTestEntitlementService(repository.NewMemoryStore())

	_, err := svc.Consume(context.Background(), uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestEntitlementService_Usage(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.SubscriptionTier = domain.SubscriptionTierPro
		a.PeriodUsageCount = 12
		a.BonusCredits = 2
	})

	usage, err := svc.Usage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), usage.Used)
	assert.Equal(t, int64(domain.ProTierMonthlyLimit), usage.Limit)
	assert.False(t, usage.Unlimited)
	assert.Equal(t, int64(2), usage.BonusCredits)
	assert.True(t, usage.ResetAt.Equal(account.PeriodResetAt))
}

func TestEntitlementService_Usage_StaleBoundaryReportsZero(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, func(a *domain.Account) {
		a.PeriodUsageCount = 3
		a.PeriodResetAt = time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	})

	svc.now = func() time.Time {
		return time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC)
	}

	usage, err := svc.Usage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Used, "a counter from a past period is reported as zero")
	assert.True(t, usage.ResetAt.Equal(time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)))
}

func TestEntitlementService_GrantBonusCredits(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestEntitlementService(store)
	account := seedAccount(t, store, nil)

	require.NoError(t, svc.GrantBonusCredits(ctx, account.ID, ReviewGrantCredits, "review_submission"))

	usage, err := svc.Usage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(ReviewGrantCredits), usage.BonusCredits)

	err = svc.GrantBonusCredits(ctx, account.ID, 0, "review_submission")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	err = svc.GrantBonusCredits(ctx, uuid.New(), 1, "review_submission")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
