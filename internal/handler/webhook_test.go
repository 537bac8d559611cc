package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelgauge/reelgauge/internal/billing"
	"github.com/reelgauge/reelgauge/internal/domain"
	"github.com/reelgauge/reelgauge/internal/repository"
	"github.com/reelgauge/reelgauge/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

const testWebhookSecret = "whsec_test_secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signPayload produces a Stripe-Signature header value the verifier accepts:
// t=<unix>,v1=<hex hmac-sha256(secret, "<unix>.<payload>")>.
func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type webhookFixture struct {
	store    *repository.MemoryStore
	accounts service.AccountService
	ledger   service.LedgerService
	handler  *WebhookHandler
}

func newWebhookFixture() *webhookFixture {
	store := repository.NewMemoryStore()
	logger := testLogger()

	billingService := billing.NewStripeService("sk_test", testWebhookSecret, billing.PriceConfig{
		ProMonthlyPriceID: "price_pro",
	})
	entitlement := service.NewEntitlementService(store, logger)
	accounts := service.NewAccountService(store, entitlement, logger)
	ledger := service.NewLedgerService(store, domain.DefaultCommissionRate, logger)
	ingest := service.NewIngestService(accounts, ledger, billingService, logger)

	return &webhookFixture{
		store:    store,
		accounts: accounts,
		ledger:   ledger,
		handler:  NewWebhookHandler(billingService, ingest, logger),
	}
}

func (f *webhookFixture) seedAccount(t *testing.T, mutate func(*domain.Account)) *domain.Account {
	t.Helper()
	now := time.Now().UTC()
	account := &domain.Account{
		ID:                 uuid.New(),
		Email:              uuid.NewString() + "@example.com",
		SubscriptionStatus: domain.SubscriptionStatusActive,
		SubscriptionTier:   domain.SubscriptionTierFree,
		PeriodResetAt:      domain.NextPeriodStart(now),
		ReferralCode:       uuid.NewString(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(account)
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

func (f *webhookFixture) deliver(t *testing.T, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	f.handler.HandleStripeWebhook(rec, req)
	return rec
}

func paymentSucceededEvent(customerID, paymentIntentID string, amountPaid int64) string {
	// ConstructEvent refuses events from a different API version than the
	// SDK is pinned to, so the payload must carry the pinned version.
	return fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": "invoice.payment_succeeded",
		"data": {
			"object": {
				"id": "in_1",
				"customer": {"id": %q},
				"payment_intent": {"id": %q},
				"amount_paid": %d
			}
		}
	}`, stripe.APIVersion, customerID, paymentIntentID, amountPaid)
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture()
	affiliate := f.seedAccount(t, nil)
	f.seedAccount(t, func(a *domain.Account) {
		a.StripeCustomerID = "cus_1"
		a.ReferrerID = &affiliate.ID
	})

	payload := paymentSucceededEvent("cus_1", "pi_1", 1900)

	rec := f.deliver(t, payload, "t=123,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.deliver(t, payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No side effect before verification.
	entries, err := f.ledger.Entries(context.Background(), affiliate.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWebhookHandler_RejectsTamperedPayload(t *testing.T) {
	f := newWebhookFixture()
	affiliate := f.seedAccount(t, nil)
	f.seedAccount(t, func(a *domain.Account) {
		a.StripeCustomerID = "cus_1"
		a.ReferrerID = &affiliate.ID
	})

	signature := signPayload([]byte(paymentSucceededEvent("cus_1", "pi_1", 1900)), testWebhookSecret)
	tampered := paymentSucceededEvent("cus_1", "pi_1", 990000)

	rec := f.deliver(t, tampered, signature)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := f.ledger.Entries(context.Background(), affiliate.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWebhookHandler_ValidPaymentRecordsCommission(t *testing.T) {
	f := newWebhookFixture()
	affiliate := f.seedAccount(t, nil)
	f.seedAccount(t, func(a *domain.Account) {
		a.StripeCustomerID = "cus_1"
		a.ReferrerID = &affiliate.ID
	})

	payload := paymentSucceededEvent("cus_1", "pi_1", 1900)
	rec := f.deliver(t, payload, signPayload([]byte(payload), testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := f.ledger.Entries(context.Background(), affiliate.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "9.50", entries[0].Commission.StringFixed(2))
}

func TestWebhookHandler_ReplayedDeliveryRecordsOnce(t *testing.T) {
	f := newWebhookFixture()
	affiliate := f.seedAccount(t, nil)
	f.seedAccount(t, func(a *domain.Account) {
		a.StripeCustomerID = "cus_1"
		a.ReferrerID = &affiliate.ID
	})

	payload := paymentSucceededEvent("cus_1", "pi_1", 2900)
	for i := 0; i < 3; i++ {
		rec := f.deliver(t, payload, signPayload([]byte(payload), testWebhookSecret))
		require.Equal(t, http.StatusOK, rec.Code, "every delivery of a processed event is acknowledged")
	}

	entries, err := f.ledger.Entries(context.Background(), affiliate.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	balance, err := f.ledger.Balance(context.Background(), affiliate.ID)
	require.NoError(t, err)
	assert.Equal(t, "14.50", balance.Pending.StringFixed(2))
}

// TestWebhookHandler_CheckoutBindsCustomerForLaterEvents drives the wire
// path end to end: an account created through signup receives subscription
// effects only after a checkout completion binds its billing customer.
func TestWebhookHandler_CheckoutBindsCustomerForLaterEvents(t *testing.T) {
	f := newWebhookFixture()
	account, err := f.accounts.Signup(context.Background(), "payer@example.com", "")
	require.NoError(t, err)

	subPayload := fmt.Sprintf(`{
		"id": "evt_sub",
		"api_version": %q,
		"type": "customer.subscription.created",
		"data": {
			"object": {
				"id": "sub_1",
				"customer": {"id": "cus_1"},
				"status": "active",
				"items": {"data": [{"price": {"id": "price_pro"}}]}
			}
		}
	}`, stripe.APIVersion)

	// Unmatched deliveries are acknowledged but change nothing.
	rec := f.deliver(t, subPayload, signPayload([]byte(subPayload), testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	unchanged, err := f.accounts.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierFree, unchanged.SubscriptionTier)

	checkoutPayload := fmt.Sprintf(`{
		"id": "evt_cs",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_1",
				"customer": {"id": "cus_1"},
				"client_reference_id": %q
			}
		}
	}`, stripe.APIVersion, account.ID.String())

	rec = f.deliver(t, checkoutPayload, signPayload([]byte(checkoutPayload), testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.deliver(t, subPayload, signPayload([]byte(subPayload), testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	upgraded, err := f.accounts.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, upgraded.SubscriptionStatus)
	assert.Equal(t, domain.SubscriptionTierPro, upgraded.SubscriptionTier)
	assert.Equal(t, "sub_1", upgraded.SubscriptionID)
}

func TestWebhookHandler_UnknownEventTypeAcknowledged(t *testing.T) {
	f := newWebhookFixture()

	payload := fmt.Sprintf(`{"id": "evt_1", "api_version": %q, "type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`, stripe.APIVersion)
	rec := f.deliver(t, payload, signPayload([]byte(payload), testWebhookSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
}
