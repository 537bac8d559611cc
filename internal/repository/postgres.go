package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reelgauge/reelgauge/internal/domain"
)

// SQLSTATE codes we act on.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store on a Postgres database.
//
// Quota mutations are single conditional UPDATE statements, so atomicity
// comes from the database rather than application locks. Ledger idempotency
// rests on the unique index over external_payment_ref.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore over an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, email, subscription_status, subscription_tier, subscription_id,
	stripe_customer_id, period_usage_count, period_reset_at, bonus_credits,
	referral_code, referrer_id, created_at, updated_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, subscription_status, subscription_tier, subscription_id,
			stripe_customer_id, period_usage_count, period_reset_at, bonus_credits,
			referral_code, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		a.ID, a.Email, a.SubscriptionStatus, a.SubscriptionTier, a.SubscriptionID,
		a.StripeCustomerID, a.PeriodUsageCount, a.PeriodResetAt, a.BonusCredits,
		a.ReferralCode, nullUUID(a.ReferrerID), a.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("repository.create_account", "account with this email or referral code already exists")
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresStore) GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	return scanAccount(row)
}

func (s *PostgresStore) GetAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1`, code)
	return scanAccount(row)
}

func (s *PostgresStore) AttachReferrer(ctx context.Context, accountID, referrerID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET referrer_id = $2, updated_at = now()
		WHERE id = $1 AND referrer_id IS NULL`,
		accountID, referrerID)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *PostgresStore) SetStripeCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1`,
		accountID, customerID)
	if err != nil {
		return err
	}
	if ok, err := oneRow(res); err != nil || !ok {
		if err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, accountID uuid.UUID, status domain.SubscriptionStatus, tier domain.SubscriptionTier, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET subscription_status = $2, subscription_tier = $3, subscription_id = $4, updated_at = now()
		WHERE id = $1`,
		accountID, status, tier, subscriptionID)
	if err != nil {
		return err
	}
	if ok, err := oneRow(res); err != nil || !ok {
		if err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ResetPeriod(ctx context.Context, accountID uuid.UUID, observedResetAt, newResetAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET period_usage_count = 0, period_reset_at = $3, updated_at = now()
		WHERE id = $1 AND period_reset_at = $2`,
		accountID, observedResetAt, newResetAt)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, accountID uuid.UUID, limit int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET period_usage_count = period_usage_count + 1, updated_at = now()
		WHERE id = $1 AND ($2 < 0 OR period_usage_count < $2)`,
		accountID, limit)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *PostgresStore) ConsumeBonusCredit(ctx context.Context, accountID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET bonus_credits = bonus_credits - 1, updated_at = now()
		WHERE id = $1 AND bonus_credits > 0`,
		accountID)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *PostgresStore) GrantBonusCredits(ctx context.Context, accountID uuid.UUID, n int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET bonus_credits = bonus_credits + $2, updated_at = now()
		WHERE id = $1`,
		accountID, n)
	if err != nil {
		return err
	}
	if ok, _ := oneRow(res); !ok {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if isPgError(err, pgForeignKeyViolation) {
		return domain.Conflict("repository.delete_account", "account has ledger entries and cannot be deleted")
	}
	return err
}

const ledgerColumns = `id, affiliate_account_id, referred_account_id, original_amount,
	commission, external_payment_ref, status, created_at, paid_at`

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, *domain.LedgerEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_ledger (id, affiliate_account_id, referred_account_id,
			original_amount, commission, external_payment_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_payment_ref) DO NOTHING`,
		e.ID, e.AffiliateAccountID, e.ReferredAccountID,
		e.OriginalAmount, e.Commission, e.ExternalPaymentRef, e.Status, e.CreatedAt)
	if err != nil {
		return false, nil, err
	}
	inserted, err := oneRow(res)
	if err != nil {
		return false, nil, err
	}
	if inserted {
		return true, e, nil
	}
	// Lost the race or replayed delivery: return the row that won.
	existing, err := s.GetLedgerEntryByRef(ctx, e.ExternalPaymentRef)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *PostgresStore) GetLedgerEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM commission_ledger WHERE id = $1`, id)
	return scanLedgerEntry(row)
}

func (s *PostgresStore) GetLedgerEntryByRef(ctx context.Context, externalRef string) (*domain.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM commission_ledger WHERE external_payment_ref = $1`, externalRef)
	return scanLedgerEntry(row)
}

func (s *PostgresStore) SetLedgerStatus(ctx context.Context, id uuid.UUID, status domain.LedgerStatus, paidAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commission_ledger SET status = $2, paid_at = $3
		WHERE id = $1 AND status = $4`,
		id, status, nullTime(paidAt), domain.LedgerStatusPending)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *PostgresStore) AffiliateBalance(ctx context.Context, affiliateID uuid.UUID) (*domain.AffiliateBalance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(commission) FILTER (WHERE status = 'pending'), 0),
			COALESCE(SUM(commission) FILTER (WHERE status = 'paid'), 0)
		FROM commission_ledger
		WHERE affiliate_account_id = $1`,
		affiliateID)

	var b domain.AffiliateBalance
	if err := row.Scan(&b.Pending, &b.Paid); err != nil {
		return nil, err
	}
	b.Lifetime = b.Pending.Add(b.Paid)
	return &b, nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, affiliateID uuid.UUID) ([]*domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM commission_ledger
		WHERE affiliate_account_id = $1
		ORDER BY created_at DESC`,
		affiliateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// Scan helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var subscriptionID, customerID, referralCode sql.NullString
	var referrerID uuid.NullUUID
	err := row.Scan(&a.ID, &a.Email, &a.SubscriptionStatus, &a.SubscriptionTier,
		&subscriptionID, &customerID, &a.PeriodUsageCount, &a.PeriodResetAt,
		&a.BonusCredits, &referralCode, &referrerID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.SubscriptionID = subscriptionID.String
	a.StripeCustomerID = customerID.String
	a.ReferralCode = referralCode.String
	if referrerID.Valid {
		id := referrerID.UUID
		a.ReferrerID = &id
	}
	return &a, nil
}

func scanLedgerEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var paidAt sql.NullTime
	err := row.Scan(&e.ID, &e.AffiliateAccountID, &e.ReferredAccountID,
		&e.OriginalAmount, &e.Commission, &e.ExternalPaymentRef, &e.Status,
		&e.CreatedAt, &paidAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		e.PaidAt = &t
	}
	return &e, nil
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isPgError(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
