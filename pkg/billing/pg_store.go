package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store used in production.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

const subscriptionColumns = `id, account_id, plan_code, status, customer_id, subscription_id,
	current_period_end, cancel_at_period_end, cancel_at, canceled_at, started_at, created_at, updated_at`

func (s *PGStore) GetByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error) {
	if providerSubID == "" {
		return nil, ErrSubscriptionNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = $1`,
		providerSubID)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription by provider ID: %w", err)
	}
	return sub, nil
}

func (s *PGStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions by account: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscription rows: %w", err)
	}
	return out, nil
}

func (s *PGStore) Save(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			plan_code            = EXCLUDED.plan_code,
			status               = EXCLUDED.status,
			customer_id          = EXCLUDED.customer_id,
			subscription_id      = EXCLUDED.subscription_id,
			current_period_end   = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			cancel_at            = EXCLUDED.cancel_at,
			canceled_at          = EXCLUDED.canceled_at,
			started_at           = EXCLUDED.started_at,
			updated_at           = EXCLUDED.updated_at`,
		sub.ID, sub.AccountID, sub.PlanCode, string(sub.Status), sub.CustomerID, sub.SubscriptionID,
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CancelAt, sub.CanceledAt,
		sub.StartedAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub    Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.PlanCode, &status, &sub.CustomerID, &sub.SubscriptionID,
		&sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CancelAt, &sub.CanceledAt,
		&sub.StartedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = Status(status)
	return &sub, nil
}

// PGDirectory resolves account existence and contact email from the
// accounts table owned by the accounts module.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) Exists(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account existence: %w", err)
	}
	return exists, nil
}

func (d *PGDirectory) Email(ctx context.Context, accountID uuid.UUID) (string, error) {
	var addr string
	err := d.pool.QueryRow(ctx,
		`SELECT contact_email FROM accounts WHERE id = $1`, accountID).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrAccountUnknown
	}
	if err != nil {
		return "", fmt.Errorf("query account email: %w", err)
	}
	return addr, nil
}
