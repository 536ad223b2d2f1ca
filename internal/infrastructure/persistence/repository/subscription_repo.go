package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// SubscriptionRepository implements port.SubscriptionRepository
type SubscriptionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *sql.DB, logger *zap.Logger) port.SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

const subscriptionColumns = `owner_id, channel, endpoint, p256dh, auth, role, created_at, updated_at`

// Upsert inserts the subscription or replaces the endpoint of the existing
// (owner, channel) row, keeping its created_at
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *entity.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, channel) DO UPDATE SET
			endpoint = excluded.endpoint,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			role = excluded.role,
			updated_at = excluded.updated_at
	`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		sub.OwnerID,
		sub.Channel,
		sub.Endpoint,
		sub.P256dh,
		sub.Auth,
		sub.Role,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert subscription",
			zap.String("owner_id", sub.OwnerID),
			zap.String("channel", sub.Channel),
			zap.Error(err))
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return nil
}

// Remove deletes the subscription if it exists
func (r *SubscriptionRepository) Remove(ctx context.Context, ownerID, channel string) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM subscriptions WHERE owner_id = ? AND channel = ?`,
		ownerID, channel,
	)
	if err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	return nil
}

// RemoveEndpoint deletes the subscription only while it still points at
// endpoint, and reports whether a row was deleted
func (r *SubscriptionRepository) RemoveEndpoint(ctx context.Context, ownerID, channel, endpoint string) (bool, error) {
	res, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM subscriptions WHERE owner_id = ? AND channel = ? AND endpoint = ?`,
		ownerID, channel, endpoint,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove subscription: %w", err)
	}
	return n > 0, nil
}

// Get returns nil, nil when there is no subscription for (owner, channel)
func (r *SubscriptionRepository) Get(ctx context.Context, ownerID, channel string) (*entity.Subscription, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_id = ? AND channel = ?`,
		ownerID, channel,
	)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListByOwner returns every subscription of one user
func (r *SubscriptionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_id = ? ORDER BY channel`,
		ownerID,
	)
}

// ListByRole returns subscriptions registered under the role plus those of
// users the directory lists with the role
func (r *SubscriptionRepository) ListByRole(ctx context.Context, role string) ([]*entity.Subscription, error) {
	return r.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE role = ?
			OR owner_id IN (SELECT user_id FROM user_roles WHERE role = ?)
		ORDER BY owner_id, channel`,
		role, role,
	)
}

func (r *SubscriptionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Subscription, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*entity.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*entity.Subscription, error) {
	var sub entity.Subscription
	err := row.Scan(
		&sub.OwnerID,
		&sub.Channel,
		&sub.Endpoint,
		&sub.P256dh,
		&sub.Auth,
		&sub.Role,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Verify interface compliance
var _ port.SubscriptionRepository = (*SubscriptionRepository)(nil)
