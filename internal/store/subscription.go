package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/pestlist/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var plan, status string
	var periodStart, periodEnd, canceledAt sql.NullTime
	var cancelAtPeriodEnd int
	err := scanner.Scan(
		&sub.ID, &sub.ProfileID, &sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&plan, &status, &periodStart, &periodEnd, &cancelAtPeriodEnd, &canceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.PlanKey = model.PlanKey(plan)
	sub.Status = model.SubscriptionStatus(status)
	sub.CurrentPeriodStart = nullTime(periodStart)
	sub.CurrentPeriodEnd = nullTime(periodEnd)
	sub.CanceledAt = nullTime(canceledAt)
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
	return &sub, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

const subscriptionCols = `id, profile_id, stripe_customer_id, stripe_subscription_id, plan_key, status, current_period_start, current_period_end, cancel_at_period_end, canceled_at, created_at, updated_at`

// Upsert writes the subscription keyed by its provider subscription id. The
// first write for an id inserts a row, every later write overwrites it.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	var cancel int
	if sub.CancelAtPeriodEnd {
		cancel = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, profile_id, stripe_customer_id, stripe_subscription_id, plan_key, status,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			profile_id = excluded.profile_id,
			stripe_customer_id = excluded.stripe_customer_id,
			plan_key = excluded.plan_key,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			canceled_at = excluded.canceled_at,
			updated_at = CURRENT_TIMESTAMP`,
		uuid.NewString(), sub.ProfileID, sub.StripeCustomerID, sub.StripeSubscriptionID,
		string(sub.PlanKey), string(sub.Status),
		timeArg(sub.CurrentPeriodStart), timeArg(sub.CurrentPeriodEnd), cancel, timeArg(sub.CanceledAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return s.GetByStripeID(ctx, sub.StripeSubscriptionID)
}

func (s *SubscriptionStore) GetByStripeID(ctx context.Context, stripeSubID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`,
		stripeSubID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// GetByCustomerID returns the most recently updated subscription for a
// provider customer.
func (s *SubscriptionStore) GetByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_customer_id = ? ORDER BY updated_at DESC, created_at DESC, rowid DESC LIMIT 1`,
		customerID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by customer: %w", err)
	}
	return sub, nil
}

// GetLatestByProfileID returns the most recently updated subscription of a
// profile regardless of status.
func (s *SubscriptionStore) GetLatestByProfileID(ctx context.Context, profileID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE profile_id = ? ORDER BY updated_at DESC, created_at DESC, rowid DESC LIMIT 1`,
		profileID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest subscription: %w", err)
	}
	return sub, nil
}

// GetEffectiveByProfileID returns the active or trialing subscription of a
// profile, preferring the one whose period ends last. Returns nil when the
// profile has no effective subscription.
func (s *SubscriptionStore) GetEffectiveByProfileID(ctx context.Context, profileID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		WHERE profile_id = ? AND status IN ('active', 'trialing')
		ORDER BY current_period_end DESC, updated_at DESC, rowid DESC LIMIT 1`,
		profileID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get effective subscription: %w", err)
	}
	return sub, nil
}

// MarkCanceled sets the status of the matching row to canceled. Returns the
// updated row, or nil when no row has that provider id.
func (s *SubscriptionStore) MarkCanceled(ctx context.Context, stripeSubID string, canceledAt time.Time) (*model.Subscription, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'canceled', canceled_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE stripe_subscription_id = ?`,
		canceledAt.UTC(), stripeSubID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark subscription canceled: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetByStripeID(ctx, stripeSubID)
}
