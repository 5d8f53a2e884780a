package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pestlist/internal/model"
)

// WebhookEventStore is the idempotency ledger for billing events.
type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

const webhookEventCols = `id, stripe_event_id, event_type, subscription_id, success, error_message, created_at`

// Processed reports whether the event was already handled successfully.
func (s *WebhookEventStore) Processed(ctx context.Context, eventID string) (bool, error) {
	var success int
	err := s.db.QueryRowContext(ctx,
		`SELECT success FROM webhook_events WHERE stripe_event_id = ?`, eventID,
	).Scan(&success)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return success != 0, nil
}

// Record appends the outcome of an event. A redelivered event that failed
// before overwrites its earlier row, so there is one row per event id.
func (s *WebhookEventStore) Record(ctx context.Context, eventID, eventType, subscriptionID string, procErr error) error {
	var subID, errMsg *string
	if subscriptionID != "" {
		subID = &subscriptionID
	}
	if procErr != nil {
		msg := procErr.Error()
		errMsg = &msg
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (stripe_event_id, event_type, subscription_id, success, error_message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (stripe_event_id) DO UPDATE SET
			event_type = excluded.event_type,
			subscription_id = excluded.subscription_id,
			success = excluded.success,
			error_message = excluded.error_message`,
		eventID, eventType, subID, boolInt(procErr == nil), errMsg,
	)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (s *WebhookEventStore) Get(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	var ev model.WebhookEvent
	var subID, errMsg sql.NullString
	var success int
	err := s.db.QueryRowContext(ctx,
		`SELECT `+webhookEventCols+` FROM webhook_events WHERE stripe_event_id = ?`, eventID,
	).Scan(&ev.ID, &ev.StripeEventID, &ev.EventType, &subID, &success, &errMsg, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	if subID.Valid {
		ev.SubscriptionID = &subID.String
	}
	if errMsg.Valid {
		ev.ErrorMessage = &errMsg.String
	}
	ev.Success = success != 0
	return &ev, nil
}

// Count returns the number of ledger rows for an event id.
func (s *WebhookEventStore) Count(ctx context.Context, eventID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE stripe_event_id = ?`, eventID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count webhook events: %w", err)
	}
	return n, nil
}
