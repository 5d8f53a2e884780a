package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/pestlist/internal/reconcile"
)

const webhookBodyLimit = 1024 * 1024

// EventProcessor applies one verified billing event and ledgers events it
// never gets to apply.
type EventProcessor interface {
	ReconcileFromEvent(ctx context.Context, eventID, eventType, subscriptionRef string) (*reconcile.Result, error)
	RecordFailure(ctx context.Context, eventID, eventType string, cause error) error
}

type WebhookHandler struct {
	secret    string
	processor EventProcessor
	logger    *slog.Logger
}

func NewWebhookHandler(secret string, p EventProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, processor: p, logger: logger}
}

// HandleStripeWebhook verifies the signature, then reconciles the
// subscription the event refers to.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.secret) == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	eventType := string(event.Type)
	subRef, err := subscriptionRef(&event)
	if err != nil {
		h.logger.Error("webhook decode failed", "event_id", event.ID, "type", eventType, "error", err)
		recErr := h.processor.RecordFailure(r.Context(), event.ID, eventType, err)
		switch {
		case errors.Is(recErr, reconcile.ErrAlreadyProcessed):
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		case recErr != nil:
			writeError(w, http.StatusInternalServerError, recErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	_, err = h.processor.ReconcileFromEvent(r.Context(), event.ID, eventType, subRef)
	switch {
	case err == nil, errors.Is(err, reconcile.ErrAlreadyProcessed):
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// subscriptionRef returns the subscription id an event refers to, or "" for
// an event that carries none, such as a one-off checkout.
func subscriptionRef(event *stripelib.Event) (string, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripelib.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		return sub.ID, nil

	case "invoice.paid", "invoice.payment_failed":
		var inv stripelib.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
			return inv.Parent.SubscriptionDetails.Subscription.ID, nil
		}
		return "", nil

	case "checkout.session.completed":
		var sess stripelib.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return "", fmt.Errorf("decode checkout session: %w", err)
		}
		if sess.Subscription != nil {
			return sess.Subscription.ID, nil
		}
		return "", nil
	}
	return "", nil
}
