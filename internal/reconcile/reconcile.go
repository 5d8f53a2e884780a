// Package reconcile mirrors billing-provider subscription state into the local
// subscription and entitlement stores.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pestlist/internal/entitlement"
	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/store"
)

var (
	ErrAlreadyProcessed     = errors.New("event already processed")
	ErrUnknownPriceID       = model.ErrUnknownPriceID
	ErrUnknownStatus        = model.ErrUnknownStatus
	ErrProfileNotFound      = errors.New("profile not found")
	ErrCustomerNotFound     = errors.New("no billing customer found")
	ErrSubscriptionNotFound = errors.New("no subscription found")
)

// Billing event types the reconciler acts on.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Handles reports whether eventType is one the reconciler processes.
func Handles(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionDeleted, EventInvoicePaid, EventInvoicePaymentFailed:
		return true
	}
	return false
}

// Provider is the read side of the billing provider.
type Provider interface {
	GetSubscription(ctx context.Context, id string) (*model.ProviderSubscription, error)
	LatestSubscription(ctx context.Context, customerID string) (*model.ProviderSubscription, error)
	GetCustomer(ctx context.Context, id string) (*model.ProviderCustomer, error)
	FindCustomersByEmail(ctx context.Context, email string) ([]*model.ProviderCustomer, error)
}

// PlanResolver maps a provider price id to a plan key.
type PlanResolver interface {
	PlanForPrice(priceID string) (model.PlanKey, error)
}

// Publisher is told about every entitlement write.
type Publisher interface {
	EntitlementsChanged(profileID string, flags model.Entitlements)
}

// Notifier is told when a renewal payment fails.
type Notifier interface {
	PaymentFailed(ctx context.Context, profile *model.Profile) error
}

// Event is an inbound billing event reduced to what reconciliation needs.
type Event struct {
	ID             string
	Type           string
	SubscriptionID string
}

// Result is the local state after a reconciliation.
type Result struct {
	Subscription *model.Subscription `json:"subscription"`
	Entitlements model.Entitlements  `json:"entitlements"`
}

type Reconciler struct {
	provider  Provider
	plans     PlanResolver
	profiles  *store.ProfileStore
	subs      *store.SubscriptionStore
	ents      *store.EntitlementStore
	events    *store.WebhookEventStore
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Reconciler)

func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(
	provider Provider,
	plans PlanResolver,
	profiles *store.ProfileStore,
	subs *store.SubscriptionStore,
	ents *store.EntitlementStore,
	events *store.WebhookEventStore,
	logger *slog.Logger,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		provider: provider,
		plans:    plans,
		profiles: profiles,
		subs:     subs,
		ents:     ents,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileFromEvent processes one billing event that references a
// subscription. See ProcessEvent.
func (r *Reconciler) ReconcileFromEvent(ctx context.Context, eventID, eventType, subscriptionRef string) (*Result, error) {
	return r.ProcessEvent(ctx, Event{ID: eventID, Type: eventType, SubscriptionID: subscriptionRef})
}

// ProcessEvent applies a billing event at most once. An event id that was
// already processed successfully returns ErrAlreadyProcessed without touching
// any store. Every other outcome, success or failure, is written to the
// ledger; a failed event is processed again when the provider redelivers it.
func (r *Reconciler) ProcessEvent(ctx context.Context, ev Event) (res *Result, err error) {
	done, err := r.events.Processed(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("check ledger: %w", err)
	}
	if done {
		r.logger.Info("event already processed", "event_id", ev.ID, "type", ev.Type)
		return nil, ErrAlreadyProcessed
	}

	// The ledger row is written even when the caller has gone away.
	defer func() {
		if recErr := r.events.Record(context.WithoutCancel(ctx), ev.ID, ev.Type, ev.SubscriptionID, err); recErr != nil {
			r.logger.Error("ledger write failed", "event_id", ev.ID, "error", recErr)
			if err == nil {
				err = recErr
			}
		}
	}()

	if !Handles(ev.Type) {
		r.logger.Info("event type not handled; acknowledged", "event_id", ev.ID, "type", ev.Type)
		return nil, nil
	}
	if ev.SubscriptionID == "" {
		r.logger.Info("event carries no subscription", "event_id", ev.ID, "type", ev.Type)
		return nil, nil
	}

	if ev.Type == EventSubscriptionDeleted {
		return r.ReconcileDeletion(ctx, ev.SubscriptionID)
	}

	res, err = r.reconcileSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		r.logger.Error("reconcile failed", "event_id", ev.ID, "type", ev.Type, "subscription_id", ev.SubscriptionID, "error", err)
		return nil, err
	}
	if ev.Type == EventInvoicePaymentFailed {
		r.notifyPaymentFailed(ctx, res.Subscription.ProfileID)
	}
	r.logger.Info("subscription reconciled",
		"event_id", ev.ID,
		"type", ev.Type,
		"profile_id", res.Subscription.ProfileID,
		"plan", res.Subscription.PlanKey,
		"status", res.Subscription.Status,
	)
	return res, nil
}

// RecordFailure ledgers an event that could not be processed before reaching
// the reconciler, such as an undecodable payload. An event already processed
// successfully is left alone and reported as ErrAlreadyProcessed.
func (r *Reconciler) RecordFailure(ctx context.Context, eventID, eventType string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	done, err := r.events.Processed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("check ledger: %w", err)
	}
	if done {
		return ErrAlreadyProcessed
	}
	r.logger.Error("event rejected", "event_id", eventID, "type", eventType, "error", cause)
	return r.events.Record(ctx, eventID, eventType, "", cause)
}

// ReconcileDeletion marks the subscription canceled and recomputes the
// owner's entitlements. An unknown subscription is a no-op.
func (r *Reconciler) ReconcileDeletion(ctx context.Context, subscriptionRef string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	sub, err := r.subs.MarkCanceled(ctx, subscriptionRef, r.now())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		r.logger.Warn("deleted subscription not found locally", "subscription_id", subscriptionRef)
		return nil, nil
	}

	flags, err := r.refreshEntitlements(ctx, sub.ProfileID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("subscription canceled", "profile_id", sub.ProfileID, "subscription_id", subscriptionRef)
	return &Result{Subscription: sub, Entitlements: flags}, nil
}

// ManualResync pulls the account's most recent subscription from the
// provider and applies it, bypassing the ledger.
func (r *Reconciler) ManualResync(ctx context.Context, profileID string) (*Result, error) {
	profile, err := r.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}

	customerID, err := r.customerFor(ctx, profile)
	if err != nil {
		return nil, err
	}

	remote, err := r.provider.LatestSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("%w for customer %s", ErrSubscriptionNotFound, customerID)
	}

	res, err := r.apply(ctx, remote, profile.ID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("manual resync",
		"profile_id", profile.ID,
		"customer_id", customerID,
		"plan", res.Subscription.PlanKey,
		"status", res.Subscription.Status,
	)
	return res, nil
}

// customerFor returns the stored customer of a profile, falling back to a
// provider lookup by email.
func (r *Reconciler) customerFor(ctx context.Context, profile *model.Profile) (string, error) {
	latest, err := r.subs.GetLatestByProfileID(ctx, profile.ID)
	if err != nil {
		return "", err
	}
	if latest != nil && latest.StripeCustomerID != "" {
		return latest.StripeCustomerID, nil
	}

	if profile.Email == "" {
		return "", fmt.Errorf("%w: profile %s has no email", ErrCustomerNotFound, profile.ID)
	}
	customers, err := r.provider.FindCustomersByEmail(ctx, profile.Email)
	if err != nil {
		return "", err
	}
	// A customer already mirrored under another profile belongs to that profile.
	var candidates []*model.ProviderCustomer
	for _, c := range customers {
		existing, err := r.subs.GetByCustomerID(ctx, c.ID)
		if err != nil {
			return "", err
		}
		if existing != nil && existing.ProfileID != profile.ID {
			continue
		}
		candidates = append(candidates, c)
	}
	cust := pickCustomer(candidates, profile.ID)
	if cust == nil {
		return "", fmt.Errorf("%w for %s", ErrCustomerNotFound, profile.Email)
	}
	return cust.ID, nil
}

// pickCustomer prefers the customer whose metadata names the profile, then
// the most recently created one without an owner. Customers linked to another
// profile are never picked.
func pickCustomer(customers []*model.ProviderCustomer, profileID string) *model.ProviderCustomer {
	var newest *model.ProviderCustomer
	for _, c := range customers {
		switch owner := c.Metadata[model.MetadataProfileID]; owner {
		case profileID:
			return c
		case "":
		default:
			continue
		}
		if newest == nil || c.Created.After(newest.Created) {
			newest = c
		}
	}
	return newest
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, subscriptionRef string) (*Result, error) {
	remote, err := r.provider.GetSubscription(ctx, subscriptionRef)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionRef)
	}
	return r.apply(ctx, remote, "")
}

// apply writes the provider's subscription state and the derived
// entitlements. profileID may be empty, in which case the owner is resolved
// from the customer.
func (r *Reconciler) apply(ctx context.Context, remote *model.ProviderSubscription, profileID string) (*Result, error) {
	plan, err := r.plans.PlanForPrice(remote.PriceID)
	if err != nil {
		r.logger.Error("unmapped price id; configure the plan price ids",
			"subscription_id", remote.ID, "price_id", remote.PriceID)
		return nil, err
	}
	status, err := model.ParseProviderStatus(remote.Status)
	if err != nil {
		return nil, err
	}

	if profileID == "" {
		profileID, err = r.resolveProfile(ctx, remote)
		if err != nil {
			return nil, err
		}
	}

	// Provider reads above honour cancellation; the writes below run to
	// completion so the two stores are not left half updated.
	wctx := context.WithoutCancel(ctx)
	previous, err := r.subs.GetByStripeID(wctx, remote.ID)
	if err != nil {
		return nil, err
	}

	sub, err := r.subs.Upsert(wctx, &model.Subscription{
		ProfileID:            profileID,
		StripeCustomerID:     remote.CustomerID,
		StripeSubscriptionID: remote.ID,
		PlanKey:              plan,
		Status:               status,
		CurrentPeriodStart:   remote.CurrentPeriodStart,
		CurrentPeriodEnd:     remote.CurrentPeriodEnd,
		CancelAtPeriodEnd:    remote.CancelAtPeriodEnd,
		CanceledAt:           remote.CanceledAt,
	})
	if err != nil {
		return nil, err
	}

	if previous != nil && previous.ProfileID != profileID {
		r.logger.Warn("subscription changed owner",
			"subscription_id", remote.ID, "from", previous.ProfileID, "to", profileID)
		if _, err := r.refreshEntitlements(wctx, previous.ProfileID); err != nil {
			return nil, err
		}
	}

	flags, err := r.refreshEntitlements(wctx, profileID)
	if err != nil {
		return nil, err
	}
	return &Result{Subscription: sub, Entitlements: flags}, nil
}

// resolveProfile finds the owner of a provider subscription: first through an
// existing local row for the same customer, then through provider metadata.
func (r *Reconciler) resolveProfile(ctx context.Context, remote *model.ProviderSubscription) (string, error) {
	var candidate string
	if remote.CustomerID != "" {
		existing, err := r.subs.GetByCustomerID(ctx, remote.CustomerID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			candidate = existing.ProfileID
		}
	}
	if candidate == "" && remote.CustomerID != "" {
		cust, err := r.provider.GetCustomer(ctx, remote.CustomerID)
		if err != nil {
			return "", err
		}
		if cust != nil {
			candidate = cust.Metadata[model.MetadataProfileID]
		}
	}
	if candidate == "" {
		candidate = remote.Metadata[model.MetadataProfileID]
	}
	if candidate == "" {
		return "", fmt.Errorf("%w for customer %q", ErrProfileNotFound, remote.CustomerID)
	}

	profile, err := r.profiles.GetByID(ctx, candidate)
	if err != nil {
		return "", err
	}
	if profile == nil {
		return "", fmt.Errorf("%w: %s", ErrProfileNotFound, candidate)
	}
	return profile.ID, nil
}

// refreshEntitlements recomputes the flags from the profile's current
// effective subscription and stores them.
func (r *Reconciler) refreshEntitlements(ctx context.Context, profileID string) (model.Entitlements, error) {
	eff, err := r.subs.GetEffectiveByProfileID(ctx, profileID)
	if err != nil {
		return model.Entitlements{}, err
	}
	flags := entitlement.ForSubscription(eff)
	if err := r.ents.Put(ctx, profileID, flags); err != nil {
		return model.Entitlements{}, err
	}
	if r.publisher != nil {
		r.publisher.EntitlementsChanged(profileID, flags)
	}
	return flags, nil
}

func (r *Reconciler) notifyPaymentFailed(ctx context.Context, profileID string) {
	if r.notifier == nil {
		return
	}
	profile, err := r.profiles.GetByID(ctx, profileID)
	if err != nil || profile == nil {
		r.logger.Warn("payment failed notice skipped", "profile_id", profileID, "error", err)
		return
	}
	if err := r.notifier.PaymentFailed(ctx, profile); err != nil {
		r.logger.Warn("payment failed notice", "profile_id", profileID, "error", err)
	}
}

// Snapshot returns the stored subscription and entitlements of a profile.
func (r *Reconciler) Snapshot(ctx context.Context, profileID string) (*Result, error) {
	sub, err := r.subs.GetLatestByProfileID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	flags, err := r.ents.Flags(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return &Result{Subscription: sub, Entitlements: flags}, nil
}

// CustomerID returns the provider customer stored for a profile, or "".
func (r *Reconciler) CustomerID(ctx context.Context, profileID string) (string, error) {
	latest, err := r.subs.GetLatestByProfileID(ctx, profileID)
	if err != nil || latest == nil {
		return "", err
	}
	return latest.StripeCustomerID, nil
}
