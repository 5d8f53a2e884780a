package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pestlist/internal/auth"
	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/reconcile"
	"github.com/dukerupert/pestlist/internal/store"
	"github.com/dukerupert/pestlist/internal/stripe"
)

// Not-found messages for manual resync, one per failed lookup.
const (
	msgNoCustomer     = "No billing customer found for this account. Complete a checkout first."
	msgNoSubscription = "No subscription found. If you just subscribed, wait a moment for processing and try again."
	msgNotFound       = "Account profile not found."
)

// Checkout is the write side of the billing provider.
type Checkout interface {
	FindCustomersByEmail(ctx context.Context, email string) ([]*model.ProviderCustomer, error)
	CreateCustomer(ctx context.Context, email, profileID string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, profileID string) (id, url string, err error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// Billing is the reconciler surface the handlers need.
type Billing interface {
	ManualResync(ctx context.Context, profileID string) (*reconcile.Result, error)
	Snapshot(ctx context.Context, profileID string) (*reconcile.Result, error)
	CustomerID(ctx context.Context, profileID string) (string, error)
}

type BillingHandler struct {
	checkout  Checkout
	billing   Billing
	profiles  *store.ProfileStore
	prices    stripe.Prices
	returnURL string
	logger    *slog.Logger
}

func NewBillingHandler(c Checkout, b Billing, ps *store.ProfileStore, prices stripe.Prices, returnURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		checkout:  c,
		billing:   b,
		profiles:  ps,
		prices:    prices,
		returnURL: returnURL,
		logger:    logger,
	}
}

// profile returns the caller's profile row, or nil when the account has none.
func (h *BillingHandler) profile(r *http.Request) (*model.Profile, error) {
	ac, _ := auth.FromContext(r.Context())
	if ac.Profile != nil {
		return ac.Profile, nil
	}
	return h.profiles.GetByID(r.Context(), ac.AccountID)
}

// CreateCheckoutSession starts a subscription checkout for the requested plan.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if auth.AccountID(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		PlanKey string `json:"planKey"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	plan, err := model.ParsePlanKey(req.PlanKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan key")
		return
	}
	priceID, err := h.prices.PriceForPlan(plan)
	if err != nil {
		h.logger.Error("checkout for unconfigured plan; set its STRIPE_PRICE_* variable", "plan", plan)
		writeError(w, http.StatusBadRequest, "plan is not available")
		return
	}

	profile, err := h.profile(r)
	if err != nil {
		h.logger.Error("checkout: load profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	customerID, err := h.ensureCustomer(r.Context(), profile)
	if err != nil {
		h.logger.Error("checkout: customer", "profile_id", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create customer")
		return
	}

	sessionID, url, err := h.checkout.CreateCheckoutSession(r.Context(), customerID, priceID, profile.ID)
	if err != nil {
		h.logger.Error("checkout: create session", "profile_id", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	h.logger.Info("checkout session created", "profile_id", profile.ID, "plan", plan, "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "url": url})
}

// ensureCustomer returns the provider customer of profile, creating one
// stamped with the profile id when none exists yet.
func (h *BillingHandler) ensureCustomer(ctx context.Context, profile *model.Profile) (string, error) {
	id, err := h.billing.CustomerID(ctx, profile.ID)
	if err != nil || id != "" {
		return id, err
	}
	if profile.Email != "" {
		customers, err := h.checkout.FindCustomersByEmail(ctx, profile.Email)
		if err != nil {
			return "", err
		}
		for _, c := range customers {
			if c.Metadata[model.MetadataProfileID] == profile.ID {
				return c.ID, nil
			}
		}
	}
	return h.checkout.CreateCustomer(ctx, profile.Email, profile.ID)
}

// Sync pulls the caller's latest subscription from the provider.
func (h *BillingHandler) Sync(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.billing.ManualResync(r.Context(), accountID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, reconcile.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, msgNoCustomer)
	case errors.Is(err, reconcile.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, msgNoSubscription)
	case errors.Is(err, reconcile.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	default:
		h.logger.Error("manual resync failed", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sync subscription")
	}
}

// Portal opens a provider billing portal session for the stored customer.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	customerID, err := h.billing.CustomerID(r.Context(), accountID)
	if err != nil {
		h.logger.Error("portal: load customer", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load billing account")
		return
	}
	if customerID == "" {
		writeError(w, http.StatusNotFound, msgNoCustomer)
		return
	}

	url, err := h.checkout.CreateBillingPortalSession(r.Context(), customerID, h.returnURL)
	if err != nil {
		h.logger.Error("portal: create session", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Subscription returns the stored subscription and entitlements.
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.billing.Snapshot(r.Context(), accountID)
	if err != nil {
		h.logger.Error("load subscription", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
