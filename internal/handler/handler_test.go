package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pestlist/internal/auth"
	"github.com/dukerupert/pestlist/internal/database"
	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/reconcile"
	"github.com/dukerupert/pestlist/internal/store"
	"github.com/dukerupert/pestlist/internal/stripe"
)

var testPrices = stripe.Prices{
	Directory:        "price_dir",
	DirectoryAcademy: "price_dir_academy",
	Premium:          "price_premium",
}

// fakeProvider stands in for Stripe on both the read and write side.
type fakeProvider struct {
	mu            sync.Mutex
	subscriptions map[string]*model.ProviderSubscription
	customers     map[string]*model.ProviderCustomer
	sessions      []string
	failWrites    bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions: make(map[string]*model.ProviderSubscription),
		customers:     make(map[string]*model.ProviderCustomer),
	}
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*model.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[id], nil
}

func (f *fakeProvider) LatestSubscription(ctx context.Context, customerID string) (*model.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.ProviderSubscription
	for _, s := range f.subscriptions {
		if s.CustomerID == customerID && (latest == nil || s.Created.After(latest.Created)) {
			latest = s
		}
	}
	return latest, nil
}

func (f *fakeProvider) GetCustomer(ctx context.Context, id string) (*model.ProviderCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customers[id], nil
}

func (f *fakeProvider) FindCustomersByEmail(ctx context.Context, email string) ([]*model.ProviderCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ProviderCustomer
	for _, c := range f.customers {
		if c.Email == email {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, email, profileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return "", errors.New("provider down")
	}
	id := "cus_new_" + profileID
	f.customers[id] = &model.ProviderCustomer{
		ID:       id,
		Email:    email,
		Created:  time.Now(),
		Metadata: map[string]string{model.MetadataProfileID: profileID},
	}
	return id, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID, profileID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return "", "", errors.New("provider down")
	}
	id := "cs_" + customerID + "_" + priceID
	f.sessions = append(f.sessions, id)
	return id, "https://checkout.test/" + id, nil
}

func (f *fakeProvider) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://portal.test/" + customerID, nil
}

func (f *fakeProvider) addSubscription(id, customerID, priceID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	end := now.AddDate(0, 1, 0)
	f.subscriptions[id] = &model.ProviderSubscription{
		ID:                 id,
		CustomerID:         customerID,
		PriceID:            priceID,
		Status:             status,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &end,
		Created:            now,
	}
}

type env struct {
	provider   *fakeProvider
	profiles   *store.ProfileStore
	subs       *store.SubscriptionStore
	ents       *store.EntitlementStore
	events     *store.WebhookEventStore
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{
		provider: newFakeProvider(),
		profiles: store.NewProfileStore(db),
		subs:     store.NewSubscriptionStore(db),
		ents:     store.NewEntitlementStore(db),
		events:   store.NewWebhookEventStore(db),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e.reconciler = reconcile.New(e.provider, testPrices, e.profiles, e.subs, e.ents, e.events, e.logger)
	return e
}

func (e *env) addProfile(t *testing.T, id, email string, role model.Role) *model.Profile {
	t.Helper()
	p, err := e.profiles.Create(context.Background(), &model.Profile{ID: id, Email: email, Role: role})
	require.NoError(t, err)
	return p
}

// withAccount authenticates r as the given account.
func withAccount(r *http.Request, accountID string, profile *model.Profile) *http.Request {
	ac := auth.AuthContext{AccountID: accountID, Profile: profile}
	if profile != nil {
		ac.Email = profile.Email
		ac.Role = profile.Role
	}
	return r.WithContext(auth.WithAuth(r.Context(), ac))
}
