package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/stripe"
)

func newBillingHandler(e *env, prices stripe.Prices) *BillingHandler {
	return NewBillingHandler(e.provider, e.reconciler, e.profiles, prices, "https://pestlist.test/account/billing", e.logger)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func checkoutRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/billing/checkout", strings.NewReader(body))
}

func TestCheckoutCreatesCustomerAndSession(t *testing.T) {
	e := setupEnv(t)
	p := e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	h := newBillingHandler(e, testPrices)

	rec := httptest.NewRecorder()
	h.CreateCheckoutSession(rec, withAccount(checkoutRequest(`{"planKey":"premium"}`), "user-1", p))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "cs_cus_new_user-1_price_premium", body["sessionId"])
	assert.Equal(t, "https://checkout.test/cs_cus_new_user-1_price_premium", body["url"])
	require.Contains(t, e.provider.customers, "cus_new_user-1")
	assert.Equal(t, "user-1", e.provider.customers["cus_new_user-1"].Metadata[model.MetadataProfileID])

	// A second checkout reuses the customer found by email.
	rec = httptest.NewRecorder()
	h.CreateCheckoutSession(rec, withAccount(checkoutRequest(`{"planKey":"directory"}`), "user-1", p))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, e.provider.customers, 1)
}

func TestCheckoutUsesStoredCustomer(t *testing.T) {
	e := setupEnv(t)
	p := e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	e.provider.customers["cus_1"] = &model.ProviderCustomer{ID: "cus_1", Metadata: map[string]string{model.MetadataProfileID: "user-1"}}
	e.provider.addSubscription("sub_1", "cus_1", "price_dir", "canceled")
	_, err := e.reconciler.ReconcileFromEvent(context.Background(), "evt_1", "customer.subscription.updated", "sub_1")
	require.NoError(t, err)
	h := newBillingHandler(e, testPrices)

	rec := httptest.NewRecorder()
	h.CreateCheckoutSession(rec, withAccount(checkoutRequest(`{"planKey":"directory_academy"}`), "user-1", p))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cs_cus_1_price_dir_academy", decodeBody(t, rec)["sessionId"])
}

func TestCheckoutErrors(t *testing.T) {
	e := setupEnv(t)
	p := e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	partial := stripe.Prices{Directory: "price_dir"}

	tests := []struct {
		name    string
		prices  stripe.Prices
		req     *http.Request
		want    int
		message string
	}{
		{"unauthenticated", testPrices, checkoutRequest(`{"planKey":"premium"}`), http.StatusUnauthorized, "unauthorized"},
		{"bad json", testPrices, withAccount(checkoutRequest(`{`), "user-1", p), http.StatusBadRequest, "invalid request"},
		{"unknown plan", testPrices, withAccount(checkoutRequest(`{"planKey":"gold"}`), "user-1", p), http.StatusBadRequest, "invalid plan key"},
		{"empty plan", testPrices, withAccount(checkoutRequest(`{}`), "user-1", p), http.StatusBadRequest, "invalid plan key"},
		{"unconfigured plan", partial, withAccount(checkoutRequest(`{"planKey":"premium"}`), "user-1", p), http.StatusBadRequest, "plan is not available"},
		{"no profile", testPrices, withAccount(checkoutRequest(`{"planKey":"premium"}`), "ghost", nil), http.StatusNotFound, "profile not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newBillingHandler(e, tt.prices).CreateCheckoutSession(rec, tt.req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestCheckoutProviderFailure(t *testing.T) {
	e := setupEnv(t)
	p := e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	e.provider.failWrites = true

	rec := httptest.NewRecorder()
	newBillingHandler(e, testPrices).CreateCheckoutSession(rec, withAccount(checkoutRequest(`{"planKey":"premium"}`), "user-1", p))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func syncRequest(accountID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/billing/sync", nil)
	if accountID == "" {
		return req
	}
	return withAccount(req, accountID, nil)
}

func TestSyncSuccess(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	e.provider.customers["cus_1"] = &model.ProviderCustomer{ID: "cus_1", Email: "alice@example.com"}
	e.provider.addSubscription("sub_1", "cus_1", "price_dir", "trialing")

	rec := httptest.NewRecorder()
	newBillingHandler(e, testPrices).Sync(rec, syncRequest("user-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Subscription model.Subscription `json:"subscription"`
		Entitlements model.Entitlements `json:"entitlements"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.StatusTrialing, body.Subscription.Status)
	assert.Equal(t, model.Entitlements{DirectoryAccess: true}, body.Entitlements)
}

func TestSyncNotFoundMessages(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "no-customer", "nobody@example.com", model.RoleConsumer)
	e.addProfile(t, "no-sub", "bob@example.com", model.RoleConsumer)
	e.provider.customers["cus_bob"] = &model.ProviderCustomer{ID: "cus_bob", Email: "bob@example.com"}
	h := newBillingHandler(e, testPrices)

	tests := []struct {
		account string
		want    string
	}{
		{"no-customer", msgNoCustomer},
		{"no-sub", msgNoSubscription},
		{"ghost", msgNotFound},
	}
	seen := map[string]bool{}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.Sync(rec, syncRequest(tt.account))
		assert.Equal(t, http.StatusNotFound, rec.Code, tt.account)
		msg := decodeBody(t, rec)["error"]
		assert.Equal(t, tt.want, msg, tt.account)
		seen[tt.want] = true
	}
	assert.Len(t, seen, 3, "each lookup failure has its own message")
}

func TestSyncUnauthenticated(t *testing.T) {
	e := setupEnv(t)
	rec := httptest.NewRecorder()
	newBillingHandler(e, testPrices).Sync(rec, syncRequest(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncUnexpectedError(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	e.provider.customers["cus_1"] = &model.ProviderCustomer{ID: "cus_1", Email: "alice@example.com"}
	e.provider.addSubscription("sub_1", "cus_1", "price_legacy", "active")

	rec := httptest.NewRecorder()
	newBillingHandler(e, testPrices).Sync(rec, syncRequest("user-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPortal(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	h := newBillingHandler(e, testPrices)

	rec := httptest.NewRecorder()
	h.Portal(rec, withAccount(httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil), "user-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.provider.customers["cus_1"] = &model.ProviderCustomer{ID: "cus_1", Metadata: map[string]string{model.MetadataProfileID: "user-1"}}
	e.provider.addSubscription("sub_1", "cus_1", "price_dir", "active")
	_, err := e.reconciler.ReconcileFromEvent(context.Background(), "evt_1", "customer.subscription.created", "sub_1")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.Portal(rec, withAccount(httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil), "user-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://portal.test/cus_1", decodeBody(t, rec)["url"])
}

func TestSubscriptionSnapshot(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	h := newBillingHandler(e, testPrices)

	rec := httptest.NewRecorder()
	h.Subscription(rec, withAccount(httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil), "user-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subscription":null,"entitlements":{"directoryAccess":false,"academyAccess":false,"premiumDiscounts":false,"basicSiteIncluded":false}}`,
		strings.TrimSpace(rec.Body.String()))

	rec = httptest.NewRecorder()
	h.Subscription(rec, httptest.NewRequest(http.MethodGet, "/api/billing/subscription", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
