package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pestlist/internal/access"
	"github.com/dukerupert/pestlist/internal/model"
)

func featureRequest(t *testing.T, e *env, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/features/{feature}", NewAccountHandler(e.profiles, e.ents, e.logger).Feature)

	req := withAccount(httptest.NewRequest(http.MethodGet, target, nil), "user-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestFeatureDecisions(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	require.NoError(t, e.ents.Put(context.Background(), "user-1", model.Entitlements{DirectoryAccess: true}))

	tests := []struct {
		name   string
		target string
		want   access.Outcome
	}{
		{"granted", "/api/features/directoryAccess?redirectTo=/pricing", access.OutcomeRender},
		{"redirect first", "/api/features/academyAccess?redirectTo=/pricing&fallback=1", access.OutcomeRedirect},
		{"fallback", "/api/features/academyAccess?fallback=1", access.OutcomeFallback},
		{"default prompt", "/api/features/premiumDiscounts", access.OutcomeUpgradePrompt},
		{"nothing", "/api/features/basicSiteIncluded?upgradePrompt=0", access.OutcomeNothing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := featureRequest(t, e, tt.target)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.want), decodeBody(t, rec)["outcome"])
		})
	}
}

func TestFeatureUnknownFlag(t *testing.T) {
	e := setupEnv(t)
	rec := featureRequest(t, e, "/api/features/teleport")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	e := setupEnv(t)
	p := e.addProfile(t, "user-1", "alice@example.com", model.RoleCompany)
	h := NewAccountHandler(e.profiles, e.ents, e.logger)

	rec := httptest.NewRecorder()
	h.Me(rec, withAccount(httptest.NewRequest(http.MethodGet, "/api/me", nil), "user-1", p))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "user-1", body["accountId"])
	assert.Equal(t, "company", body["role"])
	assert.NotNil(t, body["profile"])

	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetRole(t *testing.T) {
	e := setupEnv(t)
	e.addProfile(t, "user-1", "alice@example.com", model.RoleConsumer)
	admin := e.addProfile(t, "admin-1", "root@example.com", model.RoleAdmin)

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/admin/profiles/{id}/role", NewAccountHandler(e.profiles, e.ents, e.logger).SetRole)
	put := func(id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/admin/profiles/"+id+"/role", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, withAccount(req, "admin-1", admin))
		return rec
	}

	rec := put("user-1", `{"role":"company"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p, err := e.profiles.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleCompany, p.Role)

	assert.Equal(t, http.StatusBadRequest, put("user-1", `{"role":"owner"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put("user-1", `{"role":""}`).Code)
	assert.Equal(t, http.StatusNotFound, put("ghost", `{"role":"company"}`).Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
