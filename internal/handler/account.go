package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/pestlist/internal/access"
	"github.com/dukerupert/pestlist/internal/auth"
	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/store"
)

// EntitlementReader returns the stored flags of an account.
type EntitlementReader interface {
	Flags(ctx context.Context, profileID string) (model.Entitlements, error)
}

// AccountHandler serves the caller's session, feature checks and admin
// profile changes.
type AccountHandler struct {
	profiles     *store.ProfileStore
	entitlements EntitlementReader
	logger       *slog.Logger
}

func NewAccountHandler(ps *store.ProfileStore, er EntitlementReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{profiles: ps, entitlements: er, logger: logger}
}

// Me returns the resolved session of the caller.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.AccountID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flags, err := h.entitlements.Flags(r.Context(), ac.AccountID)
	if err != nil {
		// Entitlements are advisory here; the session itself resolved.
		h.logger.Warn("me: load entitlements", "account_id", ac.AccountID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":    ac.AccountID,
		"email":        ac.Email,
		"role":         ac.Role,
		"profile":      ac.Profile,
		"entitlements": flags,
	})
}

// Feature evaluates the feature gate for the caller. Query parameters
// redirectTo, fallback=1 and upgradePrompt=0 configure the denied outcome.
func (h *AccountHandler) Feature(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flag, err := model.ParseFlag(r.PathValue("feature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	opts := access.DefaultFeatureOptions
	opts.RedirectTo = q.Get("redirectTo")
	opts.HasFallback, _ = strconv.ParseBool(q.Get("fallback"))
	if v := q.Get("upgradePrompt"); v != "" {
		opts.ShowUpgradePrompt, _ = strconv.ParseBool(v)
	}

	flags, err := h.entitlements.Flags(r.Context(), accountID)
	if err != nil {
		// A failed read denies; it never grants.
		h.logger.Warn("feature: load entitlements", "account_id", accountID, "error", err)
		flags = model.Entitlements{}
	}
	writeJSON(w, http.StatusOK, access.Feature(flag, flags, opts))
}

// SetRole changes a profile's role. Routed behind the admin role gate.
func (h *AccountHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil || role == model.RoleNone {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	ok, err := h.profiles.UpdateRole(r.Context(), id, role)
	if err != nil {
		h.logger.Error("set role", "profile_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	profile, err := h.profiles.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	h.logger.Info("role changed", "profile_id", id, "role", role, "by", auth.AccountID(r.Context()))
	writeJSON(w, http.StatusOK, profile)
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
