package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pestlist/internal/session"
)

// Authenticator verifies the caller's token and resolves their profile
// before the wrapped handler runs.
type Authenticator struct {
	verifier  *Verifier
	bootstrap *session.Bootstrap
	logger    *slog.Logger
}

func NewAuthenticator(v *Verifier, b *session.Bootstrap, logger *slog.Logger) *Authenticator {
	return &Authenticator{verifier: v, bootstrap: b, logger: logger}
}

// RequireAuth reads the bearer token from the Authorization header.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return a.require(next, func(r *http.Request) (string, error) {
		return BearerToken(r.Header.Get("Authorization"))
	})
}

// RequireAuthQuery reads the token from the access_token query parameter,
// for clients that cannot set headers such as browser websockets.
func (a *Authenticator) RequireAuthQuery(next http.Handler) http.Handler {
	return a.require(next, func(r *http.Request) (string, error) {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, nil
		}
		return BearerToken(r.Header.Get("Authorization"))
	})
}

func (a *Authenticator) require(next http.Handler, token func(*http.Request) (string, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := token(r)
		if err != nil {
			writeAuthError(w, "authentication required")
			return
		}
		claims, err := a.verifier.Verify(raw)
		if err != nil {
			a.logger.Debug("token rejected", "error", err)
			writeAuthError(w, "invalid token")
			return
		}

		id := claims.Identity()
		res := a.bootstrap.Resolve(r.Context(), id)
		ctx := WithAuth(r.Context(), AuthContext{
			AccountID: id.ID,
			Email:     id.Email,
			Role:      res.Role,
			Profile:   res.Profile,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
