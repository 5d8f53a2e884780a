package access

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/pestlist/internal/auth"
	"github.com/dukerupert/pestlist/internal/model"
)

// RequireRole applies the route gate to an API route. A denied request gets
// 401 (no account) or 403 (wrong role) with the redirect target in the body.
func (p Paths) RequireRole(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			d := p.Route(allowed, ok && ac.AccountID != "", ac.Role)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			status := http.StatusForbidden
			msg := "forbidden"
			if d.Redirect == p.SignIn {
				status = http.StatusUnauthorized
				msg = "authentication required"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": msg, "redirectTo": d.Redirect})
		})
	}
}
