package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/pestlist/internal/auth"
	"github.com/dukerupert/pestlist/internal/model"
)

// SnapshotFunc returns the current flags of an account.
type SnapshotFunc func(ctx context.Context, accountID string) (model.Entitlements, error)

// HandleWebSocket upgrades an authenticated request and streams entitlement
// changes for the caller. The current flags are sent first when snapshot is
// set.
func HandleWebSocket(hub *Hub, originPatterns []string, snapshot SnapshotFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := auth.AccountID(r.Context())
		if accountID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "account_id", accountID, "error", err)
			return
		}

		var initial []byte
		if snapshot != nil {
			flags, err := snapshot(r.Context(), accountID)
			if err != nil {
				logger.Warn("websocket snapshot", "account_id", accountID, "error", err)
			} else {
				initial, _ = json.Marshal(Message{Type: TypeEntitlementsUpdated, Entitlements: flags, At: time.Now().UTC()})
			}
		}

		NewClient(hub, conn, accountID).Run(r.Context(), initial)
	}
}
