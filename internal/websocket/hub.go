package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pestlist/internal/model"
)

const TypeEntitlementsUpdated = "entitlements_updated"

// Message is pushed to every connection of one account.
type Message struct {
	Type         string             `json:"type"`
	Entitlements model.Entitlements `json:"entitlements"`
	At           time.Time          `json:"at"`
}

// Hub tracks connections per account and pushes entitlement changes to them.
type Hub struct {
	mu       sync.RWMutex
	accounts map[string]map[*Client]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		accounts: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.accounts[c.accountID]
	if !ok {
		set = make(map[*Client]struct{})
		h.accounts[c.accountID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client; later changes are no longer offered to it.
// Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.accounts[c.accountID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	c.detach()
	if len(set) == 0 {
		delete(h.accounts, c.accountID)
	}
}

// SendTo delivers msg to every connection of accountID.
func (h *Hub) SendTo(accountID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.accounts[accountID] {
		c.offer(data)
	}
}

// EntitlementsChanged pushes the new flags to the account's connections.
func (h *Hub) EntitlementsChanged(profileID string, flags model.Entitlements) {
	h.SendTo(profileID, Message{Type: TypeEntitlementsUpdated, Entitlements: flags, At: time.Now().UTC()})
}

// ClientCount returns the number of connections of accountID.
func (h *Hub) ClientCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}
