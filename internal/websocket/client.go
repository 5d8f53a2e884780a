package websocket

import (
	"context"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Client is one websocket connection of an account. Every message carries
// the full entitlement state, so a client only ever holds the newest one:
// a connection that falls behind skips straight to the current flags.
type Client struct {
	hub       *Hub
	conn      *ws.Conn
	accountID string

	mu      sync.Mutex
	pending []byte
	closed  bool
	wake    chan struct{}
}

func NewClient(hub *Hub, conn *ws.Conn, accountID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		accountID: accountID,
		wake:      make(chan struct{}, 1),
	}
}

// offer replaces the pending message. It never blocks.
func (c *Client) offer(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = data
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take returns and clears the pending message, or nil.
func (c *Client) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.pending
	c.pending = nil
	return data
}

// detach drops the pending message and stops further offers.
func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
}

// Run registers the client and writes state changes until the peer goes
// away or ctx ends. initial, when non-nil, is the first state sent.
func (c *Client) Run(ctx context.Context, initial []byte) {
	if initial != nil {
		c.offer(initial)
	}
	c.hub.Register(c)
	defer c.hub.Unregister(c)
	defer c.conn.Close(ws.StatusNormalClosure, "")

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer closes.
	ctx = c.conn.CloseRead(ctx)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.wake:
			if data := c.take(); data != nil {
				if err := c.write(ctx, data); err != nil {
					return
				}
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, data)
}
