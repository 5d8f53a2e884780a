package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/dukerupert/pestlist/internal/model"
)

const postmarkURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      postmarkURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// PaymentFailed tells the profile owner that a renewal charge failed and
// their paid features are paused until billing is fixed.
func (c *Client) PaymentFailed(ctx context.Context, p *model.Profile) error {
	if p.Email == "" {
		return fmt.Errorf("profile %s has no email", p.ID)
	}
	name := "there"
	if p.DisplayName != nil && *p.DisplayName != "" {
		name = *p.DisplayName
	}
	return c.SendPaymentFailed(ctx, p.Email, name)
}

// SendPaymentFailed sends the payment-failed notice to toEmail.
func (c *Client) SendPaymentFailed(ctx context.Context, toEmail, name string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	link := c.baseURL + "/account/billing"
	textBody := fmt.Sprintf(
		"Hi %s,\n\nWe couldn't process your latest subscription payment, so your paid features are paused.\n\nUpdate your payment method here:\n\n%s\n\nAccess returns as soon as the payment goes through.",
		name, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>Hi %s,</p><p>We couldn't process your latest subscription payment, so your paid features are paused.</p><p><a href="%s">Update your payment method</a></p><p>Access returns as soon as the payment goes through.</p>`,
		html.EscapeString(name), html.EscapeString(link),
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Your subscription payment failed",
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "payment-failed",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
