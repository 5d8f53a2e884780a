package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/dukerupert/pestlist/internal/model"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	Prices        Prices
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripelib.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// Prices returns the configured plan/price mapping.
func (c *Client) Prices() Prices {
	return c.cfg.Prices
}

// WebhookSecret returns the signing secret for inbound events.
func (c *Client) WebhookSecret() string {
	return c.cfg.WebhookSecret
}

func isMissing(err error) bool {
	var se *stripelib.Error
	return errors.As(err, &se) && se.Code == stripelib.ErrorCodeResourceMissing
}

// GetSubscription fetches the authoritative subscription. Returns nil when
// the provider does not know the id.
func (c *Client) GetSubscription(ctx context.Context, id string) (*model.ProviderSubscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription: %w", err)
	}
	return toProviderSubscription(sub), nil
}

// LatestSubscription returns the customer's most recently created
// subscription in any status, or nil when there is none.
func (c *Client) LatestSubscription(ctx context.Context, customerID string) (*model.ProviderSubscription, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(10)

	var latest *stripelib.Subscription
	it := subscription.List(params)
	for it.Next() {
		s := it.Subscription()
		if latest == nil || s.Created > latest.Created {
			latest = s
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe subscriptions: %w", err)
	}
	if latest == nil {
		return nil, nil
	}
	return toProviderSubscription(latest), nil
}

// GetCustomer fetches a customer. Deleted or unknown customers yield nil.
func (c *Client) GetCustomer(ctx context.Context, id string) (*model.ProviderCustomer, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(id, params)
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stripe customer: %w", err)
	}
	if cust.Deleted {
		return nil, nil
	}
	return toProviderCustomer(cust), nil
}

// FindCustomersByEmail lists the provider customers registered with an email.
func (c *Client) FindCustomersByEmail(ctx context.Context, email string) ([]*model.ProviderCustomer, error) {
	params := &stripelib.CustomerListParams{Email: stripelib.String(email)}
	params.Context = ctx
	params.Limit = stripelib.Int64(10)

	var out []*model.ProviderCustomer
	it := customer.List(params)
	for it.Next() {
		out = append(out, toProviderCustomer(it.Customer()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe customers: %w", err)
	}
	return out, nil
}

// CreateCustomer creates a customer linked to the profile through metadata.
func (c *Client) CreateCustomer(ctx context.Context, email, profileID string) (string, error) {
	params := &stripelib.CustomerParams{
		Email: stripelib.String(email),
	}
	params.Context = ctx
	params.AddMetadata(model.MetadataProfileID, profileID)
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for one price.
func (c *Client) CreateCheckoutSession(ctx context.Context, customerID, priceID, profileID string) (id, url string, err error) {
	params := &stripelib.CheckoutSessionParams{
		Customer: stripelib.String(customerID),
		Mode:     stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		ClientReferenceID: stripelib.String(profileID),
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{model.MetadataProfileID: profileID},
		},
		AllowPromotionCodes: stripelib.Bool(true),
		SuccessURL:          stripelib.String(c.cfg.SuccessURL),
		CancelURL:           stripelib.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(model.MetadataProfileID, profileID)
	sess, err := checksession.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

// CreateBillingPortalSession creates a billing portal session and returns the URL.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func toProviderSubscription(s *stripelib.Subscription) *model.ProviderSubscription {
	ps := &model.ProviderSubscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CanceledAt:        unixTime(s.CanceledAt),
		Created:           time.Unix(s.Created, 0).UTC(),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		ps.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil || item.Price == nil || item.Price.ID == "" {
				continue
			}
			ps.PriceID = item.Price.ID
			ps.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
			ps.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			break
		}
	}
	return ps
}

func toProviderCustomer(c *stripelib.Customer) *model.ProviderCustomer {
	return &model.ProviderCustomer{
		ID:       c.ID,
		Email:    c.Email,
		Created:  time.Unix(c.Created, 0).UTC(),
		Metadata: c.Metadata,
	}
}
