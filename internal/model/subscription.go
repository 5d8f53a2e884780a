package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownPlan    = errors.New("unknown plan key")
	ErrUnknownStatus  = errors.New("unknown subscription status")
	ErrUnknownPriceID = errors.New("unknown stripe price id")
)

// PlanKey is the product tier a subscription pays for.
type PlanKey string

const (
	PlanDirectory        PlanKey = "directory"
	PlanDirectoryAcademy PlanKey = "directory_academy"
	PlanPremium          PlanKey = "premium"
)

// Plans lists every plan key in display order.
var Plans = []PlanKey{PlanDirectory, PlanDirectoryAcademy, PlanPremium}

func ParsePlanKey(s string) (PlanKey, error) {
	switch p := PlanKey(strings.TrimSpace(s)); p {
	case PlanDirectory, PlanDirectoryAcademy, PlanPremium:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
}

// SubscriptionStatus is the locally mirrored billing status.
type SubscriptionStatus string

const (
	// StatusNone stands for "no subscription at all".
	StatusNone     SubscriptionStatus = ""
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ParseProviderStatus maps a billing-provider status onto the four mirrored
// statuses. Statuses that never grant access collapse onto past_due or canceled.
func ParseProviderStatus(s string) (SubscriptionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "trialing":
		return StatusTrialing, nil
	case "past_due", "unpaid", "incomplete", "paused":
		return StatusPastDue, nil
	case "canceled", "incomplete_expired":
		return StatusCanceled, nil
	default:
		return StatusNone, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Effective reports whether the status grants plan features.
func (s SubscriptionStatus) Effective() bool {
	return s == StatusActive || s == StatusTrialing
}

type Subscription struct {
	ID                   string             `json:"id"`
	ProfileID            string             `json:"profile_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	PlanKey              PlanKey            `json:"plan_key"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CanceledAt           *time.Time         `json:"canceled_at"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// ProviderSubscription is the authoritative subscription state as read from
// the billing provider.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Created            time.Time
	Metadata           map[string]string
}

// ProviderCustomer is a billing-provider customer record.
type ProviderCustomer struct {
	ID       string
	Email    string
	Created  time.Time
	Metadata map[string]string
}

// MetadataProfileID is the metadata key linking provider objects to a profile.
const MetadataProfileID = "profile_id"
