package model

import (
	"fmt"
	"time"
)

// Flag names one entitlement.
type Flag string

const (
	FlagDirectoryAccess   Flag = "directoryAccess"
	FlagAcademyAccess     Flag = "academyAccess"
	FlagPremiumDiscounts  Flag = "premiumDiscounts"
	FlagBasicSiteIncluded Flag = "basicSiteIncluded"
)

func ParseFlag(s string) (Flag, error) {
	switch f := Flag(s); f {
	case FlagDirectoryAccess, FlagAcademyAccess, FlagPremiumDiscounts, FlagBasicSiteIncluded:
		return f, nil
	default:
		return "", fmt.Errorf("unknown entitlement %q", s)
	}
}

// Entitlements holds the derived feature flags of one account. The zero
// value grants nothing.
type Entitlements struct {
	DirectoryAccess   bool `json:"directoryAccess"`
	AcademyAccess     bool `json:"academyAccess"`
	PremiumDiscounts  bool `json:"premiumDiscounts"`
	BasicSiteIncluded bool `json:"basicSiteIncluded"`
}

// Has reports whether the flag is granted.
func (e Entitlements) Has(f Flag) bool {
	switch f {
	case FlagDirectoryAccess:
		return e.DirectoryAccess
	case FlagAcademyAccess:
		return e.AcademyAccess
	case FlagPremiumDiscounts:
		return e.PremiumDiscounts
	case FlagBasicSiteIncluded:
		return e.BasicSiteIncluded
	}
	return false
}

// EntitlementRecord is the stored form of Entitlements.
type EntitlementRecord struct {
	ProfileID string       `json:"profile_id"`
	Flags     Entitlements `json:"flags"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// WebhookEvent is one row of the idempotency ledger.
type WebhookEvent struct {
	ID             int64     `json:"id"`
	StripeEventID  string    `json:"stripe_event_id"`
	EventType      string    `json:"event_type"`
	SubscriptionID *string   `json:"subscription_id"`
	Success        bool      `json:"success"`
	ErrorMessage   *string   `json:"error_message"`
	CreatedAt      time.Time `json:"created_at"`
}
