package stripe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/pestlist/internal/model"
)

var (
	ErrUnknownPriceID     = model.ErrUnknownPriceID
	ErrPriceNotConfigured = errors.New("no stripe price configured for plan")
)

// Prices maps plan keys to provider price ids.
type Prices struct {
	Directory        string
	DirectoryAcademy string
	Premium          string
}

// PlanForPrice resolves the plan a price id pays for. An unmapped price id is
// an error; defaulting would misclassify a paying customer.
func (p Prices) PlanForPrice(priceID string) (model.PlanKey, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID != "" {
		for _, plan := range model.Plans {
			if p.PriceForPlanOrEmpty(plan) == priceID {
				return plan, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q (set STRIPE_PRICE_DIRECTORY, STRIPE_PRICE_DIRECTORY_ACADEMY or STRIPE_PRICE_PREMIUM)", ErrUnknownPriceID, priceID)
}

// PriceForPlan returns the configured price id for a plan.
func (p Prices) PriceForPlan(plan model.PlanKey) (string, error) {
	if id := p.PriceForPlanOrEmpty(plan); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrPriceNotConfigured, plan)
}

func (p Prices) PriceForPlanOrEmpty(plan model.PlanKey) string {
	switch plan {
	case model.PlanDirectory:
		return strings.TrimSpace(p.Directory)
	case model.PlanDirectoryAcademy:
		return strings.TrimSpace(p.DirectoryAcademy)
	case model.PlanPremium:
		return strings.TrimSpace(p.Premium)
	}
	return ""
}

// Validate rejects a price id configured for more than one plan.
func (p Prices) Validate() error {
	seen := make(map[string]model.PlanKey)
	for _, plan := range model.Plans {
		id := p.PriceForPlanOrEmpty(plan)
		if id == "" {
			continue
		}
		if other, ok := seen[id]; ok {
			return fmt.Errorf("stripe price %q configured for both %s and %s", id, other, plan)
		}
		seen[id] = plan
	}
	return nil
}
