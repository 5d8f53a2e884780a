// Package entitlement derives feature flags from subscription state.
package entitlement

import "github.com/dukerupert/pestlist/internal/model"

// Sync returns the flags a plan grants at the given status. Only active and
// trialing subscriptions grant anything; past_due, canceled and StatusNone
// grant nothing. There is no grace period.
func Sync(plan model.PlanKey, status model.SubscriptionStatus) model.Entitlements {
	if !status.Effective() {
		return model.Entitlements{}
	}
	switch plan {
	case model.PlanDirectory:
		return model.Entitlements{DirectoryAccess: true}
	case model.PlanDirectoryAcademy:
		return model.Entitlements{DirectoryAccess: true, AcademyAccess: true}
	case model.PlanPremium:
		return model.Entitlements{
			DirectoryAccess:   true,
			AcademyAccess:     true,
			PremiumDiscounts:  true,
			BasicSiteIncluded: true,
		}
	}
	return model.Entitlements{}
}

// ForSubscription applies Sync to a stored subscription; nil means none.
func ForSubscription(sub *model.Subscription) model.Entitlements {
	if sub == nil {
		return Sync("", model.StatusNone)
	}
	return Sync(sub.PlanKey, sub.Status)
}
