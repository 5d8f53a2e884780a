package entitlement

import (
	"testing"

	"github.com/dukerupert/pestlist/internal/model"
)

var statuses = []model.SubscriptionStatus{
	model.StatusActive, model.StatusTrialing, model.StatusPastDue, model.StatusCanceled, model.StatusNone,
}

func TestSyncTable(t *testing.T) {
	tests := []struct {
		plan model.PlanKey
		want model.Entitlements
	}{
		{model.PlanDirectory, model.Entitlements{DirectoryAccess: true}},
		{model.PlanDirectoryAcademy, model.Entitlements{DirectoryAccess: true, AcademyAccess: true}},
		{model.PlanPremium, model.Entitlements{DirectoryAccess: true, AcademyAccess: true, PremiumDiscounts: true, BasicSiteIncluded: true}},
	}
	for _, tt := range tests {
		for _, status := range []model.SubscriptionStatus{model.StatusActive, model.StatusTrialing} {
			if got := Sync(tt.plan, status); got != tt.want {
				t.Errorf("Sync(%q, %q) = %+v, want %+v", tt.plan, status, got, tt.want)
			}
		}
	}
}

func TestSyncNonEffectiveRevokesEverything(t *testing.T) {
	for _, plan := range model.Plans {
		for _, status := range []model.SubscriptionStatus{model.StatusPastDue, model.StatusCanceled, model.StatusNone} {
			if got := Sync(plan, status); got != (model.Entitlements{}) {
				t.Errorf("Sync(%q, %q) = %+v, want all false", plan, status, got)
			}
		}
	}
}

func TestSyncPremiumActive(t *testing.T) {
	got := Sync(model.PlanPremium, model.StatusActive)
	want := model.Entitlements{DirectoryAccess: true, AcademyAccess: true, PremiumDiscounts: true, BasicSiteIncluded: true}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSyncDirectoryTrialing(t *testing.T) {
	got := Sync(model.PlanDirectory, model.StatusTrialing)
	want := model.Entitlements{DirectoryAccess: true}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSyncIsDeterministic(t *testing.T) {
	for _, plan := range model.Plans {
		for _, status := range statuses {
			first := Sync(plan, status)
			for i := 0; i < 3; i++ {
				if got := Sync(plan, status); got != first {
					t.Fatalf("Sync(%q, %q) changed between calls: %+v vs %+v", plan, status, first, got)
				}
			}
		}
	}
}

func TestForSubscription(t *testing.T) {
	if got := ForSubscription(nil); got != (model.Entitlements{}) {
		t.Errorf("nil subscription = %+v, want all false", got)
	}
	sub := &model.Subscription{PlanKey: model.PlanDirectoryAcademy, Status: model.StatusActive}
	if got := ForSubscription(sub); !got.AcademyAccess || got.PremiumDiscounts {
		t.Errorf("got %+v", got)
	}
}
