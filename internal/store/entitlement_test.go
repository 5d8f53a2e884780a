package store

import (
	"context"
	"testing"

	"github.com/dukerupert/pestlist/internal/model"
)

func TestEntitlementFlagsDefaultToNone(t *testing.T) {
	es := NewEntitlementStore(setupTestDB(t))

	flags, err := es.Flags(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if flags != (model.Entitlements{}) {
		t.Errorf("flags = %+v, want all false", flags)
	}
}

func TestEntitlementPutOverwrites(t *testing.T) {
	db := setupTestDB(t)
	es := NewEntitlementStore(db)
	createProfile(t, NewProfileStore(db), "user-1", "alice@example.com")
	ctx := context.Background()

	all := model.Entitlements{DirectoryAccess: true, AcademyAccess: true, PremiumDiscounts: true, BasicSiteIncluded: true}
	if err := es.Put(ctx, "user-1", all); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := es.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.Flags != all {
		t.Fatalf("record = %+v", rec)
	}

	if err := es.Put(ctx, "user-1", model.Entitlements{DirectoryAccess: true}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	flags, _ := es.Flags(ctx, "user-1")
	if flags != (model.Entitlements{DirectoryAccess: true}) {
		t.Errorf("flags = %+v, want directory only", flags)
	}
}
