package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pestlist/internal/model"
)

type EntitlementStore struct {
	db *sql.DB
}

func NewEntitlementStore(db *sql.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const entitlementCols = `profile_id, directory_access, academy_access, premium_discounts, basic_site_included, created_at, updated_at`

// Put overwrites the entitlement row of a profile.
func (s *EntitlementStore) Put(ctx context.Context, profileID string, flags model.Entitlements) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (profile_id, directory_access, academy_access, premium_discounts, basic_site_included)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET
			directory_access = excluded.directory_access,
			academy_access = excluded.academy_access,
			premium_discounts = excluded.premium_discounts,
			basic_site_included = excluded.basic_site_included,
			updated_at = CURRENT_TIMESTAMP`,
		profileID,
		boolInt(flags.DirectoryAccess), boolInt(flags.AcademyAccess),
		boolInt(flags.PremiumDiscounts), boolInt(flags.BasicSiteIncluded),
	)
	if err != nil {
		return fmt.Errorf("put entitlements: %w", err)
	}
	return nil
}

// Get returns the stored record, or nil when the profile has none.
func (s *EntitlementStore) Get(ctx context.Context, profileID string) (*model.EntitlementRecord, error) {
	var rec model.EntitlementRecord
	var dir, academy, discounts, basic int
	err := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementCols+` FROM entitlements WHERE profile_id = ?`, profileID,
	).Scan(&rec.ProfileID, &dir, &academy, &discounts, &basic, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlements: %w", err)
	}
	rec.Flags = model.Entitlements{
		DirectoryAccess:   dir != 0,
		AcademyAccess:     academy != 0,
		PremiumDiscounts:  discounts != 0,
		BasicSiteIncluded: basic != 0,
	}
	return &rec, nil
}

// Flags returns the profile's flags; a missing row means nothing is granted.
func (s *EntitlementStore) Flags(ctx context.Context, profileID string) (model.Entitlements, error) {
	rec, err := s.Get(ctx, profileID)
	if err != nil || rec == nil {
		return model.Entitlements{}, err
	}
	return rec.Flags, nil
}
