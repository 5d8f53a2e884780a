package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pestlist/internal/model"
)

type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	var role string
	var displayName, avatarURL sql.NullString
	err := scanner.Scan(&p.ID, &p.Email, &role, &displayName, &avatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	if displayName.Valid {
		p.DisplayName = &displayName.String
	}
	if avatarURL.Valid {
		p.AvatarURL = &avatarURL.String
	}
	return &p, nil
}

const profileCols = `id, email, role, display_name, avatar_url, created_at, updated_at`

// Create inserts a profile. A missing role is stored as consumer.
func (s *ProfileStore) Create(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, role, display_name, avatar_url) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Email, string(p.Role.OrDefault()), p.DisplayName, p.AvatarURL,
	)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return s.GetByID(ctx, p.ID)
}

func (s *ProfileStore) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// UpdateRole changes a profile's role. Returns false when no such profile exists.
func (s *ProfileStore) UpdateRole(ctx context.Context, id string, role model.Role) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(role.OrDefault()), id,
	)
	if err != nil {
		return false, fmt.Errorf("update profile role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
