package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/pestlist/internal/database"
	"github.com/dukerupert/pestlist/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createProfile(t *testing.T, ps *ProfileStore, id, email string) *model.Profile {
	t.Helper()
	p, err := ps.Create(context.Background(), &model.Profile{ID: id, Email: email})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return p
}
