// Package session resolves the profile and role of the signed-in account.
package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/pestlist/internal/model"
)

const DefaultProfileTimeout = 5 * time.Second

// Identity is an authenticated account as reported by the auth service.
type Identity struct {
	ID           string
	Email        string
	MetadataRole model.Role
}

// ProfileSource reads and creates profile rows.
type ProfileSource interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	Create(ctx context.Context, p *model.Profile) (*model.Profile, error)
}

// Resolved is the outcome of a profile bootstrap. Profile is nil when the
// row could not be read; Role then comes from the account metadata and may
// be RoleNone.
type Resolved struct {
	Profile  *model.Profile
	Role     model.Role
	Fallback bool
}

// Bootstrap fetches profiles with at most one fetch in flight per account.
type Bootstrap struct {
	profiles      ProfileSource
	timeout       time.Duration
	createMissing bool
	logger        *slog.Logger
	group         singleflight.Group
}

type Option func(*Bootstrap)

// WithTimeout bounds a single profile fetch.
func WithTimeout(d time.Duration) Option {
	return func(b *Bootstrap) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithCreateMissing makes the bootstrap insert a profile row for accounts
// that have none. The new row takes the metadata role, except admin, which
// is only ever granted through the admin role endpoint.
func WithCreateMissing() Option {
	return func(b *Bootstrap) { b.createMissing = true }
}

func NewBootstrap(profiles ProfileSource, logger *slog.Logger, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		profiles: profiles,
		timeout:  DefaultProfileTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve returns the profile and role for id. Concurrent calls for the same
// account share one fetch. Resolve never fails: a fetch error or timeout
// resolves to the metadata role.
func (b *Bootstrap) Resolve(ctx context.Context, id Identity) Resolved {
	if id.ID == "" {
		return Resolved{Role: model.RoleNone, Fallback: true}
	}

	// The shared fetch outlives any single caller; the timeout bounds it.
	ch := b.group.DoChan(id.ID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		return b.fetch(fetchCtx, id)
	})

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			b.logger.Warn("profile fetch failed, using metadata role", "account_id", id.ID, "error", res.Err)
			return fallback(id)
		}
		p, _ := res.Val.(*model.Profile)
		if p == nil {
			return fallback(id)
		}
		return Resolved{Profile: p, Role: p.Role}
	case <-timer.C:
		b.logger.Warn("profile fetch timed out, using metadata role", "account_id", id.ID, "timeout", b.timeout)
		return fallback(id)
	case <-ctx.Done():
		return fallback(id)
	}
}

func (b *Bootstrap) fetch(ctx context.Context, id Identity) (*model.Profile, error) {
	p, err := b.profiles.GetByID(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	if p != nil || !b.createMissing {
		return p, nil
	}

	role := id.MetadataRole.OrDefault()
	if role == model.RoleAdmin {
		role = model.RoleConsumer
	}
	p, err = b.profiles.Create(ctx, &model.Profile{ID: id.ID, Email: id.Email, Role: role})
	if err != nil {
		return nil, err
	}
	b.logger.Info("profile created", "account_id", id.ID, "role", role)
	return p, nil
}

func fallback(id Identity) Resolved {
	return Resolved{Role: id.MetadataRole, Fallback: true}
}
