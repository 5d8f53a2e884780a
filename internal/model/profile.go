package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authorization role carried by a profile.
type Role string

const (
	RoleNone     Role = ""
	RoleAdmin    Role = "admin"
	RoleCompany  Role = "company"
	RoleConsumer Role = "consumer"
)

// ParseRole parses a stored or token-embedded role. Empty input yields RoleNone.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleNone, RoleAdmin, RoleCompany, RoleConsumer:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

// OrDefault returns the role accounts get when none was ever assigned.
func (r Role) OrDefault() Role {
	if r == RoleNone {
		return RoleConsumer
	}
	return r
}

type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	DisplayName *string   `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
