package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/session"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Metadata is the role-bearing part of the hosted auth service's metadata
// claims.
type Metadata struct {
	Role string `json:"role,omitempty"`
}

// Claims are the access-token claims issued by the hosted auth service.
type Claims struct {
	jwt.RegisteredClaims
	Email        string   `json:"email,omitempty"`
	AppMetadata  Metadata `json:"app_metadata"`
	UserMetadata Metadata `json:"user_metadata"`
}

// Identity converts the claims into a session identity. The app metadata
// role is trusted as is; the user-editable metadata may not claim admin.
func (c *Claims) Identity() session.Identity {
	id := session.Identity{ID: c.Subject, Email: c.Email}
	if r, err := model.ParseRole(c.AppMetadata.Role); err == nil && r != model.RoleNone {
		id.MetadataRole = r
		return id
	}
	if r, err := model.ParseRole(c.UserMetadata.Role); err == nil && r != model.RoleAdmin {
		id.MetadataRole = r
	}
	return id
}

type VerifierConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Verifier checks HS256 access tokens signed with the auth service's shared
// secret.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{secret: []byte(cfg.Secret), opts: opts}, nil
}

// Verify parses tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(parts[1]), nil
}
