// Package access decides whether a route or feature is reachable from an
// already-resolved role and entitlement snapshot. Decisions never fetch.
package access

import (
	"slices"

	"github.com/dukerupert/pestlist/internal/model"
)

// Paths are the redirect targets of the route gate.
type Paths struct {
	SignIn      string
	AdminHome   string
	CompanyHome string
	PublicHome  string
}

var DefaultPaths = Paths{
	SignIn:      "/signin",
	AdminHome:   "/admin",
	CompanyHome: "/company",
	PublicHome:  "/",
}

// Home returns the landing path for role.
func (p Paths) Home(role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return p.AdminHome
	case model.RoleCompany:
		return p.CompanyHome
	default:
		return p.PublicHome
	}
}

// RouteDecision is the outcome of the route gate. Redirect is empty when
// Allowed is true.
type RouteDecision struct {
	Allowed  bool
	Redirect string
}

// Route checks an account against the roles allowed on a route. An empty
// allowed set admits every signed-in account.
func (p Paths) Route(allowed []model.Role, authenticated bool, role model.Role) RouteDecision {
	if !authenticated {
		return RouteDecision{Redirect: p.SignIn}
	}
	if len(allowed) == 0 || slices.Contains(allowed, role) {
		return RouteDecision{Allowed: true}
	}
	return RouteDecision{Redirect: p.Home(role)}
}

// Route applies DefaultPaths.
func Route(allowed []model.Role, authenticated bool, role model.Role) RouteDecision {
	return DefaultPaths.Route(allowed, authenticated, role)
}

// Outcome is what a feature gate renders. Exactly one applies per decision.
type Outcome string

const (
	OutcomeRender        Outcome = "render"
	OutcomeRedirect      Outcome = "redirect"
	OutcomeFallback      Outcome = "fallback"
	OutcomeUpgradePrompt Outcome = "upgrade_prompt"
	OutcomeNothing       Outcome = "nothing"
)

// FeatureOptions configure what a denied feature shows.
type FeatureOptions struct {
	RedirectTo        string
	HasFallback       bool
	ShowUpgradePrompt bool
}

// DefaultFeatureOptions shows the upgrade prompt when nothing else is set.
var DefaultFeatureOptions = FeatureOptions{ShowUpgradePrompt: true}

type FeatureDecision struct {
	Feature    model.Flag `json:"feature"`
	Outcome    Outcome    `json:"outcome"`
	RedirectTo string     `json:"redirectTo,omitempty"`
}

// Feature gates one entitlement flag. When the flag is off the outcome is,
// in order: redirect, fallback, upgrade prompt, nothing.
func Feature(flag model.Flag, snapshot model.Entitlements, opts FeatureOptions) FeatureDecision {
	d := FeatureDecision{Feature: flag}
	switch {
	case snapshot.Has(flag):
		d.Outcome = OutcomeRender
	case opts.RedirectTo != "":
		d.Outcome = OutcomeRedirect
		d.RedirectTo = opts.RedirectTo
	case opts.HasFallback:
		d.Outcome = OutcomeFallback
	case opts.ShowUpgradePrompt:
		d.Outcome = OutcomeUpgradePrompt
	default:
		d.Outcome = OutcomeNothing
	}
	return d
}
