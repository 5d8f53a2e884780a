package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pestlist/internal/access"
	"github.com/dukerupert/pestlist/internal/auth"
	"github.com/dukerupert/pestlist/internal/config"
	"github.com/dukerupert/pestlist/internal/email"
	"github.com/dukerupert/pestlist/internal/handler"
	"github.com/dukerupert/pestlist/internal/middleware"
	"github.com/dukerupert/pestlist/internal/model"
	"github.com/dukerupert/pestlist/internal/reconcile"
	"github.com/dukerupert/pestlist/internal/session"
	"github.com/dukerupert/pestlist/internal/store"
	"github.com/dukerupert/pestlist/internal/stripe"
	ws "github.com/dukerupert/pestlist/internal/websocket"
)

// BillingProvider is everything the service needs from the billing provider.
type BillingProvider interface {
	reconcile.Provider
	handler.Checkout
}

type Server struct {
	cfg          config.Config
	hub          *ws.Hub
	authn        *auth.Authenticator
	paths        access.Paths
	entitlements *store.EntitlementStore
	reconciler   *reconcile.Reconciler
	accountH     *handler.AccountHandler
	billingH     *handler.BillingHandler
	webhookH     *handler.WebhookHandler
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

type Option func(*options)

type options struct {
	provider BillingProvider
}

// WithBillingProvider replaces the Stripe client, enabling billing routes
// regardless of configuration.
func WithBillingProvider(p BillingProvider) Option {
	return func(o *options) { o.provider = p }
}

func New(db *sql.DB, cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	profileStore := store.NewProfileStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)
	entitlementStore := store.NewEntitlementStore(db)
	eventStore := store.NewWebhookEventStore(db)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		return nil, err
	}
	bootstrap := session.NewBootstrap(profileStore, logger.With("component", "session"),
		session.WithTimeout(cfg.ProfileTimeout),
		session.WithCreateMissing(),
	)

	hub := ws.NewHub(logger.With("component", "websocket"))

	s := &Server{
		cfg:          cfg,
		hub:          hub,
		authn:        auth.NewAuthenticator(verifier, bootstrap, logger.With("component", "auth")),
		paths:        access.DefaultPaths,
		entitlements: entitlementStore,
		accountH:     handler.NewAccountHandler(profileStore, entitlementStore, logger.With("component", "account")),
		rateLimiter:  middleware.NewRateLimiter(10, time.Minute),
		logger:       logger,
	}

	provider := o.provider
	if provider == nil && cfg.BillingEnabled() {
		provider = stripe.NewClient(cfg.Stripe)
	}
	if provider == nil {
		logger.Warn("billing disabled: STRIPE_SECRET_KEY not set")
		return s, nil
	}

	recOpts := []reconcile.Option{reconcile.WithPublisher(hub)}
	if cfg.PostmarkToken != "" {
		recOpts = append(recOpts, reconcile.WithNotifier(email.NewClient(cfg.PostmarkToken, cfg.PostmarkFrom, cfg.BaseURL)))
	}
	s.reconciler = reconcile.New(provider, cfg.Stripe.Prices, profileStore, subscriptionStore, entitlementStore, eventStore,
		logger.With("component", "reconcile"), recOpts...)
	s.billingH = handler.NewBillingHandler(provider, s.reconciler, profileStore, cfg.Stripe.Prices,
		cfg.BaseURL+"/account/billing", logger.With("component", "billing"))
	if cfg.Stripe.WebhookSecret != "" {
		s.webhookH = handler.NewWebhookHandler(cfg.Stripe.WebhookSecret, s.reconciler, logger.With("component", "webhook"))
	} else {
		logger.Warn("billing webhook disabled: STRIPE_WEBHOOK_SECRET not set")
	}
	return s, nil
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the entitlement push hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	authMw := s.authn.RequireAuth
	rateLimitMw := middleware.RateLimit(s.rateLimiter, middleware.ByAccount)
	adminMw := s.paths.RequireRole(model.RoleAdmin)

	mux.HandleFunc("GET /health", handler.Health)

	mux.Handle("GET /api/me", authMw(http.HandlerFunc(s.accountH.Me)))
	mux.Handle("GET /api/features/{feature}", authMw(http.HandlerFunc(s.accountH.Feature)))
	mux.Handle("PUT /api/admin/profiles/{id}/role", authMw(adminMw(http.HandlerFunc(s.accountH.SetRole))))
	mux.Handle("GET /api/ws", s.authn.RequireAuthQuery(
		ws.HandleWebSocket(s.hub, s.cfg.AllowedOrigins, s.snapshot, s.logger.With("component", "websocket")),
	))

	if s.webhookH != nil {
		mux.HandleFunc("POST /api/webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}
	if s.billingH != nil {
		mux.Handle("POST /api/billing/checkout", authMw(rateLimitMw(http.HandlerFunc(s.billingH.CreateCheckoutSession))))
		mux.Handle("POST /api/billing/sync", authMw(rateLimitMw(http.HandlerFunc(s.billingH.Sync))))
		mux.Handle("POST /api/billing/portal", authMw(http.HandlerFunc(s.billingH.Portal)))
		mux.Handle("GET /api/billing/subscription", authMw(http.HandlerFunc(s.billingH.Subscription)))
	}

	return middleware.RequestID(middleware.RequestLogger(s.logger)(mux))
}

func (s *Server) snapshot(ctx context.Context, accountID string) (model.Entitlements, error) {
	return s.entitlements.Flags(ctx, accountID)
}
