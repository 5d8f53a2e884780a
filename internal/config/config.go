// Package config reads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/pestlist/internal/stripe"
)

type Config struct {
	Port      string
	DBPath    string
	BaseURL   string
	LogLevel  string
	LogFormat string

	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	ProfileTimeout time.Duration

	Stripe stripe.Config

	PostmarkToken string
	PostmarkFrom  string

	// AllowedOrigins are websocket origin patterns.
	AllowedOrigins []string
}

// BillingEnabled reports whether the billing provider is configured.
func (c Config) BillingEnabled() bool {
	return c.Stripe.SecretKey != ""
}

// LoadDotEnv loads path into the environment when it exists. Variables
// already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv.
func LoadFrom(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:        get("PESTLIST_PORT", "8080"),
		DBPath:      get("PESTLIST_DB_PATH", "pestlist.db"),
		LogLevel:    get("PESTLIST_LOG_LEVEL", "info"),
		LogFormat:   get("PESTLIST_LOG_FORMAT", "text"),
		JWTSecret:   get("AUTH_JWT_SECRET", ""),
		JWTIssuer:   get("AUTH_JWT_ISSUER", ""),
		JWTAudience: get("AUTH_JWT_AUDIENCE", ""),

		PostmarkToken: get("POSTMARK_TOKEN", ""),
		PostmarkFrom:  get("POSTMARK_FROM", ""),
	}
	cfg.BaseURL = strings.TrimRight(get("PESTLIST_BASE_URL", "http://localhost:"+cfg.Port), "/")

	timeout, err := time.ParseDuration(get("AUTH_PROFILE_TIMEOUT", "5s"))
	if err != nil || timeout <= 0 {
		return Config{}, fmt.Errorf("AUTH_PROFILE_TIMEOUT: invalid duration %q", getenv("AUTH_PROFILE_TIMEOUT"))
	}
	cfg.ProfileTimeout = timeout

	if origins := get("PESTLIST_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.Stripe = stripe.Config{
		SecretKey:     get("STRIPE_SECRET_KEY", ""),
		WebhookSecret: get("STRIPE_WEBHOOK_SECRET", ""),
		Prices: stripe.Prices{
			Directory:        get("STRIPE_PRICE_DIRECTORY", ""),
			DirectoryAcademy: get("STRIPE_PRICE_DIRECTORY_ACADEMY", ""),
			Premium:          get("STRIPE_PRICE_PREMIUM", ""),
		},
		SuccessURL: cfg.BaseURL + "/account/billing?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  cfg.BaseURL + "/pricing",
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if err := c.Stripe.Prices.Validate(); err != nil {
		return fmt.Errorf("stripe prices: %w", err)
	}
	return nil
}
