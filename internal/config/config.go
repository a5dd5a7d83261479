package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	// Server
	Port        string
	Store       string
	DatabaseURL string
	CORSOrigins []string
	JWTSecret   string
	JWTTTL      time.Duration

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// SendGrid
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Twilio
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Infrastructure
	RedisURL    string
	RabbitMQURL string

	// Sweeps
	SweepSchedule string
	SweepLeaseTTL time.Duration

	Policy Policy
}

// Policy holds the time windows applied by the reservation and ticket
// services.
type Policy struct {
	CheckoutGrace      time.Duration
	UnusedGrace        time.Duration
	TicketBufferBefore time.Duration
	TicketBufferAfter  time.Duration
	Location           *time.Location
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		CheckoutGrace:      15 * time.Minute,
		UnusedGrace:        15 * time.Minute,
		TicketBufferBefore: 15 * time.Minute,
		TicketBufferAfter:  30 * time.Minute,
		Location:           time.UTC,
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env file is fine, the environment may be set directly.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from the given variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	c := &Config{
		Port:        r.str("PORT", "8080"),
		Store:       r.str("STORE", StorePostgres),
		DatabaseURL: r.str("DATABASE_URL", ""),
		CORSOrigins: r.list("CORS_ORIGINS", []string{"*"}),
		JWTSecret:   r.str("JWT_SECRET", ""),
		JWTTTL:      r.duration("JWT_TTL", time.Hour),

		StripeSecretKey:     r.str("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: r.str("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            r.str("CURRENCY", "pen"),
		CheckoutSuccessURL:  r.str("CHECKOUT_SUCCESS_URL", "http://localhost:3000/reservations/confirmation?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:   r.str("CHECKOUT_CANCEL_URL", "http://localhost:3000/reservations/failed?session_id={CHECKOUT_SESSION_ID}"),

		SendGridAPIKey:    r.str("SENDGRID_API_KEY", ""),
		SendGridFromEmail: r.str("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  r.str("SENDGRID_FROM_NAME", "Parkeaya"),

		TwilioAccountSID: r.str("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  r.str("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: r.str("TWILIO_FROM_NUMBER", ""),

		RedisURL:    r.str("REDIS_URL", ""),
		RabbitMQURL: r.str("RABBITMQ_URL", ""),

		SweepSchedule: r.str("SWEEP_SCHEDULE", "@every 1m"),
		SweepLeaseTTL: r.duration("SWEEP_LEASE_TTL", 50*time.Second),
	}

	def := DefaultPolicy()
	c.Policy = Policy{
		CheckoutGrace:      r.duration("CHECKOUT_GRACE", def.CheckoutGrace),
		UnusedGrace:        r.duration("UNUSED_GRACE", def.UnusedGrace),
		TicketBufferBefore: r.duration("TICKET_BUFFER_BEFORE", def.TicketBufferBefore),
		TicketBufferAfter:  r.duration("TICKET_BUFFER_AFTER", def.TicketBufferAfter),
		Location:           r.location("LOT_TIMEZONE", def.Location),
	}

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	return c, nil
}

// Validate reports settings which make the server unusable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE %q", c.Store))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	for name, d := range map[string]time.Duration{
		"CHECKOUT_GRACE":       c.Policy.CheckoutGrace,
		"UNUSED_GRACE":         c.Policy.UnusedGrace,
		"TICKET_BUFFER_BEFORE": c.Policy.TicketBufferBefore,
		"TICKET_BUFFER_AFTER":  c.Policy.TicketBufferAfter,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) list(key string, def []string) []string {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) location(key string, def *time.Location) *time.Location {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return loc
}
