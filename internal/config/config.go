// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	OpenAI   OpenAIConfig
	SMTP     SMTPConfig
	Admin    AdminConfig
	Checkout CheckoutConfig
}

type ServerConfig struct {
	Port      int    `env:"PORT,default=8080"`
	PublicURL string `env:"PUBLIC_URL,default=http://localhost:8080"`
	DevMode   bool   `env:"DEV_MODE,default=false"`
	MediaDir  string `env:"MEDIA_DIR,default=./media"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
}

type DatabaseConfig struct {
	// URL is the Postgres DSN. When empty the server falls back to the
	// in-memory store, which is only useful in development.
	URL string `env:"DATABASE_URL"`
}

type RedisConfig struct {
	// Addr enables the catalog cache when set, e.g. localhost:6379.
	Addr string        `env:"REDIS_ADDR"`
	TTL  time.Duration `env:"REDIS_CATALOG_TTL,default=1m"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

type OpenAIConfig struct {
	APIKey string `env:"OPENAI_API_KEY"`
	Model  string `env:"OPENAI_MODEL,default=gpt-4o"`
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT,default=587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"MAIL_FROM,default=bookstore@localhost"`
	// AdminEmails is a comma-separated list of order notification recipients.
	AdminEmails string `env:"ADMIN_EMAILS"`
}

type AdminConfig struct {
	JWTSecret    string        `env:"JWT_SECRET"`
	TokenTTL     time.Duration `env:"ADMIN_TOKEN_TTL,default=12h"`
	Username     string        `env:"ADMIN_USERNAME,default=admin"`
	PasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
}

type CheckoutConfig struct {
	// SessionCutoff is how long a pending order may sit before the sweep
	// marks it abandoned. Stripe expires hosted sessions after 24h.
	SessionCutoff time.Duration `env:"SESSION_CUTOFF,default=24h"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE,default=@every 10m"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present so local runs match the deployed layout.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the settings production cannot run without. Development
// mode relaxes everything so the server starts with an empty environment.
func (c *Config) Validate() error {
	if c.Server.DevMode {
		return nil
	}
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.Admin.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Admin.PasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AdminRecipients returns the parsed admin notification list.
func (c *SMTPConfig) AdminRecipients() []string {
	if strings.TrimSpace(c.AdminEmails) == "" {
		return nil
	}
	parts := strings.Split(c.AdminEmails, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
