package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/fx"
)

// Config carries all runtime settings, loaded from the environment.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	DatabaseDSN string `envconfig:"DATABASE_DSN" required:"true"`

	// RedisAddr switches the TTL store to redis when set; empty means the
	// in-process store (single instance deployments).
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" default:""`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" default:""`

	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	PolicyCacheTTL time.Duration `envconfig:"POLICY_CACHE_TTL" default:"30s"`

	CaptureBatchSize    int           `envconfig:"CAPTURE_BATCH_SIZE" default:"50"`
	CapturePollInterval time.Duration `envconfig:"CAPTURE_POLL_INTERVAL" default:"30s"`

	WebhookRetryBatchSize int           `envconfig:"WEBHOOK_RETRY_BATCH_SIZE" default:"20"`
	WebhookRetryInterval  time.Duration `envconfig:"WEBHOOK_RETRY_INTERVAL" default:"1m"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
