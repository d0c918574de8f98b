package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CART_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store     StoreConfig
	Backend   BackendConfig
	Cart      CartConfig
	Promo     PromoConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StoreConfig selects where cart state is persisted.
type StoreConfig struct {
	Driver      string        `default:"memory" usage:"Cart store: memory, redis or postgres"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (CART_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string        `usage:"Redis URL (CART_STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	RedisPrefix string        `default:"cart" usage:"Key prefix of cart keys in Redis"`
	TTL         time.Duration `default:"720h" usage:"Expiry of idle carts in Redis, 0 keeps them forever"`
	// Snapshots records cart totals in PostgreSQL for reporting. Requires
	// DatabaseURL, independent of Driver.
	Snapshots bool `default:"false" usage:"Record cart totals in PostgreSQL"`
}

// BackendConfig points at the restaurant backend API.
type BackendConfig struct {
	BaseURL string        `usage:"Backend API base URL, e.g. https://api.example.com/api" flag:"backend-url"`
	Timeout time.Duration `default:"10s" usage:"Backend request timeout"`
}

// CartConfig controls cart pricing and session lifetime.
type CartConfig struct {
	TaxRate        string        `default:"0.08" usage:"Sales tax rate applied to the subtotal"`
	SessionIdleTTL time.Duration `default:"30m" usage:"Unload carts not used for this long"`
}

// PromoConfig configures the local promo code prefilter.
type PromoConfig struct {
	Files             []string `usage:"Gzipped promo code lists; empty disables the prefilter"`
	MinSources        int      `default:"1" usage:"Lists a code must appear in"`
	Capacity          uint     `default:"1000000" usage:"Expected codes per list"`
	FalsePositiveRate float64  `default:"0.001" usage:"Bloom filter false positive rate"`
	MinLength         int      `default:"0" usage:"Shortest accepted code, 0 disables"`
	MaxLength         int      `default:"0" usage:"Longest accepted code, 0 disables"`
}

// KafkaConfig configures publishing of cart events.
type KafkaConfig struct {
	Brokers   string `usage:"Comma-separated Kafka brokers; empty disables publishing"`
	Topic     string `default:"cart-events" usage:"Cart event topic"`
	QueueSize int    `default:"1024" usage:"Events buffered before dropping"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CART",
		Files:     []string{"config.yaml", "/etc/foodcart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		c.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Store.RedisURL == "" {
		c.Store.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks that the selected components have what they need.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return errors.New("redis URL is required: set CART_STORE_REDIS_URL or REDIS_URL")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set CART_STORE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Snapshots && c.Store.DatabaseURL == "" {
		return errors.New("cart snapshots need a database URL")
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend URL is required: set CART_BACKEND_BASE_URL")
	}
	if _, err := c.Cart.taxRate(); err != nil {
		return err
	}
	return nil
}

func (c CartConfig) taxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.Errorf("tax rate %s out of range [0, 1)", rate)
	}
	return rate, nil
}
