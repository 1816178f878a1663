package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`

	// IdempotencyTTL bounds how long an Initiate response is replayed.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`         // postgres, memory
	EncryptionKey string `mapstructure:"encryption_key"` // 64 hex chars, AES-256 key for customer data at rest
	AutoMigrate   bool   `mapstructure:"auto_migrate"`   // create the session table on startup
}

// GatewayConfig carries the cPay merchant settings. ChecksumKey is a secret.
type GatewayConfig struct {
	URL                     string `mapstructure:"url"`
	MerchantName            string `mapstructure:"merchant_name"`
	MerchantID              string `mapstructure:"merchant_id"`
	ChecksumKey             string `mapstructure:"checksum_key"`
	PaymentOKURL            string `mapstructure:"payment_ok_url"`
	PaymentFailURL          string `mapstructure:"payment_fail_url"`
	BackendURL              string `mapstructure:"backend_url"`
	DetailsLabel            string `mapstructure:"details_label"`
	FallbackSuccessURL      string `mapstructure:"fallback_success_url"`
	FallbackFailURL         string `mapstructure:"fallback_fail_url"`
	RequireCallbackChecksum bool   `mapstructure:"require_callback_checksum"`
}

// SuccessFallback returns the redirect used when a success callback cannot be parsed.
func (g GatewayConfig) SuccessFallback() string {
	if g.FallbackSuccessURL != "" {
		return g.FallbackSuccessURL
	}
	return g.PaymentOKURL
}

// FailFallback returns the redirect used when a fail callback cannot be parsed.
func (g GatewayConfig) FailFallback() string {
	if g.FallbackFailURL != "" {
		return g.FallbackFailURL
	}
	return g.PaymentFailURL
}

// CaptureConfig configures the outbound capture notification. An empty
// WebhookURL disables it.
type CaptureConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	SigningSecret string        `mapstructure:"signing_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// AuthConfig protects the session API. HMACSecret, when set, takes precedence
// over JWT bearer tokens. With neither set the API is open.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	HMACSecret string        `mapstructure:"hmac_secret"`
	Issuer     string        `mapstructure:"issuer"`
	Expiry     time.Duration `mapstructure:"expiry"`
}

// RateLimitConfig limits the session API per caller. Requests <= 0 disables it.
// Gateway callbacks are never limited.
type RateLimitConfig struct {
	Requests int64         `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type TracingConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Endpoint      string  `mapstructure:"endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
	Environment   string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CPAY_.
// Nested keys use underscore: CPAY_GATEWAY_CHECKSUM_KEY, CPAY_DATABASE_HOST, etc.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "cpay_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "10s")
	v.SetDefault("redis.idempotency_ttl", "24h")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("gateway.url", "https://gateway.bankart.si")
	v.SetDefault("gateway.merchant_name", "")
	v.SetDefault("gateway.merchant_id", "")
	v.SetDefault("gateway.checksum_key", "")
	v.SetDefault("gateway.payment_ok_url", "")
	v.SetDefault("gateway.payment_fail_url", "")
	v.SetDefault("gateway.backend_url", "")
	v.SetDefault("gateway.details_label", "Order Payment")
	v.SetDefault("gateway.fallback_success_url", "")
	v.SetDefault("gateway.fallback_fail_url", "")
	v.SetDefault("gateway.require_callback_checksum", false)
	v.SetDefault("capture.webhook_url", "")
	v.SetDefault("capture.signing_secret", "")
	v.SetDefault("capture.timeout", "10s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.issuer", "cpay-gateway")
	v.SetDefault("auth.expiry", "720h")
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampling_ratio", 1.0)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CPAY_GATEWAY_MERCHANT_ID -> gateway.merchant_id
	v.SetEnvPrefix("CPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every missing setting the gateway protocol cannot work without.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"gateway.merchant_name":    c.Gateway.MerchantName,
		"gateway.merchant_id":      c.Gateway.MerchantID,
		"gateway.checksum_key":     c.Gateway.ChecksumKey,
		"gateway.payment_ok_url":   c.Gateway.PaymentOKURL,
		"gateway.payment_fail_url": c.Gateway.PaymentFailURL,
		"gateway.backend_url":      c.Gateway.BackendURL,
	}
	for _, key := range []string{
		"gateway.merchant_name",
		"gateway.merchant_id",
		"gateway.checksum_key",
		"gateway.payment_ok_url",
		"gateway.payment_fail_url",
		"gateway.backend_url",
	} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.EncryptionKey == "" {
			errs = append(errs, errors.New("store.encryption_key is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.driver %q", c.Store.Driver))
	}

	if c.Capture.WebhookURL != "" && c.Capture.SigningSecret == "" {
		errs = append(errs, errors.New("capture.signing_secret is required when capture.webhook_url is set"))
	}

	return errors.Join(errs...)
}
