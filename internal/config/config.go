package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Auth modes.
const (
	AuthDevelopment = "development"
	AuthJWT         = "jwt"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	Store          string        `mapstructure:"STORE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant  string        `mapstructure:"DEFAULT_TENANT"`
	Clinics        []string      `mapstructure:"CLINICS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitWindow time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RedisURL        string        `mapstructure:"REDIS_URL"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`
	AMQPURL      string   `mapstructure:"AMQP_URL"`
	AMQPExchange string   `mapstructure:"AMQP_EXCHANGE"`

	OTelEnabled       bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint      string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplingRatio float64 `mapstructure:"OTEL_SAMPLING_RATIO"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	QueueMediumAfterMinutes int `mapstructure:"QUEUE_MEDIUM_AFTER_MINUTES"`
	QueueHighAfterMinutes   int `mapstructure:"QUEUE_HIGH_AFTER_MINUTES"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var defaults = map[string]interface{}{
	"PORT":                       "8000",
	"ENV":                        "development",
	"STORE":                      StorePostgres,
	"DB_MAX_CONNS":               20,
	"DB_MIN_CONNS":               5,
	"DEFAULT_TENANT":             "default",
	"CORS_ORIGINS":               "http://localhost:3000",
	"BODY_LIMIT":                 "1M",
	"REQUEST_TIMEOUT":            "30s",
	"RATE_LIMIT_RPS":             100,
	"RATE_LIMIT_BURST":           200,
	"RATE_LIMIT_WINDOW":          "1m",
	"KAFKA_TOPIC":                "waitingroom.events",
	"AMQP_EXCHANGE":              "waitingroom",
	"OTEL_SAMPLING_RATIO":        1.0,
	"QUEUE_MEDIUM_AFTER_MINUTES": 10,
	"QUEUE_HIGH_AFTER_MINUTES":   20,
}

// envKeys is every variable Load binds, defaults or not.
var envKeys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "CLINICS", "CORS_ORIGINS", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_WINDOW", "REDIS_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "AMQP_URL", "AMQP_EXCHANGE",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"QUEUE_MEDIUM_AFTER_MINUTES", "QUEUE_HIGH_AFTER_MINUTES",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.Clinics = splitList(cfg.Clinics, v.GetString("CLINICS"))
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}
	return cfg, nil
}

// splitList normalises a list setting that may arrive as one comma-separated
// string.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 1 && strings.Contains(parsed[0], ",") {
		raw, parsed = parsed[0], nil
	}
	if len(parsed) == 0 {
		if raw == "" {
			return nil
		}
		parsed = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(parsed))
	for _, s := range parsed {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMemoryStore reports whether appointments live in process memory.
func (c *Config) UsesMemoryStore() bool {
	return c.Store == StoreMemory
}

// KnownClinics lists the clinics served by the in-memory store: the default
// clinic followed by CLINICS, without duplicates.
func (c *Config) KnownClinics() []string {
	out := []string{c.DefaultTenant}
	seen := map[string]bool{c.DefaultTenant: true}
	for _, id := range c.Clinics {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get development auth and everything else verifies JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthDevelopment
	}
	return AuthJWT
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	mode := c.ResolvedAuthMode()
	switch mode {
	case AuthDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=%s is not allowed in production", AuthDevelopment)
		}
	case AuthJWT:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf(
				"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is %q (current ENV=%q)",
				AuthJWT, c.Env)
		}
		if c.IsProduction() && c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is for local setups; use AUTH_ISSUER or AUTH_JWKS_URL in production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthDevelopment, AuthJWT, mode)
	}

	if c.QueueMediumAfterMinutes < 0 || c.QueueHighAfterMinutes <= c.QueueMediumAfterMinutes {
		return fmt.Errorf("queue thresholds must satisfy 0 <= QUEUE_MEDIUM_AFTER_MINUTES < QUEUE_HIGH_AFTER_MINUTES, got %d and %d",
			c.QueueMediumAfterMinutes, c.QueueHighAfterMinutes)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.OTelSamplingRatio < 0 || c.OTelSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be between 0 and 1, got %g", c.OTelSamplingRatio)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP_EXCHANGE is required when AMQP_URL is set")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
