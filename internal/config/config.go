package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	AuthMode               string        `mapstructure:"AUTH_MODE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnectAttempts      uint          `mapstructure:"DB_CONNECT_ATTEMPTS"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL            string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	TokenTTL               time.Duration `mapstructure:"TOKEN_TTL"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	LogFile                string        `mapstructure:"LOG_FILE"`
	LogMaxSizeMB           int           `mapstructure:"LOG_MAX_SIZE_MB"`
	StorageBackend         string        `mapstructure:"STORAGE_BACKEND"`
	StorageDir             string        `mapstructure:"STORAGE_DIR"`
	StorageEncryptionKey   string        `mapstructure:"STORAGE_ENCRYPTION_KEY"`
	S3Bucket               string        `mapstructure:"S3_BUCKET"`
	S3Region               string        `mapstructure:"S3_REGION"`
	S3Endpoint             string        `mapstructure:"S3_ENDPOINT"`
	S3Prefix               string        `mapstructure:"S3_PREFIX"`
	VisitAutoCloseInterval time.Duration `mapstructure:"VISIT_AUTOCLOSE_INTERVAL"`
	MetricsEnabled         bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_CONNECT_ATTEMPTS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY", "TOKEN_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB",
	"STORAGE_BACKEND", "STORAGE_DIR", "STORAGE_ENCRYPTION_KEY", "S3_BUCKET",
	"S3_REGION", "S3_ENDPOINT", "S3_PREFIX", "VISIT_AUTOCLOSE_INTERVAL",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV / AUTH_ISSUER
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_CONNECT_ATTEMPTS", 5)
	v.SetDefault("TOKEN_TTL", "8h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("STORAGE_BACKEND", "local")
	v.SetDefault("STORAGE_DIR", "./data/storage")
	v.SetDefault("VISIT_AUTOCLOSE_INTERVAL", "1h")
	v.SetDefault("METRICS_ENABLED", true)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (every request is the admin user)
//   - AUTH_ISSUER set → "external" (tokens from an OIDC provider)
//   - Otherwise       → "standalone" (tokens issued by POST /api/v1/session)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "standalone"
}

// SigningKey decodes AUTH_SIGNING_KEY.
func (c *Config) SigningKey() ([]byte, error) {
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

// StorageKey decodes STORAGE_ENCRYPTION_KEY. A nil key disables encryption.
func (c *Config) StorageKey() ([]byte, error) {
	if c.StorageEncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.StorageEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("STORAGE_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("STORAGE_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
	case "external":
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	case "standalone":
		if _, err := c.SigningKey(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}

	if _, err := c.StorageKey(); err != nil {
		return err
	}

	switch c.StorageBackend {
	case "memory", "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\", \"local\", or \"s3\", got %q", c.StorageBackend)
	}

	if c.VisitAutoCloseInterval < 0 {
		return fmt.Errorf("VISIT_AUTOCLOSE_INTERVAL must not be negative")
	}
	return nil
}
