package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	DenylistBackendPostgres = "postgres"
	DenylistBackendRedis    = "redis"
)

// ServerConfig holds the API server settings.
type ServerConfig struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"5000"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	StoreBackend    string        `env:"STORE_BACKEND" envDefault:"postgres"`
	DenylistBackend string        `env:"DENYLIST_BACKEND" envDefault:"postgres"`
	RedisURL        string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	LogDir          string        `env:"LOG_DIR"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	JWT            JWTConfig            `envPrefix:"JWT_"`
	CircuitBreaker CircuitBreakerConfig `envPrefix:"CB_"`

	MaxRefreshTokensPerUser int `env:"MAX_REFRESH_TOKENS_PER_USER" envDefault:"10"`
	PasswordMinLength       int `env:"PASSWORD_MIN_LENGTH" envDefault:"0"`
}

// JWTConfig holds the two signing secrets and lifetimes.
type JWTConfig struct {
	AccessSecret  string        `env:"ACCESS_SECRET"`
	RefreshSecret string        `env:"REFRESH_SECRET"`
	AccessTTL     time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	Issuer        string        `env:"ISSUER" envDefault:"class-schedule"`
}

type CircuitBreakerConfig struct {
	Threshold int32         `env:"THRESHOLD" envDefault:"50"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"5s"`
	Reset     time.Duration `env:"RESET" envDefault:"10s"`
}

// ClientConfig holds the settings of the schedulectl client.
type ClientConfig struct {
	BaseURL   string        `env:"SCHEDULE_API_URL" envDefault:"http://localhost:5000"`
	TokenFile string        `env:"SCHEDULE_TOKEN_FILE"`
	Timeout   time.Duration `env:"SCHEDULE_CLIENT_TIMEOUT" envDefault:"10s"`
	LogLevel  string        `env:"SCHEDULE_LOG_LEVEL" envDefault:"warning"`
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultClientTimeout
	}
	return cfg, nil
}

// Validate reports misconfiguration as ErrServerConfiguration so startup can
// fail fast.
func (c ServerConfig) Validate() error {
	if err := validateJWTSecret("JWT_ACCESS_SECRET", c.JWT.AccessSecret); err != nil {
		return err
	}
	if err := validateJWTSecret("JWT_REFRESH_SECRET", c.JWT.RefreshSecret); err != nil {
		return err
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return commonerrors.ErrServerConfiguration.WithCause(
			fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"),
		)
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("token lifetimes must be positive"))
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return commonerrors.ErrServerConfiguration.WithCause(
			fmt.Errorf("JWT_ACCESS_TTL (%s) must be shorter than JWT_REFRESH_TTL (%s)", c.JWT.AccessTTL, c.JWT.RefreshTTL),
		)
	}

	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("DATABASE_URL is required for the postgres store"))
		}
	case StoreBackendMemory:
	default:
		return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.DenylistBackend {
	case DenylistBackendPostgres, DenylistBackendRedis:
	default:
		return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("unknown DENYLIST_BACKEND %q", c.DenylistBackend))
	}

	if c.MaxRefreshTokensPerUser < 0 {
		return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("MAX_REFRESH_TOKENS_PER_USER must not be negative"))
	}
	if c.PasswordMinLength < 0 || c.PasswordMinLength > 72 {
		return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("PASSWORD_MIN_LENGTH must be between 0 and 72"))
	}
	return nil
}

func validateJWTSecret(name, secret string) error {
	if secret == "" {
		return commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("%s is not set", name))
	}
	if len(secret) < constants.JWTSecretMinLength {
		return commonerrors.ErrServerConfiguration.WithCause(
			fmt.Errorf("%s must be at least %d bytes: got %d bytes", name, constants.JWTSecretMinLength, len(secret)),
		)
	}
	return nil
}
