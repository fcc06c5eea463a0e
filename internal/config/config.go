package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                  string   `mapstructure:"ENV"`
	BindAddress          string   `mapstructure:"BIND_ADDRESS"`
	BindPort             string   `mapstructure:"BIND_PORT"`
	DatabaseURL          string   `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32    `mapstructure:"DB_MIN_CONNS"`
	SessionTTLSeconds    int      `mapstructure:"SESSION_TTL_SECONDS"`
	PasswordMinLength    int      `mapstructure:"PASSWORD_MIN_LENGTH"`
	PasswordRequireUpper bool     `mapstructure:"PASSWORD_REQUIRE_UPPER"`
	PasswordRequireSym   bool     `mapstructure:"PASSWORD_REQUIRE_SYMBOL"`
	LockoutThreshold     int      `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutBackoffSecs   int      `mapstructure:"LOCKOUT_BACKOFF_SECONDS"`
	AuditSink            string   `mapstructure:"AUDIT_SINK"`
	AllowAdminDemotion   bool     `mapstructure:"ALLOW_ADMIN_DEMOTION"`
	RateLimitRPS         float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int      `mapstructure:"RATE_LIMIT_BURST"`
	LoginRateLimitRPS    float64  `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst  int      `mapstructure:"LOGIN_RATE_LIMIT_BURST"`
	RequestTimeoutSecs   int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	CORSOrigins          []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("BIND_ADDRESS", "0.0.0.0")
	v.SetDefault("BIND_PORT", "8080")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SESSION_TTL_SECONDS", 3600)
	v.SetDefault("PASSWORD_MIN_LENGTH", 8)
	v.SetDefault("PASSWORD_REQUIRE_UPPER", true)
	v.SetDefault("PASSWORD_REQUIRE_SYMBOL", true)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_BACKOFF_SECONDS", 300)
	v.SetDefault("ALLOW_ADMIN_DEMOTION", false)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 5)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 10)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"ENV", "BIND_ADDRESS", "BIND_PORT", "DATABASE_URL",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "SESSION_TTL_SECONDS",
		"PASSWORD_MIN_LENGTH", "PASSWORD_REQUIRE_UPPER", "PASSWORD_REQUIRE_SYMBOL",
		"LOCKOUT_THRESHOLD", "LOCKOUT_BACKOFF_SECONDS", "AUDIT_SINK",
		"ALLOW_ADMIN_DEMOTION", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST",
		"REQUEST_TIMEOUT_SECONDS", "CORS_ORIGINS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
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

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// LockoutBackoff returns the credential lockout backoff as a duration.
func (c *Config) LockoutBackoff() time.Duration {
	return time.Duration(c.LockoutBackoffSecs) * time.Second
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// Validate checks that the configuration is safe to run. The serve and
// migrate commands require a database; password and lockout settings must
// be sane because the credential store trusts them unchecked.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive, got %d", c.SessionTTLSeconds)
	}
	if c.PasswordMinLength < 1 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be at least 1, got %d", c.PasswordMinLength)
	}
	if c.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1, got %d", c.LockoutThreshold)
	}
	if c.LockoutBackoffSecs < 0 {
		return fmt.Errorf("LOCKOUT_BACKOFF_SECONDS must not be negative, got %d", c.LockoutBackoffSecs)
	}
	return nil
}
