package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Locks   LockConfig    `mapstructure:"locks"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig controls the listener and request limits.
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`
	// MaxBodyBytes caps request body size.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// RateBurst and RatePerSecond configure the per-IP token bucket.
	RateBurst     int `mapstructure:"rate_burst"`
	RatePerSecond int `mapstructure:"rate_per_second"`
}

// StoreConfig selects and configures the persistence engine.
type StoreConfig struct {
	// Engine is one of "postgres", "sqlite", "memory".
	Engine string `mapstructure:"engine"`
	// DSN is the PostgreSQL connection string (engine=postgres).
	DSN string `mapstructure:"dsn"`
	// Path is the database file path (engine=sqlite).
	Path string `mapstructure:"path"`
}

// LockConfig controls record lock behaviour.
type LockConfig struct {
	// TTL is how long a record lock lives without renewal.
	TTL time.Duration `mapstructure:"ttl"`
	// SweepInterval is how often expired lock rows are reclaimed.
	// Zero disables the sweeper; correctness does not depend on it.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AuthConfig controls session token issuance.
type AuthConfig struct {
	// Secret signs HS256 session tokens. Empty disables token endpoints.
	Secret string `mapstructure:"secret"`
	// TokenTTL is the session token lifetime.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	// Requests enables per-request log lines.
	Requests bool `mapstructure:"requests"`
}

// Load reads configuration from an optional file plus CHARTEROPS_* environment
// variables, applying defaults for everything unset. An empty path skips the
// file and is not an error; a present-but-broken file is.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.rate_burst", 50)
	v.SetDefault("http.rate_per_second", 25)
	v.SetDefault("store.engine", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "coord.db")
	v.SetDefault("locks.ttl", 10*time.Minute)
	v.SetDefault("locks.sweep_interval", 6*time.Hour)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("logging.requests", true)

	v.SetEnvPrefix("CHARTEROPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
