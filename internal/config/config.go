// Package config loads app config from the environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"LINGO_PORT"`
	DBDriver       string        `mapstructure:"LINGO_DB_DRIVER"`
	DBDSN          string        `mapstructure:"LINGO_DB_DSN"`
	BaseURL        string        `mapstructure:"LINGO_BASE_URL"`
	LogLevel       string        `mapstructure:"LINGO_LOG_LEVEL"`
	LogFormat      string        `mapstructure:"LINGO_LOG_FORMAT"`
	PostmarkToken  string        `mapstructure:"LINGO_POSTMARK_TOKEN"`
	FromEmail      string        `mapstructure:"LINGO_FROM_EMAIL"`
	BcryptCost     int           `mapstructure:"LINGO_BCRYPT_COST"`
	SessionTTL     time.Duration `mapstructure:"LINGO_SESSION_TTL"`
	SweepInterval  time.Duration `mapstructure:"LINGO_SWEEP_INTERVAL"`
	EmailTimeout   time.Duration `mapstructure:"LINGO_EMAIL_TIMEOUT"`
	MetricsEnabled bool          `mapstructure:"LINGO_METRICS_ENABLED"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("LINGO_PORT", "8080")
	v.SetDefault("LINGO_DB_DRIVER", "sqlite")
	v.SetDefault("LINGO_DB_DSN", "lingo.db")
	v.SetDefault("LINGO_BASE_URL", "http://localhost:8080")
	v.SetDefault("LINGO_LOG_LEVEL", "info")
	v.SetDefault("LINGO_LOG_FORMAT", "text")
	v.SetDefault("LINGO_POSTMARK_TOKEN", "")
	v.SetDefault("LINGO_FROM_EMAIL", "")
	v.SetDefault("LINGO_BCRYPT_COST", 10)
	v.SetDefault("LINGO_SESSION_TTL", "168h")
	v.SetDefault("LINGO_SWEEP_INTERVAL", "1h")
	v.SetDefault("LINGO_EMAIL_TIMEOUT", "10s")
	v.SetDefault("LINGO_METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return errors.New("config: LINGO_PORT must be set")
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		return fmt.Errorf("config: unsupported LINGO_DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("config: LINGO_DB_DSN must be set")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: LINGO_BCRYPT_COST must be between 4 and 31")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: LINGO_SESSION_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: LINGO_SWEEP_INTERVAL must be positive")
	}
	if c.EmailTimeout <= 0 {
		return errors.New("config: LINGO_EMAIL_TIMEOUT must be positive")
	}
	if c.PostmarkToken != "" && c.FromEmail == "" {
		return errors.New("config: LINGO_FROM_EMAIL must be set when LINGO_POSTMARK_TOKEN is")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
