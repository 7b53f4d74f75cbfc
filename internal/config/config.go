// Package config loads the passvault server configuration from a YAML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" validate:"required,oneof=postgres sqlite"`
	// URL is a postgres connection string or a sqlite file path.
	URL string `yaml:"url" validate:"required"`
	// MigrationsDir overrides the embedded postgres migrations when set.
	MigrationsDir string `yaml:"migrations_dir"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// Config is the full server configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr" validate:"required"`
	TLSCertFile string `yaml:"tls_cert" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key" validate:"required_with=TLSCertFile"`

	Database DatabaseConfig `yaml:"database"`

	// EncryptionKey is the base64 field encryption key.
	EncryptionKey string `yaml:"encryption_key" validate:"required"`

	AuditRepeatWindow time.Duration `yaml:"audit_repeat_window" validate:"gte=0"`
	PageSize          int           `yaml:"page_size" validate:"gte=1,lte=1000"`
	RequireTwoFactor  bool          `yaml:"require_two_factor"`
	MaxFileSize       int64         `yaml:"max_file_size" validate:"gte=0"`
	TokenTTL          time.Duration `yaml:"token_ttl" validate:"gte=0"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	LogLevel  string          `yaml:"log_level" validate:"oneof=trace debug info warn error"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8200",
		Database: DatabaseConfig{
			Driver: "sqlite",
			URL:    "passvault.db",
		},
		AuditRepeatWindow: 12 * time.Hour,
		PageSize:          25,
		RequireTwoFactor:  true,
		MaxFileSize:       10 << 20,
		TokenTTL:          8 * time.Hour,
		RateLimit:         RateLimitConfig{RPS: 10, Burst: 20},
		LogLevel:          "info",
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. A missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	default:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Path returns the config file location, honoring PASSVAULT_CONFIG.
func Path() string {
	if v := os.Getenv("PASSVAULT_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PASSVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PASSVAULT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PASSVAULT_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("PASSVAULT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PASSVAULT_REQUIRE_TWO_FACTOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PASSVAULT_REQUIRE_TWO_FACTOR: %w", err)
		}
		cfg.RequireTwoFactor = b
	}
	if v := os.Getenv("PASSVAULT_AUDIT_REPEAT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PASSVAULT_AUDIT_REPEAT_WINDOW: %w", err)
		}
		cfg.AuditRepeatWindow = d
	}
	return nil
}

// Level returns the configured zerolog level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
