// Package config loads the service configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/auth"
	"github.com/thereal-baitjet/Stream-Slicer/internal/gemini"
	"github.com/thereal-baitjet/Stream-Slicer/internal/payments"
	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
	"github.com/thereal-baitjet/Stream-Slicer/internal/session"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store"
	"github.com/thereal-baitjet/Stream-Slicer/internal/upload"
)

const DefaultPath = "stream-slicer.toml"

type Config struct {
	Server   ServerConfig    `toml:"server"`
	Auth     auth.Config     `toml:"auth"`
	Store    store.Config    `toml:"store"`
	Gemini   gemini.Config   `toml:"gemini"`
	Analysis AnalysisConfig  `toml:"analysis"`
	Pricing  pricing.Rates   `toml:"pricing"`
	Payments payments.Config `toml:"payments"`
}

type ServerConfig struct {
	Port            string        `toml:"port"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	UploadDir       string        `toml:"upload_dir"`
	MaxUploadBytes  int64         `toml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	JanitorInterval time.Duration `toml:"janitor_interval"`
}

// AnalysisConfig groups polling bounds with the per-session run limits.
type AnalysisConfig struct {
	analysis.PollConfig
	session.Config
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			AllowedOrigins:  []string{"http://localhost:3000"},
			UploadDir:       filepath.Join(os.TempDir(), "stream-slicer"),
			MaxUploadBytes:  upload.DefaultMaxBytes,
			ShutdownTimeout: 30 * time.Second,
			JanitorInterval: time.Minute,
		},
		Auth:   auth.DefaultConfig(),
		Store:  store.Config{Driver: store.DriverMemory},
		Gemini: gemini.DefaultConfig(),
		Analysis: AnalysisConfig{
			PollConfig: analysis.DefaultPollConfig(),
			Config:     session.DefaultConfig(),
		},
		Pricing:  pricing.DefaultRates(),
		Payments: payments.Config{Tolerance: 5 * time.Minute},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

// Path picks the config file: the flag wins over CONFIG_PATH.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Server.Port, "PORT")
	set(&cfg.Server.UploadDir, "UPLOAD_DIR")
	set(&cfg.Store.Driver, "STORE_DRIVER")
	set(&cfg.Store.DSN, "DATABASE_URL")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET")
	set(&cfg.Gemini.APIKey, "GEMINI_API_KEY", "API_KEY")
	set(&cfg.Payments.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	// A bare DATABASE_URL, as hosting platforms inject it, implies postgres.
	if getenv("STORE_DRIVER") == "" && cfg.Store.Driver == store.DriverMemory &&
		strings.HasPrefix(cfg.Store.DSN, "postgres") {
		cfg.Store.Driver = store.DriverPostgres
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverPostgres, store.DriverSQLite, store.DriverMongo:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, sqlite, mongo, memory", c.Store.Driver))
	}
	if err := c.Pricing.Validate(); err != nil {
		errs = append(errs, err)
	}
	a := c.Analysis
	if a.Interval <= 0 || a.MaxWait <= 0 || a.InitialDelay < 0 {
		errs = append(errs, errors.New("analysis poll intervals must be positive"))
	}
	if a.TrialMaxBytes <= 0 || a.TrialMaxBytes > c.Server.MaxUploadBytes {
		errs = append(errs, errors.New("analysis.trial_max_bytes must be positive and within server.max_upload_bytes"))
	}
	return errors.Join(errs...)
}
