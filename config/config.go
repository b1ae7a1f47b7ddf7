// Package config loads engine configuration from a YAML file plus
// environment variables. Struct-tag defaults fill anything the file omits;
// credentials only ever come from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"perpenginev1/internal/advisor"
	"perpenginev1/internal/dashboard"
	"perpenginev1/internal/exchange"
	"perpenginev1/internal/feed"
	"perpenginev1/internal/mmaker"
	"perpenginev1/internal/notification"
	"perpenginev1/internal/risk"
	"perpenginev1/internal/scorer"
)

// LoopConfig tunes the fixed-cadence decision loop.
type LoopConfig struct {
	Interval       time.Duration `yaml:"interval" default:"5s" validate:"gt=0"`
	CandleInterval string        `yaml:"candle_interval" default:"5"`
	MTFInterval    string        `yaml:"mtf_interval" default:"60"` // slower frame for the trend label
	HistoryLimit   int           `yaml:"history_limit" default:"200" validate:"gte=50"`
	TickBuffer     int           `yaml:"tick_buffer" default:"1024"`
}

// VenueConfig holds venue endpoints and credentials. API key and secret are
// read from VENUE_API_KEY / VENUE_API_SECRET, never from the YAML file.
type VenueConfig struct {
	BaseURL      string `yaml:"base_url" default:"https://api.bybit.com"`
	APIKey       string `yaml:"-"`
	APISecret    string `yaml:"-"`
	RecvWindowMs int    `yaml:"recv_window_ms" default:"5000" validate:"gt=0"`
}

// Config is the full engine configuration tree.
type Config struct {
	Mode   string `yaml:"mode" default:"sim" validate:"oneof=sim live"`
	Symbol string `yaml:"symbol" default:"BTCUSDT" validate:"required"`

	LogLevel   string `yaml:"log_level" default:"info"`
	LogConsole bool   `yaml:"log_console" default:"false"`

	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	SQLitePath  string `yaml:"sqlite_path" default:"data/journal.db"`

	MakerEnabled bool `yaml:"maker_enabled" default:"false"`

	Loop  LoopConfig  `yaml:"loop"`
	Venue VenueConfig `yaml:"venue"`

	Stream    feed.StreamConfig   `yaml:"stream"`
	Backfill  feed.BackfillConfig `yaml:"backfill"`
	Exchange  exchange.Config     `yaml:"exchange"`
	Sim       exchange.SimConfig  `yaml:"sim"`
	Maker     mmaker.Config       `yaml:"maker"`
	Risk      risk.Limits         `yaml:"risk"`
	Weights   scorer.Weights      `yaml:"weights"`
	Advisor   advisor.Config      `yaml:"advisor"`
	Dashboard dashboard.Config    `yaml:"dashboard"`
	Notify    notification.Config `yaml:"notify"`
}

// Load reads the YAML file at path (empty path skips the file and uses
// defaults), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// .env is a local development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Risk:    risk.DefaultLimits(),
		Weights: scorer.DefaultWeights(),
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.propagate()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv pulls secrets and operational overrides from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		c.Venue.APIKey = v
	}
	if v := os.Getenv("VENUE_API_SECRET"); v != "" {
		c.Venue.APISecret = v
	}
	if v := os.Getenv("ADVISOR_API_KEY"); v != "" {
		c.Advisor.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Dashboard.RedisAddr = v
	}
	if v := os.Getenv("ENGINE_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("ENGINE_SYMBOL"); v != "" {
		c.Symbol = v
	}
}

// propagate pushes shared top-level settings into sub-configs that carry
// their own copy.
func (c *Config) propagate() {
	if c.Stream.Symbol == "" {
		c.Stream.Symbol = c.Symbol
	}
	if c.Maker.Symbol == "" {
		c.Maker.Symbol = c.Symbol
	}
	if c.Backfill.BaseURL == "" {
		c.Backfill.BaseURL = c.Venue.BaseURL
	}
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validate: %w", err)
	}
	if c.Mode == "live" {
		if c.Venue.APIKey == "" || c.Venue.APISecret == "" {
			return fmt.Errorf("config validate: live mode requires VENUE_API_KEY and VENUE_API_SECRET")
		}
		if c.Stream.URL == "" {
			return fmt.Errorf("config validate: live mode requires stream.url")
		}
	}
	if c.Advisor.Enabled && c.Advisor.Endpoint == "" {
		return fmt.Errorf("config validate: advisor enabled without endpoint")
	}
	if c.Maker.MinSpreadBps > c.Maker.MaxSpreadBps {
		return fmt.Errorf("config validate: maker min spread %.2f above max %.2f",
			c.Maker.MinSpreadBps, c.Maker.MaxSpreadBps)
	}
	return nil
}
