package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Venue     VenueConfig     `yaml:"venue"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig controls batch sizing and tick parallelism.
type EngineConfig struct {
	TrustToken string `yaml:"trust_token"` // override with SCHEDULER_TRUST_TOKEN
	BatchLimit int    `yaml:"batch_limit"`
	Workers    int    `yaml:"workers"`

	// MinSyncAgeSeconds keeps the sync sweep from polling orders placed
	// moments ago.
	MinSyncAgeSeconds int `yaml:"min_sync_age_seconds"`
}

// VenueConfig holds the order-matching venue endpoint and credentials.
type VenueConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"` // override with VENUE_API_KEY
}

// LedgerConfig controls capital accounting behavior.
type LedgerConfig struct {
	CASRetries      int `yaml:"cas_retries"`
	CooldownMinutes int `yaml:"cooldown_minutes"`
}

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"` // 0.20 = 20%
}

// SchedulerConfig holds the tick intervals in seconds.
type SchedulerConfig struct {
	SyncSeconds    int `yaml:"sync_seconds"`
	ExecuteSeconds int `yaml:"execute_seconds"`
	ResolveSeconds int `yaml:"resolve_seconds"`
	RedeemSeconds  int `yaml:"redeem_seconds"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls the logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and overlays any .env file present. Environment
// variables win over YAML for the secrets they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// MinSyncAge returns the sync age floor as a time.Duration.
func (c *Config) MinSyncAge() time.Duration {
	return time.Duration(c.Engine.MinSyncAgeSeconds) * time.Second
}

// CooldownPeriod returns the proceeds maturation period.
func (c *Config) CooldownPeriod() time.Duration {
	return time.Duration(c.Ledger.CooldownMinutes) * time.Minute
}

// SyncInterval returns the order-sync tick period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Scheduler.SyncSeconds) * time.Second
}

// ExecuteInterval returns the signal-execution tick period.
func (c *Config) ExecuteInterval() time.Duration {
	return time.Duration(c.Scheduler.ExecuteSeconds) * time.Second
}

// ResolveInterval returns the market-resolution tick period.
func (c *Config) ResolveInterval() time.Duration {
	return time.Duration(c.Scheduler.ResolveSeconds) * time.Second
}

// RedeemInterval returns the redemption-sweep tick period.
func (c *Config) RedeemInterval() time.Duration {
	return time.Duration(c.Scheduler.RedeemSeconds) * time.Second
}

// applyEnvOverrides overlays environment variables where present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCHEDULER_TRUST_TOKEN"); v != "" {
		cfg.Engine.TrustToken = v
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills required values that are missing or out of range.
func setDefaults(cfg *Config) {
	if cfg.Engine.BatchLimit < 0 {
		cfg.Engine.BatchLimit = 0
	}
	if cfg.Engine.MinSyncAgeSeconds <= 0 {
		cfg.Engine.MinSyncAgeSeconds = 30
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://clob.polymarket.com"
	}
	if cfg.Ledger.CASRetries <= 0 {
		cfg.Ledger.CASRetries = 3
	}
	if cfg.Ledger.CooldownMinutes <= 0 {
		cfg.Ledger.CooldownMinutes = 30
	}
	if cfg.Breaker.MaxConsecutiveLosses <= 0 {
		cfg.Breaker.MaxConsecutiveLosses = 3
	}
	if cfg.Breaker.MaxDrawdownPct <= 0 {
		cfg.Breaker.MaxDrawdownPct = 0.20
	}
	if cfg.Scheduler.SyncSeconds <= 0 {
		cfg.Scheduler.SyncSeconds = 60
	}
	if cfg.Scheduler.ExecuteSeconds <= 0 {
		cfg.Scheduler.ExecuteSeconds = 120
	}
	if cfg.Scheduler.ResolveSeconds <= 0 {
		cfg.Scheduler.ResolveSeconds = 600
	}
	if cfg.Scheduler.RedeemSeconds <= 0 {
		cfg.Scheduler.RedeemSeconds = 600
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "mirrorbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
