package quotarelay

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "QUOTARELAY_"

// Ledger drivers understood by hosts.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the deployment-time relay configuration. It is copied into the
// Dispatcher and never changes afterwards.
type Config struct {
	MaxCalls       uint32 `yaml:"max_calls" env:"MAX_CALLS"`
	SessionLength  uint64 `yaml:"session_length" env:"SESSION_LENGTH"`
	EmitDenyEvents bool   `yaml:"emit_deny_events" env:"EMIT_DENY_EVENTS"`

	// Fees is nil when no schedule is configured; DefaultFeeSchedule applies.
	// An explicit all-zero schedule is honoured.
	Fees *FeeSchedule `yaml:"fees" envPrefix:"FEES_"`

	Ledger   LedgerConfig   `yaml:"ledger" envPrefix:"LEDGER_"`
	Identity IdentityConfig `yaml:"identity" envPrefix:"IDENTITY_"`
	Listen   string         `yaml:"listen" env:"LISTEN"`
}

// LedgerConfig selects the QuotaLedger backend.
type LedgerConfig struct {
	Driver    string `yaml:"driver" env:"DRIVER"`
	DSN       string `yaml:"dsn" env:"DSN"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// IdentityConfig configures signed-origin verification at the entry point.
type IdentityConfig struct {
	Prefix  string        `yaml:"prefix" env:"PREFIX"`
	MaxSkew time.Duration `yaml:"max_skew" env:"MAX_SKEW"`
}

// DefaultConfig returns a config with every optional field populated.
// MaxCalls and SessionLength have no defaults.
func DefaultConfig() Config {
	fees := DefaultFeeSchedule()
	return Config{
		Fees:     &fees,
		Ledger:   LedgerConfig{Driver: DriverMemory},
		Identity: IdentityConfig{Prefix: "relay", MaxSkew: 5 * time.Minute},
		Listen:   ":8080",
	}
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing,
// then QUOTARELAY_* variables override individual fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quotarelay: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("quotarelay: parse config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("quotarelay: parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.SessionLength == 0 {
		return fmt.Errorf("%w: session_length must be greater than zero", ErrConfiguration)
	}

	switch c.Ledger.Driver {
	case "", DriverMemory:
	case DriverRedis, DriverPostgres, DriverSQLite:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: ledger: dsn is required for driver %q", ErrConfiguration, c.Ledger.Driver)
		}
	default:
		return fmt.Errorf("%w: ledger: unknown driver %q", ErrConfiguration, c.Ledger.Driver)
	}

	if c.Identity.MaxSkew < 0 {
		return fmt.Errorf("%w: identity: max_skew must not be negative", ErrConfiguration)
	}

	return nil
}

// feeSchedule returns the configured schedule or the default one.
func (c Config) feeSchedule() FeeSchedule {
	if c.Fees == nil {
		return DefaultFeeSchedule()
	}
	return *c.Fees
}
