// Package config defines the server configuration and converts its
// human-readable risk parameters into vault, cap and agent settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/amount"
	"github.com/atmx/safelend-vault/internal/caps"
	"github.com/atmx/safelend-vault/internal/ratemodel"
	"github.com/atmx/safelend-vault/internal/vault"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by SAFELEND_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Vault    VaultConfig    `toml:"vault"`
	Caps     CapsConfig     `toml:"caps"`
	Roles    RolesConfig    `toml:"roles"`
	Agent    AgentConfig    `toml:"agent"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Recorder RecorderConfig `toml:"recorder"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
}

// DatabaseConfig selects the PostgreSQL store. An empty URL means the
// in-memory store.
type DatabaseConfig struct {
	URL          string `toml:"url"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	RunMigration bool   `toml:"run_migration"`
}

// RedisConfig enables the read-through cache over PostgreSQL.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL duration `toml:"ttl"`
}

// VaultConfig holds the vault identity and its risk parameters. Ratios are
// decimal strings such as "0.75".
type VaultConfig struct {
	ID                   string          `toml:"id"`
	Account              string          `toml:"account"`
	Asset                string          `toml:"asset"`
	PeriodLength         duration        `toml:"period_length"`
	CollateralFactor     string          `toml:"collateral_factor"`
	LiquidationThreshold string          `toml:"liquidation_threshold"`
	LiquidationBonus     string          `toml:"liquidation_bonus"`
	ReserveFactor        string          `toml:"reserve_factor"`
	Oracle               string          `toml:"oracle"`
	LiquidationEnabled   bool            `toml:"liquidation_enabled"`
	PublicLiquidation    bool            `toml:"public_liquidation"`
	RateModel            RateModelConfig `toml:"rate_model"`
}

// RateModelConfig holds the kinked curve parameters as annual fractions.
type RateModelConfig struct {
	BaseRate       string `toml:"base_rate"`
	Multiplier     string `toml:"multiplier"`
	JumpMultiplier string `toml:"jump_multiplier"`
	Kink           string `toml:"kink"`
}

// CapsConfig holds optional borrow caps. Empty or "0" disables a cap.
type CapsConfig struct {
	MaxPerPosition  string `toml:"max_per_position"`
	MaxTotalBorrows string `toml:"max_total_borrows"`
	MaxUtilization  string `toml:"max_utilization"`
}

// RolesConfig lists the identities granted each capability at startup.
type RolesConfig struct {
	Administrators       []string `toml:"administrators"`
	LiquidationOperators []string `toml:"liquidation_operators"`
}

// AgentConfig configures the liquidation agent.
type AgentConfig struct {
	Enabled   bool   `toml:"enabled"`
	Account   string `toml:"account"`
	MinProfit string `toml:"min_profit"`
	Public    bool   `toml:"public"`
}

// KeeperConfig configures the background loop that scans for and executes
// liquidations through the agent.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Operator string   `toml:"operator"`
	Interval duration `toml:"interval"`
	// Rate and Burst bound liquidation attempts per second across scans.
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

// RecorderConfig sizes the asynchronous event recorder.
type RecorderConfig struct {
	Buffer int `toml:"buffer"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "15s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration: default risk parameters,
// in-memory store, agent enabled, keeper disabled.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: duration{5 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			PoolMaxConns: 10,
			RunMigration: true,
		},
		Redis: RedisConfig{
			TTL: duration{30 * time.Second},
		},
		Vault: VaultConfig{
			ID:                   "safelend-usdx",
			Account:              "vault",
			Asset:                "USDX",
			PeriodLength:         duration{ratemodel.PeriodLengthSeconds * time.Second},
			CollateralFactor:     "0.75",
			LiquidationThreshold: "0.80",
			LiquidationBonus:     "0.05",
			ReserveFactor:        "0.10",
			LiquidationEnabled:   true,
			RateModel: RateModelConfig{
				BaseRate:       "0.02",
				Multiplier:     "0.10",
				JumpMultiplier: "0.50",
				Kink:           "0.80",
			},
		},
		Roles: RolesConfig{
			Administrators: []string{"admin"},
		},
		Agent: AgentConfig{
			Enabled:   true,
			Account:   "liquidation-agent",
			MinProfit: "0",
		},
		Keeper: KeeperConfig{
			Operator: "keeper",
			Interval: duration{15 * time.Second},
			Rate:     5,
			Burst:    10,
		},
		Recorder: RecorderConfig{
			Buffer: 1024,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Vault.ID == "" || c.Vault.Account == "" {
		errs = append(errs, "vault.id and vault.account are required")
	}
	if c.Vault.PeriodLength.Duration <= 0 {
		errs = append(errs, "vault.period_length must be positive")
	}
	if _, err := c.VaultConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.BorrowLimiter(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, "redis.url requires database.url")
	}

	if c.Agent.Enabled {
		if c.Agent.Account == "" {
			errs = append(errs, "agent.account is required when the agent is enabled")
		}
		if c.Agent.Account == c.Vault.Account {
			errs = append(errs, "agent.account must differ from vault.account")
		}
		if len(c.Roles.Administrators) == 0 {
			errs = append(errs, "the agent needs at least one administrator to authorize the vault")
		}
		if _, err := c.AgentMinProfit(); err != nil {
			errs = append(errs, fmt.Sprintf("agent.min_profit: %v", err))
		}
	}
	if c.Keeper.Enabled {
		if !c.Agent.Enabled {
			errs = append(errs, "keeper requires the agent to be enabled")
		}
		if c.Keeper.Operator == "" {
			errs = append(errs, "keeper.operator is required")
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper.interval must be positive")
		}
		if c.Keeper.Rate <= 0 || c.Keeper.Burst <= 0 {
			errs = append(errs, "keeper.rate and keeper.burst must be positive")
		}
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// VaultConfig converts the vault section into a validated vault.Config.
func (c *Config) VaultConfig() (vault.Config, error) {
	v := c.Vault

	var (
		cfg                    vault.Config
		base, mult, jump, kink *uint256.Int
	)
	fractions := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"collateral_factor", v.CollateralFactor, &cfg.CollateralFactor},
		{"liquidation_threshold", v.LiquidationThreshold, &cfg.LiquidationThreshold},
		{"liquidation_bonus", v.LiquidationBonus, &cfg.LiquidationBonus},
		{"reserve_factor", v.ReserveFactor, &cfg.ReserveFactor},
		{"rate_model.base_rate", v.RateModel.BaseRate, &base},
		{"rate_model.multiplier", v.RateModel.Multiplier, &mult},
		{"rate_model.jump_multiplier", v.RateModel.JumpMultiplier, &jump},
		{"rate_model.kink", v.RateModel.Kink, &kink},
	}
	for _, f := range fractions {
		x, err := amount.ParseFraction(f.raw)
		if err != nil {
			return vault.Config{}, fmt.Errorf("vault.%s: %w", f.name, err)
		}
		*f.dst = x
	}

	rm, err := ratemodel.NewKinked(base, mult, jump, kink)
	if err != nil {
		return vault.Config{}, fmt.Errorf("vault.rate_model: %w", err)
	}
	cfg.RateModel = rm
	cfg.Oracle = v.Oracle
	cfg.LiquidationEnabled = v.LiquidationEnabled
	cfg.PublicLiquidation = v.PublicLiquidation

	if err := cfg.Validate(); err != nil {
		return vault.Config{}, err
	}
	return cfg, nil
}

// BorrowLimiter builds the borrow caps, or nil when every cap is disabled.
func (c *Config) BorrowLimiter() (*caps.BorrowLimiter, error) {
	perPosition, err := optionalAmount(c.Caps.MaxPerPosition)
	if err != nil {
		return nil, fmt.Errorf("caps.max_per_position: %w", err)
	}
	total, err := optionalAmount(c.Caps.MaxTotalBorrows)
	if err != nil {
		return nil, fmt.Errorf("caps.max_total_borrows: %w", err)
	}
	var utilization *uint256.Int
	if c.Caps.MaxUtilization != "" {
		utilization, err = amount.ParseFraction(c.Caps.MaxUtilization)
		if err != nil {
			return nil, fmt.Errorf("caps.max_utilization: %w", err)
		}
	}

	if isUnset(perPosition) && isUnset(total) && isUnset(utilization) {
		return nil, nil
	}
	return caps.NewBorrowLimiter(perPosition, total, utilization), nil
}

// AgentMinProfit parses agent.min_profit. Empty means zero.
func (c *Config) AgentMinProfit() (*uint256.Int, error) {
	if c.Agent.MinProfit == "" {
		return new(uint256.Int), nil
	}
	return amount.Parse(c.Agent.MinProfit)
}

// SlogLevel maps log_level to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func optionalAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return amount.Parse(s)
}

func isUnset(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}
