package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) on top of
// the built-in defaults, loads .env if present, then applies environment
// overrides. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads SAFELEND_* variables, plus the bare PORT,
// DATABASE_URL and REDIS_URL that container platforms inject. The
// SAFELEND_* form wins when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Platform fallbacks ──
	setInt(&cfg.Server.Port, "PORT")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")

	// ── Server ──
	setInt(&cfg.Server.Port, "SAFELEND_SERVER_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "SAFELEND_SERVER_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "SAFELEND_SERVER_REQUEST_TIMEOUT")

	// ── Storage ──
	setStr(&cfg.Database.URL, "SAFELEND_DATABASE_URL")
	setInt(&cfg.Database.PoolMaxConns, "SAFELEND_DATABASE_POOL_MAX_CONNS")
	setBool(&cfg.Database.RunMigration, "SAFELEND_DATABASE_RUN_MIGRATION")
	setStr(&cfg.Redis.URL, "SAFELEND_REDIS_URL")
	setDuration(&cfg.Redis.TTL, "SAFELEND_REDIS_TTL")

	// ── Vault ──
	setStr(&cfg.Vault.ID, "SAFELEND_VAULT_ID")
	setStr(&cfg.Vault.Account, "SAFELEND_VAULT_ACCOUNT")
	setStr(&cfg.Vault.Asset, "SAFELEND_VAULT_ASSET")
	setDuration(&cfg.Vault.PeriodLength, "SAFELEND_VAULT_PERIOD_LENGTH")
	setStr(&cfg.Vault.CollateralFactor, "SAFELEND_VAULT_COLLATERAL_FACTOR")
	setStr(&cfg.Vault.LiquidationThreshold, "SAFELEND_VAULT_LIQUIDATION_THRESHOLD")
	setStr(&cfg.Vault.LiquidationBonus, "SAFELEND_VAULT_LIQUIDATION_BONUS")
	setStr(&cfg.Vault.ReserveFactor, "SAFELEND_VAULT_RESERVE_FACTOR")
	setBool(&cfg.Vault.LiquidationEnabled, "SAFELEND_VAULT_LIQUIDATION_ENABLED")
	setBool(&cfg.Vault.PublicLiquidation, "SAFELEND_VAULT_PUBLIC_LIQUIDATION")

	// ── Caps ──
	setStr(&cfg.Caps.MaxPerPosition, "SAFELEND_CAPS_MAX_PER_POSITION")
	setStr(&cfg.Caps.MaxTotalBorrows, "SAFELEND_CAPS_MAX_TOTAL_BORROWS")
	setStr(&cfg.Caps.MaxUtilization, "SAFELEND_CAPS_MAX_UTILIZATION")

	// ── Roles ──
	setStringSlice(&cfg.Roles.Administrators, "SAFELEND_ROLES_ADMINISTRATORS")
	setStringSlice(&cfg.Roles.LiquidationOperators, "SAFELEND_ROLES_LIQUIDATION_OPERATORS")

	// ── Agent / keeper ──
	setBool(&cfg.Agent.Enabled, "SAFELEND_AGENT_ENABLED")
	setStr(&cfg.Agent.Account, "SAFELEND_AGENT_ACCOUNT")
	setStr(&cfg.Agent.MinProfit, "SAFELEND_AGENT_MIN_PROFIT")
	setBool(&cfg.Agent.Public, "SAFELEND_AGENT_PUBLIC")
	setBool(&cfg.Keeper.Enabled, "SAFELEND_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Operator, "SAFELEND_KEEPER_OPERATOR")
	setDuration(&cfg.Keeper.Interval, "SAFELEND_KEEPER_INTERVAL")
	setFloat64(&cfg.Keeper.Rate, "SAFELEND_KEEPER_RATE")
	setInt(&cfg.Keeper.Burst, "SAFELEND_KEEPER_BURST")

	// ── Top-level ──
	setInt(&cfg.Recorder.Buffer, "SAFELEND_RECORDER_BUFFER")
	setStr(&cfg.LogLevel, "SAFELEND_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
