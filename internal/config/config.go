// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Server holds HTTP listener settings.
type Server struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Database points at the sqlite store.
type Database struct {
	Path string `yaml:"path"`
}

// Gateway configures the Jupiter swap endpoint and the Solana RPC used
// for signing and sending transactions.
type Gateway struct {
	JupiterBase  string `yaml:"jupiter_base"`
	RPCURL       string `yaml:"rpc_url"`
	Commitment   string `yaml:"commitment"`
	SlippageBps  int    `yaml:"slippage_bps"`
	BaseMint     string `yaml:"base_mint"` // wrapped SOL
	TimeoutMs    int    `yaml:"timeout_ms"`
	SignerSecret string `yaml:"signer_secret"` // base58, normally via GATEWAY_SIGNER_SECRET
}

// Trading holds stake sizing and worker cadence knobs.
type Trading struct {
	MinStakeLamports   int64              `yaml:"min_stake_lamports"`
	RiskFractions      map[string]float64 `yaml:"risk_fractions"` // tier -> fraction of available balance
	TargetMultiple     float64            `yaml:"target_multiple"`
	ExecutorIntervalMs int                `yaml:"executor_interval_ms"`
	MonitorIntervalMs  int                `yaml:"monitor_interval_ms"`
	BatchSize          int                `yaml:"batch_size"`
}

// Settlement holds the lockup/fee schedule and payout workflow knobs.
type Settlement struct {
	FeeTiers           map[int]float64 `yaml:"fee_tiers"` // lockup days -> fee percent
	RequireApproval    bool            `yaml:"require_approval"`
	ReminderIntervalMs int             `yaml:"reminder_interval_ms"`
}

// Config is the root configuration document.
type Config struct {
	Server     Server     `yaml:"server"`
	Database   Database   `yaml:"database"`
	Gateway    Gateway    `yaml:"gateway"`
	Trading    Trading    `yaml:"trading"`
	Settlement Settlement `yaml:"settlement"`
}

// Default returns the configuration used when no file is supplied.
// The fee schedule and stake floor match the original deployment.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:      "8080",
			JWTSecret: "custody-secret-key",
		},
		Database: Database{Path: "custody.db"},
		Gateway: Gateway{
			JupiterBase: "https://quote-api.jup.ag",
			RPCURL:      "https://api.mainnet-beta.solana.com",
			Commitment:  "confirmed",
			SlippageBps: 150,
			BaseMint:    "So11111111111111111111111111111111111111112",
			TimeoutMs:   20000,
		},
		Trading: Trading{
			MinStakeLamports: 10_000_000, // 0.01 SOL
			RiskFractions: map[string]float64{
				"low":    0.05,
				"medium": 0.10,
				"high":   0.20,
			},
			TargetMultiple:     2.0,
			ExecutorIntervalMs: 4000,
			MonitorIntervalMs:  15000,
			BatchSize:          200,
		},
		Settlement: Settlement{
			FeeTiers:           map[int]float64{0: 20.0, 5: 15.0, 7: 10.0, 10: 5.0},
			RequireApproval:    false,
			ReminderIntervalMs: 300000,
		},
	}
}

// Load reads a YAML config file over the defaults. Environment variables
// PORT, DB_PATH and GATEWAY_SIGNER_SECRET override the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if secret := os.Getenv("GATEWAY_SIGNER_SECRET"); secret != "" {
		cfg.Gateway.SignerSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if _, ok := c.Settlement.FeeTiers[0]; !ok {
		return fmt.Errorf("fee tier table must contain a zero-day tier")
	}
	for days, pct := range c.Settlement.FeeTiers {
		if days < 0 || pct < 0 || pct > 100 {
			return fmt.Errorf("invalid fee tier %d:%f", days, pct)
		}
	}
	for tier, frac := range c.Trading.RiskFractions {
		if frac <= 0 || frac > 1 {
			return fmt.Errorf("risk fraction for tier %q out of range: %f", tier, frac)
		}
	}
	if c.Trading.MinStakeLamports <= 0 {
		return fmt.Errorf("minimum stake must be positive")
	}
	if c.Trading.TargetMultiple <= 1 {
		return fmt.Errorf("target multiple must exceed 1.0")
	}
	return nil
}

// FeeTier is one lockup/fee entry of the configured schedule.
type FeeTier struct {
	LockupDays int
	FeePercent float64
}

// SortedFeeTiers returns the fee schedule ascending by lockup duration,
// the order used for seeding and display.
func (s Settlement) SortedFeeTiers() []FeeTier {
	out := make([]FeeTier, 0, len(s.FeeTiers))
	for days, pct := range s.FeeTiers {
		out = append(out, FeeTier{LockupDays: days, FeePercent: pct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockupDays < out[j].LockupDays })
	return out
}
