package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRequiresZeroDayTier(t *testing.T) {
	cfg := Default()
	delete(cfg.Settlement.FeeTiers, 0)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure without zero-day tier")
	}
}

func TestValidateRejectsBadFraction(t *testing.T) {
	cfg := Default()
	cfg.Trading.RiskFractions["medium"] = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure for fraction above 1")
	}
}

func TestValidateRejectsLowMultiple(t *testing.T) {
	cfg := Default()
	cfg.Trading.TargetMultiple = 1.0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure for multiple of 1.0")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
trading:
  min_stake_lamports: 20000000
settlement:
  fee_tiers:
    0: 25.0
    14: 2.5
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port override lost: %s", cfg.Server.Port)
	}
	if cfg.Trading.MinStakeLamports != 20_000_000 {
		t.Fatalf("stake override lost: %d", cfg.Trading.MinStakeLamports)
	}
	if cfg.Settlement.FeeTiers[14] != 2.5 {
		t.Fatalf("fee tier override lost: %+v", cfg.Settlement.FeeTiers)
	}
	// Untouched sections keep their defaults.
	if cfg.Gateway.BaseMint == "" {
		t.Fatalf("defaults dropped by partial file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DB_PATH", "/tmp/override.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("PORT env ignored: %s", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Fatalf("DB_PATH env ignored: %s", cfg.Database.Path)
	}
}

func TestSortedFeeTiersAscending(t *testing.T) {
	tiers := Default().Settlement.SortedFeeTiers()
	if len(tiers) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(tiers))
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].LockupDays <= tiers[i-1].LockupDays {
			t.Fatalf("tiers not sorted: %+v", tiers)
		}
	}
	if tiers[0].LockupDays != 0 || tiers[0].FeePercent != 20.0 {
		t.Fatalf("unexpected first tier: %+v", tiers[0])
	}
}
