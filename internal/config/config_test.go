package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LEDGER_BACKEND", "DATABASE_PATH", "DISTRIBUTION_COOLDOWN", "LENDING_COLLATERALIZATION_RATIO", "HARVEST_FARMER_SHARE_BPS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Ledger.Backend != "sqlite" {
		t.Errorf("Ledger.Backend = %q, want sqlite", cfg.Ledger.Backend)
	}
	if cfg.Database.Path != "grove-ledger.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
	if cfg.Lending.CollateralizationRatio != 125 || cfg.Lending.LiquidationThreshold != 90 || cfg.Lending.InterestRate != 10 {
		t.Errorf("Lending = %+v, want 125/90/10", cfg.Lending)
	}
	if cfg.Reserve.DistributionCooldown != time.Hour {
		t.Errorf("DistributionCooldown = %v, want 1h", cfg.Reserve.DistributionCooldown)
	}
	if cfg.Reserve.MaxBatchSize != 100 || cfg.Reserve.MaxSubBatchSize != 50 {
		t.Errorf("batch sizes = %d/%d, want 100/50", cfg.Reserve.MaxBatchSize, cfg.Reserve.MaxSubBatchSize)
	}
	if cfg.Harvest.MinSpacing != 7*24*time.Hour {
		t.Errorf("Harvest.MinSpacing = %v, want 168h", cfg.Harvest.MinSpacing)
	}
	if cfg.Harvest.MaxStaleness != 365*24*time.Hour {
		t.Errorf("Harvest.MaxStaleness = %v, want 8760h", cfg.Harvest.MaxStaleness)
	}
	if cfg.Harvest.FarmerShareBps != 3000 {
		t.Errorf("Harvest.FarmerShareBps = %d, want 3000", cfg.Harvest.FarmerShareBps)
	}
	if !cfg.Reserve.MinDistribution.Equal(decimal.NewFromInt(1)) {
		t.Errorf("MinDistribution = %s, want 1", cfg.Reserve.MinDistribution)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "FORMANCE")
	t.Setenv("TRANSFER_TIMEOUT", "3s")
	t.Setenv("MAX_DISTRIBUTION", "5000")
	t.Setenv("HARVEST_SUB_BATCH_SIZE", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Ledger.Backend != "formance" {
		t.Errorf("Ledger.Backend = %q, want formance", cfg.Ledger.Backend)
	}
	if cfg.Ledger.TransferTimeout != 3*time.Second {
		t.Errorf("TransferTimeout = %v, want 3s", cfg.Ledger.TransferTimeout)
	}
	if !cfg.Reserve.MaxDistribution.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("MaxDistribution = %s, want 5000", cfg.Reserve.MaxDistribution)
	}
	if cfg.Harvest.SubBatchSize != 10 {
		t.Errorf("SubBatchSize = %d, want 10", cfg.Harvest.SubBatchSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown backend", "LEDGER_BACKEND", "postgres"},
		{"bad duration", "TRANSFER_TIMEOUT", "soon"},
		{"bad decimal", "MIN_DISTRIBUTION", "one"},
		{"under-collateralized", "LENDING_COLLATERALIZATION_RATIO", "80"},
		{"farmer share over 100%", "HARVEST_FARMER_SHARE_BPS", "12000"},
		{"sub-batch above cap", "HARVEST_SUB_BATCH_SIZE", "75"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q succeeded, want error", tt.key, tt.value)
			}
		})
	}
}
