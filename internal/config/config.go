/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"grove-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	transferTimeout, err := getEnvDuration("TRANSFER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	oracleRetryDelay, err := getEnvDuration("ORACLE_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}
	oracleCacheTTL, err := getEnvDuration("ORACLE_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cooldown, err := getEnvDuration("DISTRIBUTION_COOLDOWN", time.Hour)
	if err != nil {
		return nil, err
	}
	minSpacing, err := getEnvDuration("HARVEST_MIN_SPACING", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	maxStaleness, err := getEnvDuration("HARVEST_MAX_STALENESS", 365*24*time.Hour)
	if err != nil {
		return nil, err
	}
	pollingInterval, err := getEnvDuration("SETTLER_POLLING_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	settleDelay, err := getEnvDuration("SETTLER_SETTLE_DELAY", 0)
	if err != nil {
		return nil, err
	}
	minDistribution, err := getEnvDecimal("MIN_DISTRIBUTION", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	maxDistribution, err := getEnvDecimal("MAX_DISTRIBUTION", decimal.NewFromInt(1_000_000_000_000))
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnvString("LEDGER_BACKEND", "sqlite"))
	if backend != "sqlite" && backend != "formance" {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: expected sqlite or formance", backend)
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "grove-ledger.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			Backend:         backend,
			TransferTimeout: transferTimeout,
			AssetsFile:      getEnvString("ASSETS_FILE", "assets.yaml"),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "grove-ledger"),
		},
		Oracle: models.OracleConfig{
			URL:        getEnvString("ORACLE_URL", ""),
			RetryMax:   getEnvInt("ORACLE_RETRY_MAX", 3),
			RetryDelay: oracleRetryDelay,
			CacheTTL:   oracleCacheTTL,
		},
		Lending: models.LendingConfig{
			CollateralizationRatio: int64(getEnvInt("LENDING_COLLATERALIZATION_RATIO", 125)),
			LiquidationThreshold:   int64(getEnvInt("LENDING_LIQUIDATION_THRESHOLD", 90)),
			InterestRate:           int64(getEnvInt("LENDING_INTEREST_RATE", 10)),
		},
		Reserve: models.ReserveConfig{
			DistributionCooldown: cooldown,
			MinDistribution:      minDistribution,
			MaxDistribution:      maxDistribution,
			MaxBatchSize:         getEnvInt("RESERVE_MAX_BATCH_SIZE", 100),
			MaxSubBatchSize:      getEnvInt("RESERVE_MAX_SUB_BATCH_SIZE", 50),
		},
		Harvest: models.HarvestConfig{
			MinSpacing:     minSpacing,
			MaxStaleness:   maxStaleness,
			FarmerShareBps: int64(getEnvInt("HARVEST_FARMER_SHARE_BPS", 3000)),
			SubBatchSize:   getEnvInt("HARVEST_SUB_BATCH_SIZE", 50),
		},
		Settler: models.SettlerConfig{
			PollingInterval: pollingInterval,
			SettleDelay:     settleDelay,
			MaxAttempts:     getEnvInt("SETTLER_MAX_ATTEMPTS", 5),
			MetricsAddr:     getEnvString("METRICS_ADDR", ":9102"),
		},
		Log: models.LogConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			File:       getEnvString("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	if cfg.Lending.CollateralizationRatio < 100 {
		return fmt.Errorf("collateralization ratio must be at least 100, got %d", cfg.Lending.CollateralizationRatio)
	}
	if cfg.Lending.LiquidationThreshold <= 0 || cfg.Lending.LiquidationThreshold > 100 {
		return fmt.Errorf("liquidation threshold must be in (0, 100], got %d", cfg.Lending.LiquidationThreshold)
	}
	if cfg.Lending.InterestRate < 0 {
		return fmt.Errorf("interest rate cannot be negative, got %d", cfg.Lending.InterestRate)
	}
	if cfg.Reserve.MaxBatchSize <= 0 || cfg.Reserve.MaxSubBatchSize <= 0 {
		return fmt.Errorf("reserve batch sizes must be positive")
	}
	if cfg.Reserve.MinDistribution.GreaterThan(cfg.Reserve.MaxDistribution) {
		return fmt.Errorf("MIN_DISTRIBUTION %s exceeds MAX_DISTRIBUTION %s",
			cfg.Reserve.MinDistribution, cfg.Reserve.MaxDistribution)
	}
	if cfg.Harvest.FarmerShareBps < 0 || cfg.Harvest.FarmerShareBps > 10_000 {
		return fmt.Errorf("farmer share must be within 0..10000 bps, got %d", cfg.Harvest.FarmerShareBps)
	}
	if cfg.Harvest.SubBatchSize <= 0 || cfg.Harvest.SubBatchSize > cfg.Reserve.MaxSubBatchSize {
		return fmt.Errorf("harvest sub-batch size must be within 1..%d, got %d",
			cfg.Reserve.MaxSubBatchSize, cfg.Harvest.SubBatchSize)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
