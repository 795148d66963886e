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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Formance FormanceConfig
	Oracle   OracleConfig
	Lending  LendingConfig
	Reserve  ReserveConfig
	Harvest  HarvestConfig
	Settler  SettlerConfig
	Log      LogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig selects the transfer backend
type LedgerConfig struct {
	Backend         string // "sqlite" or "formance"
	TransferTimeout time.Duration
	AssetsFile      string
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// OracleConfig holds price feed settings
type OracleConfig struct {
	URL        string
	RetryMax   int
	RetryDelay time.Duration
	CacheTTL   time.Duration
}

// LendingConfig holds the lending pool risk parameters, all in percent
type LendingConfig struct {
	CollateralizationRatio int64
	LiquidationThreshold   int64
	InterestRate           int64
}

// ReserveConfig holds revenue reserve guards
type ReserveConfig struct {
	DistributionCooldown time.Duration
	MinDistribution      decimal.Decimal
	MaxDistribution      decimal.Decimal
	MaxBatchSize         int
	MaxSubBatchSize      int
}

// HarvestConfig holds harvest validation and split settings
type HarvestConfig struct {
	MinSpacing     time.Duration
	MaxStaleness   time.Duration
	FarmerShareBps int64
	SubBatchSize   int
}

// SettlerConfig holds settlement worker settings
type SettlerConfig struct {
	PollingInterval time.Duration
	SettleDelay     time.Duration
	MaxAttempts     int // payout attempts before the settler stops retrying
	MetricsAddr     string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}
