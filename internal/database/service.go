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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time checks: *Service is the persistence boundary for every engine.
var (
	_ store.PoolStore    = (*Service)(nil)
	_ store.ReserveStore = (*Service)(nil)
	_ store.HarvestStore = (*Service)(nil)
	_ store.HoldingStore = (*Service)(nil)
)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// An in-memory database exists per connection, so pin it to one.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
		cfg.ConnMaxIdleTime = 0
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	// Initialize subledger schema
	if err := subledger.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// Subledger returns the SQLite-backed transfer ledger sharing this database.
func (s *Service) Subledger() *SubledgerService {
	return s.subledger
}

// HealthCheck verifies the database answers queries.
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Lending pools (one row per pool asset)
	CREATE TABLE IF NOT EXISTS pools (
		asset TEXT PRIMARY KEY,
		total_liquidity TEXT NOT NULL DEFAULT '0',
		available_liquidity TEXT NOT NULL DEFAULT '0',
		total_borrowed TEXT NOT NULL DEFAULT '0',
		total_lp_supply TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS liquidity_positions (
		asset TEXT NOT NULL REFERENCES pools(asset),
		provider TEXT NOT NULL,
		amount_provided TEXT NOT NULL DEFAULT '0',
		lp_share_balance TEXT NOT NULL DEFAULT '0',
		accrued_interest TEXT NOT NULL DEFAULT '0',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (asset, provider)
	);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		asset TEXT NOT NULL REFERENCES pools(asset),
		borrower TEXT NOT NULL,
		principal TEXT NOT NULL,
		collateral_amount TEXT NOT NULL,
		liquidation_price TEXT NOT NULL,
		repay_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_loans_asset_borrower ON loans(asset, borrower);
	-- At most one active loan per borrower per pool
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_borrower ON loans(asset, borrower) WHERE status = 'active';

	-- Revenue reserves (one row per grove asset)
	CREATE TABLE IF NOT EXISTS reserves (
		asset TEXT PRIMARY KEY,
		total_reserve TEXT NOT NULL DEFAULT '0',
		total_distributed TEXT NOT NULL DEFAULT '0',
		farmer_withdrawn TEXT NOT NULL DEFAULT '0',
		last_distribution TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS distributions (
		id TEXT PRIMARY KEY,
		asset TEXT NOT NULL,
		total_revenue TEXT NOT NULL,
		total_token_supply TEXT NOT NULL,
		holder_count INTEGER NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_distributions_asset ON distributions(asset, created_at);

	-- Append-only payout log keyed by (distribution_id, holder_index)
	CREATE TABLE IF NOT EXISTS distribution_payouts (
		distribution_id TEXT NOT NULL REFERENCES distributions(id),
		holder_index INTEGER NOT NULL,
		holder TEXT NOT NULL,
		token_amount TEXT NOT NULL,
		share TEXT NOT NULL,
		claimed BOOLEAN NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (distribution_id, holder_index)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_holder ON distribution_payouts(distribution_id, holder);

	-- Keyed reserve operations, recorded with the reserve state they produced
	CREATE TABLE IF NOT EXISTS reserve_operations (
		op_key TEXT PRIMARY KEY,
		asset TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- Harvests reported per grove asset
	CREATE TABLE IF NOT EXISTS harvests (
		asset_id TEXT NOT NULL,
		harvest_index INTEGER NOT NULL,
		id TEXT NOT NULL UNIQUE,
		yield_quantity TEXT NOT NULL,
		quality_grade INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		total_revenue TEXT NOT NULL,
		distributed BOOLEAN NOT NULL DEFAULT 0,
		distribution_id TEXT NOT NULL DEFAULT '',
		reported_by TEXT NOT NULL,
		harvested_at TIMESTAMP NOT NULL,
		PRIMARY KEY (asset_id, harvest_index)
	);

	-- Grove token holdings
	CREATE TABLE IF NOT EXISTS holdings (
		asset_id TEXT NOT NULL,
		holder TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (asset_id, holder)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
