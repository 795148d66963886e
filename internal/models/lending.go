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

// LoanStatus is the lifecycle state of a pool loan
type LoanStatus string

const (
	LoanStatusActive     LoanStatus = "active"
	LoanStatusRepaid     LoanStatus = "repaid"
	LoanStatusLiquidated LoanStatus = "liquidated"
)

// PoolState is the liquidity accounting of a single asset pool
type PoolState struct {
	Asset              string          `db:"asset"`
	TotalLiquidity     decimal.Decimal `db:"total_liquidity"`
	AvailableLiquidity decimal.Decimal `db:"available_liquidity"`
	TotalBorrowed      decimal.Decimal `db:"total_borrowed"`
	TotalLPSupply      decimal.Decimal `db:"total_lp_supply"`
	Version            int64           `db:"version"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// LiquidityPosition is one provider's stake in a pool
type LiquidityPosition struct {
	Asset           string          `db:"asset"`
	Provider        string          `db:"provider"`
	AmountProvided  decimal.Decimal `db:"amount_provided"`
	LPShareBalance  decimal.Decimal `db:"lp_share_balance"`
	AccruedInterest decimal.Decimal `db:"accrued_interest"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// Loan is a collateralized loan taken against a pool
type Loan struct {
	Id               string          `db:"id"`
	Asset            string          `db:"asset"`
	Borrower         string          `db:"borrower"`
	Principal        decimal.Decimal `db:"principal"`
	CollateralAmount decimal.Decimal `db:"collateral_amount"`
	LiquidationPrice decimal.Decimal `db:"liquidation_price"`
	RepayAmount      decimal.Decimal `db:"repay_amount"`
	Status           LoanStatus      `db:"status"`
	OpenedAt         time.Time       `db:"opened_at"`
	ClosedAt         *time.Time      `db:"closed_at"`
}

// PoolSnapshot is the full persisted state of a pool
type PoolSnapshot struct {
	State     PoolState
	Positions []LiquidityPosition
	Loans     []Loan
}
