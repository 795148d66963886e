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

// PayoutStatus is the outcome of a holder payout so far
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// ReserveState is the revenue reserve accounting for a single asset
type ReserveState struct {
	Asset            string          `db:"asset" json:"asset"`
	TotalReserve     decimal.Decimal `db:"total_reserve" json:"total_reserve"`
	TotalDistributed decimal.Decimal `db:"total_distributed" json:"total_distributed"`
	FarmerWithdrawn  decimal.Decimal `db:"farmer_withdrawn" json:"farmer_withdrawn"`
	LastDistribution time.Time       `db:"last_distribution" json:"last_distribution"`
	Version          int64           `db:"version" json:"version"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Distribution is one batch-payout event of revenue to token holders
type Distribution struct {
	Id               string          `db:"id" json:"id"`
	Asset            string          `db:"asset" json:"asset"`
	TotalRevenue     decimal.Decimal `db:"total_revenue" json:"total_revenue"`
	TotalTokenSupply decimal.Decimal `db:"total_token_supply" json:"total_token_supply"`
	HolderCount      int             `db:"holder_count" json:"holder_count"`
	Completed        bool            `db:"completed" json:"completed"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at"`
}

// HolderPayout is an entry of the append-only payout log of a distribution,
// keyed by (DistributionId, HolderIndex).
type HolderPayout struct {
	DistributionId string          `db:"distribution_id" json:"distribution_id"`
	HolderIndex    int             `db:"holder_index" json:"holder_index"`
	Holder         string          `db:"holder" json:"holder"`
	TokenAmount    decimal.Decimal `db:"token_amount" json:"token_amount"`
	Share          decimal.Decimal `db:"share" json:"share"`
	Claimed        bool            `db:"claimed" json:"claimed"`
	Attempts       int             `db:"attempts" json:"attempts"`
	LastError      string          `db:"last_error" json:"last_error"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Status is paid once claimed, failed after an unsuccessful attempt and
// pending before the first attempt.
func (p HolderPayout) Status() PayoutStatus {
	switch {
	case p.Claimed:
		return PayoutStatusPaid
	case p.Attempts > 0:
		return PayoutStatusFailed
	default:
		return PayoutStatusPending
	}
}

// FailedPayout describes a holder whose transfer did not go through
type FailedPayout struct {
	Holder string          `json:"holder"`
	Amount decimal.Decimal `json:"amount"`
	Error  string          `json:"error"`
}

// BatchReport is the structured outcome of a batched payout
type BatchReport struct {
	DistributionId string          `json:"distribution_id"`
	SuccessCount   int             `json:"success_count"`
	FailureCount   int             `json:"failure_count"`
	SkippedCount   int             `json:"skipped_count"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	FailedHolders  []FailedPayout  `json:"failed_holders,omitempty"`
	Completed      bool            `json:"completed"`
}

// Merge folds another report into this one
func (r *BatchReport) Merge(other BatchReport) {
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.SkippedCount += other.SkippedCount
	r.PaidAmount = r.PaidAmount.Add(other.PaidAmount)
	r.FailedHolders = append(r.FailedHolders, other.FailedHolders...)
	r.Completed = other.Completed
}
