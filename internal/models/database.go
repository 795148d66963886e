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

// AccountBalance represents current balance state of a subledger account (hot data)
type AccountBalance struct {
	Id                string          `db:"id" json:"id"`
	Account           string          `db:"account" json:"account"`
	Asset             string          `db:"asset" json:"asset"`
	Balance           decimal.Decimal `db:"balance" json:"balance"`
	LastTransactionId string          `db:"last_transaction_id" json:"last_transaction_id"`
	Version           int64           `db:"version" json:"version"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction represents immutable subledger history (cold data)
type Transaction struct {
	Id              string          `db:"id" json:"id"`
	Account         string          `db:"account" json:"account"`
	Asset           string          `db:"asset" json:"asset"`
	TransactionType string          `db:"transaction_type" json:"transaction_type"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore   decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter    decimal.Decimal `db:"balance_after" json:"balance_after"`
	Reference       string          `db:"reference" json:"reference"`
	Counterparty    string          `db:"counterparty" json:"counterparty"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
