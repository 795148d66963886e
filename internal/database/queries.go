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

const (
	// Subledger balance queries
	queryGetBalance = `
		SELECT balance
		FROM account_balances
		WHERE account = ? AND asset = ?`

	queryGetAllAccountBalances = `
		SELECT id, account, asset, balance, last_transaction_id, version, updated_at
		FROM account_balances
		WHERE account = ? AND balance != '0'
		ORDER BY asset`

	queryReconcileBalance = `
		SELECT amount
		FROM transactions
		WHERE account = ? AND asset = ? AND status = 'confirmed'`

	// Subledger transaction queries
	queryCheckDuplicateReference = `
		SELECT id FROM transactions WHERE reference = ? LIMIT 1`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE account = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, account, asset, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, account, asset, transaction_type, amount, balance_before, balance_after,
			reference, counterparty, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE account = ? AND asset = ? AND version = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, account, asset, transaction_type, amount, balance_before, balance_after,
		       reference, counterparty, status, created_at
		FROM transactions
		WHERE account = ? AND asset = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	// Lending pool queries
	queryGetPoolState = `
		SELECT asset, total_liquidity, available_liquidity, total_borrowed, total_lp_supply, version, updated_at
		FROM pools
		WHERE asset = ?`

	queryUpsertPoolState = `
		INSERT INTO pools (asset, total_liquidity, available_liquidity, total_borrowed, total_lp_supply, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(asset) DO UPDATE SET
			total_liquidity = excluded.total_liquidity,
			available_liquidity = excluded.available_liquidity,
			total_borrowed = excluded.total_borrowed,
			total_lp_supply = excluded.total_lp_supply,
			version = pools.version + 1,
			updated_at = excluded.updated_at
		WHERE pools.version = ?`

	queryGetPositions = `
		SELECT asset, provider, amount_provided, lp_share_balance, accrued_interest, updated_at
		FROM liquidity_positions
		WHERE asset = ?
		ORDER BY provider`

	queryUpsertPosition = `
		INSERT INTO liquidity_positions (asset, provider, amount_provided, lp_share_balance, accrued_interest, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset, provider) DO UPDATE SET
			amount_provided = excluded.amount_provided,
			lp_share_balance = excluded.lp_share_balance,
			accrued_interest = excluded.accrued_interest,
			updated_at = excluded.updated_at`

	queryGetLoans = `
		SELECT id, asset, borrower, principal, collateral_amount, liquidation_price, repay_amount, status, opened_at, closed_at
		FROM loans
		WHERE asset = ?
		ORDER BY opened_at`

	queryUpsertLoan = `
		INSERT INTO loans (id, asset, borrower, principal, collateral_amount, liquidation_price, repay_amount, status, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			closed_at = excluded.closed_at
		WHERE loans.status = 'active'`

	// Revenue reserve queries
	queryGetReserveState = `
		SELECT asset, total_reserve, total_distributed, farmer_withdrawn, last_distribution, version, updated_at
		FROM reserves
		WHERE asset = ?`

	queryUpsertReserveState = `
		INSERT INTO reserves (asset, total_reserve, total_distributed, farmer_withdrawn, last_distribution, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(asset) DO UPDATE SET
			total_reserve = excluded.total_reserve,
			total_distributed = excluded.total_distributed,
			farmer_withdrawn = excluded.farmer_withdrawn,
			last_distribution = excluded.last_distribution,
			version = reserves.version + 1,
			updated_at = excluded.updated_at
		WHERE reserves.version = ?`

	queryGetDistribution = `
		SELECT id, asset, total_revenue, total_token_supply, holder_count, completed, created_at, completed_at
		FROM distributions
		WHERE id = ?`

	queryListDistributions = `
		SELECT id, asset, total_revenue, total_token_supply, holder_count, completed, created_at, completed_at
		FROM distributions
		WHERE asset = ?
		ORDER BY created_at`

	queryUpsertDistribution = `
		INSERT INTO distributions (id, asset, total_revenue, total_token_supply, holder_count, completed, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			holder_count = excluded.holder_count,
			completed = excluded.completed,
			completed_at = excluded.completed_at
		WHERE distributions.completed = 0`

	queryInsertReserveOperation = `
		INSERT INTO reserve_operations (op_key, asset, created_at)
		VALUES (?, ?, ?)`

	queryReserveOperationExists = `
		SELECT COUNT(1) FROM reserve_operations WHERE op_key = ?`

	queryListPayouts = `
		SELECT distribution_id, holder_index, holder, token_amount, share, claimed, attempts, last_error, updated_at
		FROM distribution_payouts
		WHERE distribution_id = ?
		ORDER BY holder_index`

	queryUpsertPayout = `
		INSERT INTO distribution_payouts (distribution_id, holder_index, holder, token_amount, share, claimed, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(distribution_id, holder_index) DO UPDATE SET
			claimed = excluded.claimed,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		WHERE distribution_payouts.claimed = 0`

	// Harvest queries
	queryInsertHarvest = `
		INSERT INTO harvests (asset_id, harvest_index, id, yield_quantity, quality_grade, unit_price, total_revenue, distributed, reported_by, harvested_at)
		VALUES (?, (SELECT COALESCE(MAX(harvest_index), -1) + 1 FROM harvests WHERE asset_id = ?), ?, ?, ?, ?, ?, 0, ?, ?)
		RETURNING harvest_index`

	queryGetHarvest = `
		SELECT harvest_index, id, asset_id, yield_quantity, quality_grade, unit_price, total_revenue, distributed, distribution_id, reported_by, harvested_at
		FROM harvests
		WHERE asset_id = ? AND harvest_index = ?`

	queryListHarvests = `
		SELECT harvest_index, id, asset_id, yield_quantity, quality_grade, unit_price, total_revenue, distributed, distribution_id, reported_by, harvested_at
		FROM harvests
		WHERE asset_id = ?
		ORDER BY harvest_index`

	queryLatestHarvestTime = `
		SELECT harvested_at
		FROM harvests
		WHERE asset_id = ?
		ORDER BY harvest_index DESC
		LIMIT 1`

	queryAttachHarvestDistribution = `
		UPDATE harvests SET distribution_id = ?
		WHERE asset_id = ? AND harvest_index = ? AND distributed = 0 AND distribution_id = ''`

	queryMarkHarvestDistributed = `
		UPDATE harvests SET distributed = 1
		WHERE asset_id = ? AND harvest_index = ? AND distributed = 0`

	// Holding queries
	queryGetHoldings = `
		SELECT asset_id, holder, amount
		FROM holdings
		WHERE asset_id = ? AND amount != '0'
		ORDER BY holder`

	queryUpsertHolding = `
		INSERT INTO holdings (asset_id, holder, amount, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(asset_id, holder) DO UPDATE SET
			amount = excluded.amount,
			updated_at = CURRENT_TIMESTAMP`
)
