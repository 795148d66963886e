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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidAssetSymbol(t *testing.T) {
	valid := []string{"USDC", "GROVE1", "LPUSDC", "A", "USDC_BASE", "ABCDEFGHIJKLMNOPQ"}
	for _, s := range valid {
		require.True(t, ValidAssetSymbol(s), s)
	}
	invalid := []string{"", "GROVE-1", "LP-USDC", "usdc", "1USDC", "USDC/6", "USDC_6", "ABCDEFGHIJKLMNOPQR"}
	for _, s := range invalid {
		require.False(t, ValidAssetSymbol(s), s)
	}
}

func TestHolderPayoutStatus(t *testing.T) {
	require.Equal(t, PayoutStatusPending, HolderPayout{}.Status())
	require.Equal(t, PayoutStatusFailed, HolderPayout{Attempts: 2, LastError: "transfer failed"}.Status())
	require.Equal(t, PayoutStatusPaid, HolderPayout{Attempts: 3, Claimed: true}.Status())
}
