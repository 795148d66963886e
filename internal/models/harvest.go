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
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// asset names the Formance ledger accepts, precision suffix excluded
var assetSymbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,16}(_[A-Z]{1,16})?$`)

// ValidAssetSymbol reports whether s can name a ledger asset: an upper-case
// letter followed by up to 16 letters or digits, with an optional _SUFFIX.
func ValidAssetSymbol(s string) bool {
	return assetSymbolPattern.MatchString(s)
}

// GroveAsset describes a tokenized coffee grove
type GroveAsset struct {
	Id                   string          `json:"id"`
	Symbol               string          `json:"symbol"`
	Owner                string          `json:"owner"`
	RevenueAsset         string          `json:"revenue_asset"`
	UnitCount            int64           `json:"unit_count"`
	ExpectedYieldPerUnit decimal.Decimal `json:"expected_yield_per_unit"`
	TokenSupply          decimal.Decimal `json:"token_supply"`
}

// HarvestRecord is a reported harvest of a grove
type HarvestRecord struct {
	Index          int64           `db:"harvest_index" json:"harvest_index"`
	Id             string          `db:"id" json:"id"`
	AssetId        string          `db:"asset_id" json:"asset_id"`
	YieldQuantity  decimal.Decimal `db:"yield_quantity" json:"yield_quantity"`
	QualityGrade   int             `db:"quality_grade" json:"quality_grade"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalRevenue   decimal.Decimal `db:"total_revenue" json:"total_revenue"`
	Distributed    bool            `db:"distributed" json:"distributed"`
	DistributionId string          `db:"distribution_id" json:"distribution_id"`
	ReportedBy     string          `db:"reported_by" json:"reported_by"`
	HarvestedAt    time.Time       `db:"harvested_at" json:"harvested_at"`
}

// Holding is a token holder's balance of a grove token
type Holding struct {
	AssetId string          `db:"asset_id"`
	Holder  string          `db:"holder"`
	Amount  decimal.Decimal `db:"amount"`
}

// HarvestSettlement is the result of distributing a harvest's revenue
type HarvestSettlement struct {
	HarvestIndex   int64           `json:"harvest_index"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	FarmerShare    decimal.Decimal `json:"farmer_share"`
	InvestorShare  decimal.Decimal `json:"investor_share"`
	DistributionId string          `json:"distribution_id"`
	Report         BatchReport     `json:"report"`
}
