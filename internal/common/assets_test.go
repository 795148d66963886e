package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const sampleAssets = `
assets:
  - id: GROVE1
    symbol: GRV1
    owner: farmer-01
    revenue_asset: USDC
    unit_count: 100
    expected_yield_per_unit: "10"
    token_supply: "1000"
    reference_price: "5.00"
    holders:
      bob: "400"
      alice: "600"
  - id: GROVE2
    owner: farmer-02
    revenue_asset: USDC
    unit_count: 40
    expected_yield_per_unit: "12.5"
pools:
  - asset: USDC
    collateral_asset: GRV1
`

func writeAssets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeAssets(t, sampleAssets))
	require.NoError(t, err)
	require.Len(t, reg.Assets, 2)

	grove, err := reg.Asset("GROVE1")
	require.NoError(t, err)
	require.Equal(t, "farmer-01", grove.Owner)
	require.Equal(t, int64(100), grove.UnitCount)
	require.True(t, grove.TokenSupply.Equal(decimal.NewFromInt(1000)))
	require.True(t, reg.Prices["GROVE1"].Equal(decimal.NewFromInt(5)))

	holdings := reg.Holdings["GROVE1"]
	require.Len(t, holdings, 2)
	require.Equal(t, "alice", holdings[0].Holder)
	require.Equal(t, "bob", holdings[1].Holder)

	second, err := reg.Asset("GROVE2")
	require.NoError(t, err)
	require.Equal(t, "GROVE2", second.Symbol, "symbol defaults to the id")
	require.True(t, second.TokenSupply.IsZero())
	_, priced := reg.Prices["GROVE2"]
	require.False(t, priced)

	pool, err := reg.Pool("USDC")
	require.NoError(t, err)
	require.Equal(t, "GRV1", pool.CollateralAsset)

	_, err = reg.Asset("GROVE9")
	require.Error(t, err)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "assets:\n  - owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n"},
		{"missing owner", "assets:\n  - id: G\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n"},
		{"zero units", "assets:\n  - id: G\n    owner: f\n    revenue_asset: USDC\n    unit_count: 0\n    expected_yield_per_unit: \"1\"\n"},
		{"bad yield", "assets:\n  - id: G\n    owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"abc\"\n"},
		{"negative holding", "assets:\n  - id: G\n    owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n    holders:\n      a: \"-1\"\n"},
		{"duplicate asset", "assets:\n  - id: G\n    owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n  - id: G\n    owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n"},
		{"pool without asset", "pools:\n  - collateral_asset: X\n"},
		{"hyphenated id", "assets:\n  - id: GROVE-1\n    owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n"},
		{"lower-case symbol", "assets:\n  - id: G\n    symbol: grv\n    owner: f\n    revenue_asset: USDC\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n"},
		{"bad revenue asset", "assets:\n  - id: G\n    owner: f\n    revenue_asset: USD-C\n    unit_count: 1\n    expected_yield_per_unit: \"1\"\n"},
		{"pool share token too long", "pools:\n  - asset: ABCDEFGHIJKLMNOP\n"},
		{"bad collateral asset", "pools:\n  - asset: USDC\n    collateral_asset: GRV-1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistry(writeAssets(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
