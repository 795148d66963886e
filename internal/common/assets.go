package common

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"grove-ledger-go/internal/lending"
	"grove-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type AssetConfig struct {
	Id                   string            `yaml:"id"`
	Symbol               string            `yaml:"symbol"`
	Owner                string            `yaml:"owner"`
	RevenueAsset         string            `yaml:"revenue_asset"`
	UnitCount            int64             `yaml:"unit_count"`
	ExpectedYieldPerUnit string            `yaml:"expected_yield_per_unit"`
	TokenSupply          string            `yaml:"token_supply"`
	ReferencePrice       string            `yaml:"reference_price"`
	Holders              map[string]string `yaml:"holders"`
}

type PoolAssetConfig struct {
	Asset           string `yaml:"asset"`
	CollateralAsset string `yaml:"collateral_asset"`
}

type AssetsConfig struct {
	Assets []AssetConfig     `yaml:"assets"`
	Pools  []PoolAssetConfig `yaml:"pools"`
}

// Registry is the parsed grove asset file.
type Registry struct {
	Assets []models.GroveAsset
	Pools  []PoolAssetConfig
	// reference unit prices by asset id, served when no price feed is configured
	Prices map[string]decimal.Decimal
	// initial token holdings by asset id, seeded by setup
	Holdings map[string][]models.Holding
}

// Asset returns the grove asset with the given id.
func (r *Registry) Asset(id string) (models.GroveAsset, error) {
	for _, a := range r.Assets {
		if a.Id == id {
			return a, nil
		}
	}
	return models.GroveAsset{}, fmt.Errorf("grove asset %q not found in registry", id)
}

// Pool returns the pool settings of a pool asset.
func (r *Registry) Pool(asset string) (PoolAssetConfig, error) {
	for _, p := range r.Pools {
		if p.Asset == asset {
			return p, nil
		}
	}
	return PoolAssetConfig{}, fmt.Errorf("pool %q not found in registry", asset)
}

func LoadAssetConfig(assetsFile string) (*AssetsConfig, error) {
	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	var config AssetsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", assetsFile, err)
	}
	return &config, nil
}

// LoadRegistry reads and validates the grove asset file.
func LoadRegistry(assetsFile string) (*Registry, error) {
	config, err := LoadAssetConfig(assetsFile)
	if err != nil {
		return nil, err
	}
	return config.Registry()
}

func (c *AssetsConfig) Registry() (*Registry, error) {
	reg := &Registry{
		Pools:    c.Pools,
		Prices:   make(map[string]decimal.Decimal),
		Holdings: make(map[string][]models.Holding),
	}
	seen := make(map[string]bool, len(c.Assets))

	for i, a := range c.Assets {
		if a.Id == "" {
			return nil, fmt.Errorf("asset at index %d missing id", i)
		}
		if seen[a.Id] {
			return nil, fmt.Errorf("asset %s listed twice", a.Id)
		}
		seen[a.Id] = true
		if !models.ValidAssetSymbol(a.Id) {
			return nil, fmt.Errorf("asset id %q is not a valid ledger asset name", a.Id)
		}
		if a.Owner == "" {
			return nil, fmt.Errorf("asset %s missing owner", a.Id)
		}
		if a.RevenueAsset == "" {
			return nil, fmt.Errorf("asset %s missing revenue_asset", a.Id)
		}
		if a.UnitCount <= 0 {
			return nil, fmt.Errorf("asset %s needs a positive unit_count", a.Id)
		}

		yield, err := parseAmount(a.ExpectedYieldPerUnit, true)
		if err != nil {
			return nil, fmt.Errorf("asset %s expected_yield_per_unit: %w", a.Id, err)
		}
		supply, err := parseAmount(a.TokenSupply, false)
		if err != nil {
			return nil, fmt.Errorf("asset %s token_supply: %w", a.Id, err)
		}
		price, err := parseAmount(a.ReferencePrice, false)
		if err != nil {
			return nil, fmt.Errorf("asset %s reference_price: %w", a.Id, err)
		}

		symbol := a.Symbol
		if symbol == "" {
			symbol = a.Id
		}
		if !models.ValidAssetSymbol(symbol) || !models.ValidAssetSymbol(a.RevenueAsset) {
			return nil, fmt.Errorf("asset %s: symbol %q and revenue_asset %q must be valid ledger asset names", a.Id, symbol, a.RevenueAsset)
		}
		reg.Assets = append(reg.Assets, models.GroveAsset{
			Id:                   a.Id,
			Symbol:               symbol,
			Owner:                a.Owner,
			RevenueAsset:         a.RevenueAsset,
			UnitCount:            a.UnitCount,
			ExpectedYieldPerUnit: yield,
			TokenSupply:          supply,
		})
		if price.IsPositive() {
			reg.Prices[a.Id] = price
		}

		for holder, raw := range a.Holders {
			amount, err := parseAmount(raw, true)
			if err != nil {
				return nil, fmt.Errorf("asset %s holder %s: %w", a.Id, holder, err)
			}
			reg.Holdings[a.Id] = append(reg.Holdings[a.Id], models.Holding{AssetId: a.Id, Holder: holder, Amount: amount})
		}
		slices.SortFunc(reg.Holdings[a.Id], func(x, y models.Holding) int { return strings.Compare(x.Holder, y.Holder) })
	}

	for i, p := range c.Pools {
		if p.Asset == "" {
			return nil, fmt.Errorf("pool at index %d missing asset", i)
		}
		if !models.ValidAssetSymbol(lending.ShareAsset(p.Asset)) {
			return nil, fmt.Errorf("pool asset %q cannot carry a %s share token", p.Asset, lending.ShareAsset(p.Asset))
		}
		if p.CollateralAsset != "" && !models.ValidAssetSymbol(p.CollateralAsset) {
			return nil, fmt.Errorf("pool %s collateral_asset %q is not a valid ledger asset name", p.Asset, p.CollateralAsset)
		}
	}
	return reg, nil
}

func parseAmount(raw string, required bool) (decimal.Decimal, error) {
	if raw == "" {
		if required {
			return decimal.Zero, fmt.Errorf("value is required")
		}
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() || (required && v.IsZero()) {
		return decimal.Zero, fmt.Errorf("value must be positive, got %s", v)
	}
	return v, nil
}
