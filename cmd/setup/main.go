package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"grove-ledger-go/internal/common"
	"grove-ledger-go/internal/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type mintRequest struct {
	asset   string
	account string
	amount  decimal.Decimal
}

// parseMints reads "ASSET:account:amount" entries separated by commas.
func parseMints(raw string) ([]mintRequest, error) {
	if raw == "" {
		return nil, nil
	}
	var mints []mintRequest
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid mint %q, expected ASSET:account:amount", entry)
		}
		amount, err := decimal.NewFromString(parts[2])
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("invalid mint amount in %q", entry)
		}
		mints = append(mints, mintRequest{asset: parts[0], account: parts[1], amount: amount})
	}
	return mints, nil
}

func seedHoldings(ctx context.Context, services *common.Services) (int, error) {
	var seeded int
	for assetId, holdings := range services.Registry.Holdings {
		for _, h := range holdings {
			if err := services.DbService.SetHolding(ctx, h); err != nil {
				return seeded, fmt.Errorf("failed to seed holding %s/%s: %w", assetId, h.Holder, err)
			}
			seeded++
		}
	}
	return seeded, nil
}

func openEngines(ctx context.Context, services *common.Services) error {
	for _, a := range services.Registry.Assets {
		w, err := services.Workflow(ctx, a.Id)
		if err != nil {
			return fmt.Errorf("failed to open grove %s: %w", a.Id, err)
		}
		state := w.Reserve().State()
		zap.L().Info("Grove asset ready",
			zap.String("asset_id", a.Id),
			zap.String("owner", a.Owner),
			zap.String("revenue_asset", a.RevenueAsset),
			zap.String("reserve", state.TotalReserve.String()))
	}
	for _, p := range services.Registry.Pools {
		pool, err := services.Pool(ctx, p.Asset)
		if err != nil {
			return fmt.Errorf("failed to open pool %s: %w", p.Asset, err)
		}
		state := pool.State()
		zap.L().Info("Lending pool ready",
			zap.String("asset", p.Asset),
			zap.String("collateral_asset", p.CollateralAsset),
			zap.String("total_liquidity", state.TotalLiquidity.String()))
	}
	return nil
}

func main() {
	ctx := context.Background()

	mintFlag := flag.String("mint", "", "Development funding, comma separated ASSET:account:amount entries")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	mints, err := parseMints(*mintFlag)
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	zap.L().Info("Grove registry loaded",
		zap.Int("assets", len(services.Registry.Assets)),
		zap.Int("pools", len(services.Registry.Pools)))

	seeded, err := seedHoldings(ctx, services)
	if err != nil {
		zap.L().Fatal("Failed to seed holdings", zap.Error(err))
	}

	if err := openEngines(ctx, services); err != nil {
		zap.L().Fatal("Failed to open engines", zap.Error(err))
	}

	for _, m := range mints {
		if err := services.Ledger.Mint(ctx, m.asset, m.account, m.amount, "setup:mint:"+uuid.New().String()); err != nil {
			zap.L().Fatal("Failed to mint", zap.String("account", m.account), zap.Error(err))
		}
		fmt.Printf("✓ Minted %s %s to %s\n", m.amount, m.asset, m.account)
	}

	common.PrintFooter(fmt.Sprintf("SETUP COMPLETE: %d grove assets, %d pools, %d holdings seeded",
		len(services.Registry.Assets), len(services.Registry.Pools), seeded), common.DefaultWidth)
}
