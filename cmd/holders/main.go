package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"grove-ledger-go/internal/common"
	"grove-ledger-go/internal/config"
	"grove-ledger-go/internal/models"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func setHolding(ctx context.Context, services *common.Services, assetId, holder, rawAmount string) error {
	if holder == "" {
		return fmt.Errorf("--holder is required with --amount")
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}
	if err := services.DbService.SetHolding(ctx, models.Holding{AssetId: assetId, Holder: holder, Amount: amount}); err != nil {
		return err
	}
	fmt.Printf("✓ %s now holds %s %s tokens\n", holder, amount, assetId)
	return nil
}

func printHolders(ctx context.Context, services *common.Services, asset models.GroveAsset) error {
	holdings, err := services.DbService.GetHoldings(ctx, asset.Id)
	if err != nil {
		return err
	}
	total := lo.Reduce(holdings, func(sum decimal.Decimal, h models.Holding, _ int) decimal.Decimal {
		return sum.Add(h.Amount)
	}, decimal.Zero)

	fmt.Printf("\nGrove %s (%s), owner %s\n", asset.Id, asset.Symbol, asset.Owner)
	common.PrintSection(fmt.Sprintf("Holders (%s of %s tokens held)", total, asset.TokenSupply), len(holdings), common.DefaultWidth)

	for i, h := range holdings {
		balance, err := services.Ledger.Balance(ctx, asset.RevenueAsset, h.Holder)
		if err != nil {
			zap.L().Error("Failed to read holder balance", zap.String("holder", h.Holder), zap.Error(err))
			balance = decimal.Zero
		}
		fmt.Printf("%s %-24s: %16s tokens %16s %s\n",
			common.BoxPrefix(i == len(holdings)-1), h.Holder, h.Amount, balance, asset.RevenueAsset)
	}
	return nil
}

func main() {
	ctx := context.Background()

	assetFlag := flag.String("asset", "", "Grove asset id (default: all registered assets)")
	holderFlag := flag.String("holder", "", "Holder account to update")
	amountFlag := flag.String("amount", "", "Token balance to record for --holder")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *amountFlag != "" {
		if *assetFlag == "" {
			logger.Fatal("--asset is required with --amount")
		}
		if _, err := services.Registry.Asset(*assetFlag); err != nil {
			logger.Fatal("Unknown grove asset", zap.Error(err))
		}
		if err := setHolding(ctx, services, *assetFlag, *holderFlag, *amountFlag); err != nil {
			logger.Fatal("Failed to set holding", zap.Error(err))
		}
		return
	}

	assets := services.Registry.Assets
	if *assetFlag != "" {
		asset, err := services.Registry.Asset(*assetFlag)
		if err != nil {
			logger.Fatal("Unknown grove asset", zap.Error(err))
		}
		assets = []models.GroveAsset{asset}
	}

	common.PrintHeader("GROVE HOLDER REPORT", common.DefaultWidth)
	for _, a := range assets {
		if err := printHolders(ctx, services, a); err != nil {
			logger.Error("Failed to list holders", zap.String("asset_id", a.Id), zap.Error(err))
		}
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d grove assets", len(assets)), common.DefaultWidth)
}
