package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"grove-ledger-go/internal/common"
	"grove-ledger-go/internal/config"
	"grove-ledger-go/internal/prime"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type offRampFlags struct {
	account     string
	asset       string
	network     string
	amount      decimal.Decimal
	destination string
	key         string
}

func parseAndValidateFlags() (*offRampFlags, error) {
	accountFlag := flag.String("account", "", "Ledger account paid out, e.g. the farmer (required)")
	assetFlag := flag.String("asset", "", "Asset symbol, e.g. USDC (required)")
	networkFlag := flag.String("network", "", "Network, e.g. base-mainnet (optional)")
	amountFlag := flag.String("amount", "", "Amount to withdraw (required)")
	destinationFlag := flag.String("destination", "", "Destination address (required)")
	keyFlag := flag.String("key", "", "Idempotency key; reuse it to retry the same withdrawal (optional)")
	flag.Parse()

	if *accountFlag == "" || *assetFlag == "" || *amountFlag == "" || *destinationFlag == "" {
		return nil, fmt.Errorf("flags --account, --asset, --amount and --destination are required")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	key := *keyFlag
	if key == "" {
		key = generateIdempotencyKey(*accountFlag)
	}

	return &offRampFlags{
		account:     *accountFlag,
		asset:       *assetFlag,
		network:     *networkFlag,
		amount:      amount,
		destination: *destinationFlag,
		key:         key,
	}, nil
}

func generateIdempotencyKey(account string) string {
	prefix := strings.NewReplacer(":", "-", " ", "-").Replace(account)
	uuidSegments := strings.Split(uuid.New().String(), "-")
	return prefix + "-" + strings.Join(uuidSegments[1:], "-")
}

func findWallet(ctx context.Context, primeService *prime.Service, portfolioId, symbol string) (string, error) {
	wallets, err := primeService.ListWallets(ctx, portfolioId, "TRADING", []string{symbol})
	if err != nil {
		return "", err
	}
	if len(wallets) == 0 {
		return "", fmt.Errorf("no trading wallet found for %s", symbol)
	}
	return wallets[0].Id, nil
}

func main() {
	ctx := context.Background()

	req, err := parseAndValidateFlags()
	if err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	zap.L().Info("Starting off-ramp withdrawal",
		zap.String("account", req.account),
		zap.String("asset", req.asset),
		zap.String("amount", req.amount.String()),
		zap.String("destination", req.destination),
		zap.String("idempotency_key", req.key))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	primeService, portfolio, err := common.InitializePrime(ctx)
	if err != nil {
		zap.L().Fatal("Failed to initialize Prime", zap.Error(err))
	}

	walletId, err := findWallet(ctx, primeService, portfolio.Id, req.asset)
	if err != nil {
		zap.L().Fatal("Failed to find wallet", zap.Error(err))
	}

	balance, err := services.Ledger.Balance(ctx, req.asset, req.account)
	if err != nil {
		zap.L().Fatal("Failed to read balance", zap.Error(err))
	}

	common.PrintHeader("OFF-RAMP REQUEST", common.DefaultWidth)
	common.PrintFields(
		common.F("Account", req.account),
		common.F("Asset", fmt.Sprintf("%s %s", req.asset, req.network)),
		common.F("Current Balance", balance),
		common.F("Withdrawal Amount", req.amount),
		common.F("Destination", req.destination),
		common.F("Idempotency Key", req.key),
	)
	common.PrintSeparator("=", common.DefaultWidth)

	ramp := prime.NewOffRamp(services.Ledger, primeService, portfolio.Id, cfg.Ledger.TransferTimeout)
	withdrawal, err := ramp.Withdraw(ctx, prime.OffRampRequest{
		Account:        req.account,
		Asset:          req.asset,
		Network:        req.network,
		WalletId:       walletId,
		Amount:         req.amount,
		Destination:    req.destination,
		IdempotencyKey: req.key,
	})
	if err != nil {
		fmt.Printf("\n❌ Off-ramp failed: %v\n", err)
		if withdrawal != nil {
			fmt.Printf("   Prime accepted activity %s; reconcile %s\n", withdrawal.ActivityId, prime.PendingAccount(req.asset))
		}
		zap.L().Fatal("Off-ramp failed", zap.Error(err))
	}

	fmt.Printf("\n✅ Withdrawal created successfully!\n")
	common.PrintFields(
		common.F("Activity ID", withdrawal.ActivityId),
		common.F("Amount", fmt.Sprintf("%s %s", withdrawal.Amount, withdrawal.Asset)),
		common.F("Destination", withdrawal.Destination),
	)
}
