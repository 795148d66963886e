package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"grove-ledger-go/internal/common"
	"grove-ledger-go/internal/config"
	"grove-ledger-go/internal/lending"
	"grove-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type poolAction func(ctx context.Context, c *cli.Context, pool *lending.Pool) error

// withPool opens the services and the pool named by --asset, then runs the
// action as the caller named by --actor.
func withPool(cfg *models.Config, action poolAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context

		services, err := common.InitializeServices(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer services.Close()

		pool, err := services.Pool(ctx, c.String("asset"))
		if err != nil {
			return err
		}

		actor := common.Actor(c.String("actor"), c.StringSlice("role")...)
		return action(models.WithActor(ctx, actor), c, pool)
	}
}

func decimalArg(c *cli.Context, name string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.String(name))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, c.String(name), err)
	}
	return v, nil
}

func printState(pool *lending.Pool) {
	s := pool.State()
	common.PrintHeader(fmt.Sprintf("POOL %s", s.Asset), common.DefaultWidth)
	common.PrintFields(
		common.F("Total liquidity", s.TotalLiquidity),
		common.F("Available liquidity", s.AvailableLiquidity),
		common.F("Borrowed", s.TotalBorrowed),
		common.F("LP supply", s.TotalLPSupply),
		common.F("Share price", pool.SharePrice().StringFixed(6)),
		common.F("Version", s.Version),
	)

	positions := pool.Positions()
	if len(positions) > 0 {
		common.PrintSection("Providers", len(positions), common.DefaultWidth)
		for i, p := range positions {
			fmt.Printf("%s %-20s provided %s, shares %s, interest %s\n",
				common.BoxPrefix(i == len(positions)-1), p.Provider, p.AmountProvided, p.LPShareBalance, p.AccruedInterest)
		}
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func printLoan(title string, loan *models.Loan) {
	common.PrintHeader(title, common.DefaultWidth)
	common.PrintFields(
		common.F("Loan", loan.Id),
		common.F("Borrower", loan.Borrower),
		common.F("Principal", loan.Principal),
		common.F("Collateral", loan.CollateralAmount),
		common.F("Repay amount", loan.RepayAmount),
		common.F("Liquidation price", loan.LiquidationPrice),
		common.F("Status", loan.Status),
	)
	common.PrintSeparator("=", common.DefaultWidth)
}

func commands(cfg *models.Config) []*cli.Command {
	amountFlag := &cli.StringFlag{Name: "amount", Usage: "amount in whole units", Required: true}

	return []*cli.Command{
		{
			Name:  "provide",
			Usage: "deposit liquidity and receive LP shares",
			Flags: []cli.Flag{amountFlag},
			Action: withPool(cfg, func(ctx context.Context, c *cli.Context, pool *lending.Pool) error {
				amount, err := decimalArg(c, "amount")
				if err != nil {
					return err
				}
				shares, err := pool.ProvideLiquidity(ctx, amount)
				if err != nil {
					return err
				}
				fmt.Printf("✅ Provided %s, minted %s LP shares\n", amount, shares)
				return nil
			}),
		},
		{
			Name:  "withdraw",
			Usage: "burn LP shares for their value in the pool asset",
			Flags: []cli.Flag{&cli.StringFlag{Name: "shares", Required: true}},
			Action: withPool(cfg, func(ctx context.Context, c *cli.Context, pool *lending.Pool) error {
				shares, err := decimalArg(c, "shares")
				if err != nil {
					return err
				}
				payout, err := pool.WithdrawLiquidity(ctx, shares)
				if err != nil {
					return err
				}
				fmt.Printf("✅ Burned %s LP shares, paid out %s\n", shares, payout)
				return nil
			}),
		},
		{
			Name:  "borrow",
			Usage: "lock collateral and take a loan",
			Flags: []cli.Flag{amountFlag, &cli.StringFlag{Name: "collateral", Required: true}},
			Action: withPool(cfg, func(ctx context.Context, c *cli.Context, pool *lending.Pool) error {
				amount, err := decimalArg(c, "amount")
				if err != nil {
					return err
				}
				collateral, err := decimalArg(c, "collateral")
				if err != nil {
					return err
				}
				loan, err := pool.TakeLoan(ctx, collateral, amount)
				if err != nil {
					return err
				}
				printLoan("LOAN OPENED", loan)
				return nil
			}),
		},
		{
			Name:  "repay",
			Usage: "repay the caller's active loan with interest",
			Action: withPool(cfg, func(ctx context.Context, c *cli.Context, pool *lending.Pool) error {
				loan, err := pool.RepayLoan(ctx)
				if err != nil {
					return err
				}
				printLoan("LOAN REPAID", loan)
				return nil
			}),
		},
		{
			Name:  "liquidate",
			Usage: "liquidate a borrower's loan (liquidator role)",
			Flags: []cli.Flag{&cli.StringFlag{Name: "borrower", Required: true}},
			Action: withPool(cfg, func(ctx context.Context, c *cli.Context, pool *lending.Pool) error {
				loan, err := pool.LiquidateLoan(ctx, c.String("borrower"))
				if err != nil {
					return err
				}
				printLoan("LOAN LIQUIDATED", loan)
				return nil
			}),
		},
		{
			Name:  "check",
			Usage: "report whether a loan is liquidatable at a collateral value",
			Flags: []cli.Flag{&cli.StringFlag{Name: "borrower", Required: true}, &cli.StringFlag{Name: "value", Required: true}},
			Action: withPool(cfg, func(ctx context.Context, c *cli.Context, pool *lending.Pool) error {
				value, err := decimalArg(c, "value")
				if err != nil {
					return err
				}
				liquidatable, err := pool.IsLiquidatable(c.String("borrower"), value)
				if err != nil {
					return err
				}
				fmt.Printf("Borrower %s liquidatable at %s: %t\n", c.String("borrower"), value, liquidatable)
				return nil
			}),
		},
		{
			Name:  "status",
			Usage: "print pool totals and provider positions",
			Action: withPool(cfg, func(_ context.Context, _ *cli.Context, pool *lending.Pool) error {
				printState(pool)
				return nil
			}),
		},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Log)
	defer loggerCleanup()

	app := &cli.App{
		Name:  "pool",
		Usage: "operate a grove lending pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Usage: "pool asset symbol", Required: true, EnvVars: []string{"POOL_ASSET"}},
			&cli.StringFlag{Name: "actor", Usage: "ledger account acting", Required: true},
			&cli.StringSliceFlag{Name: "role", Usage: "capability held by the actor (admin, operator, liquidator)"},
		},
		Commands: commands(cfg),
	}

	if err := app.Run(os.Args); err != nil {
		zap.L().Error("Pool command failed", zap.Error(err))
		fmt.Printf("❌ %v\n", err)
		loggerCleanup()
		os.Exit(1)
	}
}
