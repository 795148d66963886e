package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"grove-ledger-go/internal/common"
	"grove-ledger-go/internal/config"
	"grove-ledger-go/internal/harvest"
	"grove-ledger-go/internal/models"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type harvestAction func(ctx context.Context, c *cli.Context, w *harvest.Workflow) error

func withWorkflow(cfg *models.Config, action harvestAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context

		services, err := common.InitializeServices(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer services.Close()

		w, err := services.Workflow(ctx, c.String("asset"))
		if err != nil {
			return err
		}

		actor := common.Actor(c.String("actor"), c.StringSlice("role")...)
		return action(models.WithActor(ctx, actor), c, w)
	}
}

func decimalArg(c *cli.Context, name string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.String(name))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, c.String(name), err)
	}
	return v, nil
}

func commands(cfg *models.Config) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "report",
			Usage: "record a harvest (asset owner)",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "yield", Required: true},
				&cli.IntFlag{Name: "grade", Required: true},
				&cli.StringFlag{Name: "price", Usage: "unit price in the revenue asset", Required: true},
			},
			Action: withWorkflow(cfg, func(ctx context.Context, c *cli.Context, w *harvest.Workflow) error {
				yield, err := decimalArg(c, "yield")
				if err != nil {
					return err
				}
				price, err := decimalArg(c, "price")
				if err != nil {
					return err
				}
				record, err := w.ReportHarvest(ctx, yield, c.Int("grade"), price)
				if err != nil {
					return err
				}
				farmer, investor := w.Split(record.TotalRevenue)
				common.PrintHeader(fmt.Sprintf("HARVEST %s#%d RECORDED", record.AssetId, record.Index), common.DefaultWidth)
				common.PrintFields(
					common.F("Yield", fmt.Sprintf("%s (grade %d)", record.YieldQuantity, record.QualityGrade)),
					common.F("Unit price", record.UnitPrice),
					common.F("Total revenue", fmt.Sprintf("%s %s", record.TotalRevenue, w.Asset().RevenueAsset)),
					common.F("Farmer share", farmer),
					common.F("Investor share", investor),
				)
				common.PrintSeparator("=", common.DefaultWidth)
				return nil
			}),
		},
		{
			Name:  "distribute",
			Usage: "settle a harvest's revenue (operator)",
			Flags: []cli.Flag{&cli.Int64Flag{Name: "index", Required: true}},
			Action: withWorkflow(cfg, func(ctx context.Context, c *cli.Context, w *harvest.Workflow) error {
				settlement, err := w.DistributeRevenue(ctx, c.Int64("index"))
				if settlement != nil {
					common.PrintHeader(fmt.Sprintf("HARVEST %s#%d SETTLEMENT", w.Asset().Id, settlement.HarvestIndex), common.DefaultWidth)
					common.PrintFields(
						common.F("Total revenue", settlement.TotalRevenue),
						common.F("Farmer share", settlement.FarmerShare),
						common.F("Investor share", settlement.InvestorShare),
					)
					common.PrintBatchReport(settlement.Report)
					common.PrintSeparator("=", common.DefaultWidth)
				}
				return err
			}),
		},
		{
			Name:  "retry",
			Usage: "retry failed holder payouts of a completed distribution (operator)",
			Flags: []cli.Flag{&cli.StringFlag{Name: "distribution", Required: true}},
			Action: withWorkflow(cfg, func(ctx context.Context, c *cli.Context, w *harvest.Workflow) error {
				rsv := w.Reserve()
				failed, err := rsv.FailedPayouts(ctx, c.String("distribution"))
				if err != nil {
					return err
				}
				if len(failed) == 0 {
					fmt.Println("No failed payouts")
					return nil
				}
				holders := lo.Map(failed, func(p models.HolderPayout, _ int) string { return p.Holder })
				amounts := lo.Map(failed, func(p models.HolderPayout, _ int) decimal.Decimal { return p.TokenAmount })
				report, err := rsv.RetryFailedTransfers(ctx, c.String("distribution"), holders, amounts)
				if err != nil {
					return err
				}
				common.PrintHeader("PAYOUT RETRY", common.DefaultWidth)
				common.PrintBatchReport(report)
				common.PrintSeparator("=", common.DefaultWidth)
				return nil
			}),
		},
		{
			Name:  "deposit",
			Usage: "deposit revenue into the asset reserve (operator)",
			Flags: []cli.Flag{&cli.StringFlag{Name: "from", Required: true}, &cli.StringFlag{Name: "amount", Required: true}},
			Action: withWorkflow(cfg, func(ctx context.Context, c *cli.Context, w *harvest.Workflow) error {
				amount, err := decimalArg(c, "amount")
				if err != nil {
					return err
				}
				if err := w.Reserve().Deposit(ctx, c.String("from"), amount); err != nil {
					return err
				}
				fmt.Printf("✅ Deposited %s %s from %s\n", amount, w.Asset().RevenueAsset, c.String("from"))
				return nil
			}),
		},
		{
			Name:  "status",
			Usage: "print harvests, reserve totals and distributions",
			Action: withWorkflow(cfg, func(ctx context.Context, _ *cli.Context, w *harvest.Workflow) error {
				harvests, err := w.Harvests(ctx)
				if err != nil {
					return err
				}
				rsv := w.Reserve()
				dists, err := rsv.Distributions(ctx)
				if err != nil {
					return err
				}
				state := rsv.State()

				common.PrintHeader(fmt.Sprintf("GROVE %s", w.Asset().Id), common.WideWidth)
				common.PrintFields(
					common.F("Reserve", fmt.Sprintf("%s %s", state.TotalReserve, w.Asset().RevenueAsset)),
					common.F("Distributed", state.TotalDistributed),
					common.F("Farmer withdrawn", state.FarmerWithdrawn),
				)

				common.PrintSection("Harvests", len(harvests), common.WideWidth)
				for i, h := range harvests {
					fmt.Printf("%s #%-4d %s yield %s grade %d revenue %s distributed %t\n",
						common.BoxPrefix(i == len(harvests)-1), h.Index, h.HarvestedAt.Format("2006-01-02"),
						h.YieldQuantity, h.QualityGrade, h.TotalRevenue, h.Distributed)
				}

				common.PrintSection("Distributions", len(dists), common.WideWidth)
				for i, d := range dists {
					dust, err := rsv.Dust(ctx, d.Id)
					if err != nil {
						return err
					}
					fmt.Printf("%s %s revenue %s holders %d completed %t dust %s\n",
						common.BoxPrefix(i == len(dists)-1), d.Id, d.TotalRevenue, d.HolderCount, d.Completed, dust)
				}
				common.PrintSeparator("=", common.WideWidth)
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
		Name:  "harvest",
		Usage: "report and settle grove harvests",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Usage: "grove asset id", Required: true, EnvVars: []string{"GROVE_ASSET"}},
			&cli.StringFlag{Name: "actor", Usage: "ledger account acting", Required: true},
			&cli.StringSliceFlag{Name: "role", Usage: "capability held by the actor (admin, operator)"},
		},
		Commands: commands(cfg),
	}

	if err := app.Run(os.Args); err != nil {
		zap.L().Error("Harvest command failed", zap.Error(err))
		fmt.Printf("❌ %v\n", err)
		loggerCleanup()
		os.Exit(1)
	}
}
