package settler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grove-ledger-go/internal/harvest"
	"grove-ledger-go/internal/metrics"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actor is the identity the settler acts under.
var Actor = models.Actor{Id: "settler", Roles: []models.Role{models.RoleOperator}}

// Settler periodically settles pending harvests and retries failed holder
// payouts for a set of grove assets.
type Settler struct {
	workflows       []*harvest.Workflow
	pollingInterval time.Duration
	settleDelay     time.Duration
	maxAttempts     int
	metrics         *metrics.LedgerMetrics

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// TickResult summarizes one settlement pass over every asset.
type TickResult struct {
	Settled  int
	Retried  int
	Failures int
}

func NewSettler(cfg models.SettlerConfig, workflows ...*harvest.Workflow) (*Settler, error) {
	if cfg.PollingInterval <= 0 {
		return nil, fmt.Errorf("%w: polling interval must be positive", store.ErrValidation)
	}
	if len(workflows) == 0 {
		return nil, fmt.Errorf("%w: no grove assets to settle", store.ErrValidation)
	}
	return &Settler{
		workflows:       workflows,
		pollingInterval: cfg.PollingInterval,
		settleDelay:     cfg.SettleDelay,
		maxAttempts:     cfg.MaxAttempts,
		metrics:         metrics.Ledger(),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}, nil
}

// Start runs one pass immediately and then one per polling interval until
// Stop is called or ctx is done.
func (s *Settler) Start(ctx context.Context) {
	zap.L().Info("Starting settler",
		zap.Int("assets", len(s.workflows)),
		zap.Duration("polling_interval", s.pollingInterval),
		zap.Duration("settle_delay", s.settleDelay))
	go s.loop(models.WithActor(ctx, Actor))
}

// Stop gracefully stops the settler and waits for the running pass.
func (s *Settler) Stop() {
	zap.L().Info("Stopping settler")
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.doneChan
	zap.L().Info("Settler stopped")
}

func (s *Settler) loop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick settles every asset once, in parallel across assets.
func (s *Settler) Tick(ctx context.Context) TickResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result TickResult
	)
	for _, w := range s.workflows {
		wg.Add(1)
		go func(w *harvest.Workflow) {
			defer wg.Done()
			r := s.settleAsset(ctx, w)
			mu.Lock()
			result.Settled += r.Settled
			result.Retried += r.Retried
			result.Failures += r.Failures
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	outcome := "ok"
	if result.Failures > 0 {
		outcome = "error"
	}
	s.metrics.IncSettlerTick(outcome)
	if result.Settled > 0 || result.Retried > 0 || result.Failures > 0 {
		zap.L().Info("Settlement pass finished",
			zap.Int("harvests_settled", result.Settled),
			zap.Int("payouts_retried", result.Retried),
			zap.Int("failures", result.Failures))
	}
	return result
}

func (s *Settler) settleAsset(ctx context.Context, w *harvest.Workflow) TickResult {
	var result TickResult
	assetId := w.Asset().Id

	pending, err := w.PendingHarvests(ctx, s.settleDelay)
	if err != nil {
		zap.L().Error("Failed to list pending harvests", zap.String("asset_id", assetId), zap.Error(err))
		result.Failures++
		return result
	}
	for _, h := range pending {
		if ctx.Err() != nil {
			return result
		}
		settlement, err := w.DistributeRevenue(ctx, h.Index)
		if err != nil {
			if errors.Is(err, store.ErrDistributionCooldown) || errors.Is(err, store.ErrNoHolders) {
				zap.L().Debug("Harvest not settleable yet",
					zap.String("asset_id", assetId),
					zap.Int64("harvest_index", h.Index),
					zap.Error(err))
				continue
			}
			zap.L().Error("Failed to settle harvest",
				zap.String("asset_id", assetId),
				zap.Int64("harvest_index", h.Index),
				zap.Error(err))
			result.Failures++
			continue
		}
		result.Settled++
		result.Failures += settlement.Report.FailureCount
	}

	retried, failures := s.retryPayouts(ctx, w)
	result.Retried += retried
	result.Failures += failures
	return result
}

// retryPayouts re-attempts unclaimed payouts of completed distributions that
// have not yet used up their attempts.
func (s *Settler) retryPayouts(ctx context.Context, w *harvest.Workflow) (retried, failures int) {
	rsv := w.Reserve()
	dists, err := rsv.Distributions(ctx)
	if err != nil {
		zap.L().Error("Failed to list distributions", zap.String("asset_id", w.Asset().Id), zap.Error(err))
		return 0, 1
	}

	for _, d := range lo.Filter(dists, func(d models.Distribution, _ int) bool { return d.Completed }) {
		failed, err := rsv.FailedPayouts(ctx, d.Id)
		if err != nil {
			zap.L().Error("Failed to load payout log", zap.String("distribution_id", d.Id), zap.Error(err))
			failures++
			continue
		}
		if s.maxAttempts > 0 {
			failed = lo.Filter(failed, func(p models.HolderPayout, _ int) bool { return p.Attempts < s.maxAttempts })
		}

		for _, chunk := range lo.Chunk(failed, rsv.Config().MaxBatchSize) {
			if ctx.Err() != nil {
				return retried, failures
			}
			holders := lo.Map(chunk, func(p models.HolderPayout, _ int) string { return p.Holder })
			amounts := lo.Map(chunk, func(p models.HolderPayout, _ int) decimal.Decimal { return p.TokenAmount })
			report, err := rsv.RetryFailedTransfers(ctx, d.Id, holders, amounts)
			if err != nil {
				if !errors.Is(err, store.ErrDistributionBusy) {
					zap.L().Error("Failed to retry payouts", zap.String("distribution_id", d.Id), zap.Error(err))
					failures++
				}
				continue
			}
			retried += report.SuccessCount
			failures += report.FailureCount
		}
	}
	return retried, failures
}
