package reserve

import (
	"context"
	"fmt"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// allocation is a holder's token balance at distribution time.
type allocation struct {
	holder string
	tokens decimal.Decimal
}

// outcome is the result of one payout attempt.
type outcome struct {
	payout models.HolderPayout
	err    error
}

// payoutLog is the append-only payout log of one distribution together with
// its holder lookup index.
type payoutLog struct {
	dist     *models.Distribution
	entries  []models.HolderPayout
	byHolder map[string]int
}

func (l *payoutLog) allocated() decimal.Decimal {
	return lo.Reduce(l.entries, func(sum decimal.Decimal, p models.HolderPayout, _ int) decimal.Decimal {
		return sum.Add(p.Share)
	}, decimal.Zero)
}

func (l *payoutLog) dust() decimal.Decimal {
	return l.dist.TotalRevenue.Sub(l.allocated())
}

// DistributeRevenueToHolders pays one batch of holders their share of a
// distribution and marks it completed. A failed transfer is recorded against
// its holder and never aborts the batch.
func (r *Reserve) DistributeRevenueToHolders(ctx context.Context, distributionId string, holders []string, tokenAmounts []decimal.Decimal) (models.BatchReport, error) {
	if _, err := privileged(ctx, "pay out distributions"); err != nil {
		return models.BatchReport{}, err
	}
	allocs, err := zipAllocations(holders, tokenAmounts)
	if err != nil {
		return models.BatchReport{}, err
	}
	if len(allocs) > r.cfg.MaxBatchSize {
		return models.BatchReport{}, fmt.Errorf("%w: %d holders, limit %d", store.ErrBatchTooLarge, len(allocs), r.cfg.MaxBatchSize)
	}

	release, err := r.acquireDistribution(distributionId)
	if err != nil {
		return models.BatchReport{}, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	log, err := r.openLog(ctx, distributionId)
	if err != nil {
		return models.BatchReport{}, err
	}
	report, touched, err := r.payBatch(ctx, log, allocs, true)
	if err != nil {
		return report, err
	}
	if err := r.commitBatch(ctx, log, touched, true); err != nil {
		return report, err
	}
	report.Completed = true

	r.logReport("Distribution batch paid", report)
	return report, nil
}

// DistributeBatchRevenue pays a large holder set in sequential sub-batches of
// batchSize, committing after each one. Cancelling ctx stops the run between
// sub-batches and leaves the distribution open; running it again continues
// with the holders not yet paid.
func (r *Reserve) DistributeBatchRevenue(ctx context.Context, distributionId string, holders []string, tokenAmounts []decimal.Decimal, batchSize int) (models.BatchReport, error) {
	if _, err := privileged(ctx, "pay out distributions"); err != nil {
		return models.BatchReport{}, err
	}
	if batchSize <= 0 {
		return models.BatchReport{}, fmt.Errorf("%w: batch size must be positive, got %d", store.ErrValidation, batchSize)
	}
	if batchSize > r.cfg.MaxSubBatchSize {
		return models.BatchReport{}, fmt.Errorf("%w: sub-batch of %d, limit %d", store.ErrBatchTooLarge, batchSize, r.cfg.MaxSubBatchSize)
	}
	allocs, err := zipAllocations(holders, tokenAmounts)
	if err != nil {
		return models.BatchReport{}, err
	}

	release, err := r.acquireDistribution(distributionId)
	if err != nil {
		return models.BatchReport{}, err
	}
	defer release()

	report := models.BatchReport{DistributionId: distributionId, PaidAmount: decimal.Zero}
	chunks := lo.Chunk(allocs, batchSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("Batch payout interrupted, distribution left open",
				zap.String("asset", r.cfg.AssetId),
				zap.String("distribution_id", distributionId),
				zap.Int("sub_batches_done", i),
				zap.Int("sub_batches", len(chunks)))
			return report, fmt.Errorf("distribution %s stopped after %d of %d sub-batches: %w", distributionId, i, len(chunks), err)
		}
		sub, err := r.paySubBatch(ctx, distributionId, chunk, i == len(chunks)-1)
		report.Merge(sub)
		if err != nil {
			return report, err
		}
	}
	if len(chunks) == 0 {
		if _, err := r.paySubBatch(ctx, distributionId, nil, true); err != nil {
			return report, err
		}
		report.Completed = true
	}

	r.logReport("Batched distribution paid", report)
	return report, nil
}

func (r *Reserve) paySubBatch(ctx context.Context, distributionId string, allocs []allocation, last bool) (models.BatchReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, err := r.openLog(ctx, distributionId)
	if err != nil {
		return models.BatchReport{DistributionId: distributionId, PaidAmount: decimal.Zero}, err
	}
	report, touched, err := r.payBatch(ctx, log, allocs, true)
	if err != nil {
		return report, err
	}
	if err := r.commitBatch(ctx, log, touched, last); err != nil {
		return report, err
	}
	report.Completed = last
	return report, nil
}

// RetryFailedTransfers re-attempts the unclaimed payouts of a completed
// distribution at their recorded share. Claimed holders and holders that are
// not part of the distribution are skipped, so a retry never pays twice.
func (r *Reserve) RetryFailedTransfers(ctx context.Context, distributionId string, holders []string, tokenAmounts []decimal.Decimal) (models.BatchReport, error) {
	if _, err := privileged(ctx, "retry payouts"); err != nil {
		return models.BatchReport{}, err
	}
	allocs, err := zipAllocations(holders, tokenAmounts)
	if err != nil {
		return models.BatchReport{}, err
	}
	if len(allocs) > r.cfg.MaxBatchSize {
		return models.BatchReport{}, fmt.Errorf("%w: %d holders, limit %d", store.ErrBatchTooLarge, len(allocs), r.cfg.MaxBatchSize)
	}

	release, err := r.acquireDistribution(distributionId)
	if err != nil {
		return models.BatchReport{}, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	log, err := r.loadLog(ctx, distributionId)
	if err != nil {
		return models.BatchReport{}, err
	}
	if !log.dist.Completed {
		return models.BatchReport{}, fmt.Errorf("%w: distribution %s is still open, continue its batch run instead",
			store.ErrValidation, distributionId)
	}

	report, touched, err := r.payBatch(ctx, log, allocs, false)
	if err != nil {
		return report, err
	}
	if len(touched) > 0 {
		if err := r.commit(context.WithoutCancel(ctx), store.ReserveCommit{State: r.state, Payouts: touched}); err != nil {
			return report, fmt.Errorf("failed to record retried payouts: %w", err)
		}
	}
	report.Completed = true

	r.logReport("Failed payouts retried", report)
	return report, nil
}

// payBatch plans the payouts of allocs against the log, then attempts each
// transfer in order. Only with allowNew may holders be appended to the log.
func (r *Reserve) payBatch(ctx context.Context, log *payoutLog, allocs []allocation, allowNew bool) (models.BatchReport, []models.HolderPayout, error) {
	report := models.BatchReport{DistributionId: log.dist.Id, PaidAmount: decimal.Zero}
	dist := log.dist

	var planned []models.HolderPayout
	seen := make(map[string]struct{}, len(allocs))
	newShares := decimal.Zero
	next := len(log.entries)
	for _, a := range allocs {
		if _, dup := seen[a.holder]; dup {
			report.SkippedCount++
			continue
		}
		seen[a.holder] = struct{}{}

		if idx, ok := log.byHolder[a.holder]; ok {
			if log.entries[idx].Claimed {
				report.SkippedCount++
				continue
			}
			planned = append(planned, log.entries[idx])
			continue
		}
		if !allowNew || a.tokens.IsZero() {
			report.SkippedCount++
			continue
		}
		share := mulDiv(dist.TotalRevenue, a.tokens, dist.TotalTokenSupply)
		if share.IsZero() {
			report.SkippedCount++
			continue
		}
		newShares = newShares.Add(share)
		planned = append(planned, models.HolderPayout{
			DistributionId: dist.Id,
			HolderIndex:    next,
			Holder:         a.holder,
			TokenAmount:    a.tokens,
			Share:          share,
		})
		next++
	}

	if total := log.allocated().Add(newShares); total.GreaterThan(dist.TotalRevenue) {
		return report, nil, fmt.Errorf("%w: holder shares %s exceed distribution revenue %s, token amounts exceed supply %s",
			store.ErrValidation, total, dist.TotalRevenue, dist.TotalTokenSupply)
	}

	outcomes := make([]outcome, 0, len(planned))
	for _, p := range planned {
		leg := store.Leg{
			Kind:      store.LegTransfer,
			Asset:     r.cfg.RevenueAsset,
			From:      Account(r.cfg.AssetId),
			To:        p.Holder,
			Amount:    p.Share,
			Reference: PayoutReference(dist.Id, p.HolderIndex),
		}
		err := store.Apply(ctx, r.port, r.cfg.TransferTimeout, leg)
		p.Attempts++
		if err != nil {
			p.LastError = err.Error()
			zap.L().Warn("Holder payout failed",
				zap.String("distribution_id", dist.Id),
				zap.String("holder", p.Holder),
				zap.Int("holder_index", p.HolderIndex),
				zap.String("amount", p.Share.String()),
				zap.Int("attempts", p.Attempts),
				zap.Error(err))
		} else {
			p.Claimed = true
			p.LastError = ""
		}
		r.metrics.ObservePayout(r.cfg.AssetId, err == nil)
		log.put(p)
		outcomes = append(outcomes, outcome{payout: p, err: err})
	}

	paid := lo.Filter(outcomes, func(o outcome, _ int) bool { return o.err == nil })
	failed := lo.Filter(outcomes, func(o outcome, _ int) bool { return o.err != nil })
	report.SuccessCount = len(paid)
	report.FailureCount = len(failed)
	report.PaidAmount = lo.Reduce(paid, func(sum decimal.Decimal, o outcome, _ int) decimal.Decimal {
		return sum.Add(o.payout.Share)
	}, decimal.Zero)
	report.FailedHolders = lo.Map(failed, func(o outcome, _ int) models.FailedPayout {
		return models.FailedPayout{Holder: o.payout.Holder, Amount: o.payout.Share, Error: o.payout.LastError}
	})
	return report, lo.Map(outcomes, func(o outcome, _ int) models.HolderPayout { return o.payout }), nil
}

// commitBatch records the touched payouts and the distribution header. The
// commit survives cancellation of ctx so the log always matches the ledger.
func (r *Reserve) commitBatch(ctx context.Context, log *payoutLog, touched []models.HolderPayout, complete bool) error {
	dist := *log.dist
	dist.HolderCount = len(log.entries)
	if complete {
		completedAt := r.now()
		dist.Completed = true
		dist.CompletedAt = &completedAt
	}
	commit := store.ReserveCommit{
		State:         r.state,
		Distributions: []models.Distribution{dist},
		Payouts:       touched,
	}
	if err := r.commit(context.WithoutCancel(ctx), commit); err != nil {
		return fmt.Errorf("failed to record payouts of distribution %s: %w", dist.Id, err)
	}
	*log.dist = dist
	r.metrics.SetDistributionDust(r.cfg.AssetId, log.dust())
	return nil
}

func (l *payoutLog) put(p models.HolderPayout) {
	if p.HolderIndex < len(l.entries) {
		l.entries[p.HolderIndex] = p
		return
	}
	l.entries = append(l.entries, p)
	l.byHolder[p.Holder] = p.HolderIndex
}

// openLog loads the log of a distribution that still accepts payouts.
func (r *Reserve) openLog(ctx context.Context, distributionId string) (*payoutLog, error) {
	log, err := r.loadLog(ctx, distributionId)
	if err != nil {
		return nil, err
	}
	if log.dist.Completed {
		return nil, fmt.Errorf("%w: %s", store.ErrDistributionComplete, distributionId)
	}
	return log, nil
}

func (r *Reserve) loadLog(ctx context.Context, distributionId string) (*payoutLog, error) {
	dist, err := r.Distribution(ctx, distributionId)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.ListPayouts(ctx, distributionId)
	if err != nil {
		return nil, fmt.Errorf("failed to load payout log: %w", err)
	}
	log := &payoutLog{dist: dist, entries: entries, byHolder: make(map[string]int, len(entries))}
	for i, p := range entries {
		if p.HolderIndex != i {
			return nil, fmt.Errorf("%w: payout log of %s has index %d at position %d",
				store.ErrInvariantViolation, distributionId, p.HolderIndex, i)
		}
		log.byHolder[p.Holder] = i
	}
	return log, nil
}

// acquireDistribution marks a distribution as having a payout run in flight.
// A second run for the same id is rejected, not queued.
func (r *Reserve) acquireDistribution(id string) (func(), error) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return nil, fmt.Errorf("%w: %s", store.ErrDistributionBusy, id)
	}
	r.inflight[id] = struct{}{}
	return func() {
		r.inflightMu.Lock()
		delete(r.inflight, id)
		r.inflightMu.Unlock()
	}, nil
}

// FailedPayouts returns the unclaimed entries of a distribution's payout log.
func (r *Reserve) FailedPayouts(ctx context.Context, distributionId string) ([]models.HolderPayout, error) {
	payouts, err := r.Payouts(ctx, distributionId)
	if err != nil {
		return nil, err
	}
	return lo.Filter(payouts, func(p models.HolderPayout, _ int) bool { return !p.Claimed }), nil
}

// Dust is the revenue of a distribution not allocated to any holder because
// of share truncation.
func (r *Reserve) Dust(ctx context.Context, distributionId string) (decimal.Decimal, error) {
	log, err := r.loadLog(ctx, distributionId)
	if err != nil {
		return decimal.Zero, err
	}
	return log.dust(), nil
}

func zipAllocations(holders []string, tokenAmounts []decimal.Decimal) ([]allocation, error) {
	if len(holders) != len(tokenAmounts) {
		return nil, fmt.Errorf("%w: %d holders, %d amounts", store.ErrLengthMismatch, len(holders), len(tokenAmounts))
	}
	allocs := make([]allocation, len(holders))
	for i, holder := range holders {
		if holder == "" {
			return nil, fmt.Errorf("%w: empty holder at position %d", store.ErrValidation, i)
		}
		if tokenAmounts[i].IsNegative() {
			return nil, fmt.Errorf("%w: negative token amount for %s", store.ErrValidation, holder)
		}
		allocs[i] = allocation{holder: holder, tokens: tokenAmounts[i]}
	}
	return allocs, nil
}

func (r *Reserve) logReport(msg string, report models.BatchReport) {
	zap.L().Info(msg,
		zap.String("asset", r.cfg.AssetId),
		zap.String("distribution_id", report.DistributionId),
		zap.Int("paid", report.SuccessCount),
		zap.Int("failed", report.FailureCount),
		zap.Int("skipped", report.SkippedCount),
		zap.String("paid_amount", report.PaidAmount.String()),
		zap.Bool("completed", report.Completed))
}
