package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type LedgerMetrics struct {
	payouts           *prometheus.CounterVec
	loans             *prometheus.CounterVec
	harvests          *prometheus.CounterVec
	liquidityEvents   *prometheus.CounterVec
	poolLiquidity     *prometheus.GaugeVec
	reserveBalance    *prometheus.GaugeVec
	distributionDust  *prometheus.GaugeVec
	invariantFailures *prometheus.CounterVec
	settlerTicks      *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide collectors, registering them on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "grove_payouts_total",
				Help: "Holder payout attempts by asset and outcome.",
			}, []string{"asset", "outcome"}),
			loans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "grove_loans_total",
				Help: "Loan lifecycle events by pool asset.",
			}, []string{"asset", "event"}),
			harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "grove_harvests_total",
				Help: "Harvest events by grove asset.",
			}, []string{"asset", "event"}),
			liquidityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "grove_liquidity_events_total",
				Help: "Liquidity provided or withdrawn by pool asset.",
			}, []string{"asset", "event"}),
			poolLiquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "grove_pool_liquidity",
				Help: "Pool liquidity by asset and bucket (total, available, borrowed).",
			}, []string{"asset", "bucket"}),
			reserveBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "grove_reserve_balance",
				Help: "Undistributed revenue reserve by grove asset.",
			}, []string{"asset"}),
			distributionDust: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "grove_distribution_dust",
				Help: "Rounding remainder left by the latest distribution of an asset.",
			}, []string{"asset"}),
			invariantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "grove_invariant_violations_total",
				Help: "State invariant violations detected by component.",
			}, []string{"component"}),
			settlerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "grove_settler_ticks_total",
				Help: "Settlement worker ticks by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.payouts,
			ledgerRegistry.loans,
			ledgerRegistry.harvests,
			ledgerRegistry.liquidityEvents,
			ledgerRegistry.poolLiquidity,
			ledgerRegistry.reserveBalance,
			ledgerRegistry.distributionDust,
			ledgerRegistry.invariantFailures,
			ledgerRegistry.settlerTicks,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObservePayout(asset string, paid bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if paid {
		outcome = "paid"
	}
	m.payouts.WithLabelValues(asset, outcome).Inc()
}

func (m *LedgerMetrics) ObserveLoan(asset, event string) {
	if m == nil {
		return
	}
	m.loans.WithLabelValues(asset, event).Inc()
}

func (m *LedgerMetrics) ObserveHarvest(asset, event string) {
	if m == nil {
		return
	}
	m.harvests.WithLabelValues(asset, event).Inc()
}

func (m *LedgerMetrics) ObserveLiquidity(asset, event string) {
	if m == nil {
		return
	}
	m.liquidityEvents.WithLabelValues(asset, event).Inc()
}

func (m *LedgerMetrics) SetPoolLiquidity(asset string, total, available, borrowed decimal.Decimal) {
	if m == nil {
		return
	}
	m.poolLiquidity.WithLabelValues(asset, "total").Set(total.InexactFloat64())
	m.poolLiquidity.WithLabelValues(asset, "available").Set(available.InexactFloat64())
	m.poolLiquidity.WithLabelValues(asset, "borrowed").Set(borrowed.InexactFloat64())
}

func (m *LedgerMetrics) SetReserveBalance(asset string, reserve decimal.Decimal) {
	if m == nil {
		return
	}
	m.reserveBalance.WithLabelValues(asset).Set(reserve.InexactFloat64())
}

func (m *LedgerMetrics) SetDistributionDust(asset string, dust decimal.Decimal) {
	if m == nil {
		return
	}
	m.distributionDust.WithLabelValues(asset).Set(dust.InexactFloat64())
}

func (m *LedgerMetrics) IncInvariantViolation(component string) {
	if m == nil {
		return
	}
	m.invariantFailures.WithLabelValues(component).Inc()
}

func (m *LedgerMetrics) IncSettlerTick(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.settlerTicks.WithLabelValues(result).Inc()
}
