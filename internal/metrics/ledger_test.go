package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLedgerSingleton(t *testing.T) {
	require.Same(t, Ledger(), Ledger())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *LedgerMetrics
	require.NotPanics(t, func() {
		m.ObservePayout("GROVE1", true)
		m.ObserveLoan("USDC", "opened")
		m.SetPoolLiquidity("USDC", decimal.Zero, decimal.Zero, decimal.Zero)
		m.IncSettlerTick("")
	})
}

func TestObservePayoutAndGauges(t *testing.T) {
	m := Ledger()

	before := testutil.ToFloat64(m.payouts.WithLabelValues("GROVET", "failed"))
	m.ObservePayout("GROVET", false)
	require.Equal(t, before+1, testutil.ToFloat64(m.payouts.WithLabelValues("GROVET", "failed")))

	m.SetPoolLiquidity("USDCT", decimal.NewFromInt(1000), decimal.NewFromInt(400), decimal.NewFromInt(600))
	require.Equal(t, 400.0, testutil.ToFloat64(m.poolLiquidity.WithLabelValues("USDCT", "available")))
	require.Equal(t, 600.0, testutil.ToFloat64(m.poolLiquidity.WithLabelValues("USDCT", "borrowed")))

	m.SetReserveBalance("GROVET", decimal.NewFromInt(1500))
	require.Equal(t, 1500.0, testutil.ToFloat64(m.reserveBalance.WithLabelValues("GROVET")))
}
