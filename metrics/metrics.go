package metrics

import (
	"github.com/DomeLiquid/lending/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics implements core.Observer with prometheus collectors. A nil
// *Metrics observes nothing.
type Metrics struct {
	depositIndex *prometheus.GaugeVec
	loanIndex    *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	variableRate *prometheus.GaugeVec
	depositRate  *prometheus.GaugeVec
	stableRate   *prometheus.GaugeVec
	vault        *prometheus.GaugeVec
	insurance    *prometheus.GaugeVec

	actions         *prometheus.CounterVec
	liquidated      *prometheus.CounterVec
	liquidations    *prometheus.CounterVec
	flashloanVolume *prometheus.CounterVec
	flashloanFees   *prometheus.CounterVec
}

var _ core.Observer = (*Metrics)(nil)

func poolGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lending",
		Subsystem: "pool",
		Name:      name,
		Help:      help,
	}, []string{"pool"})
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		depositIndex: poolGauge("deposit_index", "Deposit index of the pool."),
		loanIndex:    poolGauge("loan_index", "Variable loan index of the pool."),
		utilization:  poolGauge("utilization", "Total debt over supply."),
		variableRate: poolGauge("variable_rate", "Annual variable borrow rate."),
		depositRate:  poolGauge("deposit_rate", "Annual deposit rate."),
		stableRate:   poolGauge("stable_rate", "Weighted rate of the stable book."),
		vault:        poolGauge("vault", "Underlying held by the pool, insurance included."),
		insurance:    poolGauge("insurance_balance", "Insurance balance of the pool."),

		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "actions_total",
			Help:      "Committed actions by type.",
		}, []string{"action"}),
		liquidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "liquidated_debt_total",
			Help:      "Debt repaid by liquidators, in underlying units of the debt asset.",
		}, []string{"asset"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "liquidations_total",
			Help:      "Liquidations by debt asset.",
		}, []string{"asset"}),
		flashloanVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "flashloan_volume_total",
			Help:      "Repaid flash loan principal by asset.",
		}, []string{"asset"}),
		flashloanFees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "flashloan_fees_total",
			Help:      "Flash loan fees collected by asset.",
		}, []string{"asset"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.depositIndex,
			m.loanIndex,
			m.utilization,
			m.variableRate,
			m.depositRate,
			m.stableRate,
			m.vault,
			m.insurance,
			m.actions,
			m.liquidated,
			m.liquidations,
			m.flashloanVolume,
			m.flashloanFees,
		)
	}
	return m
}

func float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func label(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (m *Metrics) ObservePool(pool *core.Pool, now int64) {
	if m == nil || pool == nil {
		return
	}
	name := label(pool.Symbol)
	m.depositIndex.WithLabelValues(name).Set(float(pool.DepositIndex))
	m.loanIndex.WithLabelValues(name).Set(float(pool.LoanIndex))
	m.utilization.WithLabelValues(name).Set(float(pool.Utilization(now)))
	m.variableRate.WithLabelValues(name).Set(float(pool.VariableRate))
	m.depositRate.WithLabelValues(name).Set(float(pool.DepositRate))
	m.stableRate.WithLabelValues(name).Set(float(pool.StableRate))
	m.vault.WithLabelValues(name).Set(float(pool.Vault))
	m.insurance.WithLabelValues(name).Set(float(pool.InsuranceBalance))
}

func (m *Metrics) ObserveEvent(event *core.Event) {
	if m == nil || event == nil {
		return
	}
	m.actions.WithLabelValues(event.Action.String()).Inc()

	asset := label(event.Detail.Asset)
	switch event.Action {
	case core.ActionLiquidation:
		m.liquidations.WithLabelValues(asset).Inc()
		if event.Detail.Amount.IsPositive() {
			m.liquidated.WithLabelValues(asset).Add(float(event.Detail.Amount))
		}
	case core.ActionFlashLoan:
		if event.Detail.Amount.IsPositive() {
			m.flashloanVolume.WithLabelValues(asset).Add(float(event.Detail.Amount))
		}
		if event.Detail.Fee.IsPositive() {
			m.flashloanFees.WithLabelValues(asset).Add(float(event.Detail.Fee))
		}
	}
}
