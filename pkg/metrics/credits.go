package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CreditMetrics records counters for ledger writes and spend attempts.
type CreditMetrics struct {
	spendDuration *prometheus.HistogramVec
	spends        *prometheus.CounterVec
	grants        *prometheus.CounterVec
	insufficient  *prometheus.CounterVec
	replays       *prometheus.CounterVec
}

// NewCreditMetrics registers the credit engine metrics on the provided registerer.
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		return &CreditMetrics{}
	}
	spendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credit_spend_duration_seconds",
		Help:    "Duration of credit spend transactions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"meter"})
	spends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_spends_total",
		Help: "Committed credit debits.",
	}, []string{"meter"})
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_grants_total",
		Help: "Committed credit grants.",
	}, []string{"source"})
	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_insufficient_balance_total",
		Help: "Spend attempts rejected for insufficient balance.",
	}, []string{"meter"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_idempotent_replays_total",
		Help: "Spend or grant requests answered from an already-applied operation.",
	}, []string{"operation"})
	reg.MustRegister(spendDuration, spends, grants, insufficient, replays)
	return &CreditMetrics{
		spendDuration: spendDuration,
		spends:        spends,
		grants:        grants,
		insufficient:  insufficient,
		replays:       replays,
	}
}

// ObserveSpendDuration records the wall time of a spend transaction.
func (c *CreditMetrics) ObserveSpendDuration(meter string, duration time.Duration) {
	if c == nil || c.spendDuration == nil {
		return
	}
	c.spendDuration.WithLabelValues(normalizeLabel(meter)).Observe(duration.Seconds())
}

// IncSpend increments the committed-debit counter for the meter.
func (c *CreditMetrics) IncSpend(meter string) {
	if c == nil || c.spends == nil {
		return
	}
	c.spends.WithLabelValues(normalizeLabel(meter)).Inc()
}

// IncGrant increments the committed-grant counter for the source.
func (c *CreditMetrics) IncGrant(source string) {
	if c == nil || c.grants == nil {
		return
	}
	c.grants.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncInsufficientBalance increments the rejected-spend counter for the meter.
func (c *CreditMetrics) IncInsufficientBalance(meter string) {
	if c == nil || c.insufficient == nil {
		return
	}
	c.insufficient.WithLabelValues(normalizeLabel(meter)).Inc()
}

// IncReplay increments the idempotent-replay counter for the operation kind.
func (c *CreditMetrics) IncReplay(operation string) {
	if c == nil || c.replays == nil {
		return
	}
	c.replays.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
