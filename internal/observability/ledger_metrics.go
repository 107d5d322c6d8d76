package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// LedgerMetrics counts posting outcomes, ledger rejections, reservation
// shortfalls and accounting emission results.
type LedgerMetrics struct {
	postings   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	shortfall  prometheus.Counter
	emits      *prometheus.CounterVec
}

// NewLedgerMetrics registers the collectors. A nil registerer yields
// unregistered collectors, which tests use.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "o2c_postings_total",
			Help: "Document operations by document and result (ok, rejected, retryable, error).",
		}, []string{"document", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "o2c_ledger_rejections_total",
			Help: "Business rejections by document and code.",
		}, []string{"document", "code"}),
		shortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "o2c_reservation_shortfall_total",
			Help: "Base quantity requested but not reserved under soft strictness.",
		}),
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "o2c_accounting_emit_total",
			Help: "Accounting events by result (dispatched, skipped, unbalanced, failed).",
		}, []string{"result"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.postings, m.rejections, m.shortfall, m.emits)
	}
	return m
}

// ObservePosting classifies err and counts it.
func (m *LedgerMetrics) ObservePosting(document string, err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.postings.WithLabelValues(document, "ok").Inc()
	case shared.IsBusiness(err):
		m.postings.WithLabelValues(document, "rejected").Inc()
		m.rejections.WithLabelValues(document, shared.CodeOf(err)).Inc()
	case shared.CodeOf(err) == "RETRYABLE":
		m.postings.WithLabelValues(document, "retryable").Inc()
	default:
		m.postings.WithLabelValues(document, "error").Inc()
	}
}

// ObserveShortfall implements reservation.Metrics.
func (m *LedgerMetrics) ObserveShortfall(q decimal.Decimal) {
	if m == nil || !q.IsPositive() {
		return
	}
	m.shortfall.Add(q.InexactFloat64())
}

// ObserveEmit implements accounting.Metrics.
func (m *LedgerMetrics) ObserveEmit(result string) {
	if m == nil {
		return
	}
	m.emits.WithLabelValues(result).Inc()
}
