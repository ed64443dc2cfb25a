package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger node
type Metrics struct {
	TxResults       *prometheus.CounterVec
	BlockHeight     prometheus.Gauge
	BatchesCreated  prometheus.Counter
	EventsPublished *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TxResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "halal_ledger_tx_results_total",
			Help: "Executed ledger transactions by operation and result code",
		}, []string{"op", "code"}),
		BlockHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "halal_ledger_block_height",
			Help: "Height of the last committed block",
		}),
		BatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "halal_ledger_batches_created_total",
			Help: "Total number of batches registered",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "halal_ledger_events_published_total",
			Help: "Committed ledger events delivered to sinks by sink and outcome",
		}, []string{"sink", "outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "halal_ledger_http_requests_total",
			Help: "Ledger API requests by route and status code",
		}, []string{"route", "status"}),
	}
}

// NewNop returns metrics registered on a private registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveTx counts one executed transaction
func (m *Metrics) ObserveTx(op, code string) {
	m.TxResults.WithLabelValues(op, code).Inc()
}

// IncrementBatchesCreated increments the batches created counter by 1
func (m *Metrics) IncrementBatchesCreated() {
	m.BatchesCreated.Inc()
}

// SetBlockHeight records the last committed height
func (m *Metrics) SetBlockHeight(h int64) {
	m.BlockHeight.Set(float64(h))
}

// ObserveDelivery counts events handed to a sink
func (m *Metrics) ObserveDelivery(sink, outcome string, n int) {
	m.EventsPublished.WithLabelValues(sink, outcome).Add(float64(n))
}

// ObserveHTTP counts one ledger API request
func (m *Metrics) ObserveHTTP(route, status string) {
	m.HTTPRequests.WithLabelValues(route, status).Inc()
}
