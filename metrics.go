package bitmapindex

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments builds and queries. Construct with NewMetrics and
// pass via WithMetrics; a nil *Metrics disables all instrumentation.
type Metrics struct {
	IndexesBuilt  prometheus.Counter
	BuildSeconds  prometheus.Histogram
	BytesWritten  prometheus.Counter
	BatchesSaved  prometheus.Counter
	QueriesTotal  *prometheus.CounterVec
	QueryFailures prometheus.Counter
}

// NewMetrics creates the metric set and registers it on reg (skipped when
// reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IndexesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitmapindex_indexes_built_total",
			Help: "Bitmap indexes constructed.",
		}),
		BuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitmapindex_index_build_seconds",
			Help:    "Wall time of single index builds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitmapindex_bytes_written_total",
			Help: "Bytes appended to batch bitmap files.",
		}),
		BatchesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitmapindex_batches_saved_total",
			Help: "Completed save_all invocations.",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitmapindex_queries_total",
			Help: "Index queries by operator.",
		}, []string{"op"}),
		QueryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitmapindex_query_failures_total",
			Help: "Index queries that returned an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.IndexesBuilt, m.BuildSeconds, m.BytesWritten,
			m.BatchesSaved, m.QueriesTotal, m.QueryFailures)
	}
	return m
}

func (m *Metrics) indexBuilt(seconds float64) {
	if m == nil {
		return
	}
	m.IndexesBuilt.Inc()
	m.BuildSeconds.Observe(seconds)
}

func (m *Metrics) batchSaved(bytes int) {
	if m == nil {
		return
	}
	m.BatchesSaved.Inc()
	m.BytesWritten.Add(float64(bytes))
}

func (m *Metrics) query(op string, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(op).Inc()
	if err != nil {
		m.QueryFailures.Inc()
	}
}
