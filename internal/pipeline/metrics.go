package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports per-stage latency and per-source outcome counts. Registered
// once on the default registry; repeated construction returns the same set.
type Metrics struct {
	requestLatency prometheus.Histogram
	stageLatency   *prometheus.HistogramVec
	stageTimeouts  *prometheus.CounterVec
	responses      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			requestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "query_request_latency_seconds",
				Help:    "End to end query latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			}),
			stageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pipeline_stage_latency_seconds",
				Help:    "Latency per pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 3.0, 15.0},
			}, []string{"stage"}),
			stageTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_stage_timeouts_total",
				Help: "Stage executions that exceeded their budget",
			}, []string{"stage"}),
			responses: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "query_responses_total",
				Help: "Responses by source",
			}, []string{"source"}),
		}
	})
	return metrics
}

func (m *Metrics) observe(trace *Trace, source string) {
	if m == nil {
		return
	}
	m.requestLatency.Observe(trace.Elapsed().Seconds())
	m.responses.WithLabelValues(source).Inc()
	for _, entry := range trace.Entries() {
		m.stageLatency.WithLabelValues(entry.Stage).Observe(entry.Elapsed.Seconds())
		if entry.TimedOut {
			m.stageTimeouts.WithLabelValues(entry.Stage).Inc()
		}
	}
}
