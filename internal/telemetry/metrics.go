package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "span_conduit"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics records exporter and delivery activity in a Prometheus registry.
// It satisfies exporter.Metrics and delivery.Observer.
type Metrics struct {
	registry *prometheus.Registry

	spansEnqueued  prometheus.Counter
	spansDuplicate prometheus.Counter
	spansDropped   *prometheus.CounterVec
	bufferSpans    prometheus.Gauge
	flushes        *prometheus.CounterVec
	flushSpans     *prometheus.CounterVec
	flushDuration  *prometheus.HistogramVec
	batches        *prometheus.CounterVec
	batchBytes     *prometheus.HistogramVec
	batchDuration  *prometheus.HistogramVec
}

// NewMetrics registers the conduit metrics on registry. A nil registry gets a
// fresh one with the Go and process collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		spansEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_enqueued_total",
			Help:      "Spans accepted into the buffer.",
		}),
		spansDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_duplicate_total",
			Help:      "Spans skipped because their trace and span id were already tracked.",
		}),
		spansDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_dropped_total",
			Help:      "Spans discarded without delivery, by reason.",
		}, []string{"reason"}),
		bufferSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_spans",
			Help:      "Spans waiting in the buffer.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Flush cycles that attempted delivery, by mode and result.",
		}, []string{"mode", "result"}),
		flushSpans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_spans_total",
			Help:      "Spans handled by flush cycles, by mode and result.",
		}, []string{"mode", "result"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of flush cycles that attempted delivery.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch requests sent to the collector, by mode and result.",
		}, []string{"mode", "result"}),
		batchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_bytes",
			Help:      "Encoded size of sent batches.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"mode"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	registry.MustRegister(
		m.spansEnqueued,
		m.spansDuplicate,
		m.spansDropped,
		m.bufferSpans,
		m.flushes,
		m.flushSpans,
		m.flushDuration,
		m.batches,
		m.batchBytes,
		m.batchDuration,
	)

	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (m *Metrics) SpansEnqueued(added, duplicates int) {
	m.spansEnqueued.Add(float64(added))
	m.spansDuplicate.Add(float64(duplicates))
}

func (m *Metrics) SpansDropped(reason string, n int) {
	m.spansDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) BufferSize(n int) {
	m.bufferSpans.Set(float64(n))
}

func (m *Metrics) FlushCompleted(mode string, spans int, elapsed time.Duration, err error) {
	result := resultLabel(err)
	m.flushes.WithLabelValues(mode, result).Inc()
	m.flushSpans.WithLabelValues(mode, result).Add(float64(spans))
	m.flushDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBatch(mode string, spans, bytes int, elapsed time.Duration, err error) {
	m.batches.WithLabelValues(mode, resultLabel(err)).Inc()
	m.batchBytes.WithLabelValues(mode).Observe(float64(bytes))
	m.batchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
