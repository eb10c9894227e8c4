package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Namespace prefixes every metric name.
const Namespace = "ragcore"

// Tracer is the process tracer. Without a configured provider it is a no-op.
var Tracer trace.Tracer = otel.Tracer("github.com/Aman-CERP/ragcore")

// StartSpan starts a span on Tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, opts...)
}

// Metrics holds the Prometheus collectors for ingestion, retrieval and jobs.
//
// A nil *Metrics is valid and records nothing, so components can take one
// as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	documentsTotal *prometheus.CounterVec
	chunksTotal    *prometheus.CounterVec
	ingestDuration prometheus.Histogram

	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
	queryResults  prometheus.Histogram

	jobsTotal    *prometheus.CounterVec
	jobsActive   *prometheus.GaugeVec
	jobDuration  *prometheus.HistogramVec
	jobsRejected prometheus.Counter

	storeChunks prometheus.Gauge
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ingest_documents_total",
				Help:      "Documents processed by ingestion, by result",
			},
			[]string{"result"},
		),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ingest_chunks_total",
				Help:      "Chunks handled by ingestion, by outcome (written or skipped)",
			},
			[]string{"outcome"},
		),
		ingestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Duration of ingest calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
			},
		),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "queries_total",
				Help:      "Retrieval queries by status and error code",
			},
			[]string{"status", "code"},
		),
		queryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of retrieval queries in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
		),
		queryResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "query_results",
				Help:      "Number of results returned per query",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_total",
				Help:      "Jobs that reached a state, by state",
			},
			[]string{"state"},
		),
		jobsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "jobs_active",
				Help:      "Jobs currently pending or running",
			},
			[]string{"state"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "job_duration_seconds",
				Help:      "Run time of finished jobs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
			[]string{"state"},
		),
		jobsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_rejected_total",
				Help:      "Submissions rejected because the job queue was full",
			},
		),
		storeChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "store_chunks",
				Help:      "Chunks in the index store at last observation",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.documentsTotal, m.chunksTotal, m.ingestDuration,
		m.queriesTotal, m.queryDuration, m.queryResults,
		m.jobsTotal, m.jobsActive, m.jobDuration, m.jobsRejected,
		m.storeChunks,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDocument counts one processed document.
func (m *Metrics) RecordDocument(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.documentsTotal.WithLabelValues(result).Inc()
}

// RecordChunks counts written and skipped chunks.
func (m *Metrics) RecordChunks(written, skipped int) {
	if m == nil {
		return
	}
	m.chunksTotal.WithLabelValues("written").Add(float64(written))
	m.chunksTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveIngest records the duration of one ingest call.
func (m *Metrics) ObserveIngest(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(d.Seconds())
}

// ObserveQuery records one retrieval query. code is the error code of a
// failed query and empty on success.
func (m *Metrics) ObserveQuery(d time.Duration, results int, code string) {
	if m == nil {
		return
	}
	status := "ok"
	if code != "" {
		status = "error"
	}
	m.queriesTotal.WithLabelValues(status, code).Inc()
	m.queryDuration.Observe(d.Seconds())
	if code == "" {
		m.queryResults.Observe(float64(results))
	}
}

// JobTransition records a job moving from one state to another. An empty
// from marks a newly created job.
func (m *Metrics) JobTransition(from, to string, terminal bool) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(to).Inc()
	if from != "" {
		m.jobsActive.WithLabelValues(from).Dec()
	}
	if !terminal {
		m.jobsActive.WithLabelValues(to).Inc()
	}
}

// ObserveJob records how long a finished job ran.
func (m *Metrics) ObserveJob(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(state).Observe(d.Seconds())
}

// JobRejected counts a submission refused for lack of capacity.
func (m *Metrics) JobRejected() {
	if m == nil {
		return
	}
	m.jobsRejected.Inc()
}

// SetStoreChunks records the current store size.
func (m *Metrics) SetStoreChunks(n int) {
	if m == nil {
		return
	}
	m.storeChunks.Set(float64(n))
}
