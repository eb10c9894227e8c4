package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_IngestCounters(t *testing.T) {
	// Given: fresh metrics
	m := NewMetrics()

	// When: recording an ingest run with one failed document
	m.RecordDocument(true)
	m.RecordDocument(true)
	m.RecordDocument(false)
	m.RecordChunks(3, 2)
	m.RecordChunks(1, 0)
	m.ObserveIngest(150 * time.Millisecond)

	// Then: the counters add up
	assert.Equal(t, 2.0, testutil.ToFloat64(m.documentsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documentsTotal.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.chunksTotal.WithLabelValues("written")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunksTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ingestDuration))
}

func TestMetrics_QueryStatus(t *testing.T) {
	m := NewMetrics()

	m.ObserveQuery(10*time.Millisecond, 5, "")
	m.ObserveQuery(time.Millisecond, 0, "ERR_405_QUERY_TOO_LONG")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("ok", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queriesTotal.WithLabelValues("error", "ERR_405_QUERY_TOO_LONG")))
}

func TestMetrics_JobTransitions(t *testing.T) {
	// Given: metrics tracking one job through its lifecycle
	m := NewMetrics()

	// When: the job is created, started and completed
	m.JobTransition("", "pending", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsActive.WithLabelValues("pending")))

	m.JobTransition("pending", "running", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsActive.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsActive.WithLabelValues("running")))

	m.JobTransition("running", "completed", true)
	m.ObserveJob("completed", 2*time.Second)
	m.JobRejected()

	// Then: no job is active and each state was counted once
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsActive.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsRejected))
}

func TestMetrics_Handler(t *testing.T) {
	// Given: metrics with a recorded store size
	m := NewMetrics()
	m.SetStoreChunks(42)

	// When: scraping the handler
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Then: the exposition contains the gauge and runtime metrics
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ragcore_store_chunks 42")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordDocument(true)
		m.RecordChunks(1, 1)
		m.ObserveIngest(time.Second)
		m.ObserveQuery(time.Second, 1, "")
		m.JobTransition("", "pending", false)
		m.ObserveJob("failed", time.Second)
		m.JobRejected()
		m.SetStoreChunks(1)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}
