package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

type testEnv struct {
	srv      *httptest.Server
	registry *pipeline.Registry
	jobs     *jobs.Manager
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Store.DataDir = filepath.Join(t.TempDir(), ".ragcore")
	cfg.Ingest.Workers = 2

	metrics := telemetry.NewMetrics()
	registry := pipeline.NewRegistry(cfg, pipeline.WithMetrics(metrics))
	manager, err := jobs.NewManager(jobs.DefaultConfig(),
		jobs.QueryAndGenerate(registry.Querier(), generate.NewExtractive(0)),
		jobs.WithMetrics(metrics))
	require.NoError(t, err)

	o := Options{Registry: registry, Jobs: manager, Metrics: metrics, Search: cfg.Search}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := New(o)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = manager.Close(ctx)
		_ = registry.Close()
	})
	return &testEnv{srv: srv, registry: registry, jobs: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Error.Code
}

var corpus = map[string]any{
	"documents": []map[string]any{
		{"source_id": "optim", "text": "Stochastic gradient descent updates weights using minibatches of training data.", "metadata": map[string]any{"title": "Optimization"}},
		{"source_id": "attn", "text": "Transformers rely on self-attention to relate tokens across a sequence."},
		{"source_id": "", "text": "orphan text without an id"},
	},
}

func TestIngest_ReportsPerDocumentErrorsWith200(t *testing.T) {
	env := newTestEnv(t)

	// When: ingesting a batch where one document is invalid
	resp, body := env.do(t, http.MethodPost, "/v1/ingest", corpus)

	// Then: the request succeeds and the bad document is listed
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var report index.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 3, report.DocumentsLoaded)
	assert.Equal(t, 2, report.ChunksIngested)
	assert.Equal(t, 0, report.ChunksSkipped)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "empty source_id")
}

func TestIngest_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/ingest", corpus)

	// When: the same batch is ingested again
	resp, body := env.do(t, http.MethodPost, "/v1/ingest", corpus)

	// Then: nothing new is written
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report index.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 0, report.ChunksIngested)
	assert.Equal(t, 2, report.ChunksSkipped)
}

func TestIngest_RejectsBadBodies(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty body", nil},
		{"malformed", "{not json"},
		{"unknown field", `{"docs": []}`},
		{"no documents", `{"documents": []}`},
		{"overlap not below chunk size", `{"documents": [{"source_id": "a", "text": "x"}], "chunk_size": 10, "overlap": 10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/v1/ingest", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
			assert.Equal(t, errors.ErrCodeInvalidInput, errorCode(t, body))
		})
	}
}

func TestQuery_LexicalOnlyRanksVerbatimTermFirst(t *testing.T) {
	// Given: an ingested corpus
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/ingest", corpus)

	// When: querying a term present in one chunk with alpha=0
	resp, body := env.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "minibatches", "top_k": 2, "alpha": 0})

	// Then: that chunk ranks first
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res search.Result
	require.NoError(t, json.Unmarshal(body, &res))
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "optim", res.Hits[0].Chunk.DocumentID)
	assert.Equal(t, 1, res.Hits[0].Rank)
	assert.Equal(t, 0.0, res.Alpha)
}

func TestQuery_EmptyStoreIsNotAnError(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "anything"})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res search.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Empty(t, res.Hits)
	assert.Equal(t, 5, res.TopK)
}

func TestQuery_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"alpha out of range", map[string]any{"query": "x", "alpha": 1.5}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"empty query", map[string]any{"query": "   "}, http.StatusBadRequest, errors.ErrCodeQueryEmpty},
		{"too long", map[string]any{"query": strings.Repeat("a", 5000)}, http.StatusRequestEntityTooLarge, errors.ErrCodeQueryTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestStats_NotFoundWhenEmptyThenCounts(t *testing.T) {
	env := newTestEnv(t)

	// Given: an empty index, stats is NotFound
	resp, body := env.do(t, http.MethodGet, "/v1/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, errors.ErrCodeNotFound, errorCode(t, body))

	// When: documents are ingested
	_, _ = env.do(t, http.MethodPost, "/v1/ingest", corpus)
	resp, body = env.do(t, http.MethodGet, "/v1/stats", nil)

	// Then: counts are reported
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 2, stats.Documents)
	assert.NotNil(t, stats.Jobs)
}

func TestDeleteDocumentAndReset(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/ingest", corpus)

	// When: deleting one document
	resp, body := env.do(t, http.MethodDelete, "/v1/documents/optim", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var del DeleteResponse
	require.NoError(t, json.Unmarshal(body, &del))
	assert.Equal(t, DeleteResponse{DocumentID: "optim", Deleted: 1}, del)

	// Then: deleting it again is NotFound
	resp, _ = env.do(t, http.MethodDelete, "/v1/documents/optim", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// When: resetting
	resp, body = env.do(t, http.MethodPost, "/v1/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &del))
	assert.Equal(t, 1, del.Deleted)

	// Then: the index is empty
	resp, _ = env.do(t, http.MethodGet, "/v1/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobs_SubmitAndPoll(t *testing.T) {
	// Given: an ingested corpus
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/ingest", corpus)

	// When: submitting a job
	resp, body := env.do(t, http.MethodPost, "/v1/jobs", map[string]any{"query": "self-attention", "topic": "NLP"})

	// Then: it is accepted immediately and eventually completes
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var job jobs.Job
	require.NoError(t, json.Unmarshal(body, &job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "/v1/jobs/"+job.ID, resp.Header.Get("Location"))
	assert.Contains(t, []jobs.Status{jobs.StatusPending, jobs.StatusRunning}, job.Status)

	var final jobs.Job
	require.Eventually(t, func() bool {
		resp, body := env.do(t, http.MethodGet, "/v1/jobs/"+job.ID, nil)
		if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &final) != nil {
			return false
		}
		return final.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, jobs.StatusCompleted, final.Status, final.Error)
	require.NotNil(t, final.Result)
	require.NotNil(t, final.Result.Answer)
	assert.Contains(t, final.Result.Answer.Text, "NLP")
	assert.NotEmpty(t, final.Result.Retrieval.Hits)

	// And: the job is listed
	resp, body = env.do(t, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID, list.Jobs[0].ID)
}

func TestJobs_Errors(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, errors.ErrCodeNotFound, errorCode(t, body))

	resp, body = env.do(t, http.MethodPost, "/v1/jobs", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.ErrCodeQueryEmpty, errorCode(t, body))

	resp, _ = env.do(t, http.MethodDelete, "/v1/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobs_ListEmpty(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"jobs": []}`, string(body))
}

func TestIngestStatus(t *testing.T) {
	// Without a background ingester there is nothing to report.
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/v1/ingest/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// With one, its progress snapshot is returned.
	ing := async.NewBackgroundIngester(async.IngesterConfig{}, nil)
	ing.Start(context.Background())
	require.NoError(t, ing.Wait())

	env = newTestEnv(t, func(o *Options) { o.Ingester = ing })
	resp, body := env.do(t, http.MethodGet, "/v1/ingest/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap async.ProgressSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "ready", snap.Status)
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.do(t, http.MethodPost, "/v1/ingest", corpus)

	resp, body := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ragcore_store_chunks 2")

	resp, body = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/v1/query", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Registry: pipeline.NewRegistry(config.NewConfig())})
	require.Error(t, err)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	// Given: a server on an ephemeral port
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Store.DataDir = t.TempDir()
	registry := pipeline.NewRegistry(cfg)
	t.Cleanup(func() { _ = registry.Close() })
	manager, err := jobs.NewManager(jobs.DefaultConfig(), jobs.QueryAndGenerate(registry.Querier(), generate.NewExtractive(0)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	s, err := New(Options{Registry: registry, Jobs: manager})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	// When: it is up and the context is cancelled
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	// Then: Serve returns cleanly
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
