package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/internal/store"
)

// IngestRequest is the body of POST /v1/ingest. Zero ChunkSize and Overlap
// take the configured defaults.
type IngestRequest struct {
	Documents []chunk.Document `json:"documents"`
	ChunkSize int              `json:"chunk_size,omitempty"`
	Overlap   int              `json:"overlap,omitempty"`
}

// IngestResponse reports an ingestion. Per-document failures are listed in
// Errors; the request itself still succeeds.
type IngestResponse struct {
	*index.Report
	DurationMS int64 `json:"duration_ms"`
}

// QueryRequest is the body of POST /v1/query. Absent TopK and Alpha take the
// configured defaults.
type QueryRequest struct {
	Query      string   `json:"query"`
	TopK       *int     `json:"top_k,omitempty"`
	Alpha      *float64 `json:"alpha,omitempty"`
	Documents  []string `json:"documents,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Explain    bool     `json:"explain,omitempty"`
}

// QueryResponse wraps a retrieval result.
type QueryResponse struct {
	*search.Result
	TookMS int64 `json:"took_ms"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	store.Stats
	Jobs map[jobs.Status]int `json:"jobs"`
}

// DeleteResponse reports how many chunks were removed.
type DeleteResponse struct {
	DocumentID string `json:"document_id,omitempty"`
	Deleted    int    `json:"deleted"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, errors.ValidationError("documents is required", nil))
		return
	}

	p, err := s.registry.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := p.Engine.Ingest(r.Context(), req.Documents, req.ChunkSize, req.Overlap)
	if err != nil {
		writeError(w, err)
		return
	}
	if report.Errors == nil {
		report.Errors = []string{}
	}
	s.refreshStoreGauge(r, p.Store)
	writeJSON(w, http.StatusOK, IngestResponse{Report: report, DurationMS: report.Duration.Milliseconds()})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, errors.NotFound("background ingestion", ""))
		return
	}
	writeJSON(w, http.StatusOK, s.ingester.Progress().Snapshot())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}

	sr := search.Request{
		Query:      req.Query,
		TopK:       s.search.TopK,
		Alpha:      s.search.Alpha,
		Documents:  req.Documents,
		Categories: req.Categories,
		Sources:    req.Sources,
		Explain:    req.Explain,
	}
	if req.TopK != nil {
		sr.TopK = *req.TopK
	}
	if req.Alpha != nil {
		if *req.Alpha < 0 || *req.Alpha > 1 {
			writeError(w, errors.ValidationError(fmt.Sprintf("alpha must be in [0,1], got %v", *req.Alpha), nil))
			return
		}
		sr.Alpha = *req.Alpha
	}

	p, err := s.registry.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := p.Retriever.Search(r.Context(), sr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Result: result, TookMS: result.Took.Milliseconds()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := p.Store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if st.Chunks == 0 {
		writeError(w, errors.NotFound("index", "").
			WithSuggestion("Ingest documents with POST /v1/ingest or `ragcore ingest`"))
		return
	}
	jobStats, err := s.jobs.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SetStoreChunks(st.Chunks)
	writeJSON(w, http.StatusOK, StatsResponse{Stats: st, Jobs: jobStats})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := p.Store.Reset(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("index_reset", slog.Int("chunks", n))
	s.metrics.SetStoreChunks(0)
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.registry.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := p.Store.DeleteByDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeError(w, errors.NotFound("document", id))
		return
	}
	s.refreshStoreGauge(r, p.Store)
	writeJSON(w, http.StatusOK, DeleteResponse{DocumentID: id, Deleted: n})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// decode reads a JSON body into v. On failure it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, errors.ValidationError("request body is empty", nil))
			return false
		}
		writeError(w, errors.ValidationError("invalid request body: "+err.Error(), err))
		return false
	}
	return true
}

func (s *Server) refreshStoreGauge(r *http.Request, st *store.HybridStore) {
	if n, err := st.Count(r.Context()); err == nil {
		s.metrics.SetStoreChunks(n)
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	body, jerr := errors.FormatJSON(err)
	if jerr != nil {
		body = []byte(`{"code":"` + errors.ErrCodeInternal + `","message":"unencodable error"}`)
	}
	if status >= http.StatusInternalServerError {
		slog.Warn("http_request_failed", errors.FormatForLog(err)...)
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("http_handler_panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())))
				writeError(w, errors.InternalError(fmt.Sprintf("panic: %v", v), nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
