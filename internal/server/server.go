// Package server is the HTTP layer over the ingestion, retrieval and job
// APIs.
//
//	POST   /v1/ingest            ingest documents, always 200 with a report
//	GET    /v1/ingest/status     background ingestion progress
//	POST   /v1/query             hybrid retrieval
//	GET    /v1/stats             index statistics (404 when empty)
//	POST   /v1/reset             delete every chunk
//	DELETE /v1/documents/{id}    delete one document's chunks
//	POST   /v1/jobs              submit a query-and-generate job (202)
//	GET    /v1/jobs              list jobs
//	GET    /v1/jobs/{id}         poll a job
//	DELETE /v1/jobs/{id}         cancel a pending job
//	GET    /metrics              Prometheus metrics
//	GET    /healthz              liveness
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

const (
	// DefaultMaxBodyBytes bounds request bodies.
	DefaultMaxBodyBytes = 32 << 20

	shutdownTimeout = 10 * time.Second
)

// Options wires a Server to its collaborators. Registry and Jobs are required.
type Options struct {
	Registry *pipeline.Registry
	Jobs     *jobs.Manager
	Metrics  *telemetry.Metrics

	// Ingester, when set, is reported by GET /v1/ingest/status.
	Ingester *async.BackgroundIngester

	Search       config.SearchConfig
	MaxBodyBytes int64
}

// Server serves the HTTP API.
type Server struct {
	registry *pipeline.Registry
	jobs     *jobs.Manager
	metrics  *telemetry.Metrics
	ingester *async.BackgroundIngester
	search   config.SearchConfig
	maxBody  int64
	handler  http.Handler
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.ConfigError("server requires a pipeline registry", nil)
	}
	if opts.Jobs == nil {
		return nil, errors.ConfigError("server requires a job manager", nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Search.TopK == 0 {
		opts.Search = config.NewConfig().Search
	}

	s := &Server{
		registry: opts.Registry,
		jobs:     opts.Jobs,
		metrics:  opts.Metrics,
		ingester: opts.Ingester,
		search:   opts.Search,
		maxBody:  opts.MaxBodyBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/ingest/status", s.handleIngestStatus)
	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	mux.HandleFunc("DELETE /v1/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleCancelJob)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.handler = recoverer(logRequests(mux))
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "listen on "+addr, err).
			WithSuggestion("Choose a free address with --addr or server.addr")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http_server_listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("http_server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
