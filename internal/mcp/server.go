// Package mcp implements the Model Context Protocol (MCP) server for ragcore.
// It exposes retrieval, ingestion and query-and-generate jobs as tools, and
// indexed chunks as resources, over stdio or streamable HTTP.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/pkg/version"
)

// Supported transports for Serve.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerName is the implementation name reported to clients.
const ServerName = "ragcore"

// Server is the MCP server for ragcore. It bridges AI clients with the
// shared ingestion/retrieval pipeline and the job manager.
type Server struct {
	mcp      *mcp.Server
	registry *pipeline.Registry
	jobs     *jobs.Manager
	logger   *slog.Logger

	mu       sync.RWMutex
	ingester *async.BackgroundIngester
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name:        ToolSearch,
		Description: "Hybrid search over the indexed corpus. Blends keyword (BM25) and semantic relevance; alpha 0 is keyword only, 1 is semantic only. Returns ranked passages with their chunk IDs; read chunk://{chunk_id} for the full chunk.",
	},
	{
		Name:        ToolIngest,
		Description: "Add documents to the index. Documents are chunked and embedded; chunks already indexed are skipped, so re-ingesting is safe. Per-document failures are reported without failing the batch.",
	},
	{
		Name:        ToolStats,
		Description: "Report whether the index is ready, how many documents and chunks it holds, which embedder built it, job counts, and background ingestion progress.",
	},
	{
		Name:        ToolSubmitJob,
		Description: "Start a query-and-generate job: retrieve passages for the query and write an answer from them. Returns a job_id immediately; poll job_status for the answer.",
	},
	{
		Name:        ToolJobStatus,
		Description: "Get the status of a job started with submit_job, including the answer and its sources once completed.",
	},
}

func describe(name string) string {
	for _, t := range toolInfos {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

// NewServer creates a new MCP server over the given pipeline registry and
// job manager.
func NewServer(registry *pipeline.Registry, manager *jobs.Manager) (*Server, error) {
	if registry == nil {
		return nil, errors.ConfigError("mcp server requires a pipeline registry", nil)
	}
	if manager == nil {
		return nil, errors.ConfigError("mcp server requires a job manager", nil)
	}

	s := &Server{
		registry: registry,
		jobs:     manager,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Get().Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// SetIngester attaches a background ingestion. While it runs, search and
// stats report its progress alongside their results.
func (s *Server) SetIngester(b *async.BackgroundIngester) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingester = b
}

// ingestion returns the progress of a running or failed background
// ingestion, or nil when there is none or it has finished.
func (s *Server) ingestion() *IngestionProgress {
	s.mu.RLock()
	b := s.ingester
	s.mu.RUnlock()

	if b == nil {
		return nil
	}
	snap := b.Progress().Snapshot()
	if snap.Status == string(async.StatusReady) {
		return nil
	}
	return toIngestionProgress(snap)
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Get().Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(toolInfos))
	copy(out, toolInfos)
	return out
}

// CallTool invokes a tool by name with JSON-shaped arguments. It is the
// transport-free entry point used by tests and the CLI.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearch:
		in, err := decodeArgs[SearchInput](args)
		if err != nil {
			return nil, err
		}
		out, _, err := s.search(ctx, in)
		return out, err
	case ToolIngest:
		in, err := decodeArgs[IngestInput](args)
		if err != nil {
			return nil, err
		}
		return s.ingest(ctx, in)
	case ToolStats:
		return s.stats(ctx)
	case ToolSubmitJob:
		in, err := decodeArgs[SubmitJobInput](args)
		if err != nil {
			return nil, err
		}
		job, err := s.submitJob(ctx, in)
		if err != nil {
			return nil, err
		}
		return ToJobOutput(job), nil
	case ToolJobStatus:
		in, err := decodeArgs[JobStatusInput](args)
		if err != nil {
			return nil, err
		}
		job, err := s.jobStatus(ctx, in)
		if err != nil {
			return nil, err
		}
		return ToJobOutput(job), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var in T
	if len(args) == 0 {
		return in, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return in, NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return in, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearch, Description: describe(ToolSearch)}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIngest, Description: describe(ToolIngest)}, s.mcpIngestHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolStats, Description: describe(ToolStats)}, s.mcpStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSubmitJob, Description: describe(ToolSubmitJob)}, s.mcpSubmitJobHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolJobStatus, Description: describe(ToolJobStatus)}, s.mcpJobStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(toolInfos)))
}

func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, *search.Result, error) {
	if in.Query == "" {
		return SearchOutput{}, nil, NewInvalidParamsError("query parameter is required")
	}

	cfg := s.registry.Config().Search
	req := search.Request{
		Query:      in.Query,
		TopK:       clampTopK(in.TopK, cfg.TopK, search.DefaultConfig().MaxTopK),
		Alpha:      cfg.Alpha,
		Documents:  in.Documents,
		Categories: in.Categories,
		Sources:    in.Sources,
	}
	if in.Alpha != nil {
		if *in.Alpha < 0 || *in.Alpha > 1 {
			return SearchOutput{}, nil, NewInvalidParamsError(fmt.Sprintf("alpha must be in [0,1], got %v", *in.Alpha))
		}
		req.Alpha = *in.Alpha
	}

	p, err := s.registry.Get(ctx)
	if err != nil {
		return SearchOutput{}, nil, MapError(err)
	}

	reqID := generateRequestID()
	s.logger.Debug("mcp_search",
		slog.String("request_id", reqID),
		slog.Int("top_k", req.TopK),
		slog.Float64("alpha", req.Alpha))

	result, err := p.Retriever.Search(ctx, req)
	if err != nil {
		s.logger.Debug("mcp_search_failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		return SearchOutput{}, nil, MapError(err)
	}

	out := SearchOutput{
		Query:     result.Query,
		Alpha:     result.Alpha,
		Hits:      make([]HitOutput, 0, len(result.Hits)),
		Ingestion: s.ingestion(),
	}
	for _, h := range result.Hits {
		out.Hits = append(out.Hits, ToHitOutput(h))
	}
	return out, result, nil
}

func (s *Server) ingest(ctx context.Context, in IngestInput) (IngestOutput, error) {
	if len(in.Documents) == 0 {
		return IngestOutput{}, NewInvalidParamsError("documents parameter is required")
	}
	docs := make([]chunk.Document, 0, len(in.Documents))
	for _, d := range in.Documents {
		docs = append(docs, d.Document())
	}

	p, err := s.registry.Get(ctx)
	if err != nil {
		return IngestOutput{}, MapError(err)
	}
	report, err := p.Engine.Ingest(ctx, docs, in.ChunkSize, in.Overlap)
	if err != nil {
		return IngestOutput{}, MapError(err)
	}

	out := IngestOutput{
		DocumentsLoaded: report.DocumentsLoaded,
		ChunksCreated:   report.ChunksCreated,
		ChunksIngested:  report.ChunksIngested,
		ChunksSkipped:   report.ChunksSkipped,
		Errors:          report.Errors,
		DurationMS:      report.Duration.Milliseconds(),
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out, nil
}

func (s *Server) stats(ctx context.Context) (*StatsOutput, error) {
	p, err := s.registry.Get(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	st, err := p.Store.Stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	jobStats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	out := &StatsOutput{
		Ready:       st.Chunks > 0,
		Chunks:      st.Chunks,
		Documents:   st.Documents,
		Embedder:    s.registry.Config().Embeddings.Provider,
		Model:       st.Model,
		Dimensions:  st.Dimensions,
		BM25Backend: st.BM25Backend,
		Jobs:        make(map[string]int, len(jobStats)),
		Ingestion:   s.ingestion(),
	}
	if !st.CreatedAt.IsZero() {
		out.CreatedAt = st.CreatedAt.Format(time.RFC3339)
	}
	for status, n := range jobStats {
		out.Jobs[string(status)] = n
	}
	return out, nil
}

func (s *Server) submitJob(ctx context.Context, in SubmitJobInput) (*jobs.Job, error) {
	if in.Query == "" {
		return nil, NewInvalidParamsError("query parameter is required")
	}
	job, err := s.jobs.Submit(ctx, jobs.Request{
		Query:    in.Query,
		Topic:    in.Topic,
		Language: in.Language,
		TopK:     in.TopK,
		Alpha:    in.Alpha,
	})
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

func (s *Server) jobStatus(ctx context.Context, in JobStatusInput) (*jobs.Job, error) {
	if in.JobID == "" {
		return nil, NewInvalidParamsError("job_id parameter is required")
	}
	job, err := s.jobs.GetStatus(ctx, in.JobID)
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, result, err := s.search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	text := FormatSearchResults(result)
	if out.Ingestion != nil {
		text = fmt.Sprintf("> Ingestion in progress (%.0f%%); results cover the documents ingested so far.\n\n%s",
			out.Ingestion.ProgressPct, text)
	}
	return textResult(text), out, nil
}

// mcpIngestHandler is the MCP SDK handler for the ingest tool.
func (s *Server) mcpIngestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	out, err := s.ingest(ctx, input)
	if err != nil {
		return nil, IngestOutput{}, err
	}
	return nil, out, nil
}

// mcpStatsHandler is the MCP SDK handler for the stats tool.
func (s *Server) mcpStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult,
	*StatsOutput,
	error,
) {
	out, err := s.stats(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpSubmitJobHandler is the MCP SDK handler for the submit_job tool.
func (s *Server) mcpSubmitJobHandler(ctx context.Context, _ *mcp.CallToolRequest, input SubmitJobInput) (
	*mcp.CallToolResult,
	JobOutput,
	error,
) {
	job, err := s.submitJob(ctx, input)
	if err != nil {
		return nil, JobOutput{}, err
	}
	return textResult(FormatJob(job)), ToJobOutput(job), nil
}

// mcpJobStatusHandler is the MCP SDK handler for the job_status tool.
func (s *Server) mcpJobStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input JobStatusInput) (
	*mcp.CallToolResult,
	JobOutput,
	error,
) {
	job, err := s.jobStatus(ctx, input)
	if err != nil {
		return nil, JobOutput{}, err
	}
	return textResult(FormatJob(job)), ToJobOutput(job), nil
}

// Serve runs the server on the given transport until ctx is cancelled.
// addr is used by the HTTP transport only.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case TransportStdio:
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx, addr)
	default:
		return errors.ValidationError(
			fmt.Sprintf("unknown transport: %s (supported: %s, %s)", transport, TransportStdio, TransportHTTP), nil)
	}
}

// Handler returns the streamable HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "listen on "+addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
