package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aman-CERP/ragcore/internal/embed"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/store"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

// RetrieverOption configures optional Retriever collaborators.
type RetrieverOption func(*Retriever)

// WithMetrics records query counters and latencies.
func WithMetrics(m *telemetry.Metrics) RetrieverOption {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithQueryMetrics records query patterns.
func WithQueryMetrics(m *telemetry.QueryMetrics) RetrieverOption {
	return func(r *Retriever) {
		r.queryMetrics = m
	}
}

// Retriever embeds queries and searches the index store.
//
// Queries longer than Config.MaxQueryChars runes, or that the embedder
// rejects as too long, fail with QueryTooLong; they are never truncated.
// Store and embedder failures are returned as-is, never as an empty result.
type Retriever struct {
	cfg          Config
	embedder     embed.Embedder
	store        store.IndexStore
	metrics      *telemetry.Metrics
	queryMetrics *telemetry.QueryMetrics
}

// Verify interface implementation at compile time
var _ Querier = (*Retriever)(nil)

// NewRetriever creates a Retriever. Zero config fields take DefaultConfig values.
func NewRetriever(embedder embed.Embedder, st store.IndexStore, cfg Config, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if st == nil {
		return nil, fmt.Errorf("index store is required")
	}

	def := DefaultConfig()
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.MaxQueryChars <= 0 {
		cfg.MaxQueryChars = def.MaxQueryChars
	}
	if cfg.FilterOverfetch <= 0 {
		cfg.FilterOverfetch = def.FilterOverfetch
	}

	r := &Retriever{
		cfg:      cfg,
		embedder: embedder,
		store:    st,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// Query runs an unfiltered search.
func (r *Retriever) Query(ctx context.Context, text string, topK int, alpha float64) (*Result, error) {
	return r.Search(ctx, Request{Query: text, TopK: topK, Alpha: alpha})
}

// Search runs a retrieval request.
//
// TopK <= 0 yields an empty result without touching the store, as does an
// empty store. Alpha outside [0,1] and blank query text are invalid input.
func (r *Retriever) Search(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "search.query", trace.WithAttributes(
		attribute.Int("search.top_k", req.TopK),
		attribute.Float64("search.alpha", req.Alpha),
		attribute.Int("search.query_chars", utf8.RuneCountInString(req.Query)),
	))
	defer func() {
		n := 0
		if result != nil {
			n = len(result.Hits)
		}
		code := errors.GetCode(err)
		if err != nil && code == "" {
			code = errors.ErrCodeSearchFailed
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		}
		span.SetAttributes(attribute.Int("search.hits", n))
		span.End()
		r.metrics.ObserveQuery(time.Since(start), n, code)
	}()

	if req.Alpha < 0 || req.Alpha > 1 {
		return nil, errors.ValidationError(fmt.Sprintf("alpha must be in [0,1], got %v", req.Alpha), nil)
	}

	query := strings.TrimSpace(req.Query)
	result = &Result{Query: query, TopK: req.TopK, Alpha: req.Alpha, Hits: []Hit{}}
	if req.TopK <= 0 {
		return result, nil
	}
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	if n := utf8.RuneCountInString(query); n > r.cfg.MaxQueryChars {
		return nil, errors.QueryTooLong(n, r.cfg.MaxQueryChars)
	}

	topK := min(req.TopK, r.cfg.MaxTopK)
	result.TopK = topK

	explain := &Explain{}

	var vector []float32
	if req.Alpha > 0 {
		embedStart := time.Now()
		vector, err = r.embedder.Embed(ctx, query)
		explain.EmbedDuration = time.Since(embedStart)
		if err != nil {
			if errors.IsInputTooLong(err) {
				return nil, errors.New(errors.ErrCodeQueryTooLong,
					"query exceeds the embedding model's input limit", err).
					WithSuggestion("Shorten the query")
			}
			return nil, err
		}
		explain.VectorSearch = true
	}

	// Duplicated content costs slots, so ask for a little more than needed.
	fetch := topK + topK/2 + 1
	if hasFilters(req) {
		fetch = topK * r.cfg.FilterOverfetch
	}

	searchStart := time.Now()
	scored, err := r.store.HybridSearch(ctx, store.SearchRequest{
		Query:  query,
		Vector: vector,
		TopK:   fetch,
		Alpha:  req.Alpha,
	})
	explain.SearchDuration = time.Since(searchStart)
	if err != nil {
		return nil, err
	}
	explain.Candidates = len(scored)

	hits := make([]Hit, len(scored))
	for i, sc := range scored {
		hits[i] = Hit{ScoredChunk: sc}
	}

	before := len(hits)
	hits = ApplyFilters(hits, req)
	explain.Filtered = before - len(hits)

	hits, explain.Duplicates = Deduplicate(hits)

	if len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}

	result.Hits = hits
	result.Took = time.Since(start)
	if req.Explain {
		result.Explain = explain
	}

	r.queryMetrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.ClassifyAlpha(req.Alpha),
		ResultCount: len(hits),
		Latency:     result.Took,
	})

	slog.Debug("query_complete",
		slog.Int("top_k", topK),
		slog.Float64("alpha", req.Alpha),
		slog.Int("candidates", explain.Candidates),
		slog.Int("hits", len(hits)),
		slog.Duration("took", result.Took))

	return result, nil
}
