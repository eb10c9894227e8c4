// Package pipeline owns the process-wide ingestion and retrieval state.
//
// A Registry builds one Pipeline (embedder, index store, ingestion engine and
// retriever) on first use and hands the same instance to every caller until
// Close. Callers receive the Registry explicitly; there is no package-level
// instance.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/embed"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/internal/store"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

// Pipeline is one initialized ingestion/retrieval pair bound to one store.
// Its fields are safe for concurrent use and must not be closed by callers.
type Pipeline struct {
	Embedder     embed.Embedder
	Store        *store.HybridStore
	Engine       *index.Engine
	Retriever    *search.Retriever
	Metrics      *telemetry.Metrics
	QueryMetrics *telemetry.QueryMetrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics shares m with the engine and retriever instead of a private
// collector set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithEmbedder uses e instead of building one from configuration. The
// Registry takes ownership and closes it on Close, even if Get never ran.
func WithEmbedder(e embed.Embedder) Option {
	return func(r *Registry) {
		r.embedder = e
	}
}

// Registry lazily constructs and owns the process's Pipeline.
type Registry struct {
	cfg *config.Config

	// Construction and teardown are serialized by mu. The built Pipeline is
	// read without further locking.
	mu       sync.Mutex
	pipeline *Pipeline
	lock     *DirLock
	closed   bool
	builds   int

	metrics  *telemetry.Metrics
	embedder embed.Embedder
}

// NewRegistry creates a Registry for cfg. Nothing is opened until Get.
func NewRegistry(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the configuration the Registry builds from.
func (r *Registry) Config() *config.Config {
	return r.cfg
}

// Get returns the shared Pipeline, building it on first call. Concurrent
// first calls build exactly one instance. A failed build is not cached.
func (r *Registry) Get(ctx context.Context) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.StoreUnavailable("pipeline registry is closed", nil)
	}
	if r.pipeline != nil {
		return r.pipeline, nil
	}

	p, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	r.pipeline = p
	r.builds++
	return p, nil
}

// Initialized reports whether a Pipeline has been built and not closed.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipeline != nil
}

func (r *Registry) build(ctx context.Context) (_ *Pipeline, err error) {
	cfg := r.cfg

	var lock *DirLock
	if cfg.Store.DataDir != "" {
		lock = NewDirLock(cfg.Store.DataDir)
		if err := lock.TryLock(); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = lock.Unlock()
			}
		}()
	}

	embedder := r.embedder
	if embedder == nil {
		provider, perr := embed.ParseProvider(cfg.Embeddings.Provider)
		if perr != nil {
			return nil, errors.ConfigError(perr.Error(), perr)
		}
		embedder, err = embed.NewEmbedder(ctx, embed.Options{
			Provider:          provider,
			Model:             cfg.Embeddings.Model,
			OllamaHost:        cfg.Embeddings.OllamaHost,
			BatchSize:         cfg.Embeddings.BatchSize,
			Timeout:           cfg.Embeddings.TimeoutDuration(),
			MaxInputChars:     cfg.Embeddings.MaxInputChars,
			RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
			CacheSize:         cfg.Embeddings.CacheSize,
		})
		if err != nil {
			return nil, errors.New(errors.ErrCodeEmbeddingUnavailable, "failed to create embedder", err)
		}
		defer func() {
			if err != nil {
				_ = embedder.Close()
			}
		}()
	}

	st, err := store.Open(ctx, store.Options{
		DataDir:             cfg.Store.DataDir,
		Dimensions:          embedder.Dimensions(),
		Model:               embedder.ModelName(),
		BM25Backend:         strings.ToLower(cfg.Store.BM25Backend),
		Fusion:              store.FusionMethod(strings.ToLower(cfg.Search.Fusion)),
		RRFConstant:         cfg.Search.RRFConstant,
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		Timeout:             cfg.Store.TimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	metrics := r.metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	queryMetrics := telemetry.NewQueryMetrics(telemetry.DefaultQueryMetricsConfig())

	engine, err := index.NewEngine(index.Config{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.ChunkOverlap,
		BatchSize: cfg.Embeddings.BatchSize,
		Workers:   cfg.Ingest.Workers,
	}, index.Dependencies{
		Embedder: embedder,
		Store:    st,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	retriever, err := search.NewRetriever(embedder, st, search.Config{
		MaxQueryChars: cfg.Search.MaxQueryChars,
	}, search.WithMetrics(metrics), search.WithQueryMetrics(queryMetrics))
	if err != nil {
		return nil, err
	}

	if n, cerr := st.Count(ctx); cerr == nil {
		metrics.SetStoreChunks(n)
	}

	r.lock = lock
	slog.Info("pipeline_initialized",
		slog.String("data_dir", cfg.Store.DataDir),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	return &Pipeline{
		Embedder:     embedder,
		Store:        st,
		Engine:       engine,
		Retriever:    retriever,
		Metrics:      metrics,
		QueryMetrics: queryMetrics,
	}, nil
}

// Close releases the store, the embedder and the data-dir lock. It is
// idempotent and safe to call when Get was never called. After Close, Get
// fails with StoreUnavailable.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	p := r.pipeline
	r.pipeline = nil
	if p == nil {
		if r.embedder == nil {
			return nil
		}
		if err := r.embedder.Close(); err != nil {
			return fmt.Errorf("close embedder: %w", err)
		}
		return nil
	}

	var errs []error
	if err := p.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := p.Embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close embedder: %w", err))
	}
	if r.lock != nil {
		if err := r.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
		r.lock = nil
	}

	slog.Info("pipeline_closed")
	return stderrors.Join(errs...)
}
