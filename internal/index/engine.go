// Package index ingests documents: it chunks them, embeds the chunks and
// writes them to the index store, and loads documents from files.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/embed"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/store"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
	"github.com/Aman-CERP/ragcore/internal/ui"
)

// Config configures an Engine.
type Config struct {
	// ChunkSize and Overlap are the defaults for Ingest calls that pass 0.
	ChunkSize int
	Overlap   int

	// BatchSize is the number of chunk texts per embedding request.
	BatchSize int

	// Workers bounds how many documents are embedded and written at once.
	Workers int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: chunk.DefaultChunkSize,
		Overlap:   chunk.DefaultOverlap,
		BatchSize: embed.DefaultBatchSize,
		Workers:   runtime.NumCPU(),
	}
}

// Dependencies contains the injected collaborators of an Engine.
type Dependencies struct {
	// Embedder generates chunk embeddings (required).
	Embedder embed.Embedder

	// Store receives the entries (required).
	Store store.IndexStore

	// Renderer receives progress. Optional.
	Renderer ui.Renderer

	// Metrics records ingestion counters. Optional.
	Metrics *telemetry.Metrics
}

// Report is the outcome of one Ingest call.
//
// ChunksIngested counts chunks actually written and ChunksSkipped chunks that
// were already stored, so "nothing new" and "nothing happened" differ.
type Report struct {
	DocumentsLoaded int           `json:"documents_loaded"`
	ChunksCreated   int           `json:"chunks_created"`
	ChunksIngested  int           `json:"chunks_ingested"`
	ChunksSkipped   int           `json:"chunks_skipped"`
	Errors          []string      `json:"errors"`
	Duration        time.Duration `json:"-"`
}

// Engine is the ingestion engine. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	embedder embed.Embedder
	store    store.IndexStore
	renderer ui.Renderer
	metrics  *telemetry.Metrics
	chunker  *chunk.Chunker
}

// NewEngine creates an Engine. Zero config fields take DefaultConfig values.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("index store is required")
	}

	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
		if cfg.Overlap <= 0 {
			cfg.Overlap = def.Overlap
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	chunker, err := chunk.NewChunker(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, errors.ValidationError(err.Error(), err)
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.NopRenderer{}
	}

	return &Engine{
		cfg:      cfg,
		embedder: deps.Embedder,
		store:    deps.Store,
		renderer: renderer,
		metrics:  deps.Metrics,
		chunker:  chunker,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// WithRenderer returns a copy of e that reports progress to r. The copy
// shares e's embedder, store and metrics.
func (e *Engine) WithRenderer(r ui.Renderer) *Engine {
	if r == nil {
		r = ui.NopRenderer{}
	}
	c := *e
	c.renderer = r
	return &c
}

// docWork is one document's chunks awaiting embedding and writing.
type docWork struct {
	sourceID string
	chunks   []chunk.Chunk
}

// Ingest chunks, embeds and stores docs. chunkSize and overlap override the
// configured defaults when chunkSize > 0.
//
// Failures are isolated per document: a document whose chunks cannot be
// embedded or written is recorded in Report.Errors and the rest continue.
// The returned error is non-nil only for invalid chunking parameters or when
// ctx ends before every document was processed; the partial report is still
// returned in the latter case.
func (e *Engine) Ingest(ctx context.Context, docs []chunk.Document, chunkSize, overlap int) (*Report, error) {
	start := time.Now()

	chunker := e.chunker
	if chunkSize > 0 && (chunkSize != e.cfg.ChunkSize || overlap != e.cfg.Overlap) {
		c, err := chunk.NewChunker(chunkSize, overlap)
		if err != nil {
			return nil, errors.ValidationError(err.Error(), err)
		}
		chunker = c
	}

	report := &Report{DocumentsLoaded: len(docs), Errors: []string{}}
	var timings ui.StageTimings

	// Chunking is CPU-only and fast; do it up front so progress has a total.
	chunkStart := time.Now()
	work := make([]docWork, 0, len(docs))
	for i, doc := range docs {
		if doc.SourceID == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("document %d: empty source_id", i))
			e.renderer.AddError(ui.ErrorEvent{Document: fmt.Sprintf("#%d", i), Err: fmt.Errorf("empty source_id")})
			e.metrics.RecordDocument(false)
			continue
		}
		chunks := chunker.Chunk(doc)
		report.ChunksCreated += len(chunks)
		e.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:           ui.StageChunking,
			Current:         i + 1,
			Total:           len(docs),
			CurrentDocument: doc.SourceID,
		})
		if len(chunks) == 0 {
			e.metrics.RecordDocument(true)
			continue
		}
		work = append(work, docWork{sourceID: doc.SourceID, chunks: chunks})
	}
	timings.Chunk = time.Since(chunkStart)

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)

	for _, w := range work {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, embedDur, writeDur, err := e.ingestDocument(ctx, w)

			mu.Lock()
			defer mu.Unlock()

			timings.Embed += embedDur
			timings.Index += writeDur
			done += len(w.chunks)

			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", w.sourceID, err))
				e.renderer.AddError(ui.ErrorEvent{Document: w.sourceID, Err: err})
				e.metrics.RecordDocument(false)
				slog.Warn("ingest_document_failed",
					slog.String("source_id", w.sourceID),
					slog.Int("chunks", len(w.chunks)),
					slog.String("code", errors.GetCode(err)),
					slog.String("error", err.Error()))
			} else {
				report.ChunksIngested += res.Written
				report.ChunksSkipped += res.Skipped
				e.metrics.RecordDocument(true)
				e.metrics.RecordChunks(res.Written, res.Skipped)
			}

			e.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:           ui.StageEmbedding,
				Current:         done,
				Total:           report.ChunksCreated,
				CurrentDocument: w.sourceID,
			})
			return nil
		})
	}
	_ = g.Wait()

	// Completion order is nondeterministic; keep reports stable.
	slices.Sort(report.Errors)
	report.Duration = time.Since(start)
	e.metrics.ObserveIngest(report.Duration)

	e.renderer.Complete(ui.CompletionStats{
		Documents: report.DocumentsLoaded,
		Chunks:    report.ChunksCreated,
		Ingested:  report.ChunksIngested,
		Skipped:   report.ChunksSkipped,
		Duration:  report.Duration,
		Errors:    len(report.Errors),
		Stages:    timings,
		Embedder: ui.EmbedderInfo{
			Model:      e.embedder.ModelName(),
			Dimensions: e.embedder.Dimensions(),
		},
	})

	slog.Info("ingest_complete",
		slog.Int("documents", report.DocumentsLoaded),
		slog.Int("chunks_created", report.ChunksCreated),
		slog.Int("chunks_ingested", report.ChunksIngested),
		slog.Int("chunks_skipped", report.ChunksSkipped),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("duration", report.Duration))

	if err := ctx.Err(); err != nil {
		return report, errors.FromContext("ingest", err)
	}
	return report, nil
}

// ingestDocument embeds one document's chunks in order and writes them.
func (e *Engine) ingestDocument(ctx context.Context, w docWork) (store.UpsertResult, time.Duration, time.Duration, error) {
	texts := make([]string, len(w.chunks))
	for i, c := range w.chunks {
		texts[i] = c.Content
	}

	embedStart := time.Now()
	vecs, err := embed.EmbedInBatches(ctx, e.embedder, texts, e.cfg.BatchSize)
	embedDur := time.Since(embedStart)
	if err != nil {
		return store.UpsertResult{}, embedDur, 0, fmt.Errorf("embed: %w", err)
	}

	entries := make([]store.IndexEntry, len(w.chunks))
	for i, c := range w.chunks {
		entries[i] = store.IndexEntry{
			Chunk:         c,
			Embedding:     vecs[i],
			SchemaVersion: store.SchemaVersion,
		}
	}

	writeStart := time.Now()
	res, err := e.store.UpsertIfAbsent(ctx, entries)
	writeDur := time.Since(writeStart)
	if err != nil {
		return store.UpsertResult{}, embedDur, writeDur, fmt.Errorf("write: %w", err)
	}
	return res, embedDur, writeDur, nil
}
