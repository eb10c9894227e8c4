package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/errors"
)

// Defaults for Options.
const (
	DefaultCandidateMultiplier = 4
	DefaultTimeout             = 10 * time.Second
)

// File names inside Options.DataDir.
const (
	ChunksFileName  = "chunks.db"
	BM25BaseName    = "bm25"
	VectorsFileName = "vectors.hnsw"
)

// lockWeight is the semaphore weight a writer acquires; readers take 1.
const lockWeight = 1 << 20

// Options configures a HybridStore.
type Options struct {
	// DataDir holds the store's files. Empty keeps everything in memory.
	DataDir string

	// Dimensions is the embedding dimension the store accepts. Required.
	Dimensions int

	// Model is recorded alongside the dimension for diagnostics.
	Model string

	// BM25Backend is "sqlite" or "bleve". Empty detects an existing index,
	// falling back to sqlite.
	BM25Backend string

	Fusion              FusionMethod
	RRFConstant         int
	CandidateMultiplier int

	// Timeout bounds each call in addition to the caller's context.
	// Zero uses DefaultTimeout; negative disables it.
	Timeout time.Duration

	// BM25 overrides the tokenization config. Zero value uses DefaultBM25Config.
	BM25 BM25Config
}

func (o *Options) applyDefaults() {
	if o.Fusion == "" {
		o.Fusion = FusionRelative
	}
	if o.RRFConstant <= 0 {
		o.RRFConstant = DefaultRRFConstant
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BM25.MinTokenLength == 0 && o.BM25.StopWords == nil {
		o.BM25 = DefaultBM25Config()
	}
}

// HybridStore is the IndexStore backed by a chunk table, a BM25 index and an
// HNSW graph. The chunk table is the system of record; the other two are
// derived from it and reconciled on open.
type HybridStore struct {
	// lock is a context-aware read/write lock: readers acquire 1, writers lockWeight.
	lock *semaphore.Weighted

	opts    Options
	backend BM25Backend

	chunks  *ChunkTable
	bm25    BM25Index
	vectors *VectorGraph

	createdAt time.Time
	closed    bool
}

// Verify interface implementation at compile time
var _ IndexStore = (*HybridStore)(nil)

// Open opens or creates a HybridStore.
//
// An existing index built with a different embedding dimension is refused
// with a DimensionMismatch error. Derived indexes that disagree with the
// chunk table are repaired before Open returns.
func Open(ctx context.Context, opts Options) (*HybridStore, error) {
	if opts.Dimensions <= 0 {
		return nil, errors.ValidationError("store dimensions must be positive", nil)
	}
	fusion, err := ParseFusionMethod(string(opts.Fusion))
	if err != nil {
		return nil, errors.ValidationError(err.Error(), nil)
	}
	opts.Fusion = fusion
	opts.applyDefaults()

	backend, err := resolveBackend(opts)
	if err != nil {
		return nil, err
	}

	s := &HybridStore{
		lock:    semaphore.NewWeighted(lockWeight),
		opts:    opts,
		backend: backend,
	}

	s.chunks, err = NewChunkTable(s.path(ChunksFileName))
	if err != nil {
		return nil, errors.StoreUnavailable("open chunk table", err)
	}

	if err := s.checkState(ctx); err != nil {
		_ = s.chunks.Close()
		return nil, err
	}

	s.bm25, err = NewBM25IndexWithBackend(s.path(BM25BaseName), opts.BM25, string(backend))
	if err != nil {
		_ = s.chunks.Close()
		return nil, errors.StoreUnavailable("open BM25 index", err)
	}

	s.vectors = OpenVectorGraph(s.path(VectorsFileName), DefaultVectorStoreConfig(opts.Dimensions))

	if _, err := s.reconcile(ctx); err != nil {
		_ = s.vectors.Close()
		_ = s.bm25.Close()
		_ = s.chunks.Close()
		return nil, errors.StoreUnavailable("reconcile indexes", err)
	}

	slog.Debug("store_opened",
		slog.String("data_dir", opts.DataDir),
		slog.String("bm25_backend", string(backend)),
		slog.Int("dimensions", opts.Dimensions))

	return s, nil
}

func resolveBackend(opts Options) (BM25Backend, error) {
	switch BM25Backend(opts.BM25Backend) {
	case BM25BackendSQLite, BM25BackendBleve:
		return BM25Backend(opts.BM25Backend), nil
	case "":
		if opts.DataDir != "" {
			if detected := DetectBM25Backend(filepath.Join(opts.DataDir, BM25BaseName)); detected != "" {
				return detected, nil
			}
		}
		return BM25BackendSQLite, nil
	default:
		return "", errors.ValidationError(
			fmt.Sprintf("unknown BM25 backend: %s (valid options: sqlite, bleve)", opts.BM25Backend), nil)
	}
}

// path returns the on-disk path of name, or "" for an in-memory store.
func (s *HybridStore) path(name string) string {
	if s.opts.DataDir == "" {
		return ""
	}
	return filepath.Join(s.opts.DataDir, name)
}

// checkState records the embedding dimension on first use and refuses an
// index written with a different one.
func (s *HybridStore) checkState(ctx context.Context) error {
	stored, err := s.chunks.GetState(ctx, StateKeyDimensions)
	if err != nil {
		return errors.StoreUnavailable("read store state", err)
	}

	if stored == "" {
		return s.writeState(ctx)
	}

	dims, err := strconv.Atoi(stored)
	if err != nil {
		slog.Warn("invalid stored index dimension", slog.String("value", stored))
		return s.writeState(ctx)
	}
	if dims != s.opts.Dimensions {
		model, _ := s.chunks.GetState(ctx, StateKeyModel)
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d dimensions (%s), but the embedder produces %d (%s)",
				dims, model, s.opts.Dimensions, s.opts.Model), nil).
			WithDetail("expected", strconv.Itoa(dims)).
			WithDetail("got", strconv.Itoa(s.opts.Dimensions)).
			WithSuggestion("Run 'ragcore reset' to rebuild the index with the current embedder")
	}

	if model, _ := s.chunks.GetState(ctx, StateKeyModel); model != "" && s.opts.Model != "" && model != s.opts.Model {
		slog.Warn("embedding_model_changed",
			slog.String("indexed", model),
			slog.String("current", s.opts.Model))
	}

	if created, _ := s.chunks.GetState(ctx, StateKeyCreatedAt); created != "" {
		s.createdAt, _ = time.Parse(time.RFC3339, created)
	}
	return nil
}

func (s *HybridStore) writeState(ctx context.Context) error {
	s.createdAt = time.Now().UTC().Truncate(time.Second)
	state := [][2]string{
		{StateKeyDimensions, strconv.Itoa(s.opts.Dimensions)},
		{StateKeyModel, s.opts.Model},
		{StateKeyCreatedAt, s.createdAt.Format(time.RFC3339)},
	}
	for _, kv := range state {
		if err := s.chunks.SetState(ctx, kv[0], kv[1]); err != nil {
			return errors.StoreUnavailable("write store state", err)
		}
	}
	return nil
}

func (s *HybridStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// acquire takes the store lock with the given weight, honouring ctx, and
// fails if the store is closed.
func (s *HybridStore) acquire(ctx context.Context, op string, weight int64) error {
	if err := s.lock.Acquire(ctx, weight); err != nil {
		return errors.FromContext(op, err)
	}
	if s.closed {
		s.lock.Release(weight)
		return errors.StoreUnavailable("store is closed", nil)
	}
	return nil
}

// fail maps an internal failure onto the store's error contract.
func fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.FromContext(op, ctxErr)
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.FromContext(op, err)
	}
	if errors.GetCode(err) != "" {
		return err
	}
	return errors.StoreUnavailable(op+" failed", err)
}

// UpsertIfAbsent writes entries whose chunk ID is not yet stored and counts
// the rest as skipped. Existing entries are never modified.
func (s *HybridStore) UpsertIfAbsent(ctx context.Context, entries []IndexEntry) (UpsertResult, error) {
	const op = "upsert"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, lockWeight); err != nil {
		return UpsertResult{}, err
	}
	defer s.lock.Release(lockWeight)

	if len(entries) == 0 {
		return UpsertResult{WrittenIDs: []string{}}, nil
	}

	for _, e := range entries {
		if e.Chunk.ID == "" {
			return UpsertResult{}, errors.ValidationError("index entry has an empty chunk ID", nil)
		}
		if len(e.Embedding) != s.opts.Dimensions {
			return UpsertResult{}, dimensionMismatch(s.opts.Dimensions, len(e.Embedding)).
				WithDetail("chunk_id", e.Chunk.ID)
		}
	}

	written, err := s.chunks.InsertIfAbsent(ctx, entries)
	if err != nil {
		return UpsertResult{}, fail(ctx, op, err)
	}

	result := UpsertResult{WrittenIDs: make([]string, 0, len(entries))}
	var (
		docs []*BM25Document
		vecs [][]float32
	)
	for i, e := range entries {
		if !written[i] {
			result.Skipped++
			continue
		}
		result.Written++
		result.WrittenIDs = append(result.WrittenIDs, e.Chunk.ID)
		docs = append(docs, &BM25Document{ID: e.Chunk.ID, Content: e.Chunk.Content})
		vecs = append(vecs, e.Embedding)
	}

	if result.Written == 0 {
		return result, nil
	}

	err = s.bm25.Index(ctx, docs)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = s.vectors.Add(ctx, result.WrittenIDs, vecs)
	}
	if err != nil {
		s.compensate(result.WrittenIDs)
		return UpsertResult{}, fail(ctx, op, err)
	}

	return result, nil
}

// compensate removes a partially applied write from every part of the store.
func (s *HybridStore) compensate(ids []string) {
	ctx := context.Background()
	if err := s.bm25.Delete(ctx, ids); err != nil {
		slog.Warn("upsert_rollback_bm25_failed", slog.String("error", err.Error()))
	}
	if err := s.vectors.Delete(ctx, ids); err != nil {
		slog.Warn("upsert_rollback_vectors_failed", slog.String("error", err.Error()))
	}
	if err := s.chunks.DeleteIDs(ctx, ids); err != nil {
		slog.Error("upsert_rollback_chunks_failed",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()))
	}
}

// HybridSearch ranks stored chunks against a query text and vector.
//
// Alpha 0 searches only the BM25 index and alpha 1 only the vector graph;
// anything between blends both with the configured fusion method.
func (s *HybridStore) HybridSearch(ctx context.Context, req SearchRequest) ([]ScoredChunk, error) {
	const op = "hybrid_search"

	if req.Alpha < 0 || req.Alpha > 1 {
		return nil, errors.ValidationError(fmt.Sprintf("alpha must be in [0,1], got %v", req.Alpha), nil)
	}
	if req.TopK <= 0 {
		return []ScoredChunk{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, 1); err != nil {
		return nil, err
	}
	defer s.lock.Release(1)

	useLexical := req.Alpha < 1 && strings.TrimSpace(req.Query) != ""
	useVector := req.Alpha > 0 && len(req.Vector) > 0
	if useVector && len(req.Vector) != s.opts.Dimensions {
		return nil, dimensionMismatch(s.opts.Dimensions, len(req.Vector))
	}

	candidates := req.TopK * s.opts.CandidateMultiplier

	var (
		lex []*BM25Result
		vec []*VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if useLexical {
		g.Go(func() error {
			var err error
			lex, err = s.bm25.Search(gctx, req.Query, candidates)
			return err
		})
	}
	if useVector {
		g.Go(func() error {
			var err error
			vec, err = s.vectors.Search(gctx, req.Vector, candidates)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fail(ctx, op, err)
	}

	fused := Fuse(s.opts.Fusion, lex, vec, req.Alpha, s.opts.RRFConstant)
	if len(fused) == 0 {
		return []ScoredChunk{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := s.chunks.Chunks(ctx, ids)
	if err != nil {
		return nil, fail(ctx, op, err)
	}

	out := make([]ScoredChunk, 0, min(req.TopK, len(fused)))
	for _, f := range fused {
		c, ok := chunks[f.ChunkID]
		if !ok {
			continue
		}
		out = append(out, ScoredChunk{
			Chunk:        c,
			Score:        max(f.Score, 0),
			LexicalScore: f.LexicalScore,
			VectorScore:  f.VectorScore,
		})
		if len(out) == req.TopK {
			break
		}
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (s *HybridStore) Count(ctx context.Context) (int, error) {
	const op = "count"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, 1); err != nil {
		return 0, err
	}
	defer s.lock.Release(1)

	n, err := s.chunks.Count(ctx)
	return n, fail(ctx, op, err)
}

// Chunk returns one stored chunk. The bool is false when id is unknown.
func (s *HybridStore) Chunk(ctx context.Context, id string) (chunk.Chunk, bool, error) {
	const op = "get_chunk"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, 1); err != nil {
		return chunk.Chunk{}, false, err
	}
	defer s.lock.Release(1)

	found, err := s.chunks.Chunks(ctx, []string{id})
	if err != nil {
		return chunk.Chunk{}, false, fail(ctx, op, err)
	}
	c, ok := found[id]
	return c, ok, nil
}

// DeleteByDocument removes every chunk of a document and returns how many
// were removed. The chunk table delete must succeed; index deletes are
// best effort and leftovers are dropped on the next open.
func (s *HybridStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	const op = "delete_document"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, lockWeight); err != nil {
		return 0, err
	}
	defer s.lock.Release(lockWeight)

	ids, err := s.chunks.IDsByDocument(ctx, documentID)
	if err != nil {
		return 0, fail(ctx, op, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.bm25.Delete(ctx, ids); err != nil {
		slog.Warn("bm25_delete_failed",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()))
	}
	if err := s.vectors.Delete(ctx, ids); err != nil {
		slog.Warn("vector_delete_failed",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()))
	}
	if err := s.chunks.DeleteIDs(ctx, ids); err != nil {
		return 0, fail(ctx, op, err)
	}
	return len(ids), nil
}

// Reset removes every entry from all parts of the store and returns how
// many chunks there were. The store stays open and usable.
func (s *HybridStore) Reset(ctx context.Context) (int, error) {
	const op = "reset"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, lockWeight); err != nil {
		return 0, err
	}
	defer s.lock.Release(lockWeight)

	n, err := s.chunks.Truncate(ctx)
	if err != nil {
		return 0, fail(ctx, op, err)
	}

	ids, err := s.bm25.AllIDs()
	if err == nil {
		err = s.bm25.Delete(ctx, ids)
	}
	if err != nil {
		return 0, fail(ctx, op, err)
	}

	s.vectors.Reset()
	if path := s.path(VectorsFileName); path != "" {
		if err := RemoveVectorFiles(path); err != nil {
			slog.Warn("vector_files_remove_failed", slog.String("error", err.Error()))
		}
	}

	if err := s.writeState(ctx); err != nil {
		return 0, err
	}

	slog.Info("store_reset", slog.Int("removed", n))
	return n, nil
}

// Stats describes the store's contents.
func (s *HybridStore) Stats(ctx context.Context) (Stats, error) {
	const op = "stats"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.acquire(ctx, op, 1); err != nil {
		return Stats{}, err
	}
	defer s.lock.Release(1)

	chunks, err := s.chunks.Count(ctx)
	if err != nil {
		return Stats{}, fail(ctx, op, err)
	}
	docs, err := s.chunks.DocumentCount(ctx)
	if err != nil {
		return Stats{}, fail(ctx, op, err)
	}
	model, err := s.chunks.GetState(ctx, StateKeyModel)
	if err != nil {
		return Stats{}, fail(ctx, op, err)
	}

	hs := s.vectors.Stats()
	return Stats{
		Chunks:        chunks,
		Documents:     docs,
		BM25Backend:   string(s.backend),
		Dimensions:    s.opts.Dimensions,
		Model:         model,
		SchemaVersion: SchemaVersion,
		VectorNodes:   hs.ValidIDs,
		Orphans:       hs.Orphans,
		CreatedAt:     s.createdAt,
		DataDir:       s.opts.DataDir,
	}, nil
}

// Close persists the vector graph and releases all resources. It is idempotent.
func (s *HybridStore) Close() error {
	_ = s.lock.Acquire(context.Background(), lockWeight)
	defer s.lock.Release(lockWeight)

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if path := s.path(VectorsFileName); path != "" {
		if err := s.vectors.Persist(path); err != nil {
			errs = append(errs, fmt.Errorf("persist vectors: %w", err))
		}
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.bm25.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close BM25 index: %w", err))
	}
	if err := s.chunks.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chunk table: %w", err))
	}
	return stderrors.Join(errs...)
}
