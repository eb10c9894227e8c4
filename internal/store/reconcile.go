package store

import (
	"context"
	"log/slog"
	"time"
)

// InconsistencyType categorizes a disagreement between the chunk table and
// a derived index.
type InconsistencyType int

const (
	// InconsistencyOrphanBM25 indicates a BM25 entry without a chunk row.
	InconsistencyOrphanBM25 InconsistencyType = iota
	// InconsistencyOrphanVector indicates a vector without a chunk row.
	InconsistencyOrphanVector
	// InconsistencyMissingBM25 indicates a chunk row missing from BM25.
	InconsistencyMissingBM25
	// InconsistencyMissingVector indicates a chunk row missing from the graph.
	InconsistencyMissingVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanBM25:
		return "orphan_bm25"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingBM25:
		return "missing_bm25"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// ReconcileResult counts what reconcile found and repaired.
type ReconcileResult struct {
	Checked  int
	Repaired map[InconsistencyType]int
	Duration time.Duration
}

// Total returns the number of repaired inconsistencies.
func (r ReconcileResult) Total() int {
	n := 0
	for _, c := range r.Repaired {
		n += c
	}
	return n
}

// reconcile brings the BM25 index and vector graph in line with the chunk
// table. Orphans are deleted; missing entries are rebuilt from the stored
// content and embeddings, so no re-embedding is needed.
//
// The caller must hold the write lock or own the store exclusively.
func (s *HybridStore) reconcile(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	result := ReconcileResult{Repaired: make(map[InconsistencyType]int)}

	tableIDs, err := s.chunks.AllIDs(ctx)
	if err != nil {
		return result, err
	}
	result.Checked = len(tableIDs)

	inTable := make(map[string]struct{}, len(tableIDs))
	for _, id := range tableIDs {
		inTable[id] = struct{}{}
	}

	bm25IDs, err := s.bm25.AllIDs()
	if err != nil {
		return result, err
	}
	inBM25 := make(map[string]struct{}, len(bm25IDs))
	var orphanBM25 []string
	for _, id := range bm25IDs {
		inBM25[id] = struct{}{}
		if _, ok := inTable[id]; !ok {
			orphanBM25 = append(orphanBM25, id)
		}
	}

	var orphanVectors []string
	for _, id := range s.vectors.AllIDs() {
		if _, ok := inTable[id]; !ok {
			orphanVectors = append(orphanVectors, id)
		}
	}

	var missingBM25, missingVectors []string
	for _, id := range tableIDs {
		if _, ok := inBM25[id]; !ok {
			missingBM25 = append(missingBM25, id)
		}
		if !s.vectors.Contains(id) {
			missingVectors = append(missingVectors, id)
		}
	}

	if len(orphanBM25) > 0 {
		if err := s.bm25.Delete(ctx, orphanBM25); err != nil {
			return result, err
		}
		result.Repaired[InconsistencyOrphanBM25] = len(orphanBM25)
	}
	if len(orphanVectors) > 0 {
		if err := s.vectors.Delete(ctx, orphanVectors); err != nil {
			return result, err
		}
		result.Repaired[InconsistencyOrphanVector] = len(orphanVectors)
	}

	if len(missingBM25) > 0 {
		entries, err := s.chunks.Entries(ctx, missingBM25)
		if err != nil {
			return result, err
		}
		docs := make([]*BM25Document, len(entries))
		for i, e := range entries {
			docs[i] = &BM25Document{ID: e.Chunk.ID, Content: e.Chunk.Content}
		}
		if err := s.bm25.Index(ctx, docs); err != nil {
			return result, err
		}
		result.Repaired[InconsistencyMissingBM25] = len(docs)
	}

	if len(missingVectors) > 0 {
		entries, err := s.chunks.Entries(ctx, missingVectors)
		if err != nil {
			return result, err
		}
		ids := make([]string, 0, len(entries))
		vecs := make([][]float32, 0, len(entries))
		for _, e := range entries {
			if len(e.Embedding) != s.opts.Dimensions {
				slog.Warn("stored_embedding_dimension_mismatch",
					slog.String("chunk_id", e.Chunk.ID),
					slog.Int("dimensions", len(e.Embedding)))
				continue
			}
			ids = append(ids, e.Chunk.ID)
			vecs = append(vecs, e.Embedding)
		}
		if err := s.vectors.Add(ctx, ids, vecs); err != nil {
			return result, err
		}
		result.Repaired[InconsistencyMissingVector] = len(ids)
	}

	result.Duration = time.Since(start)
	if total := result.Total(); total > 0 {
		slog.Info("store_reconciled",
			slog.Int("checked", result.Checked),
			slog.Int("orphan_bm25", result.Repaired[InconsistencyOrphanBM25]),
			slog.Int("orphan_vector", result.Repaired[InconsistencyOrphanVector]),
			slog.Int("missing_bm25", result.Repaired[InconsistencyMissingBM25]),
			slog.Int("missing_vector", result.Repaired[InconsistencyMissingVector]),
			slog.Duration("duration", result.Duration))
	}
	return result, nil
}
