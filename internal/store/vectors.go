package store

import (
	"bufio"
	"context"
	"encoding/gob"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// vectorFormatVersion is bumped whenever vectorMeta changes shape.
const vectorFormatVersion = 2

// VectorGraph is the dense half of a HybridStore: unit-length chunk
// embeddings in a coder/hnsw graph, keyed by chunk ID.
//
// Removing a chunk only drops its ID mapping. The node stays in the graph
// as an orphan until the next compaction, which Persist runs once orphans
// outweigh a quarter of the graph. Search over-fetches by the orphan count
// so orphans never cost the caller result slots.
type VectorGraph struct {
	mu    sync.RWMutex
	cfg   VectorStoreConfig
	graph *hnsw.Graph[uint64]

	keys    map[string]uint64
	ids     map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMeta is persisted next to the graph file.
type vectorMeta struct {
	Version    int
	Dimensions int
	Keys       map[string]uint64
	NextKey    uint64
}

// NewVectorGraph returns an empty graph for cfg.Dimensions-wide vectors.
func NewVectorGraph(cfg VectorStoreConfig) *VectorGraph {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	g := &VectorGraph{cfg: cfg}
	g.resetLocked()
	return g
}

// OpenVectorGraph loads the graph persisted at path. A missing file yields an
// empty graph. A file that cannot be read or was built for another
// dimension is discarded with a warning; the caller rebuilds it from the
// chunk table.
func OpenVectorGraph(path string, cfg VectorStoreConfig) *VectorGraph {
	g := NewVectorGraph(cfg)
	if path == "" {
		return g
	}
	err := g.load(path)
	switch {
	case err == nil:
		slog.Debug("vector_graph_loaded",
			slog.String("path", path),
			slog.Int("vectors", len(g.keys)),
			slog.Int("orphans", g.graph.Len()-len(g.keys)))
		return g
	case stderrors.Is(err, os.ErrNotExist):
		return g
	default:
		slog.Warn("vector_index_discarded",
			slog.String("path", path),
			slog.String("reason", err.Error()))
		return NewVectorGraph(cfg)
	}
}

func (g *VectorGraph) resetLocked() {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = g.cfg.M
	graph.EfSearch = g.cfg.EfSearch
	graph.Ml = 0.25

	g.graph = graph
	g.keys = make(map[string]uint64)
	g.ids = make(map[uint64]string)
	g.nextKey = 0
}

// Add stores one vector per ID. Re-adding an ID replaces its vector and
// orphans the old node.
func (g *VectorGraph) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return errors.InternalError(fmt.Sprintf("%d ids for %d vectors", len(ids), len(vectors)), nil)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errGraphClosed()
	}
	for _, v := range vectors {
		if len(v) != g.cfg.Dimensions {
			return dimensionMismatch(g.cfg.Dimensions, len(v))
		}
	}

	nodes := make([]hnsw.Node[uint64], len(ids))
	for i, id := range ids {
		if old, ok := g.keys[id]; ok {
			delete(g.ids, old)
		}
		key := g.nextKey
		g.nextKey++
		g.keys[id] = key
		g.ids[key] = id
		nodes[i] = hnsw.MakeNode(key, unit(vectors[i]))
	}
	g.graph.Add(nodes...)
	return nil
}

// Search returns up to k live vectors nearest to query, best first.
func (g *VectorGraph) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, errGraphClosed()
	}
	if len(query) != g.cfg.Dimensions {
		return nil, dimensionMismatch(g.cfg.Dimensions, len(query))
	}
	if k <= 0 || len(g.keys) == 0 {
		return []*VectorResult{}, nil
	}

	q := unit(query)
	nodes := g.graph.Search(q, k+g.graph.Len()-len(g.keys))

	out := make([]*VectorResult, 0, k)
	for _, n := range nodes {
		id, ok := g.ids[n.Key]
		if !ok {
			continue
		}
		d := g.graph.Distance(q, n.Value)
		out = append(out, &VectorResult{ID: id, Distance: d, Score: 1 - d/2})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Delete forgets ids. Unknown IDs are ignored.
func (g *VectorGraph) Delete(ctx context.Context, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errGraphClosed()
	}
	for _, id := range ids {
		if key, ok := g.keys[id]; ok {
			delete(g.ids, key)
			delete(g.keys, id)
		}
	}
	return nil
}

// Reset empties the graph in place.
func (g *VectorGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.resetLocked()
	}
}

// AllIDs returns every live chunk ID in no particular order.
func (g *VectorGraph) AllIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.keys))
	for id := range g.keys {
		ids = append(ids, id)
	}
	return ids
}

func (g *VectorGraph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.keys[id]
	return ok
}

func (g *VectorGraph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.keys)
}

// VectorGraphStats counts live vectors and orphaned graph nodes.
type VectorGraphStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

func (g *VectorGraph) Stats() VectorGraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return VectorGraphStats{}
	}
	nodes := g.graph.Len()
	return VectorGraphStats{
		ValidIDs:   len(g.keys),
		GraphNodes: nodes,
		Orphans:    nodes - len(g.keys),
	}
}

// needsCompaction reports whether orphans make up over a quarter of the graph.
func (g *VectorGraph) needsCompaction() bool {
	orphans := g.graph.Len() - len(g.keys)
	return orphans > 0 && orphans*4 > g.graph.Len()
}

// Compact rebuilds the graph from live vectors only, renumbering keys.
func (g *VectorGraph) Compact() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0
	}
	return g.compactLocked()
}

func (g *VectorGraph) compactLocked() int {
	before := g.graph.Len()
	old, oldKeys := g.graph, g.keys
	g.resetLocked()

	nodes := make([]hnsw.Node[uint64], 0, len(oldKeys))
	for id, key := range oldKeys {
		vec, ok := old.Lookup(key)
		if !ok {
			continue
		}
		k := g.nextKey
		g.nextKey++
		g.keys[id] = k
		g.ids[k] = id
		nodes = append(nodes, hnsw.MakeNode(k, vec))
	}
	if len(nodes) > 0 {
		g.graph.Add(nodes...)
	}

	removed := before - g.graph.Len()
	slog.Debug("vector_graph_compacted",
		slog.Int("removed", removed),
		slog.Int("vectors", len(g.keys)))
	return removed
}

// Persist writes the graph to path, compacting it first if needed. An empty
// graph removes any files at path instead.
func (g *VectorGraph) Persist(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errGraphClosed()
	}
	if len(g.keys) == 0 {
		return RemoveVectorFiles(path)
	}
	if g.needsCompaction() {
		g.compactLocked()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector directory: %w", err)
	}
	if err := writeAtomic(path, g.graph.Export); err != nil {
		return fmt.Errorf("write vector graph: %w", err)
	}
	meta := vectorMeta{
		Version:    vectorFormatVersion,
		Dimensions: g.cfg.Dimensions,
		Keys:       g.keys,
		NextKey:    g.nextKey,
	}
	err := writeAtomic(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("write vector metadata: %w", err)
	}
	return nil
}

func (g *VectorGraph) load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	mf, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	var meta vectorMeta
	err = gob.NewDecoder(mf).Decode(&meta)
	_ = mf.Close()
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Version != vectorFormatVersion {
		return fmt.Errorf("format version %d, want %d", meta.Version, vectorFormatVersion)
	}
	if meta.Dimensions != g.cfg.Dimensions {
		return dimensionMismatch(g.cfg.Dimensions, meta.Dimensions)
	}

	gf, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer gf.Close()
	// Import reads byte by byte.
	if err := g.graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	if g.graph.Len() < len(meta.Keys) {
		return fmt.Errorf("graph holds %d nodes for %d ids", g.graph.Len(), len(meta.Keys))
	}

	g.keys = meta.Keys
	if g.keys == nil {
		g.keys = make(map[string]uint64)
	}
	g.ids = make(map[uint64]string, len(g.keys))
	for id, key := range g.keys {
		g.ids[key] = id
	}
	g.nextKey = meta.NextKey
	return nil
}

// Close releases the graph. It is idempotent.
func (g *VectorGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.graph = nil
	g.keys = nil
	g.ids = nil
	return nil
}

var _ VectorStore = (*VectorGraph)(nil)

// RemoveVectorFiles deletes a persisted graph and its metadata.
func RemoveVectorFiles(path string) error {
	for _, p := range []string{path, path + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func errGraphClosed() *errors.Error {
	return errors.StoreUnavailable("vector graph is closed", nil)
}

func dimensionMismatch(want, got int) *errors.Error {
	return errors.New(errors.ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding has %d dimensions, index expects %d", got, want), nil).
		WithDetail("expected", fmt.Sprint(want)).
		WithDetail("got", fmt.Sprint(got))
}

// unit returns a unit-length copy of v. A zero vector is copied unchanged.
func unit(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}
