package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

func newTestGraph(t *testing.T, dims int) *VectorGraph {
	t.Helper()
	g := NewVectorGraph(DefaultVectorStoreConfig(dims))
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestVectorGraph_AddAndSearch(t *testing.T) {
	// Given: vectors a=[1,0,0,0], b=[0,1,0,0], c=[0.9,0.1,0,0]
	g := newTestGraph(t, 4)
	ctx := context.Background()
	require.NoError(t, g.Add(ctx, []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}))

	// When: searching for [1,0,0,0] with k=2
	results, err := g.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: the exact match ranks first, the near match second
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
	assert.GreaterOrEqual(t, results[1].Score, float32(0))
}

func TestVectorGraph_ReAddReplacesVector(t *testing.T) {
	g := newTestGraph(t, 4)
	ctx := context.Background()
	require.NoError(t, g.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))

	require.NoError(t, g.Add(ctx, []string{"a"}, [][]float32{{0, 1, 0, 0}}))

	assert.Equal(t, 1, g.Count())
	assert.Equal(t, 1, g.Stats().Orphans)
	results, err := g.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestVectorGraph_OrphansDoNotTakeResultSlots(t *testing.T) {
	// Given: ten vectors near the query and one far from it, then the ten
	// near ones deleted
	g := newTestGraph(t, 4)
	ctx := context.Background()
	var near []string
	var vecs [][]float32
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("near-%d", i)
		near = append(near, id)
		vecs = append(vecs, []float32{1, float32(i) * 0.01, 0, 0})
	}
	require.NoError(t, g.Add(ctx, near, vecs))
	require.NoError(t, g.Add(ctx, []string{"far"}, [][]float32{{0, 0, 1, 0}}))
	require.NoError(t, g.Delete(ctx, near))

	// When: asking for the single best match
	results, err := g.Search(ctx, []float32{1, 0, 0, 0}, 1)

	// Then: the only live vector is still returned
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "far", results[0].ID)

	stats := g.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 11, stats.GraphNodes)
	assert.Equal(t, 10, stats.Orphans)
	assert.False(t, g.Contains("near-0"))
}

func TestVectorGraph_Compact(t *testing.T) {
	g := newTestGraph(t, 4)
	ctx := context.Background()
	require.NoError(t, g.Add(ctx, []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0},
	}))
	require.NoError(t, g.Delete(ctx, []string{"b"}))

	removed := g.Compact()

	assert.Equal(t, 1, removed)
	assert.Equal(t, VectorGraphStats{ValidIDs: 2, GraphNodes: 2}, g.Stats())
	results, err := g.Search(ctx, []float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)
}

func TestVectorGraph_DimensionMismatchIsCoded(t *testing.T) {
	g := newTestGraph(t, 4)

	err := g.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}})
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))

	_, err = g.Search(context.Background(), []float32{1, 0}, 1)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestVectorGraph_SearchEdgeCases(t *testing.T) {
	g := newTestGraph(t, 4)
	ctx := context.Background()

	// Empty graph
	results, err := g.Search(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Non-positive k
	require.NoError(t, g.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	results, err = g.Search(ctx, []float32{1, 0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Only orphans left
	require.NoError(t, g.Delete(ctx, []string{"a"}))
	results, err = g.Search(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Cancelled context
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = g.Search(cancelled, []float32{1, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVectorGraph_MismatchedIDsAndVectors(t *testing.T) {
	g := newTestGraph(t, 4)

	err := g.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0, 0, 0}})

	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(err))
}

func TestVectorGraph_PersistAndOpen(t *testing.T) {
	// Given: a persisted graph with one deleted vector
	path := filepath.Join(t.TempDir(), VectorsFileName)
	ctx := context.Background()

	g := NewVectorGraph(DefaultVectorStoreConfig(4))
	require.NoError(t, g.Add(ctx, []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0},
	}))
	require.NoError(t, g.Delete(ctx, []string{"b"}))
	require.NoError(t, g.Persist(path))
	require.NoError(t, g.Close())

	// When: opening it again
	loaded := OpenVectorGraph(path, DefaultVectorStoreConfig(4))
	t.Cleanup(func() { _ = loaded.Close() })

	// Then: mappings and search survive, and the orphan was compacted away
	assert.Equal(t, 2, loaded.Count())
	assert.True(t, loaded.Contains("a"))
	assert.False(t, loaded.Contains("b"))
	assert.Zero(t, loaded.Stats().Orphans)

	results, err := loaded.Search(ctx, []float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)

	// And: new vectors do not collide with loaded keys
	require.NoError(t, loaded.Add(ctx, []string{"d"}, [][]float32{{0, 0, 0, 1}}))
	assert.Equal(t, 3, loaded.Count())
	assert.True(t, loaded.Contains("a"))
}

func TestVectorGraph_PersistEmptyRemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), VectorsFileName)
	ctx := context.Background()
	g := newTestGraph(t, 4)
	require.NoError(t, g.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, g.Persist(path))
	require.FileExists(t, path)

	require.NoError(t, g.Delete(ctx, []string{"a"}))
	require.NoError(t, g.Persist(path))

	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".meta")
}

func TestOpenVectorGraph_DiscardsUnusableFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		g := OpenVectorGraph(filepath.Join(t.TempDir(), VectorsFileName), DefaultVectorStoreConfig(4))
		assert.Zero(t, g.Count())
	})

	t.Run("other dimension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), VectorsFileName)
		g := NewVectorGraph(DefaultVectorStoreConfig(4))
		require.NoError(t, g.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
		require.NoError(t, g.Persist(path))

		reopened := OpenVectorGraph(path, DefaultVectorStoreConfig(8))

		assert.Zero(t, reopened.Count())
		require.NoError(t, reopened.Add(ctx, []string{"b"}, [][]float32{make([]float32, 8)}))
	})

	t.Run("corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), VectorsFileName)
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		require.NoError(t, os.WriteFile(path+".meta", []byte("garbage"), 0o644))

		g := OpenVectorGraph(path, DefaultVectorStoreConfig(4))

		assert.Zero(t, g.Count())
	})
}

func TestVectorGraph_Reset(t *testing.T) {
	g := newTestGraph(t, 4)
	ctx := context.Background()
	require.NoError(t, g.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, g.Delete(ctx, []string{"a"}))

	g.Reset()

	assert.Equal(t, VectorGraphStats{}, g.Stats())
	require.NoError(t, g.Add(ctx, []string{"c"}, [][]float32{{0, 0, 1, 0}}))
	assert.Equal(t, 1, g.Count())
}

func TestVectorGraph_Closed(t *testing.T) {
	g := NewVectorGraph(DefaultVectorStoreConfig(4))

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err := g.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	assert.Equal(t, errors.ErrCodeStoreUnavailable, errors.GetCode(err))
	assert.Error(t, g.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	assert.Error(t, g.Persist(filepath.Join(t.TempDir(), VectorsFileName)))
	assert.Zero(t, g.Count())
	assert.Empty(t, g.AllIDs())
	assert.Equal(t, VectorGraphStats{}, g.Stats())
}
