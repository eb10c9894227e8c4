package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

func TestCachedEmbedder_ImplementsEmbedderInterface(t *testing.T) {
	var _ Embedder = NewCachedEmbedder(newMockEmbedder(4), 10)
}

func TestCachedEmbedder_RepeatedTextHitsCache(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: the same text is embedded twice
	v1, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "query")
	require.NoError(t, err)

	// Then: the inner embedder is called once
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), inner.batchCalls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_BatchSendsOnlyMisses(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"b", "ccc", "a"})
	require.NoError(t, err)

	require.Len(t, inner.batches, 2)
	assert.Equal(t, []string{"ccc"}, inner.batches[1])
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(1), vecs[2][0])
}

func TestCachedEmbedder_ErrorIndexMapsToCallerBatch(t *testing.T) {
	// Given: "a" is cached and the inner embedder rejects long inputs
	inner := NewStaticEmbedder(WithMaxInputChars(3))
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	// When: a batch mixes the cached text and an oversized one
	_, err = cached.EmbedBatch(ctx, []string{"a", strings.Repeat("z", 9)})

	// Then: the reported index is the caller's
	var ee *errors.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Index)
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := cached.Embed(ctx, text)
		require.NoError(t, err)
	}
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, int64(4), inner.batchCalls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 8, cached.Dimensions())
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
	assert.NoError(t, cached.Close())
}
