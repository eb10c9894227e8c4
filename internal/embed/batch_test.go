package embed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

func TestEmbedInBatches_BatchSizeDoesNotChangeResults(t *testing.T) {
	// Given: 100 distinct texts and a deterministic embedder
	texts := make([]string, 100)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage %d about sparse attention and retrieval", i)
	}
	e := NewStaticEmbedder()
	ctx := context.Background()

	// When: embedding in one batch and in batches of 7
	whole, err := EmbedInBatches(ctx, e, texts, len(texts))
	require.NoError(t, err)
	split, err := EmbedInBatches(ctx, e, texts, 7)
	require.NoError(t, err)

	// Then: results are bit-identical
	assert.Equal(t, whole, split)
}

func TestEmbedInBatches_SplitsAndPreservesOrder(t *testing.T) {
	m := newMockEmbedder(4)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	vecs, err := EmbedInBatches(context.Background(), m, texts, 2)

	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, m.batches)
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
}

func TestEmbedInBatches_InputTooLongIndexIsRequestRelative(t *testing.T) {
	// Given: an embedder that rejects the 4th input, the first of the second batch
	e := NewStaticEmbedder(WithMaxInputChars(5))
	texts := []string{"a", "b", "c", "toolong", "e"}

	// When: embedding in batches of 3
	_, err := EmbedInBatches(context.Background(), e, texts, 3)

	// Then: the index points at the caller's input
	var ee *errors.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Index)
}

func TestEmbedInBatches_DimensionMismatch(t *testing.T) {
	m := newMockEmbedder(4)
	wrong := &dimsOverride{Embedder: m, dims: 8}

	_, err := EmbedInBatches(context.Background(), wrong, []string{"x"}, 1)

	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestEmbedInBatches_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := EmbedInBatches(ctx, newMockEmbedder(2), []string{"x"}, 1)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestClampBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, clampBatchSize(0))
	assert.Equal(t, 10, clampBatchSize(10))
	assert.Equal(t, MaxBatchSize, clampBatchSize(10_000))
}

type dimsOverride struct {
	Embedder
	dims int
}

func (d *dimsOverride) Dimensions() int { return d.dims }
