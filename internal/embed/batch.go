package embed

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// batchFunc embeds one batch. Vectors must come back in input order.
type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// EmbedInBatches splits texts into batches of at most batchSize and embeds them
// through e, concatenating the results in input order. Every batch goes through
// the same per-text computation, so the result does not depend on batchSize.
func EmbedInBatches(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, error) {
	out, err := embedInBatches(ctx, texts, batchSize, e.EmbedBatch)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(out, len(texts), e.Dimensions()); err != nil {
		return nil, err
	}
	return out, nil
}

func embedInBatches(ctx context.Context, texts []string, batchSize int, fn batchFunc) ([][]float32, error) {
	batchSize = clampBatchSize(batchSize)
	results := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+batchSize, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, offsetIndex(err, start)
		}
		if len(vecs) != end-start {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(vecs), end-start), nil)
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// offsetIndex shifts an InputTooLong index from batch-relative to request-relative.
func offsetIndex(err error, offset int) error {
	var ee *errors.EmbeddingError
	if offset == 0 || !stderrors.As(err, &ee) || !ee.InputTooLong || ee.Index < 0 {
		return err
	}
	return errors.NewInputTooLongError(ee.Index+offset, ee.Cause)
}

// offsetMisses maps an InputTooLong index from a sub-batch of cache misses
// back to the caller's batch.
func offsetMisses(err error, positions []int) error {
	var ee *errors.EmbeddingError
	if !stderrors.As(err, &ee) || !ee.InputTooLong || ee.Index < 0 || ee.Index >= len(positions) {
		return err
	}
	return errors.NewInputTooLongError(positions[ee.Index], ee.Cause)
}

func checkDimensions(vecs [][]float32, want, dims int) error {
	if len(vecs) != want {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("got %d vectors for %d inputs", len(vecs), want), nil)
	}
	for i, v := range vecs {
		if len(v) != dims {
			return errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector %d has %d dimensions, expected %d", i, len(v), dims), nil).
				WithDetail("index", fmt.Sprint(i))
		}
	}
	return nil
}

func clampBatchSize(n int) int {
	switch {
	case n < MinBatchSize:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}
