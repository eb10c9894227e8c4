// Package embed adapts external embedding functions to a batching,
// order-preserving Embedder interface with typed failures.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for transient failures
	DefaultMaxRetries = 3

	// DefaultMaxInputChars is the longest input, in runes, accepted by the static embedder
	DefaultMaxInputChars = 8192
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
//
// EmbedBatch preserves order and returns exactly one vector per input, each of
// length Dimensions(). Failures are reported as *errors.EmbeddingError so callers
// can tell a transient outage from an input that must be re-chunked.
type Embedder interface {
	// Embed generates the embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
