package embed

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// mockEmbedder records the batches it receives and returns a vector derived
// from each text's length.
type mockEmbedder struct {
	dims       int
	batchCalls atomic.Int64

	mu      sync.Mutex
	batches [][]string
	err     error
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dims: dims}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), texts...))
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dims)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                  { return m.dims }
func (m *mockEmbedder) ModelName() string                { return "mock-model" }
func (m *mockEmbedder) Available(_ context.Context) bool { return true }
func (m *mockEmbedder) Close() error                     { return nil }
