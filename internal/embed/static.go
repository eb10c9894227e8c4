package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// StaticEmbedder generates embeddings by hashing word and character trigram
// features into a fixed-size vector. It needs no network or model download and
// is fully deterministic, at the cost of semantic quality.
type StaticEmbedder struct {
	dims          int
	maxInputChars int

	mu     sync.RWMutex
	closed bool
}

// englishStopWords are dropped before hashing word features.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "with": true,
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// StaticOption configures a StaticEmbedder.
type StaticOption func(*StaticEmbedder)

// WithStaticDimensions overrides the vector size.
func WithStaticDimensions(dims int) StaticOption {
	return func(e *StaticEmbedder) {
		if dims > 0 {
			e.dims = dims
		}
	}
}

// WithMaxInputChars sets the rune length above which inputs are rejected
// as too long.
func WithMaxInputChars(n int) StaticOption {
	return func(e *StaticEmbedder) {
		if n > 0 {
			e.maxInputChars = n
		}
	}
}

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder(opts ...StaticOption) *StaticEmbedder {
	e := &StaticEmbedder{
		dims:          StaticDimensions,
		maxInputChars: DefaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed generates the embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Each vector depends only
// on its own input.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errors.NewEmbeddingError(false, fmt.Errorf("embedder is closed"))
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(text) > e.maxInputChars {
			return nil, errors.NewInputTooLongError(i,
				fmt.Errorf("input has %d characters, limit is %d", utf8.RuneCountInString(text), e.maxInputChars))
		}

		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		results[i] = normalizeVector(e.generateVector(trimmed))
	}
	return results, nil
}

// generateVector creates a hash-based vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}

	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
	}

	return vector
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func filterStopWords(tokens []string) []string {
	filtered := tokens[:0]
	for _, t := range tokens {
		if !englishStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams keeps only lowercased letters and digits.
func normalizeForNgrams(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(runes []rune, n int) []string {
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Available reports whether the embedder has not been closed.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
