// Package search answers retrieval queries: it embeds the query text, runs a
// hybrid search on the index store and post-processes the ranked chunks.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/ragcore/internal/store"
)

// Querier answers retrieval queries. *Retriever implements it.
type Querier interface {
	Query(ctx context.Context, text string, topK int, alpha float64) (*Result, error)
	Search(ctx context.Context, req Request) (*Result, error)
}

// Request is a retrieval query with optional filters.
type Request struct {
	// Query is the query text. Required.
	Query string

	// TopK is the maximum number of hits. Zero or negative yields no hits.
	TopK int

	// Alpha blends lexical (0) and vector (1) relevance.
	Alpha float64

	// Documents restricts hits to these document IDs (OR). Empty means all.
	Documents []string

	// Categories restricts hits to chunks tagged with any of these categories.
	Categories []string

	// Sources restricts hits to chunks whose metadata source lies under any
	// of these path prefixes.
	Sources []string

	// Explain attaches an Explain record to the result.
	Explain bool
}

// Hit is one ranked chunk. Rank is 1-indexed.
type Hit struct {
	Rank int `json:"rank"`
	store.ScoredChunk
}

// Result is the outcome of a retrieval query (a RetrievalResult).
type Result struct {
	Query   string        `json:"query"`
	TopK    int           `json:"top_k"`
	Alpha   float64       `json:"alpha"`
	Hits    []Hit         `json:"hits"`
	Took    time.Duration `json:"-"`
	Explain *Explain      `json:"explain,omitempty"`
}

// Explain describes how a result was produced.
type Explain struct {
	// Candidates is the number of chunks the store returned.
	Candidates int `json:"candidates"`
	// Duplicates is the number of candidates dropped for repeating content.
	Duplicates int `json:"duplicates"`
	// Filtered is the number of candidates dropped by request filters.
	Filtered int `json:"filtered"`
	// VectorSearch reports whether the query was embedded.
	VectorSearch bool `json:"vector_search"`

	EmbedDuration  time.Duration `json:"embed_duration_ns"`
	SearchDuration time.Duration `json:"search_duration_ns"`
}

// Config configures a Retriever.
type Config struct {
	// MaxTopK caps Request.TopK (default: 100).
	MaxTopK int

	// MaxQueryChars is the longest accepted query in runes (default: 2000).
	MaxQueryChars int

	// FilterOverfetch multiplies TopK when filters are set, since filtering
	// happens after ranking (default: 4).
	FilterOverfetch int
}

// DefaultConfig returns the default retriever configuration.
func DefaultConfig() Config {
	return Config{
		MaxTopK:         100,
		MaxQueryChars:   2000,
		FilterOverfetch: 4,
	}
}
