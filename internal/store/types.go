// Package store persists chunks with their embeddings and answers hybrid
// (lexical + vector) queries over them.
//
// A HybridStore combines three parts kept in step under one write lock:
// a SQLite chunk table (the system of record, with write-once chunk IDs),
// a BM25 index (SQLite FTS5 or Bleve) and an HNSW vector graph.
package store

import (
	"context"
	"time"

	"github.com/Aman-CERP/ragcore/internal/chunk"
)

// SchemaVersion tags every IndexEntry written by this build.
const SchemaVersion = 1

// State keys for the chunk table's key-value state
const (
	// StateKeyDimensions stores the embedding dimension used for the index
	StateKeyDimensions = "embedding_dimension"
	// StateKeyModel stores the embedding model name used for the index
	StateKeyModel = "embedding_model"
	// StateKeyCreatedAt stores when the index was first written
	StateKeyCreatedAt = "created_at"
)

// IndexEntry is the persisted unit: a chunk, its embedding and a schema tag.
type IndexEntry struct {
	Chunk         chunk.Chunk
	Embedding     []float32
	SchemaVersion int
}

// UpsertResult counts the outcome of UpsertIfAbsent.
type UpsertResult struct {
	// Written is the number of entries that were absent and are now stored.
	Written int
	// Skipped is the number of entries whose chunk ID already existed.
	Skipped int
	// WrittenIDs lists the chunk IDs that were written, in input order.
	WrittenIDs []string
}

// SearchRequest is a hybrid query.
type SearchRequest struct {
	Query  string
	Vector []float32
	TopK   int
	// Alpha blends lexical (0) and vector (1) relevance.
	Alpha float64
}

// ScoredChunk is one ranked hit.
type ScoredChunk struct {
	Chunk chunk.Chunk `json:"chunk"`
	// Score is the blended relevance, >= 0.
	Score float64 `json:"score"`
	// LexicalScore and VectorScore are the raw per-signal scores; zero when
	// the chunk was not a candidate for that signal.
	LexicalScore float64 `json:"lexical_score,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
}

// Stats describes the contents of an index.
type Stats struct {
	Chunks        int       `json:"chunks"`
	Documents     int       `json:"documents"`
	BM25Backend   string    `json:"bm25_backend"`
	Dimensions    int       `json:"dimensions"`
	Model         string    `json:"model"`
	SchemaVersion int       `json:"schema_version"`
	VectorNodes   int       `json:"vector_nodes"`
	Orphans       int       `json:"orphans"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	DataDir       string    `json:"data_dir,omitempty"`
}

// IndexStore is the hybrid-search-capable store used by ingestion and retrieval.
//
// UpsertIfAbsent never overwrites: an entry whose chunk ID exists is counted as
// skipped. Implementations are safe for concurrent use. Every call honours the
// context deadline and fails with a Timeout error when it expires; a store that
// cannot be reached fails with StoreUnavailable.
type IndexStore interface {
	UpsertIfAbsent(ctx context.Context, entries []IndexEntry) (UpsertResult, error)
	HybridSearch(ctx context.Context, req SearchRequest) ([]ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	// Reset removes every entry and returns how many there were.
	Reset(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// BM25Document is a document to be indexed in BM25.
type BM25Document struct {
	ID      string // Chunk ID
	Content string // Text content
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
}

// BM25Index provides keyword search using the BM25 algorithm.
type BM25Index interface {
	// Index adds documents to the index, replacing any with the same ID
	Index(ctx context.Context, docs []*BM25Document) error

	// Search returns documents matching any query term, best first
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from index
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *IndexStats

	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are common English function words.
var DefaultStopWords = []string{
	"an", "and", "are", "as", "at", "be", "by", "for", "from", "has", "in",
	"is", "it", "its", "of", "on", "or", "that", "the", "this", "to", "was",
	"were", "which", "with",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector graph. Distances are cosine.
type VectorStoreConfig struct {
	Dimensions int

	// M is the HNSW neighbour count per layer (default: 16).
	M int

	// EfSearch is the HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns the graph parameters the store uses.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides semantic search over dense vectors.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest live vectors to query.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	AllIDs() []string
	Contains(id string) bool
	Count() int

	// Persist writes the index to path.
	Persist(path string) error
	Close() error
}
