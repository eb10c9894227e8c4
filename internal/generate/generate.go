// Package generate turns retrieved passages into an answer.
//
// The Generator is the downstream step of a query-and-generate job. It may be
// slow and it may fail; callers bound it with a context deadline.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/search"
)

// Provider names a generator implementation.
type Provider string

const (
	// ProviderExtractive quotes the best passages without a model.
	ProviderExtractive Provider = "extractive"

	// ProviderOllama calls Ollama's /api/generate.
	ProviderOllama Provider = "ollama"
)

// Request is what the caller asked for.
type Request struct {
	Query    string `json:"query"`
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`
}

// Source is a passage an answer drew on.
type Source struct {
	Rank       int     `json:"rank"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
}

// Answer is a generated answer with its provenance.
type Answer struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Sources  []Source      `json:"sources"`
	Duration time.Duration `json:"duration_ns"`
}

// Generator produces an Answer from retrieved passages.
type Generator interface {
	Generate(ctx context.Context, req Request, retrieved *search.Result) (*Answer, error)
	Name() string
}

// NoContextAnswer is returned when retrieval found nothing to answer from.
const NoContextAnswer = "No relevant passages were found in the index."

// New creates the generator selected by cfg. ollamaHost is shared with the
// embedding configuration; empty uses Ollama's default address.
func New(cfg config.GenerationConfig, ollamaHost string) (Generator, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case "", ProviderExtractive:
		return NewExtractive(DefaultMaxPassages), nil
	case ProviderOllama:
		return NewOllama(OllamaConfig{
			Host:    ollamaHost,
			Model:   cfg.Model,
			Timeout: cfg.TimeoutDuration(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q (want extractive or ollama)", cfg.Provider)
	}
}

// sourcesOf lists the hits an answer is based on, best first.
func sourcesOf(hits []search.Hit) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{
			Rank:       h.Rank,
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Title:      h.Chunk.Metadata.Title,
			Score:      h.Score,
		}
	}
	return sources
}

func hitsOf(r *search.Result) []search.Hit {
	if r == nil {
		return nil
	}
	return r.Hits
}
