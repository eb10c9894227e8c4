package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/ragcore/internal/search"
)

// DefaultMaxPassages is how many passages the extractive generator quotes.
const DefaultMaxPassages = 3

// Extractive answers by quoting the top passages with numbered citations.
// It needs no model and never fails unless the context is done.
type Extractive struct {
	maxPassages int
}

// Verify interface implementation at compile time
var _ Generator = (*Extractive)(nil)

// NewExtractive creates an extractive generator quoting at most maxPassages.
func NewExtractive(maxPassages int) *Extractive {
	if maxPassages <= 0 {
		maxPassages = DefaultMaxPassages
	}
	return &Extractive{maxPassages: maxPassages}
}

// Name returns "extractive".
func (e *Extractive) Name() string { return string(ProviderExtractive) }

// Generate quotes the best passages.
func (e *Extractive) Generate(ctx context.Context, req Request, retrieved *search.Result) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	hits := hitsOf(retrieved)
	if len(hits) > e.maxPassages {
		hits = hits[:e.maxPassages]
	}
	if len(hits) == 0 {
		return &Answer{Text: NoContextAnswer, Model: e.Name(), Sources: []Source{}, Duration: time.Since(start)}, nil
	}

	var b strings.Builder
	if req.Topic != "" {
		fmt.Fprintf(&b, "%s\n\n", req.Topic)
	}
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, strings.TrimSpace(h.Chunk.Content))
	}
	b.WriteString("\n\nSources:")
	for i, h := range hits {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, citation(h))
	}

	return &Answer{
		Text:     b.String(),
		Model:    e.Name(),
		Sources:  sourcesOf(hits),
		Duration: time.Since(start),
	}, nil
}

// citation names a hit by title when known, else by document ID.
func citation(h search.Hit) string {
	if t := strings.TrimSpace(h.Chunk.Metadata.Title); t != "" {
		return fmt.Sprintf("%s (%s)", t, h.Chunk.DocumentID)
	}
	return h.Chunk.DocumentID
}
