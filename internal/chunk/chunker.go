package chunk

import (
	"fmt"
	"strings"
)

// Chunker splits normalized text into fixed-size windows of runes.
//
// Window i+1 starts chunkSize-overlap runes after window i, so adjacent
// windows share an overlap-rune span. The final window may be shorter than
// chunkSize. A trailing remainder of at most overlap runes after a window is
// not emitted on its own.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. It requires size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the ordered chunk texts for text. Empty or whitespace-only
// input yields no chunks.
//
// When the text left after a window is no longer than the overlap, it is not
// given a chunk of its own and is dropped, possibly mid-word. Terms that
// appear only in that tail are not searchable.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	stride := c.size - c.overlap

	var out []string
	for start := 0; ; start += stride {
		end := min(start+c.size, n)
		out = append(out, string(runes[start:end]))
		if end == n || n-end <= c.overlap {
			break
		}
	}
	return out
}

// Chunk normalizes doc.Text, splits it and addresses every piece.
// Each chunk carries its own copy of the document metadata.
func (c *Chunker) Chunk(doc Document) []Chunk {
	texts := c.Split(Normalize(doc.Text))
	if len(texts) == 0 {
		return nil
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:            ChunkID(doc.SourceID, i, text),
			DocumentID:    doc.SourceID,
			SequenceIndex: i,
			TotalChunks:   len(texts),
			Content:       text,
			Metadata:      doc.Metadata.Clone(),
		}
	}
	return chunks
}

// Split is a convenience wrapper around NewChunker(size, overlap).Split(text).
func Split(text string, size, overlap int) ([]string, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// Normalize canonicalizes line endings, drops NUL bytes left behind by
// text extraction, and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
