// Package chunk turns documents into fixed-size, overlapping, content-addressed chunks.
package chunk

import "time"

// Default chunking parameters, in runes.
const (
	DefaultChunkSize = 350
	DefaultOverlap   = 50
)

// Document is a unit of source content as produced by a loader.
// Documents are treated as immutable once produced.
type Document struct {
	// SourceID identifies the document (caller supplied, or derived from filename/origin).
	SourceID string   `json:"source_id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitzero"`
}

// Metadata describes where a document came from. Extra carries any key not
// covered by a typed field.
type Metadata struct {
	Title       string            `json:"title,omitempty"`
	Authors     []string          `json:"authors,omitempty"`
	PublishedAt time.Time         `json:"published_at,omitzero"`
	ExternalID  string            `json:"external_id,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Source      string            `json:"source,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Chunk is a substring of a Document's text, identified by content and position.
type Chunk struct {
	ID            string   `json:"chunk_id"`
	DocumentID    string   `json:"document_id"`
	SequenceIndex int      `json:"sequence_index"`
	TotalChunks   int      `json:"total_chunks"`
	Content       string   `json:"content"`
	Metadata      Metadata `json:"metadata,omitzero"`
}

// Clone returns a deep copy so chunks never share slices or maps with their document.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Authors != nil {
		out.Authors = append([]string(nil), m.Authors...)
	}
	if m.Categories != nil {
		out.Categories = append([]string(nil), m.Categories...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
