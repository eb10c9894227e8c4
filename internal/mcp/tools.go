package mcp

import (
	"time"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/chunk"
)

// Tool names.
const (
	ToolSearch    = "search"
	ToolIngest    = "ingest"
	ToolStats     = "stats"
	ToolSubmitJob = "submit_job"
	ToolJobStatus = "job_status"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default from configuration"`
	Alpha      *float64 `json:"alpha,omitempty" jsonschema:"blend between lexical (0) and semantic (1) relevance"`
	Documents  []string `json:"documents,omitempty" jsonschema:"restrict results to these document IDs"`
	Categories []string `json:"categories,omitempty" jsonschema:"restrict results to documents in any of these categories"`
	Sources    []string `json:"sources,omitempty" jsonschema:"restrict results to sources under these path prefixes"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Query string      `json:"query"`
	Alpha float64     `json:"alpha"`
	Hits  []HitOutput `json:"hits" jsonschema:"ranked passages, best first"`

	// Ingestion is present while a background ingestion is running; hits
	// then cover only the part of the corpus ingested so far.
	Ingestion *IngestionProgress `json:"ingestion,omitempty"`
}

// HitOutput is one ranked passage with the reason it matched.
type HitOutput struct {
	Rank          int      `json:"rank"`
	ChunkID       string   `json:"chunk_id" jsonschema:"read the full chunk as chunk://{chunk_id}"`
	DocumentID    string   `json:"document_id"`
	SequenceIndex int      `json:"sequence_index"`
	TotalChunks   int      `json:"total_chunks"`
	Title         string   `json:"title,omitempty"`
	Source        string   `json:"source,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Content       string   `json:"content"`
	Score         float64  `json:"score" jsonschema:"blended relevance score"`
	LexicalScore  float64  `json:"lexical_score"`
	VectorScore   float64  `json:"vector_score"`
	MatchReason   string   `json:"match_reason,omitempty" jsonschema:"which retrieval signal ranked this passage"`
}

// IngestionProgress mirrors async.ProgressSnapshot for tool output.
type IngestionProgress struct {
	Status             string  `json:"status" jsonschema:"ingesting, ready or error"`
	Stage              string  `json:"stage,omitempty"`
	DocumentsTotal     int     `json:"documents_total"`
	DocumentsProcessed int     `json:"documents_processed"`
	ChunksIngested     int     `json:"chunks_ingested"`
	ProgressPct        float64 `json:"progress_pct"`
	ElapsedSeconds     int     `json:"elapsed_seconds"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

func toIngestionProgress(s async.ProgressSnapshot) *IngestionProgress {
	return &IngestionProgress{
		Status:             s.Status,
		Stage:              s.Stage,
		DocumentsTotal:     s.DocumentsTotal,
		DocumentsProcessed: s.DocumentsProcessed,
		ChunksIngested:     s.ChunksIngested,
		ProgressPct:        s.ProgressPct,
		ElapsedSeconds:     s.ElapsedSeconds,
		ErrorMessage:       s.ErrorMessage,
	}
}

// DocumentInput is one document for the ingest tool.
type DocumentInput struct {
	SourceID    string   `json:"source_id" jsonschema:"stable unique identifier of the document"`
	Text        string   `json:"text"`
	Title       string   `json:"title,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	PublishedAt string   `json:"published_at,omitempty" jsonschema:"RFC 3339 date or date-time"`
	Categories  []string `json:"categories,omitempty"`
	Source      string   `json:"source,omitempty" jsonschema:"origin path or URL"`
}

// Document converts the input to a chunk.Document. An unparseable date is
// dropped rather than rejecting the document.
func (d DocumentInput) Document() chunk.Document {
	md := chunk.Metadata{
		Title:      d.Title,
		Authors:    d.Authors,
		Categories: d.Categories,
		Source:     d.Source,
	}
	if d.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, d.PublishedAt); err == nil {
			md.PublishedAt = t
		} else if t, err := time.Parse(time.DateOnly, d.PublishedAt); err == nil {
			md.PublishedAt = t
		}
	}
	return chunk.Document{SourceID: d.SourceID, Text: d.Text, Metadata: md}
}

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	Documents []DocumentInput `json:"documents"`
	ChunkSize int             `json:"chunk_size,omitempty" jsonschema:"chunk size in characters, default from configuration"`
	Overlap   int             `json:"overlap,omitempty" jsonschema:"overlap between consecutive chunks in characters"`
}

// IngestOutput defines the output schema for the ingest tool.
type IngestOutput struct {
	DocumentsLoaded int      `json:"documents_loaded"`
	ChunksCreated   int      `json:"chunks_created"`
	ChunksIngested  int      `json:"chunks_ingested" jsonschema:"chunks newly written"`
	ChunksSkipped   int      `json:"chunks_skipped" jsonschema:"chunks already present"`
	Errors          []string `json:"errors" jsonschema:"per-document failures; the rest of the batch was ingested"`
	DurationMS      int64    `json:"duration_ms"`
}

// StatsInput defines the input schema for the stats tool (no parameters).
type StatsInput struct{}

// StatsOutput defines the output schema for the stats tool.
type StatsOutput struct {
	Ready       bool           `json:"ready" jsonschema:"true when the index holds at least one chunk"`
	Chunks      int            `json:"chunks"`
	Documents   int            `json:"documents"`
	Embedder    string         `json:"embedder"`
	Model       string         `json:"model"`
	Dimensions  int            `json:"dimensions"`
	BM25Backend string         `json:"bm25_backend"`
	CreatedAt   string         `json:"created_at,omitempty"`
	Jobs        map[string]int `json:"jobs"`

	Ingestion *IngestionProgress `json:"ingestion,omitempty"`
}

// SubmitJobInput defines the input schema for the submit_job tool.
type SubmitJobInput struct {
	Query    string   `json:"query" jsonschema:"the question to answer from the index"`
	Topic    string   `json:"topic,omitempty" jsonschema:"subject area that frames the answer"`
	Language string   `json:"language,omitempty" jsonschema:"language of the answer"`
	TopK     int      `json:"top_k,omitempty"`
	Alpha    *float64 `json:"alpha,omitempty"`
}

// JobStatusInput defines the input schema for the job_status tool.
type JobStatusInput struct {
	JobID string `json:"job_id" jsonschema:"ID returned by submit_job"`
}

// JobOutput describes a job. Answer and Sources are set once it completes.
type JobOutput struct {
	JobID     string         `json:"job_id"`
	Status    string         `json:"status" jsonschema:"pending, running, completed or failed"`
	Query     string         `json:"query"`
	Answer    string         `json:"answer,omitempty"`
	Model     string         `json:"model,omitempty"`
	Sources   []SourceOutput `json:"sources,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// SourceOutput is a passage an answer drew on.
type SourceOutput struct {
	Rank       int     `json:"rank"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
}
