// Package async runs an ingestion in the background and tracks its progress
// so servers can answer queries while the corpus is still loading.
package async

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/ragcore/internal/ui"
)

// IngestStatus represents the overall state of a background ingestion.
type IngestStatus string

const (
	// StatusIngesting indicates ingestion is in progress.
	StatusIngesting IngestStatus = "ingesting"
	// StatusReady indicates ingestion finished; search covers the whole corpus.
	StatusReady IngestStatus = "ready"
	// StatusError indicates ingestion stopped with an error.
	StatusError IngestStatus = "error"
)

// ProgressSnapshot is an immutable snapshot of ingestion progress.
type ProgressSnapshot struct {
	Status             string  `json:"status"`
	Stage              string  `json:"stage"`
	DocumentsTotal     int     `json:"documents_total"`
	DocumentsProcessed int     `json:"documents_processed"`
	ChunksTotal        int     `json:"chunks_total"`
	ChunksDone         int     `json:"chunks_done"`
	ChunksIngested     int     `json:"chunks_ingested"`
	ChunksSkipped      int     `json:"chunks_skipped"`
	DocumentErrors     int     `json:"document_errors"`
	ProgressPct        float64 `json:"progress_pct"`
	ElapsedSeconds     int     `json:"elapsed_seconds"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

// Progress tracks a background ingestion. It implements ui.Renderer, so an
// index.Engine reports into it directly. It is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status             IngestStatus
	stage              ui.Stage
	documentsTotal     int
	documentsProcessed int
	chunksTotal        int
	chunksDone         int
	chunksIngested     int
	chunksSkipped      int
	documentErrors     int
	startTime          time.Time
	errorMessage       string
}

// Verify interface implementation at compile time
var _ ui.Renderer = (*Progress)(nil)

// NewProgress creates a tracker in the loading stage.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusIngesting,
		stage:     ui.StageLoading,
		startTime: time.Now(),
	}
}

// SetStage moves to stage with total units of work.
func (p *Progress) SetStage(stage ui.Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	if stage == ui.StageLoading || stage == ui.StageChunking {
		p.documentsTotal = total
	} else {
		p.chunksTotal = total
	}
}

// SetError marks the ingestion as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the ingestion as complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = ui.StageComplete
}

// IsIngesting returns true while ingestion is still in progress.
func (p *Progress) IsIngesting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIngesting
}

// Start implements ui.Renderer.
func (p *Progress) Start(context.Context) error { return nil }

// Stop implements ui.Renderer.
func (p *Progress) Stop() error { return nil }

// UpdateProgress implements ui.Renderer.
func (p *Progress) UpdateProgress(event ui.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = event.Stage
	switch event.Stage {
	case ui.StageLoading, ui.StageChunking:
		p.documentsTotal = event.Total
		p.documentsProcessed = event.Current
	default:
		p.chunksTotal = event.Total
		p.chunksDone = event.Current
	}
}

// AddError implements ui.Renderer.
func (p *Progress) AddError(event ui.ErrorEvent) {
	if event.IsWarn {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.documentErrors++
}

// Complete implements ui.Renderer. It records the totals; the status changes
// only when the ingester finishes.
func (p *Progress) Complete(stats ui.CompletionStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.documentsTotal = stats.Documents
	p.documentsProcessed = stats.Documents
	p.chunksTotal = stats.Chunks
	p.chunksIngested = stats.Ingested
	p.chunksSkipped = stats.Skipped
	p.chunksDone = stats.Ingested + stats.Skipped
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	switch {
	case p.status == StatusReady:
		progressPct = 100
	case p.chunksTotal > 0:
		progressPct = float64(p.chunksDone) / float64(p.chunksTotal) * 100.0
	}

	return ProgressSnapshot{
		Status:             string(p.status),
		Stage:              strings.ToLower(p.stage.String()),
		DocumentsTotal:     p.documentsTotal,
		DocumentsProcessed: p.documentsProcessed,
		ChunksTotal:        p.chunksTotal,
		ChunksDone:         p.chunksDone,
		ChunksIngested:     p.chunksIngested,
		ChunksSkipped:      p.chunksSkipped,
		DocumentErrors:     p.documentErrors,
		ProgressPct:        progressPct,
		ElapsedSeconds:     int(time.Since(p.startTime).Seconds()),
		ErrorMessage:       p.errorMessage,
	}
}
