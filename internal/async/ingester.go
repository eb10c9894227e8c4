package async

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/ui"
)

// MarkerFileName is written to the data directory while a background
// ingestion runs and removed when it ends.
const MarkerFileName = "ingesting.marker"

// IngestFunc is the ingestion work run in the background.
type IngestFunc func(ctx context.Context, progress *Progress) error

// LoadAndIngest returns an IngestFunc that loads documents with loader and
// ingests them with engine, reporting progress along the way.
func LoadAndIngest(loader index.Loader, engine *index.Engine) IngestFunc {
	return func(ctx context.Context, progress *Progress) error {
		progress.SetStage(ui.StageLoading, 0)
		docs, err := loader.Load(ctx)
		if err != nil {
			return fmt.Errorf("load documents: %w", err)
		}
		progress.SetStage(ui.StageChunking, len(docs))

		report, err := engine.WithRenderer(progress).Ingest(ctx, docs, 0, 0)
		if err != nil {
			return err
		}
		slog.Info("background_ingest_complete",
			slog.Int("documents", report.DocumentsLoaded),
			slog.Int("chunks_ingested", report.ChunksIngested),
			slog.Int("chunks_skipped", report.ChunksSkipped),
			slog.Int("errors", len(report.Errors)))
		return nil
	}
}

// IngesterConfig configures the BackgroundIngester.
type IngesterConfig struct {
	// DataDir receives the in-progress marker. Empty disables the marker.
	DataDir string
}

// BackgroundIngester runs ingestion in a background goroutine with progress tracking.
type BackgroundIngester struct {
	config   IngesterConfig
	progress *Progress

	// IngestFunc is the work to run.
	IngestFunc IngestFunc

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewBackgroundIngester creates a new background ingester.
func NewBackgroundIngester(cfg IngesterConfig, fn IngestFunc) *BackgroundIngester {
	return &BackgroundIngester{
		config:     cfg,
		progress:   NewProgress(),
		IngestFunc: fn,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Progress returns the progress tracker for this ingester.
func (b *BackgroundIngester) Progress() *Progress {
	return b.progress
}

// IsRunning returns true if the ingester is currently running.
func (b *BackgroundIngester) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins ingestion in a background goroutine and returns immediately.
// Only the first call has any effect.
func (b *BackgroundIngester) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIngester) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.config.DataDir != "" {
		markerPath := filepath.Join(b.config.DataDir, MarkerFileName)
		if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
			b.fail(err)
			return
		}
		if err := os.WriteFile(markerPath, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
			b.fail(err)
			return
		}
		defer func() { _ = os.Remove(markerPath) }()
	}

	if b.IngestFunc != nil {
		if err := b.IngestFunc(ctx, b.progress); err != nil {
			b.fail(err)
			return
		}
	}

	b.progress.SetReady()
}

func (b *BackgroundIngester) fail(err error) {
	b.progress.SetError(err.Error())
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	slog.Warn("background_ingest_failed", slog.String("error", err.Error()))
}

// Stop signals the ingester to stop and waits for it to finish. It is safe
// to call more than once, and before Start.
func (b *BackgroundIngester) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the ingester completes and returns any error.
func (b *BackgroundIngester) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// HasIncompleteIngest reports whether a background ingestion in dataDir was
// interrupted before it finished.
func HasIncompleteIngest(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFileName))
	return err == nil
}
