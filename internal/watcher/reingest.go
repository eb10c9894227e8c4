package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/store"
)

// Reingester applies file events to the index. It remembers which document
// IDs each file produced so a changed or removed file can be cleared out
// before it is ingested again.
type Reingester struct {
	loader *index.FileLoader
	engine *index.Engine
	store  *store.HybridStore

	mu    sync.Mutex
	files map[string][]string
}

// ApplyResult summarizes one applied batch.
type ApplyResult struct {
	FilesChanged  int
	FilesRemoved  int
	ChunksRemoved int
	Report        *index.Report
}

// NewReingester creates a reingester for the files loader selects.
func NewReingester(loader *index.FileLoader, engine *index.Engine, st *store.HybridStore) *Reingester {
	return &Reingester{
		loader: loader,
		engine: engine,
		store:  st,
		files:  make(map[string][]string),
	}
}

// Sync ingests every selected file and records the documents each produced.
// Documents already in the store are skipped by the engine.
func (r *Reingester) Sync(ctx context.Context) (*index.Report, error) {
	paths, err := r.loader.Files(ctx)
	if err != nil {
		return nil, err
	}

	var docs []chunk.Document
	r.mu.Lock()
	for _, rel := range paths {
		loaded, err := r.loader.LoadFile(rel)
		if err != nil {
			slog.Warn("load_file_failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			continue
		}
		r.files[rel] = documentIDs(loaded)
		docs = append(docs, loaded...)
	}
	r.mu.Unlock()

	return r.engine.Ingest(ctx, docs, 0, 0)
}

// Tracked returns the document IDs recorded for the file at rel.
func (r *Reingester) Tracked(rel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files[rel]...)
}

// Apply brings the index in line with a batch of events. Every touched path
// loses its old documents first; created and modified files are then loaded
// and ingested together. A file that can no longer be read is treated as
// removed.
func (r *Reingester) Apply(ctx context.Context, batch []FileEvent) (ApplyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		res  ApplyResult
		docs []chunk.Document
	)
	for _, ev := range batch {
		if err := ctx.Err(); err != nil {
			return res, errors.FromContext("reingest", err)
		}

		removed, err := r.clear(ctx, ev.Path, ev.Operation == OpDelete)
		res.ChunksRemoved += removed
		if err != nil {
			return res, err
		}

		if ev.Operation == OpDelete {
			res.FilesRemoved++
			continue
		}

		loaded, err := r.loader.LoadFile(ev.Path)
		if err != nil {
			slog.Warn("reload_file_failed",
				slog.String("path", ev.Path),
				slog.String("error", err.Error()))
			res.FilesRemoved++
			continue
		}
		r.files[ev.Path] = documentIDs(loaded)
		docs = append(docs, loaded...)
		res.FilesChanged++
	}

	if len(docs) > 0 {
		report, err := r.engine.Ingest(ctx, docs, 0, 0)
		res.Report = report
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// clear deletes the documents recorded for rel. With subtree set, files
// under rel as a directory are cleared as well.
func (r *Reingester) clear(ctx context.Context, rel string, subtree bool) (int, error) {
	paths := []string{rel}
	if subtree {
		prefix := rel + "/"
		for p := range r.files {
			if strings.HasPrefix(p, prefix) {
				paths = append(paths, p)
			}
		}
	}

	removed := 0
	for _, p := range paths {
		for _, id := range r.files[p] {
			n, err := r.store.DeleteByDocument(ctx, id)
			removed += n
			if err != nil {
				return removed, err
			}
		}
		delete(r.files, p)
	}
	return removed, nil
}

// Run applies batches from events until the channel closes or ctx ends.
// A failed batch is logged and the next one is still applied.
func (r *Reingester) Run(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			res, err := r.Apply(ctx, batch)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("reingest_failed",
					slog.Int("events", len(batch)),
					slog.String("code", errors.GetCode(err)),
					slog.String("error", err.Error()))
				continue
			}
			attrs := []any{
				slog.Int("changed", res.FilesChanged),
				slog.Int("removed", res.FilesRemoved),
				slog.Int("chunks_removed", res.ChunksRemoved),
			}
			if res.Report != nil {
				attrs = append(attrs,
					slog.Int("chunks_ingested", res.Report.ChunksIngested),
					slog.Int("errors", len(res.Report.Errors)))
			}
			slog.Info("reingest_applied", attrs...)
		}
	}
}

func documentIDs(docs []chunk.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.SourceID != "" {
			ids = append(ids, d.SourceID)
		}
	}
	return ids
}
