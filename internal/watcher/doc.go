// Package watcher keeps the index in step with a source directory.
//
// A Watcher reports debounced batches of file events for the files a Filter
// selects, and a Reingester applies those batches to the store: changed files
// have their old documents deleted and are ingested again, removed files have
// their documents deleted.
//
// Usage:
//
//	loader := index.NewFileLoader(root, cfg.Ingest.Include, cfg.Ingest.Exclude)
//	re := watcher.NewReingester(loader, p.Engine, p.Store)
//	if _, err := re.Sync(ctx); err != nil {
//	    return err
//	}
//
//	w, err := watcher.New(root, loader, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	return re.Run(ctx, w.Events())
package watcher
