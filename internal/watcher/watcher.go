package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file or directory was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is slash-separated and relative to the watched root.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is how long events are coalesced before a batch is
	// emitted. Default: 500ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 64
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// Filter decides which paths are watched. *index.FileLoader satisfies it.
type Filter interface {
	// Selected reports whether the file at rel is ingested.
	Selected(rel string) bool
	// SkipDir reports whether the directory at rel is ignored entirely.
	SkipDir(rel string) bool
}

// Watcher watches a directory tree with fsnotify and emits debounced
// batches of events for selected files.
type Watcher struct {
	root      string
	filter    Filter
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, filter Filter, opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:      abs,
		filter:    filter,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start registers every directory under root that the filter does not skip
// and begins delivering events. It returns once watching is established;
// the watcher runs until Stop is called or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		_ = w.fsw.Close()
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	w.wg.Add(2)
	go w.loop(ctx)
	go w.forward()

	slog.Info("watcher_started", slog.String("root", w.root))
	return nil
}

// Events returns the channel of debounced batches. It is closed after Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors. The watcher keeps running after
// reporting one.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop stops watching and closes Events. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fsw.Close()
		w.debouncer.Stop()
	})
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			go func() { _ = w.Stop() }()
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

// forward moves debounced batches to Events and closes it when the
// debouncer stops.
func (w *Watcher) forward() {
	defer w.wg.Done()
	defer close(w.events)
	for batch := range w.debouncer.Output() {
		select {
		case w.events <- batch:
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.addCreatedDir(ev.Name, rel)
			return
		}
		w.add(rel, OpCreate)
	case ev.Has(fsnotify.Write):
		w.add(rel, OpModify)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The path is gone, so a directory cannot be told from a file here.
		if !w.filter.SkipDir(rel) {
			w.debouncer.Add(FileEvent{Path: rel, Operation: OpDelete, Timestamp: time.Now()})
		}
	}
}

func (w *Watcher) add(rel string, op Operation) {
	if !w.filter.Selected(rel) {
		return
	}
	w.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}

// addCreatedDir watches a new directory and reports the files already in
// it, which may have been written before the watch was added.
func (w *Watcher) addCreatedDir(full, rel string) {
	if w.filter.SkipDir(rel) {
		return
	}
	if err := w.addTree(full); err != nil {
		w.emitError(err)
		return
	}
	_ = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		r, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		w.add(filepath.ToSlash(r), OpCreate)
		return nil
	})
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than failing the watch.
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && w.filter.SkipDir(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) emitError(err error) {
	slog.Warn("watcher_error", slog.String("error", err.Error()))
	select {
	case w.errors <- err:
	default:
	}
}
