package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/errors"
)

// Loader produces documents for ingestion. Any loader is interchangeable as
// long as it yields chunk.Document values.
type Loader interface {
	Load(ctx context.Context) ([]chunk.Document, error)
}

// StaticLoader returns a fixed set of documents.
type StaticLoader []chunk.Document

// Load implements Loader.
func (l StaticLoader) Load(context.Context) ([]chunk.Document, error) {
	return append([]chunk.Document(nil), l...), nil
}

// Default file selection patterns.
var (
	DefaultIncludePatterns = []string{"**/*.txt", "**/*.md", "**/*.json"}
	DefaultExcludePatterns = []string{"**/.git/**", "**/node_modules/**"}
)

// DefaultMaxFileSize skips files larger than 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// FileLoader reads documents from files under Root selected by doublestar
// patterns matched against slash-separated paths relative to Root.
//
// A .json file holds one document or an array of documents in the
// chunk.Document JSON shape; a document without source_id gets the file's
// relative path (with an index suffix inside arrays). Any other file is read
// as UTF-8 text with its relative path as source_id and title.
type FileLoader struct {
	Root        string
	Include     []string
	Exclude     []string
	MaxFileSize int64
}

// NewFileLoader creates a FileLoader. Empty pattern lists use the defaults.
func NewFileLoader(root string, include, exclude []string) *FileLoader {
	if len(include) == 0 {
		include = DefaultIncludePatterns
	}
	if exclude == nil {
		exclude = DefaultExcludePatterns
	}
	return &FileLoader{
		Root:        root,
		Include:     include,
		Exclude:     exclude,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// Load implements Loader. Unreadable or malformed files are logged and
// skipped; a missing root is an error.
func (l *FileLoader) Load(ctx context.Context) ([]chunk.Document, error) {
	paths, err := l.Files(ctx)
	if err != nil {
		return nil, err
	}

	var docs []chunk.Document
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromContext("load", err)
		}
		loaded, err := l.LoadFile(rel)
		if err != nil {
			slog.Warn("load_file_failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}

// Files returns the selected files as sorted slash-separated relative paths.
func (l *FileLoader) Files(ctx context.Context) ([]string, error) {
	info, err := os.Stat(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, "source directory not found: "+l.Root, err)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "cannot access source directory: "+l.Root, err)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError(l.Root+" is not a directory", nil)
	}

	var files []string
	err = fs.WalkDir(os.DirFS(l.Root), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == "." {
			return nil
		}

		if d.IsDir() {
			if l.SkipDir(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if l.included(path) && !l.excluded(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext("load", ctx.Err())
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "walk source directory", err)
	}
	return files, nil
}

// LoadFile loads the documents of one file, given relative to Root.
func (l *FileLoader) LoadFile(rel string) ([]chunk.Document, error) {
	full := filepath.Join(l.Root, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if l.MaxFileSize > 0 && info.Size() > l.MaxFileSize {
		return nil, fmt.Errorf("file size %d exceeds limit %d", info.Size(), l.MaxFileSize)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(rel), ".json") {
		return decodeJSONDocuments(rel, data)
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("not valid UTF-8 text")
	}
	return []chunk.Document{{
		SourceID: rel,
		Text:     string(data),
		Metadata: chunk.Metadata{
			Title:  strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
			Source: rel,
		},
	}}, nil
}

func decodeJSONDocuments(rel string, data []byte) ([]chunk.Document, error) {
	trimmed := strings.TrimSpace(string(data))

	var docs []chunk.Document
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
		for i := range docs {
			if docs[i].SourceID == "" {
				docs[i].SourceID = fmt.Sprintf("%s#%d", rel, i)
			}
		}
	} else {
		var doc chunk.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		if doc.SourceID == "" {
			doc.SourceID = rel
		}
		docs = []chunk.Document{doc}
	}

	for i := range docs {
		if docs[i].Metadata.Source == "" {
			docs[i].Metadata.Source = rel
		}
	}
	return docs, nil
}

// Selected reports whether the file at rel, a slash-separated path relative
// to Root, would be loaded.
func (l *FileLoader) Selected(rel string) bool {
	return l.included(rel) && !l.excluded(rel)
}

// SkipDir reports whether the directory at rel is excluded as a whole.
func (l *FileLoader) SkipDir(rel string) bool {
	return l.excluded(strings.TrimSuffix(rel, "/") + "/")
}

func (l *FileLoader) included(path string) bool {
	return matchAny(l.Include, path)
}

func (l *FileLoader) excluded(path string) bool {
	return matchAny(l.Exclude, path)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
