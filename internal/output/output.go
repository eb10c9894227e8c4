// Package output formats command results for the terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/search"
)

// snippetRunes bounds the passage text printed per hit.
const snippetRunes = 240

// Writer provides formatted output for CLI.
// Errors from writing are ignored for console output.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Hits prints a ranked retrieval result, one block per hit.
func (w *Writer) Hits(result *search.Result) {
	if result == nil || len(result.Hits) == 0 {
		query := ""
		if result != nil {
			query = result.Query
		}
		w.Warningf("No results for %q", query)
		return
	}

	w.Statusf("🔍", "%d result(s) for %q (alpha %.2f, %s)",
		len(result.Hits), result.Query, result.Alpha, result.Took.Round(time.Millisecond))
	w.Newline()

	for _, h := range result.Hits {
		c := h.Chunk
		label := c.DocumentID
		if c.Metadata.Title != "" && c.Metadata.Title != c.DocumentID {
			label = fmt.Sprintf("%s (%s)", c.Metadata.Title, c.DocumentID)
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s  [%d/%d]\n", h.Rank, label, c.SequenceIndex+1, c.TotalChunks)
		_, _ = fmt.Fprintf(w.out, "    score %.3f  lexical %.3f  vector %.3f\n", h.Score, h.LexicalScore, h.VectorScore)
		w.indent(snippet(c.Content))
		w.Newline()
	}
}

// Answer prints a generated answer followed by its sources.
func (w *Writer) Answer(a *generate.Answer) {
	if a == nil {
		return
	}
	w.indent(a.Text)
	w.Newline()
	if len(a.Sources) == 0 {
		return
	}
	w.Statusf("📚", "Sources (%s, %s)", a.Model, a.Duration.Round(time.Millisecond))
	for _, s := range a.Sources {
		label := s.DocumentID
		if s.Title != "" {
			label = s.Title
		}
		w.Statusf("", "[%d] %s  (%.3f)", s.Rank, label, s.Score)
	}
}

// Report prints an ingestion report. Per-document errors are listed but do
// not make the ingestion fail.
func (w *Writer) Report(r *index.Report) {
	if r == nil {
		return
	}
	w.Successf("Ingested %d document(s) in %s", r.DocumentsLoaded, r.Duration.Round(time.Millisecond))
	w.Statusf("", "chunks created: %d, written: %d, already present: %d",
		r.ChunksCreated, r.ChunksIngested, r.ChunksSkipped)
	if len(r.Errors) == 0 {
		return
	}
	w.Warningf("%d document(s) failed", len(r.Errors))
	for _, e := range r.Errors {
		w.Status("", e)
	}
}

func (w *Writer) indent(text string) {
	for line := range strings.SplitSeq(strings.TrimRight(text, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "    %s\n", line)
	}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes]) + "…"
}
