package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Aman-CERP/ragcore/internal/store"
)

// StatusInfo is what `ragcore stats` prints.
type StatusInfo struct {
	store.Stats

	DiskSize         int64          `json:"disk_size_bytes"`
	Embedder         string         `json:"embedder"`
	IncompleteIngest bool           `json:"incomplete_ingest,omitempty"`
	Jobs             map[string]int `json:"jobs,omitempty"`
}

// StatusRenderer writes StatusInfo for humans or as JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes info as an aligned report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := &errWriter{w: r.out}

	w.printf("%s\n\n", r.styles.Header.Render("Index: "+info.DataDir))
	w.printf("  Documents:    %d\n", info.Documents)
	w.printf("  Chunks:       %d\n", info.Chunks)
	if !info.CreatedAt.IsZero() {
		w.printf("  Created:      %s\n", formatTime(info.CreatedAt))
	}
	w.printf("  Size on disk: %s\n\n", FormatBytes(info.DiskSize))

	w.printf("  Retrieval:\n")
	w.printf("    Embedder:     %s\n", info.Embedder)
	w.printf("    Model:        %s (%d dims)\n", info.Model, info.Dimensions)
	w.printf("    BM25 backend: %s\n", info.BM25Backend)
	w.printf("    Vector nodes: %d\n", info.VectorNodes)
	w.printf("    Schema:       v%d\n", info.SchemaVersion)

	if info.Orphans > 0 {
		w.printf("\n  %s\n", r.styles.Warning.Render(fmt.Sprintf("%d orphaned vectors (run `ragcore ingest` to compact)", info.Orphans)))
	}
	if info.IncompleteIngest {
		w.printf("\n  %s\n", r.styles.Warning.Render("a background ingestion did not finish; re-run ingest"))
	}

	if len(info.Jobs) > 0 {
		states := make([]string, 0, len(info.Jobs))
		for s := range info.Jobs {
			states = append(states, s)
		}
		sort.Strings(states)
		w.printf("\n  Jobs:\n")
		for _, s := range states {
			w.printf("    %-10s %d\n", s+":", info.Jobs[s])
		}
	}
	return w.err
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// errWriter keeps the first write error so Render can report it once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// formatTime renders t relative to now for recent times.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
