package cmd

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/ui"
)

type statsOptions struct {
	jsonOut bool
	noColor bool
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show what the index holds: documents, chunks, the embedding model and
vector dimensions, the lexical backend and the size on disk.

An empty index is reported as an error so scripts can detect it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print statistics as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts statsOptions) error {
	a, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	st, err := a.pipe.Store.Stats(ctx)
	if err != nil {
		return err
	}
	if st.Chunks == 0 {
		return errors.NotFound("index", "").
			WithSuggestion("Run 'ragcore ingest <path>' first")
	}

	info := ui.StatusInfo{
		Stats:            st,
		DiskSize:         dirSize(a.cfg.Store.DataDir),
		Embedder:         a.pipe.Embedder.ModelName(),
		IncompleteIngest: async.HasIncompleteIngest(a.cfg.Store.DataDir),
	}
	if info.DataDir == "" {
		info.DataDir = a.cfg.Store.DataDir
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), opts.noColor || ui.DetectNoColor())
	if opts.jsonOut {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// dirSize sums the sizes of the regular files under dir.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
