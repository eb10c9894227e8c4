package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/chunk"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/output"
	"github.com/Aman-CERP/ragcore/internal/ui"
)

type ingestOptions struct {
	chunkSize int
	overlap   int
	plain     bool
	noColor   bool
	jsonOut   bool
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest documents from a directory or file",
		Long: `Ingest documents into the index.

A directory is walked with the configured include and exclude patterns.
A .json file holds one document or an array of documents; any other
text file becomes one document keyed by its relative path.

Ingestion is idempotent: chunks already in the index are skipped.

Examples:
  ragcore ingest ./papers
  ragcore ingest corpus.json --chunk-size 500 --overlap 100
  ragcore ingest --plain --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.dir
			if len(args) == 1 {
				path = args[0]
			}
			return runIngest(cmd.Context(), cmd, root, path, opts)
		},
	}

	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Chunk size in characters (default from configuration)")
	cmd.Flags().IntVar(&opts.overlap, "overlap", 0, "Overlap between consecutive chunks in characters")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output instead of the interactive view")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the ingestion report as JSON")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts ingestOptions) error {
	a, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	docs, err := loadPath(ctx, abs, a.cfg.Ingest.Include, a.cfg.Ingest.Exclude)
	if err != nil {
		return err
	}
	slog.Info("ingest_started",
		slog.String("path", abs),
		slog.Int("documents", len(docs)))

	engine := a.pipe.Engine
	if !opts.jsonOut {
		renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(opts.plain),
			ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
			ui.WithSource(abs)))
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = renderer.Stop() }()
		engine = engine.WithRenderer(renderer)
	}

	report, err := engine.Ingest(ctx, docs, opts.chunkSize, opts.overlap)
	if err != nil {
		return err
	}
	if opts.jsonOut {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	if len(docs) == 0 {
		output.New(cmd.OutOrStdout()).Warningf("No documents matched under %s", abs)
	}
	return nil
}

// loadPath loads a single file or every selected file under a directory.
func loadPath(ctx context.Context, path string, include, exclude []string) ([]chunk.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, "cannot read "+path, err)
	}
	if info.IsDir() {
		return index.NewFileLoader(path, include, exclude).Load(ctx)
	}

	loader := index.NewFileLoader(filepath.Dir(path), include, exclude)
	docs, err := loader.LoadFile(filepath.Base(path))
	if err != nil {
		return nil, errors.ValidationError("cannot load "+path+": "+err.Error(), err)
	}
	return docs, nil
}
