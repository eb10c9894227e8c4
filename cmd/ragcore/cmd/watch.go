package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/output"
	"github.com/Aman-CERP/ragcore/internal/watcher"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index in step with a directory",
		Long: `Ingest a directory, then watch it and re-ingest files as they change.

A changed file has its previous chunks deleted before it is ingested
again; a removed file has its chunks deleted. Events are coalesced for
ingest.watch_debounce before they are applied.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.dir
			if len(args) == 1 {
				path = args[0]
			}
			return runWatch(cmd.Context(), cmd, root, path)
		},
	}

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string) error {
	a, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	loader := index.NewFileLoader(abs, a.cfg.Ingest.Include, a.cfg.Ingest.Exclude)
	re := watcher.NewReingester(loader, a.pipe.Engine, a.pipe.Store)
	report, err := re.Sync(ctx)
	if err != nil {
		return err
	}
	out.Report(report)

	w, err := watcher.New(abs, loader, watcher.Options{
		DebounceWindow: a.cfg.Ingest.DebounceDuration(),
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-w.Errors():
				out.Warningf("watch: %v", err)
			}
		}
	}()

	out.Statusf("👀", "Watching %s (Ctrl+C to stop)", abs)
	return re.Run(ctx, w.Events())
}
