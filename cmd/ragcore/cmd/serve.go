package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/index"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
	"github.com/Aman-CERP/ragcore/internal/server"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

// shutdownTimeout bounds how long in-flight jobs get to finish on exit.
const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr       string
		ingestPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve ingestion, retrieval and jobs over HTTP, with Prometheus metrics
at /metrics.

With --ingest the server starts answering at once while the directory is
ingested in the background; GET /v1/ingest/status reports progress.

Examples:
  ragcore serve
  ragcore serve --addr :9090 --ingest ./papers`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			return runServe(cmd.Context(), cfg, addr, ingestPath)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().StringVar(&ingestPath, "ingest", "", "Ingest this directory in the background while serving")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, addr, ingestPath string) error {
	metrics := telemetry.NewMetrics()
	registry := pipeline.NewRegistry(cfg, pipeline.WithMetrics(metrics))

	manager, err := newJobManager(cfg, registry, metrics)
	if err != nil {
		_ = registry.Close()
		return err
	}

	ingester, err := startBackgroundIngest(ctx, cfg, registry, ingestPath)
	if err != nil {
		shutdown(manager.Close, registry)
		return err
	}

	srv, err := server.New(server.Options{
		Registry: registry,
		Jobs:     manager,
		Metrics:  metrics,
		Ingester: ingester,
		Search:   cfg.Search,
	})
	if err == nil {
		err = srv.ListenAndServe(ctx, addr)
	}

	if ingester != nil {
		ingester.Stop()
	}
	shutdown(manager.Close, registry)
	return err
}

// startBackgroundIngest starts ingesting path in the background. It returns
// nil when path is empty.
func startBackgroundIngest(ctx context.Context, cfg *config.Config, registry *pipeline.Registry, path string) (*async.BackgroundIngester, error) {
	if path == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	p, err := registry.Get(ctx)
	if err != nil {
		return nil, err
	}

	loader := index.NewFileLoader(abs, cfg.Ingest.Include, cfg.Ingest.Exclude)
	ing := async.NewBackgroundIngester(
		async.IngesterConfig{DataDir: cfg.Store.DataDir},
		async.LoadAndIngest(loader, p.Engine))
	ing.Start(ctx)

	slog.Info("background_ingest_started", slog.String("path", abs))
	return ing, nil
}

// shutdown drains the job manager and then releases the pipeline.
func shutdown(closeJobs func(context.Context) error, registry *pipeline.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := closeJobs(ctx); err != nil {
		slog.Warn("job_manager_close_failed", slog.String("error", err.Error()))
	}
	if err := registry.Close(); err != nil {
		slog.Warn("registry_close_failed", slog.String("error", err.Error()))
	}
}
