package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/mcp"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	var (
		transport  string
		addr       string
		ingestPath string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the index to AI assistants over MCP",
		Long: `Start a Model Context Protocol server exposing the search, ingest,
stats, submit_job and job_status tools, the chunk://{id} resource and the
ragcore://query_metrics resource.

The stdio transport is what MCP clients launch; stdout then carries only
protocol messages and logs go to ~/.ragcore/logs/.

Examples:
  ragcore mcp
  ragcore mcp --ingest ./papers
  ragcore mcp --transport http --addr 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			metrics := telemetry.NewMetrics()
			registry := pipeline.NewRegistry(cfg, pipeline.WithMetrics(metrics))
			manager, err := newJobManager(cfg, registry, metrics)
			if err != nil {
				_ = registry.Close()
				return err
			}
			defer shutdown(manager.Close, registry)

			srv, err := mcp.NewServer(registry, manager)
			if err != nil {
				return err
			}

			ingester, err := startBackgroundIngest(ctx, cfg, registry, ingestPath)
			if err != nil {
				return err
			}
			if ingester != nil {
				defer ingester.Stop()
				srv.SetIngester(ingester)
			}

			return srv.Serve(ctx, transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", mcp.TransportStdio, "Transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "Listen address for the http transport")
	cmd.Flags().StringVar(&ingestPath, "ingest", "", "Ingest this directory in the background while serving")

	return cmd
}
