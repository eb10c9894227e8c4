// Package cmd provides the CLI commands for ragcore.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/logging"
	"github.com/Aman-CERP/ragcore/internal/profiling"
	"github.com/Aman-CERP/ragcore/pkg/version"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	dir     string
	debug   bool
	profile profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the ragcore CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ragcore",
		Short: "Local hybrid retrieval over your documents",
		Long: `ragcore ingests documents into a local index and answers queries with
hybrid search, blending BM25 keyword relevance with embedding similarity.

It serves the same index over a CLI, an HTTP API and an MCP server.

Configuration is read from ~/.config/ragcore/config.yaml, then .ragcore.yaml
(or .ragcore.toml) and .env in the project directory, then RAGCORE_* variables.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("ragcore version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dir, "dir", ".", "Project directory holding the configuration and index")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging (mirrored to stderr)")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if err := opts.startLogging(c); err != nil {
			return err
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		err := opts.stopProfiling()
		opts.stopLogging()
		return err
	}

	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newResetCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the JSON file logger. Logs stay off the terminal
// unless --debug is set, and never reach stderr for the MCP server.
func (o *rootOptions) startLogging(cmd *cobra.Command) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if o.debug {
		cfg.Level = "debug"
		cfg.WriteToStderr = cmd.Name() != "mcp"
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		// An unwritable log directory should not stop the command.
		cfg.FilePath = ""
		cleanup, err = logging.SetupDefault(cfg)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
	}
	o.loggingCleanup = cleanup

	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version),
		slog.Int("pid", os.Getpid()))
	return nil
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

func (o *rootOptions) stopProfiling() error {
	s := o.profiler
	o.profiler = nil
	return s.Stop()
}
