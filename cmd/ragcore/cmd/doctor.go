package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/preflight"
)

// doctorReport is the JSON shape of a doctor run.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var (
		verbose bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics to ensure ragcore can operate in this project.

Checks:
  - Configuration validity
  - Data directory write access and disk space (100MB minimum)
  - File descriptor limits (1024 minimum)
  - Whether another process holds the index
  - Interrupted background ingestions
  - Embedder and generator reachability

An unreachable Ollama is only a warning when the embedder provider is
automatic, because ragcore then falls back to static embeddings.`,
		Example: `  # Run diagnostics
  ragcore doctor

  # Verbose output with details
  ragcore doctor --verbose

  # JSON output for scripting
  ragcore doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			checker := preflight.New(cfg,
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()))
			results := checker.RunAll(cmd.Context())

			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), doctorReport{
					Status: checker.SummaryStatus(results),
					Checks: results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errors.New(errors.ErrCodeInternal, "system check failed", nil).
					WithSuggestion("Fix the errors listed above and run 'ragcore doctor' again")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}
