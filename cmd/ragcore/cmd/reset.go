package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/output"
)

func newResetCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every chunk from the index",
		Long: `Delete every chunk from the index. The index stays usable and keeps its
embedding model; ingest again to repopulate it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.ValidationError("reset deletes the whole index", nil).
					WithSuggestion("Re-run with --force to confirm")
			}

			a, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.pipe.Store.Reset(cmd.Context())
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Removed %d chunk(s)", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm deleting the whole index")

	return cmd
}
