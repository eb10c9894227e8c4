package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/output"
)

func newDeleteCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Delete documents from the index",
		Long: `Delete every chunk of the given documents. Document IDs are the
source_id values documents were ingested with; for files that is the path
relative to the ingested directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := output.New(cmd.OutOrStdout())
			missing := 0
			for _, id := range args {
				n, err := a.pipe.Store.DeleteByDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				if n == 0 {
					out.Warningf("%s: not in the index", id)
					missing++
					continue
				}
				out.Successf("%s: removed %d chunk(s)", id, n)
			}
			if missing == len(args) {
				return errors.NotFound("document", args[0])
			}
			return nil
		},
	}

	return cmd
}
