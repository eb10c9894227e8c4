package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/output"
	"github.com/Aman-CERP/ragcore/internal/search"
)

// retrievalFlags are the retrieval tuning flags shared by query and ask.
type retrievalFlags struct {
	topK  int
	alpha float64
}

func (f *retrievalFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "Maximum number of passages (default from configuration)")
	cmd.Flags().Float64VarP(&f.alpha, "alpha", "a", 0, "Blend between keyword (0) and semantic (1) relevance (default from configuration)")
}

// resolve applies the flags the user set on top of the configured defaults.
func (f *retrievalFlags) resolve(cmd *cobra.Command, cfg config.SearchConfig) (int, float64, error) {
	topK, alpha := cfg.TopK, cfg.Alpha
	if cmd.Flags().Changed("top-k") {
		if f.topK <= 0 {
			return 0, 0, errors.ValidationError(fmt.Sprintf("top-k must be positive, got %d", f.topK), nil)
		}
		topK = f.topK
	}
	if cmd.Flags().Changed("alpha") {
		if f.alpha < 0 || f.alpha > 1 {
			return 0, 0, errors.ValidationError(fmt.Sprintf("alpha must be in [0,1], got %v", f.alpha), nil)
		}
		alpha = f.alpha
	}
	return topK, alpha, nil
}

type queryOptions struct {
	retrievalFlags
	documents  []string
	categories []string
	sources    []string
	explain    bool
	jsonOut    bool
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the index",
		Long: `Search the index with hybrid retrieval.

Alpha 0 ranks by keywords only, alpha 1 by meaning only; values in
between blend both signals.

Examples:
  ragcore query "stochastic gradient descent"
  ragcore query "attention" --alpha 0 --top-k 3
  ragcore query "transformers" --category cs.CL --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringSliceVar(&opts.documents, "document", nil, "Restrict to these document IDs (repeatable)")
	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "Restrict to documents in any of these categories (repeatable)")
	cmd.Flags().StringSliceVar(&opts.sources, "source", nil, "Restrict to sources under these path prefixes (repeatable)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show how the result was produced")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts queryOptions) error {
	a, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	topK, alpha, err := opts.resolve(cmd, a.cfg.Search)
	if err != nil {
		return err
	}

	result, err := a.pipe.Retriever.Search(ctx, search.Request{
		Query:      query,
		TopK:       topK,
		Alpha:      alpha,
		Documents:  opts.documents,
		Categories: opts.categories,
		Sources:    opts.sources,
		Explain:    opts.explain,
	})
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	out := output.New(cmd.OutOrStdout())
	out.Hits(result)
	if opts.explain && result.Explain != nil {
		e := result.Explain
		out.Statusf("🧭", "candidates %d, filtered %d, duplicates %d, vector search %t",
			e.Candidates, e.Filtered, e.Duplicates, e.VectorSearch)
		out.Statusf("", "embed %s, search %s", e.EmbedDuration, e.SearchDuration)
	}
	return nil
}
