package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/output"
)

type askOptions struct {
	retrievalFlags
	topic    string
	language string
	jsonOut  bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the index",
		Long: `Retrieve passages for a question and generate an answer from them.

This runs the same work as a submitted job, but waits for the answer.
The generator is configured under generation: extractive (default,
offline) quotes the best passages, ollama writes a grounded answer.

Examples:
  ragcore ask "How does self-attention work?"
  ragcore ask "What is SGD?" --topic "machine learning" --language French`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Subject area that frames the answer")
	cmd.Flags().StringVar(&opts.language, "language", "", "Language of the answer")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the answer and retrieval as JSON")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, root *rootOptions, question string, opts askOptions) error {
	a, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	topK, alpha, err := opts.resolve(cmd, a.cfg.Search)
	if err != nil {
		return err
	}
	gen, err := generate.New(a.cfg.Generation, a.cfg.Embeddings.OllamaHost)
	if err != nil {
		return err
	}

	run := jobs.QueryAndGenerate(a.pipe.Retriever, gen)
	res, err := run(ctx, jobs.Request{
		Query:    question,
		Topic:    opts.topic,
		Language: opts.language,
		TopK:     topK,
		Alpha:    &alpha,
	})
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	output.New(cmd.OutOrStdout()).Answer(res.Answer)
	return nil
}
