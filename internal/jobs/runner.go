package jobs

import (
	"context"

	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/search"
)

// QueryAndGenerate returns a Runner that retrieves passages for the request
// and hands them to g. A retrieval failure fails the job; generation is
// never attempted on a failed or partial retrieval.
func QueryAndGenerate(q search.Querier, g generate.Generator) Runner {
	return func(ctx context.Context, req Request) (*Result, error) {
		alpha := 0.5
		if req.Alpha != nil {
			alpha = *req.Alpha
		}

		retrieved, err := q.Query(ctx, req.Query, req.TopK, alpha)
		if err != nil {
			return nil, err
		}

		answer, err := g.Generate(ctx, generate.Request{
			Query:    req.Query,
			Topic:    req.Topic,
			Language: req.Language,
		}, retrieved)
		if err != nil {
			return nil, err
		}

		return &Result{Retrieval: retrieved, Answer: answer}, nil
	}
}
