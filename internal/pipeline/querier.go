package pipeline

import (
	"context"

	"github.com/Aman-CERP/ragcore/internal/search"
)

// Querier returns a search.Querier that resolves the shared Pipeline on
// every call, so it can be handed to long-lived consumers (job workers)
// before the Pipeline is built.
func (r *Registry) Querier() search.Querier {
	return registryQuerier{r: r}
}

type registryQuerier struct {
	r *Registry
}

func (q registryQuerier) Query(ctx context.Context, text string, topK int, alpha float64) (*search.Result, error) {
	p, err := q.r.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Retriever.Query(ctx, text, topK, alpha)
}

func (q registryQuerier) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	p, err := q.r.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Retriever.Search(ctx, req)
}
