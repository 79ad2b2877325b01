package poller

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// Source is the part of the gateway a tenant view reads from.
type Source interface {
	List(ctx context.Context) ([]tenant.Record, error)
	AggregateMetrics(ctx context.Context) (tenant.AggregateMetrics, error)
}

// TenantView is what a list or dashboard view renders.
type TenantView struct {
	Tenants   []tenant.Record         `json:"tenants"`
	Aggregate tenant.AggregateMetrics `json:"aggregate"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// TenantViewFetcher loads the tenant list and the aggregate concurrently.
// Either failure fails the whole view.
func TenantViewFetcher(src Source) Fetcher[TenantView] {
	return func(ctx context.Context) (TenantView, error) {
		var view TenantView
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			list, err := src.List(gctx)
			view.Tenants = list
			return err
		})
		g.Go(func() error {
			agg, err := src.AggregateMetrics(gctx)
			view.Aggregate = agg
			return err
		})
		if err := g.Wait(); err != nil {
			return TenantView{}, err
		}
		view.FetchedAt = time.Now()
		return view, nil
	}
}
