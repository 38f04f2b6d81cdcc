package jobs

import (
	"context"
	"strings"

	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/ppl"
)

// Router sends queries whose source is qualified by a configured data
// source name (source=<datasource>.<table>) through the async job runner
// and everything else to the local fetcher.
type Router struct {
	local       model.EventsFetcher
	runner      *Runner
	datasources map[string]struct{}
}

// NewRouter creates a Router. With no data sources every query stays local.
func NewRouter(local model.EventsFetcher, runner *Runner, datasources []string) *Router {
	set := make(map[string]struct{}, len(datasources))
	for _, ds := range datasources {
		if ds = strings.TrimSpace(ds); ds != "" {
			set[strings.ToLower(ds)] = struct{}{}
		}
	}
	return &Router{local: local, runner: runner, datasources: set}
}

// DatasourceOf returns the configured data source a query targets, or "".
func (r *Router) DatasourceOf(query string) string {
	if len(r.datasources) == 0 || r.runner == nil {
		return ""
	}
	index := ppl.StripBackticks(ppl.IndexSource(query))
	name, _, found := strings.Cut(index, ".")
	if !found {
		return ""
	}
	if _, ok := r.datasources[strings.ToLower(name)]; ok {
		return name
	}
	return ""
}

// Fetch implements model.EventsFetcher.
func (r *Router) Fetch(ctx context.Context, query, format string) (*model.QueryResponse, error) {
	if ds := r.DatasourceOf(query); ds != "" {
		return r.runner.Run(ctx, ds, query)
	}
	return r.local.Fetch(ctx, query, format)
}
