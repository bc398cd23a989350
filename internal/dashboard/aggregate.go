package dashboard

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// Engine computes dashboard views from the findings store. Rows, category
// counts and host counts always come from one filtered snapshot, so the
// aggregates never disagree with the rows shown next to them.
type Engine struct {
	findings core.FindingStore
	logger   *logger.Logger
}

func NewEngine(findings core.FindingStore, log *logger.Logger) *Engine {
	return &Engine{
		findings: findings,
		logger:   log.WithComponent("dashboard"),
	}
}

// Compute builds the dashboard view for the filter: the 100 most recent
// matching rows plus category and host breakdowns over exactly those rows,
// and the facet lists for the filter pickers. The snapshot and the two facet
// queries run concurrently; any storage fault fails the whole view rather
// than serving partial numbers.
func (e *Engine) Compute(ctx context.Context, filter core.FindingFilter) (*types.DashboardView, error) {
	start := time.Now()

	var (
		rows      []types.Finding
		hostnames []string
		sources   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = e.findings.QueryRecent(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		hostnames, err = e.findings.DistinctHostnames(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sources, err = e.findings.DistinctSources(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.LogError(ctx, err, "dashboard.Compute", "filter", filter.Category)
		return nil, err
	}

	view := &types.DashboardView{
		Rows:           rows,
		CategoryCounts: countCategories(rows, filter.Category),
		HostCounts:     countHosts(rows),
		Hostnames:      hostnames,
		Sources:        sources,
		Filter:         filter.Category,
	}

	e.logger.LogDuration(ctx, "dashboard.Compute", start,
		"rows", len(rows),
		"filter", filter.Category,
	)
	return view, nil
}

// countCategories tallies how many of the rows carry each vocabulary tag. A
// row matching several tags is counted under each; a row matching none
// contributes nothing. Every vocabulary tag is present in the result, zero
// when unmatched. When a category filter is active, only the bucket named
// by the filter is tallied; the other buckets stay 0 even if the filtered
// rows carry additional tags.
func countCategories(rows []types.Finding, filter string) map[string]int {
	counts := make(map[string]int, len(Categories))
	for _, cat := range Categories {
		counts[cat] = 0
	}
	for _, row := range rows {
		for _, cat := range Categories {
			if filter != "" && !MatchesCategory(cat, filter) {
				continue
			}
			if MatchesCategory(row.Detected, cat) {
				counts[cat]++
			}
		}
	}
	return counts
}

// countHosts tallies rows per hostname. Rows without a hostname appear in
// the row listing but contribute nothing here.
func countHosts(rows []types.Finding) map[string]int {
	counts := make(map[string]int)
	for _, row := range rows {
		if host := row.Host(); host != "" {
			counts[host]++
		}
	}
	return counts
}
