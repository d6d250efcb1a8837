package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/giscaleing/visor-sig/internal/ogc"
)

// HitCounter answers WFS resultType=hits queries.
type HitCounter interface {
	Hits(ctx context.Context, q ogc.FeatureQuery) (int, error)
}

// Counter computes visible/total feature counts for the layer panel.
type Counter struct {
	hits        HitCounter
	columns     []string
	concurrency int
	log         *slog.Logger
}

// NewCounter creates a counter. columns are the candidate geometry column
// names tried, in order, when a CQL layer needs an explicit BBOX predicate.
func NewCounter(hits HitCounter, columns []string, concurrency int, log *slog.Logger) *Counter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Counter{hits: hits, columns: columns, concurrency: concurrency, log: log}
}

// CountAll counts every layer concurrently. A failed request contributes
// 0 instead of failing the whole refresh.
func (c *Counter) CountAll(ctx context.Context, layers []LayerDescriptor, b orb.Bound) map[string]Counts {
	var (
		mu     sync.Mutex
		result = make(map[string]Counts, len(layers))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, l := range layers {
		g.Go(func() error {
			counts := c.Count(ctx, l, b)
			mu.Lock()
			result[l.ID] = counts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// Count returns the counts of one layer. Total ignores the viewport;
// Visible is 0 for an inactive layer.
func (c *Counter) Count(ctx context.Context, l LayerDescriptor, b orb.Bound) Counts {
	counts := Counts{Total: c.hitsOrZero(ctx, ogc.FeatureQuery{TypeName: l.Name, CQL: l.CQLFilter})}
	if !l.Active {
		return counts
	}

	if l.CQLFilter == "" {
		counts.Visible = c.hitsOrZero(ctx, ogc.FeatureQuery{TypeName: l.Name, Bounds: &b})
		return counts
	}

	counts.Visible = c.hitsOrZero(ctx, ogc.FeatureQuery{TypeName: l.Name, Bounds: &b, CQL: l.CQLFilter})
	if counts.Visible > 0 || counts.Total == 0 {
		return counts
	}

	// Some servers ignore bbox when CQL_FILTER is present; retry with the
	// box folded into the predicate for each candidate geometry column.
	for _, col := range c.columns {
		if ctx.Err() != nil {
			break
		}
		cql := ogc.And(l.CQLFilter, ogc.BBoxPredicate(col, b))
		n, err := c.hits.Hits(ctx, ogc.FeatureQuery{TypeName: l.Name, CQL: cql})
		if err != nil {
			c.log.Debug("bbox predicate rejected", "layer", l.ID, "column", col, "error", err)
			continue
		}
		if n > 0 {
			counts.Visible = n
			return counts
		}
	}
	// No candidate column matched; the layer stays at zero visible.
	return counts
}

func (c *Counter) hitsOrZero(ctx context.Context, q ogc.FeatureQuery) int {
	n, err := c.hits.Hits(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("count failed", "layer", q.TypeName, "error", err)
		}
		return 0
	}
	return n
}
