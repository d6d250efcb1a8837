package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/giscaleing/visor-sig/internal/ogc"
)

// FilterBuilder discovers filterable columns and their values.
type FilterBuilder struct {
	remote FeatureSource
	lang   language.Tag
	log    *slog.Logger
}

// NewFilterBuilder creates a builder sorting values with the collation
// rules of lang.
func NewFilterBuilder(remote FeatureSource, lang language.Tag, log *slog.Logger) *FilterBuilder {
	return &FilterBuilder{remote: remote, lang: lang, log: log}
}

// Columns samples one feature of l inside b and returns its property keys.
func (f *FilterBuilder) Columns(ctx context.Context, l LayerDescriptor, b orb.Bound) []string {
	page, err := f.remote.Features(ctx, ogc.FeatureQuery{
		TypeName:    l.Name,
		Bounds:      &b,
		CQL:         l.CQLFilter,
		MaxFeatures: 1,
	})
	if err != nil {
		f.log.Warn("column discovery failed", "layer", l.ID, "error", err)
		return nil
	}
	return page.Columns
}

// DistinctValues returns the distinct non-empty values of column among
// the features of l inside b, collated.
func (f *FilterBuilder) DistinctValues(ctx context.Context, l LayerDescriptor, b orb.Bound, column string) []string {
	page, err := f.remote.Features(ctx, ogc.FeatureQuery{TypeName: l.Name, Bounds: &b, CQL: l.CQLFilter})
	if err != nil {
		f.log.Warn("value discovery failed", "layer", l.ID, "column", column, "error", err)
		return nil
	}

	seen := make(map[string]struct{})
	values := []string{}
	for _, feat := range page.Collection.Features {
		s := CellString(feat.Properties[column])
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		values = append(values, s)
	}
	// Collators keep scratch buffers, one per call.
	collate.New(f.lang).SortStrings(values)
	return values
}

// NewFilteredLayer derives an active layer restricted to rows whose column
// is one of values. A filter on an already filtered layer narrows it.
func NewFilteredLayer(src LayerDescriptor, column string, values []string) (LayerDescriptor, error) {
	if strings.TrimSpace(column) == "" || len(values) == 0 {
		return LayerDescriptor{}, ErrEmptyFilter
	}
	pred, err := ogc.InPredicate(column, values)
	if err != nil {
		return LayerDescriptor{}, fmt.Errorf("%w: %v", ErrEmptyFilter, err)
	}
	return LayerDescriptor{
		ID:        src.Name + "_filter_" + uuid.NewString()[:8],
		Name:      src.Name,
		Label:     src.Label + " (filter)",
		Active:    true,
		CQLFilter: ogc.And(src.CQLFilter, pred),
		Source:    src.ID,
	}, nil
}
