package service

import (
	"context"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/ogc"
)

type ogcPage = geoserver.FeaturePage

// fakeRemote is an in-memory FeatureSource recording every query.
type fakeRemote struct {
	mu       sync.Mutex
	hits     func(ctx context.Context, q ogc.FeatureQuery) (int, error)
	features func(q ogc.FeatureQuery) (*ogcPage, error)
	info     func(q ogc.InfoQuery) (map[string]any, error)

	hitQueries     []ogc.FeatureQuery
	featureQueries []ogc.FeatureQuery
	infoQueries    []ogc.InfoQuery
}

func (f *fakeRemote) Hits(ctx context.Context, q ogc.FeatureQuery) (int, error) {
	f.mu.Lock()
	f.hitQueries = append(f.hitQueries, q)
	f.mu.Unlock()
	if f.hits == nil {
		return 0, nil
	}
	return f.hits(ctx, q)
}

func (f *fakeRemote) Features(ctx context.Context, q ogc.FeatureQuery) (*geoserver.FeaturePage, error) {
	f.mu.Lock()
	f.featureQueries = append(f.featureQueries, q)
	f.mu.Unlock()
	if f.features == nil {
		return pageOf(nil, nil), nil
	}
	return f.features(q)
}

func (f *fakeRemote) FeatureInfo(ctx context.Context, q ogc.InfoQuery) (map[string]any, error) {
	f.mu.Lock()
	f.infoQueries = append(f.infoQueries, q)
	f.mu.Unlock()
	if f.info == nil {
		return nil, nil
	}
	return f.info(q)
}

func (f *fakeRemote) hitCalls() []ogc.FeatureQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ogc.FeatureQuery(nil), f.hitQueries...)
}

func (f *fakeRemote) featureCalls() []ogc.FeatureQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ogc.FeatureQuery(nil), f.featureQueries...)
}

func (f *fakeRemote) infoCalls() []ogc.InfoQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ogc.InfoQuery(nil), f.infoQueries...)
}

// pageOf builds a feature page with one feature per row.
func pageOf(columns []string, geom orb.Geometry, rows ...map[string]any) *geoserver.FeaturePage {
	fc := geojson.NewFeatureCollection()
	for _, r := range rows {
		f := geojson.NewFeature(geom)
		f.Properties = r
		fc.Append(f)
	}
	return &geoserver.FeaturePage{Collection: fc, Columns: columns}
}

var testBounds = orb.Bound{Min: orb.Point{-76.09, 5.60}, Max: orb.Point{-76.07, 5.62}}
