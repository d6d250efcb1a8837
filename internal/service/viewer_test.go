package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giscaleing/visor-sig/internal/config"
	"github.com/giscaleing/visor-sig/internal/logging"
	"github.com/giscaleing/visor-sig/internal/ogc"
	"github.com/giscaleing/visor-sig/internal/sld"
)

func newTestViewer(t *testing.T, remote *fakeRemote) *Viewer {
	t.Helper()
	v := NewViewer(Options{
		Remote:           remote,
		PageSize:         50,
		GeometryColumns:  candidates,
		Collation:        "es",
		CountConcurrency: 2,
		Logger:           logging.Discard(),
	})
	require.NoError(t, v.Seed([]config.LayerConfig{
		{ID: "metrix:colonias", Name: "metrix:colonias", Label: "Colonias", Active: true},
		{ID: "metrix:identificate", Name: "metrix:identificate", Label: "Identificate"},
	}))
	return v
}

func pointRemote() *fakeRemote {
	return &fakeRemote{features: func(q ogc.FeatureQuery) (*ogcPage, error) {
		return pageOf([]string{"id"}, orb.Point{-76.08, 5.61}, map[string]any{"id": 1.0}), nil
	}}
}

func TestViewer_SeedKeepsExistingLayers(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})

	_, err := v.SetActive(context.Background(), "metrix:identificate", true)
	require.NoError(t, err)
	require.NoError(t, v.Seed([]config.LayerConfig{
		{ID: "metrix:identificate", Name: "metrix:identificate", Label: "Identificate"},
	}))

	l, err := v.Layer("metrix:identificate")
	require.NoError(t, err)
	assert.True(t, l.Active)

	layers, err := v.Layers()
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "metrix:colonias", layers[0].ID)
}

func TestViewer_ActivatingPointLayerAppliesDefaultStyle(t *testing.T) {
	v := newTestViewer(t, pointRemote())

	_, err := v.SetActive(context.Background(), "metrix:identificate", true)
	require.NoError(t, err)

	tl, err := v.TileLayer("metrix:identificate")
	require.NoError(t, err)
	assert.Equal(t, 1, tl.Revision)
	assert.Contains(t, tl.Params[ogc.ParamSLDBody], "<PointSymbolizer>")
	assert.Contains(t, tl.Params[ogc.ParamSLDBody], "#2ECC71")
}

func TestViewer_ActivatingPolygonLayerKeepsServerStyle(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{features: func(q ogc.FeatureQuery) (*ogcPage, error) {
		return pageOf(nil, orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, map[string]any{}), nil
	}})

	_, err := v.SetActive(context.Background(), "metrix:identificate", true)
	require.NoError(t, err)

	tl, err := v.TileLayer("metrix:identificate")
	require.NoError(t, err)
	assert.NotContains(t, tl.Params, ogc.ParamSLDBody)
}

func TestViewer_DetectGeometryCaches(t *testing.T) {
	remote := pointRemote()
	v := newTestViewer(t, remote)
	ctx := context.Background()

	assert.Equal(t, sld.Point, v.DetectGeometry(ctx, "metrix:identificate"))
	assert.Equal(t, sld.Point, v.DetectGeometry(ctx, "metrix:identificate"))
	calls := remote.featureCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].MaxFeatures)
}

func TestViewer_DetectGeometryFailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	remote := &fakeRemote{features: func(q ogc.FeatureQuery) (*ogcPage, error) {
		if fail.Load() {
			return nil, errors.New("timeout")
		}
		return pageOf(nil, orb.LineString{{0, 0}, {1, 1}}, map[string]any{}), nil
	}}
	v := newTestViewer(t, remote)
	ctx := context.Background()

	assert.Equal(t, sld.Polygon, v.DetectGeometry(ctx, "x"))
	fail.Store(false)
	assert.Equal(t, sld.Line, v.DetectGeometry(ctx, "x"))
}

func TestViewer_DetectGeometryEmptyLayerIsPolygon(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})
	assert.Equal(t, sld.Polygon, v.DetectGeometry(context.Background(), "x"))
}

func TestViewer_Symbology(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})
	ctx := context.Background()
	events := v.Bus().Subscribe()
	defer v.Bus().Unsubscribe(events)

	s, err := v.OpenSymbology(ctx, "metrix:colonias")
	require.NoError(t, err)
	assert.Equal(t, sld.Polygon, s.Kind)
	assert.Equal(t, sld.DefaultStyle, s.Style)
	assert.Equal(t, sld.Fields(sld.Polygon), s.Fields)

	style := sld.LayerStyle{FillColor: "#ff0000", FillOpacity: 0.5, StrokeColor: "#000000", StrokeOpacity: 1, StrokeWidth: 2}
	rec, err := v.ApplySymbology(ctx, "metrix:colonias", style)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Revision)
	assert.Contains(t, rec.Body, "<Name>metrix:colonias</Name>")

	select {
	case e := <-events:
		assert.Equal(t, Event{Resource: ResourceStyles, Action: "updated", ID: "metrix:colonias"}, e)
	case <-time.After(time.Second):
		t.Fatal("no styles event")
	}

	rec, err = v.ApplySymbology(ctx, "metrix:colonias", style)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Revision)

	s, err = v.OpenSymbology(ctx, "metrix:colonias")
	require.NoError(t, err)
	assert.Equal(t, style, s.Style)
	assert.Equal(t, 2, s.Revision)
}

func TestViewer_SymbologySharedByFilteredLayers(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})
	ctx := context.Background()

	fl, err := v.ApplyFilter("metrix:colonias", "barrio", []string{"Centro"})
	require.NoError(t, err)
	_, err = v.ApplySymbology(ctx, fl.ID, sld.DefaultStyle)
	require.NoError(t, err)

	base, err := v.TileLayer("metrix:colonias")
	require.NoError(t, err)
	filtered, err := v.TileLayer(fl.ID)
	require.NoError(t, err)
	assert.Equal(t, base.Params[ogc.ParamSLDBody], filtered.Params[ogc.ParamSLDBody])
	assert.Equal(t, "barrio IN ('Centro')", filtered.Params[ogc.ParamCQL])
	assert.NotContains(t, base.Params, ogc.ParamCQL)

	overrides, err := v.TileOverrides(fl.ID)
	require.NoError(t, err)
	assert.Equal(t, "metrix:colonias", overrides[ogc.ParamLayers])
}

func TestViewer_ApplySymbologyRejectsInvalidStyle(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})
	_, err := v.ApplySymbology(context.Background(), "metrix:colonias", sld.LayerStyle{FillColor: "red", FillOpacity: 2})
	assert.ErrorIs(t, err, sld.ErrInvalidStyle)
}

func TestViewer_FilterLifecycle(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})

	_, err := v.ApplyFilter("metrix:colonias", "", []string{"A"})
	assert.ErrorIs(t, err, ErrEmptyFilter)
	_, err = v.ApplyFilter("metrix:colonias", "barrio", nil)
	assert.ErrorIs(t, err, ErrEmptyFilter)

	fl, err := v.ApplyFilter("metrix:colonias", "barrio", []string{"A", "B"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fl.ID, "metrix:colonias_filter_"))
	assert.Equal(t, "Colonias (filter)", fl.Label)
	assert.Equal(t, "barrio IN ('A','B')", fl.CQLFilter)
	assert.True(t, fl.Active)

	layers, err := v.Layers()
	require.NoError(t, err)
	assert.Len(t, layers, 3)

	assert.ErrorIs(t, v.RemoveLayer("metrix:colonias"), ErrBaseLayer)
	assert.ErrorIs(t, v.RemoveLayer("nope"), ErrLayerNotFound)
	require.NoError(t, v.RemoveLayer(fl.ID))

	layers, err = v.Layers()
	require.NoError(t, err)
	assert.Len(t, layers, 2)
}

func TestNewFilteredLayer_Narrows(t *testing.T) {
	src := LayerDescriptor{ID: "f1", Name: "metrix:colonias", Label: "Colonias (filter)", CQLFilter: "barrio IN ('A')", Source: "metrix:colonias"}
	fl, err := NewFilteredLayer(src, "estrato", []string{"3"})
	require.NoError(t, err)
	assert.Equal(t, "(barrio IN ('A')) AND estrato IN ('3')", fl.CQLFilter)
	assert.Equal(t, "f1", fl.Source)
}

func TestViewer_DistinctValues(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{features: func(q ogc.FeatureQuery) (*ogcPage, error) {
		return pageOf([]string{"barrio"}, nil,
			map[string]any{"barrio": "Norte"},
			map[string]any{"barrio": "Ñandú"},
			map[string]any{"barrio": "ábside"},
			map[string]any{"barrio": "Centro"},
			map[string]any{"barrio": "Centro"},
			map[string]any{"barrio": nil},
			map[string]any{"barrio": ""},
		), nil
	}})

	values, err := v.DistinctValues(context.Background(), "metrix:colonias", testBounds, "barrio")
	require.NoError(t, err)
	assert.Equal(t, []string{"ábside", "Centro", "Norte", "Ñandú"}, values)
}

func TestViewer_ColumnsSampleOneFeature(t *testing.T) {
	remote := &fakeRemote{features: func(q ogc.FeatureQuery) (*ogcPage, error) {
		return pageOf([]string{"barrio", "area"}, nil, map[string]any{"barrio": "A", "area": 1.0}), nil
	}}
	v := newTestViewer(t, remote)

	cols, err := v.Columns(context.Background(), "metrix:colonias", testBounds)
	require.NoError(t, err)
	assert.Equal(t, []string{"barrio", "area"}, cols)
	assert.Equal(t, 1, remote.featureCalls()[0].MaxFeatures)
}

func TestViewer_ColumnsFailureIsEmpty(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{features: func(q ogc.FeatureQuery) (*ogcPage, error) {
		return nil, errors.New("boom")
	}})
	cols, err := v.Columns(context.Background(), "metrix:colonias", testBounds)
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestViewer_RefreshCounts(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{hits: func(ctx context.Context, q ogc.FeatureQuery) (int, error) {
		if q.Bounds != nil {
			return 2, nil
		}
		return 9, nil
	}})

	_, state := v.Counts()
	assert.Equal(t, CountsIdle, state)

	counts, err := v.RefreshCounts(context.Background(), testBounds)
	require.NoError(t, err)
	assert.Equal(t, map[string]Counts{
		"metrix:colonias":     {Visible: 2, Total: 9},
		"metrix:identificate": {Visible: 0, Total: 9},
	}, counts)

	settled, state := v.Counts()
	assert.Equal(t, CountsSettled, state)
	assert.Equal(t, counts, settled)
	b, ok := v.Bounds()
	assert.True(t, ok)
	assert.Equal(t, testBounds, b)
}

func TestViewer_RefreshCountsDiscardsSupersededResult(t *testing.T) {
	started := make(chan struct{}, 1)
	var block atomic.Bool
	block.Store(true)
	v := newTestViewer(t, &fakeRemote{hits: func(ctx context.Context, q ogc.FeatureQuery) (int, error) {
		if block.Load() {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return 99, ctx.Err()
		}
		return 5, nil
	}})

	errc := make(chan error, 1)
	go func() {
		_, err := v.RefreshCounts(context.Background(), testBounds)
		errc <- err
	}()
	<-started
	block.Store(false)

	counts, err := v.RefreshCounts(context.Background(), testBounds)
	require.NoError(t, err)
	assert.Equal(t, 5, counts["metrix:colonias"].Total)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded refresh never returned")
	}

	settled, _ := v.Counts()
	assert.Equal(t, 5, settled["metrix:colonias"].Total)
}

func TestViewer_Identify(t *testing.T) {
	remote := &fakeRemote{info: func(q ogc.InfoQuery) (map[string]any, error) {
		return map[string]any{"barrio": "Centro"}, nil
	}}
	v := newTestViewer(t, remote)
	ctx := context.Background()

	_, err := v.ApplyFilter("metrix:colonias", "barrio", []string{"Centro"})
	require.NoError(t, err)

	res, err := v.Identify(ctx, IdentifyRequest{Bounds: testBounds, Width: 800, Height: 600, X: 400.7, Y: 300.2})
	require.NoError(t, err)
	assert.Equal(t, []string{"metrix:colonias"}, res.Layers, "filtered variants share the type name")
	assert.Equal(t, map[string]any{"barrio": "Centro"}, res.Properties)

	q := remote.infoCalls()[0]
	assert.Equal(t, 800, q.Width)
	assert.Equal(t, 400.7, q.X)
}

func TestViewer_IdentifyWithoutActiveLayers(t *testing.T) {
	remote := &fakeRemote{}
	v := newTestViewer(t, remote)
	_, err := v.SetActive(context.Background(), "metrix:colonias", false)
	require.NoError(t, err)

	res, err := v.Identify(context.Background(), IdentifyRequest{Bounds: testBounds, Width: 10, Height: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Layers)
	assert.Empty(t, res.Properties)
	assert.Empty(t, remote.infoCalls())
}

func TestViewer_IdentifyFailureIsEmpty(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{info: func(q ogc.InfoQuery) (map[string]any, error) {
		return nil, errors.New("502")
	}})
	res, err := v.Identify(context.Background(), IdentifyRequest{Bounds: testBounds, Width: 10, Height: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Properties)
}

func TestGenerations(t *testing.T) {
	g := NewGenerations()
	ctx1, tok1 := g.Begin(context.Background(), "k")
	ctx2, tok2 := g.Begin(context.Background(), "k")
	_, other := g.Begin(context.Background(), "other")

	assert.Error(t, ctx1.Err(), "older generation is canceled")
	assert.NoError(t, ctx2.Err())
	assert.False(t, tok1.Current())
	assert.True(t, tok2.Current())
	assert.True(t, other.Current())

	applied := false
	assert.False(t, tok1.Commit(func() { applied = true }))
	assert.False(t, applied)
	assert.True(t, tok2.Commit(func() { applied = true }))
	assert.True(t, applied)

	tok1.Done()
	assert.NoError(t, ctx2.Err(), "a stale Done leaves the current context alone")
	tok2.Done()
	assert.Error(t, ctx2.Err())
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.PutLayer(LayerDescriptor{ID: "b", Name: "b"}))
	require.NoError(t, s.PutLayer(LayerDescriptor{ID: "a", Name: "a"}))
	require.NoError(t, s.PutLayer(LayerDescriptor{ID: "b", Name: "b", Active: true}))

	layers, err := s.Layers()
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "b", layers[0].ID)
	assert.True(t, layers[0].Active)

	require.NoError(t, s.DeleteLayer("b"))
	assert.ErrorIs(t, s.DeleteLayer("b"), ErrLayerNotFound)

	_, ok, err := s.Style("x")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.PutStyle(StyleRecord{LayerName: "x", Revision: 3}))
	rec, ok, err := s.Style("x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, rec.Revision)

	require.NoError(t, s.PutGeometryKind("x", sld.Line))
	kind, ok, err := s.GeometryKind("x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sld.Line, kind)
}

func TestViewer_CountLayersLeavesStateUntouched(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{hits: func(ctx context.Context, q ogc.FeatureQuery) (int, error) {
		if q.Bounds != nil {
			return 2, nil
		}
		return 8, nil
	}})

	layers, err := v.Layers()
	require.NoError(t, err)
	for i := range layers {
		layers[i].Active = true
	}
	counts := v.CountLayers(context.Background(), layers, testBounds)
	assert.Equal(t, Counts{Visible: 2, Total: 8}, counts["metrix:identificate"])

	l, err := v.Layer("metrix:identificate")
	require.NoError(t, err)
	assert.False(t, l.Active)
	_, state := v.Counts()
	assert.Equal(t, CountsIdle, state)
	tl, err := v.TileLayer("metrix:identificate")
	require.NoError(t, err)
	assert.NotContains(t, tl.Params, ogc.ParamSLDBody)
}

func TestViewer_TileOverridesAlwaysForceStyleAndFilter(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})

	overrides, err := v.TileOverrides("metrix:colonias")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		ogc.ParamLayers:  "metrix:colonias",
		ogc.ParamSLDBody: "",
		ogc.ParamCQL:     "",
	}, overrides)

	u := ogc.MustEndpoint("http://gs/wms").GetMapURL(url.Values{
		"bbox":       {"1,2,3,4"},
		"sld_body":   {"<evil/>"},
		"cql_filter": {"1=1"},
	}, overrides)
	assert.NotContains(t, u, "evil")
	assert.NotContains(t, strings.ToLower(u), "cql_filter")
	assert.Contains(t, u, "LAYERS=metrix%3Acolonias")
}

func TestViewer_ConcurrentSymbologyGetsDistinctRevisions(t *testing.T) {
	v := newTestViewer(t, &fakeRemote{})
	ctx := context.Background()

	const n = 8
	revisions := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := v.ApplySymbology(ctx, "metrix:colonias", sld.DefaultStyle)
			assert.NoError(t, err)
			revisions <- rec.Revision
		}()
	}
	wg.Wait()
	close(revisions)

	seen := map[int]bool{}
	for r := range revisions {
		seen[r] = true
	}
	assert.Len(t, seen, n)
	tl, err := v.TileLayer("metrix:colonias")
	require.NoError(t, err)
	assert.Equal(t, n, tl.Revision)
}
