package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giscaleing/visor-sig/internal/config"
	"github.com/giscaleing/visor-sig/internal/db"
	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/logging"
	"github.com/giscaleing/visor-sig/internal/ogc"
	"github.com/giscaleing/visor-sig/internal/service"
)

const bbox = "-76.09,5.60,-76.07,5.62"

type stubRemote struct {
	mu       sync.Mutex
	total    int
	visible  int
	rows     []map[string]any
	columns  []string
	geom     orb.Geometry
	fail     error
	info     map[string]any
	getMaps  []map[string]string
	incoming []url.Values
}

func (s *stubRemote) Hits(ctx context.Context, q ogc.FeatureQuery) (int, error) {
	if q.Bounds == nil {
		return s.total, nil
	}
	return s.visible, nil
}

func (s *stubRemote) Features(ctx context.Context, q ogc.FeatureQuery) (*geoserver.FeaturePage, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	geom := s.geom
	if geom == nil {
		geom = orb.Polygon{{{-76.08, 5.61}, {-76.07, 5.61}, {-76.07, 5.62}, {-76.08, 5.61}}}
	}
	fc := geojson.NewFeatureCollection()
	for _, r := range s.rows {
		f := geojson.NewFeature(geom)
		f.Properties = r
		fc.Append(f)
	}
	return &geoserver.FeaturePage{Collection: fc, Columns: s.columns}, nil
}

func (s *stubRemote) FeatureInfo(ctx context.Context, q ogc.InfoQuery) (map[string]any, error) {
	return s.info, nil
}

func (s *stubRemote) GetMap(ctx context.Context, incoming url.Values, overrides map[string]string) (*geoserver.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getMaps = append(s.getMaps, overrides)
	s.incoming = append(s.incoming, incoming)
	return &geoserver.Response{Body: []byte("PNG"), ContentType: "image/png"}, nil
}

func newTestViewer(t *testing.T, remote *stubRemote) *service.Viewer {
	t.Helper()
	v := service.NewViewer(service.Options{
		Remote:          remote,
		PageSize:        50,
		GeometryColumns: []string{"geom", "the_geom"},
		Collation:       "es",
		Logger:          logging.Discard(),
	})
	require.NoError(t, v.Seed([]config.LayerConfig{
		{ID: "metrix:colonias", Name: "metrix:colonias", Label: "Colonias", Active: true},
		{ID: "metrix:identificate", Name: "metrix:identificate", Label: "Identificate"},
	}))
	return v
}

func newTestAPI(t *testing.T, remote *stubRemote) (humatest.TestAPI, *service.Viewer) {
	t.Helper()
	links := &humastar.Links{}
	cfg := huma.DefaultConfig("visor-sig test", Version)
	cfg.Transformers = append(cfg.Transformers, links.Transformer())
	_, api := humatest.New(t, cfg)

	v := newTestViewer(t, remote)
	huma.AutoRegister(api, NewHandler(v, logging.Discard()))
	NewInfoHandler(config.Default(), "").RegisterRoutes(api)
	links.Derive(api, "/health")
	return api, v
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func TestHealthAndInfo(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{})

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode[HealthBody](t, resp).Status)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/layers>; rel="layers"`)

	resp = api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp)
	assert.Equal(t, "visor-sig", info.Name)
	assert.Equal(t, "https://geoserver.soymetrix.com/geoserver/wfs", info.WFS)
	assert.Empty(t, info.StateDB)
}

func TestLayers(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{})

	resp := api.Get("/api/v1/layers")
	require.Equal(t, http.StatusOK, resp.Code)
	layers := decode[[]service.LayerDescriptor](t, resp)
	require.Len(t, layers, 2)
	assert.Equal(t, "metrix:colonias", layers[0].ID)

	resp = api.Get("/api/v1/layers/metrix:nope")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestLayerActionsFollowState(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{})

	resp := api.Get("/api/v1/layers/metrix:identificate")
	require.Equal(t, http.StatusOK, resp.Code)
	links := strings.Join(resp.Header().Values("Link"), "\n")
	assert.Contains(t, links, `rel="show"; method="PUT"`)
	assert.NotContains(t, links, `rel="hide"`)
	assert.NotContains(t, links, `rel="delete"`)

	resp = api.Put("/api/v1/layers/metrix:identificate/active", map[string]any{"active": true})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decode[service.LayerDescriptor](t, resp).Active)
	links = strings.Join(resp.Header().Values("Link"), "\n")
	assert.Contains(t, links, `rel="hide"; method="PUT"`)
}

func TestCounts(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{total: 10, visible: 4})

	resp := api.Get("/api/v1/counts?bbox=" + bbox)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[CountsBody](t, resp)
	assert.Equal(t, service.CountsSettled, body.State)
	assert.Equal(t, service.Counts{Visible: 4, Total: 10}, body.Counts["metrix:colonias"])
	assert.Equal(t, service.Counts{Visible: 0, Total: 10}, body.Counts["metrix:identificate"])

	resp = api.Get("/api/v1/counts?bbox=1,2,3")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestFeaturesPagination(t *testing.T) {
	remote := &stubRemote{
		total:   200,
		visible: 130,
		columns: []string{"barrio", "id"},
		rows: []map[string]any{
			{"barrio": "Centro", "id": 1.0},
			{"barrio": "Obrero", "id": 2.0},
		},
	}
	api, _ := newTestAPI(t, remote)

	resp := api.Get("/api/v1/layers/metrix:colonias/features?bbox=" + bbox + "&page=2")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[humastar.PageBody[map[string]string]](t, resp)
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, 130, body.Total)
	assert.Equal(t, 3, body.TotalPages)
	require.Len(t, body.Data, 2)
	assert.Equal(t, map[string]string{"barrio": "Centro", "id": "1"}, body.Data[0])

	links := strings.Join(resp.Header().Values("Link"), "\n")
	assert.Contains(t, links, `page=1`)
	assert.Contains(t, links, `rel="prev"`)
	assert.Contains(t, links, `rel="next"`)
	assert.Contains(t, links, `rel="last"`)
}

func TestFeaturesUpstreamFailure(t *testing.T) {
	remote := &stubRemote{fail: &geoserver.StatusError{URL: "http://geo/wfs", Status: 500, Body: "boom"}}
	api, _ := newTestAPI(t, remote)

	resp := api.Get("/api/v1/layers/metrix:colonias/features?bbox=" + bbox)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestColumnsAndValues(t *testing.T) {
	remote := &stubRemote{
		columns: []string{"barrio", "id"},
		rows: []map[string]any{
			{"barrio": "Obrero", "id": 1.0},
			{"barrio": "Álamos", "id": 2.0},
			{"barrio": "Centro", "id": 3.0},
			{"barrio": "Obrero", "id": 4.0},
		},
	}
	api, _ := newTestAPI(t, remote)

	resp := api.Get("/api/v1/layers/metrix:colonias/columns?bbox=" + bbox)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"barrio", "id"}, decode[[]string](t, resp))

	resp = api.Get("/api/v1/layers/metrix:colonias/columns/barrio/values?bbox=" + bbox)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"Álamos", "Centro", "Obrero"}, decode[[]string](t, resp))
}

func TestFiltersLifecycle(t *testing.T) {
	api, v := newTestAPI(t, &stubRemote{})

	resp := api.Post("/api/v1/layers/metrix:colonias/filters", map[string]any{
		"column": "barrio",
		"values": []string{"Centro", "O'Higgins"},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decode[CreatedLayerBody](t, resp)
	assert.True(t, strings.HasPrefix(created.ID, "metrix:colonias_filter_"))
	assert.Equal(t, "metrix:colonias", created.Name)
	assert.Equal(t, "barrio IN ('Centro','O''Higgins')", created.CQLFilter)
	assert.Contains(t, strings.Join(resp.Header().Values("Link"), "\n"), `rel="delete"; method="DELETE"`)

	layers, err := v.Layers()
	require.NoError(t, err)
	assert.Len(t, layers, 3)

	resp = api.Delete("/api/v1/layers/" + url.PathEscape(created.ID))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = api.Delete("/api/v1/layers/metrix:colonias")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.Post("/api/v1/layers/metrix:colonias/filters", map[string]any{
		"column": "barrio",
		"values": []string{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestSymbologyAndTile(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{})

	resp := api.Get("/api/v1/layers/metrix:colonias/symbology")
	require.Equal(t, http.StatusOK, resp.Code)
	sym := decode[service.Symbology](t, resp)
	assert.Equal(t, "polygon", string(sym.Kind))
	assert.Equal(t, 0, sym.Revision)

	resp = api.Put("/api/v1/layers/metrix:colonias/symbology", map[string]any{
		"fillColor": "red", "fillOpacity": 0.5, "strokeColor": "#000000", "strokeOpacity": 1, "strokeWidth": 2,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = api.Put("/api/v1/layers/metrix:colonias/symbology", map[string]any{
		"fillColor": "#ff0000", "fillOpacity": 0.5, "strokeColor": "#000000", "strokeOpacity": 1, "strokeWidth": 2,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	rec := decode[service.StyleRecord](t, resp)
	assert.Equal(t, 1, rec.Revision)
	assert.Contains(t, rec.Body, "<Name>metrix:colonias</Name>")

	resp = api.Get("/api/v1/layers/metrix:colonias/tile")
	require.Equal(t, http.StatusOK, resp.Code)
	tile := decode[service.TileLayer](t, resp)
	assert.Equal(t, "metrix:colonias", tile.Layers)
	assert.Equal(t, 1, tile.Revision)
	assert.Equal(t, rec.Body, tile.Params[ogc.ParamSLDBody])
}

func TestPreviewSLD(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{})

	resp := api.Post("/api/v1/sld", map[string]any{
		"layerName": "test:layer",
		"kind":      "point",
		"style": map[string]any{
			"fillColor": "#ff0000", "fillOpacity": 0.5, "strokeColor": "#000000", "strokeOpacity": 1, "strokeWidth": 2, "radius": 9,
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "application/vnd.ogc.sld+xml", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "<PointSymbolizer>")
	assert.Contains(t, resp.Body.String(), "<Size>9</Size>")
}

func TestIdentify(t *testing.T) {
	api, _ := newTestAPI(t, &stubRemote{info: map[string]any{"barrio": "Centro"}})

	resp := api.Post("/api/v1/identify", map[string]any{
		"bbox": bbox, "width": 800, "height": 600, "x": 400, "y": 300,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	res := decode[service.IdentifyResult](t, resp)
	assert.Equal(t, []string{"metrix:colonias"}, res.Layers)
	assert.Equal(t, "Centro", res.Properties["barrio"])

	resp = api.Post("/api/v1/identify", map[string]any{
		"bbox": "nope", "width": 800, "height": 600, "x": 400, "y": 300,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestTileProxy(t *testing.T) {
	remote := &stubRemote{}
	v := newTestViewer(t, remote)
	_, err := v.ApplyFilter("metrix:colonias", "barrio", []string{"Centro"})
	require.NoError(t, err)
	layers, err := v.Layers()
	require.NoError(t, err)
	filtered := layers[len(layers)-1]

	mux := http.NewServeMux()
	mux.Handle("GET /wms/{id}", NewTileProxy(v, remote, logging.Discard()))

	req := httptest.NewRequest(http.MethodGet, "/wms/"+url.PathEscape(filtered.ID)+"?LAYERS=evil&BBOX=1,2,3,4&WIDTH=256", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Len(t, remote.getMaps, 1)
	assert.Equal(t, "metrix:colonias", remote.getMaps[0][ogc.ParamLayers])
	assert.Equal(t, "barrio IN ('Centro')", remote.getMaps[0][ogc.ParamCQL])
	assert.Equal(t, "1,2,3,4", remote.incoming[0].Get("BBOX"))

	req = httptest.NewRequest(http.MethodGet, "/wms/metrix:nope", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateTables(t *testing.T) {
	_, api := humatest.New(t)
	NewStateHandler(nil).RegisterRoutes(api)
	resp := api.Get("/api/v1/state/tables")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	store, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, api = humatest.New(t)
	NewStateHandler(store).RegisterRoutes(api)
	resp = api.Get("/api/v1/state/tables")
	require.Equal(t, http.StatusOK, resp.Code)
	out := decode[struct {
		Tables []db.TableInfo `json:"tables"`
	}](t, resp)
	names := make([]string, len(out.Tables))
	for i, tbl := range out.Tables {
		names[i] = tbl.Name
	}
	assert.ElementsMatch(t, []string{"layers", "styles", "geometry_kinds"}, names)
}
