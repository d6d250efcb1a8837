package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/text/language"

	"github.com/giscaleing/visor-sig/internal/config"
	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/ogc"
	"github.com/giscaleing/visor-sig/internal/sld"
)

// FeatureSource is the remote WFS/WMS service.
type FeatureSource interface {
	HitCounter
	Features(ctx context.Context, q ogc.FeatureQuery) (*geoserver.FeaturePage, error)
	FeatureInfo(ctx context.Context, q ogc.InfoQuery) (map[string]any, error)
}

// Generation keys.
const (
	genCounts = "counts"
	genTable  = "table"
)

// Options configures a Viewer.
type Options struct {
	Store            Store
	Remote           FeatureSource
	Bus              *EventBus
	PageSize         int
	GeometryColumns  []string
	Collation        string
	CountConcurrency int
	Logger           *slog.Logger
}

// Viewer owns the application state shared by every surface: the layer
// panel, counts, the open attribute table and the applied symbology.
type Viewer struct {
	store    Store
	remote   FeatureSource
	bus      *EventBus
	counter  *Counter
	filters  *FilterBuilder
	gens     *Generations
	table    *AttributeTable
	pageSize int
	log      *slog.Logger

	styleMu sync.Mutex // serializes style revisions

	mu          sync.RWMutex
	presets     map[string]sld.LayerStyle
	counts      map[string]Counts
	countsState CountsState
	bounds      *orb.Bound
}

// NewViewer creates a viewer.
func NewViewer(opts Options) *Viewer {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	lang, err := language.Parse(opts.Collation)
	if err != nil {
		lang = language.Spanish
	}
	return &Viewer{
		store:       opts.Store,
		remote:      opts.Remote,
		bus:         opts.Bus,
		counter:     NewCounter(opts.Remote, opts.GeometryColumns, opts.CountConcurrency, opts.Logger),
		filters:     NewFilterBuilder(opts.Remote, lang, opts.Logger),
		gens:        NewGenerations(),
		table:       &AttributeTable{},
		pageSize:    opts.PageSize,
		log:         opts.Logger,
		presets:     make(map[string]sld.LayerStyle),
		counts:      make(map[string]Counts),
		countsState: CountsIdle,
	}
}

// Bus returns the viewer's event bus.
func (v *Viewer) Bus() *EventBus { return v.bus }

// PageSize returns the attribute table page size.
func (v *Viewer) PageSize() int { return v.pageSize }

// Seed adds the catalog base layers missing from the store and records
// their configured styles.
func (v *Viewer) Seed(layers []config.LayerConfig) error {
	for _, lc := range layers {
		if lc.Style != nil {
			v.mu.Lock()
			v.presets[lc.Name] = *lc.Style
			v.mu.Unlock()
		}
		_, exists, err := v.store.Layer(lc.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := v.store.PutLayer(LayerDescriptor{
			ID:     lc.ID,
			Name:   lc.Name,
			Label:  lc.Label,
			Active: lc.Active,
		}); err != nil {
			return fmt.Errorf("seeding layer %s: %w", lc.ID, err)
		}
	}
	return nil
}

// Layers returns the layer panel in display order.
func (v *Viewer) Layers() ([]LayerDescriptor, error) {
	return v.store.Layers()
}

// Layer returns one layer.
func (v *Viewer) Layer(id string) (LayerDescriptor, error) {
	l, ok, err := v.store.Layer(id)
	if err != nil {
		return LayerDescriptor{}, err
	}
	if !ok {
		return LayerDescriptor{}, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	return l, nil
}

// SetActive shows or hides a layer. Activating a layer with no applied
// style applies its configured style, or the default point style when
// the layer holds points.
func (v *Viewer) SetActive(ctx context.Context, id string, active bool) (LayerDescriptor, error) {
	l, err := v.Layer(id)
	if err != nil {
		return LayerDescriptor{}, err
	}
	l.Active = active
	if err := v.store.PutLayer(l); err != nil {
		return LayerDescriptor{}, err
	}
	v.bus.Publish(Event{Resource: ResourceLayers, Action: "updated", ID: id})

	if active {
		if err := v.ensureStyle(ctx, l); err != nil {
			v.log.Warn("initial style not applied", "layer", id, "error", err)
		}
	}
	return l, nil
}

func (v *Viewer) ensureStyle(ctx context.Context, l LayerDescriptor) error {
	if _, ok, err := v.store.Style(l.Name); err != nil || ok {
		return err
	}
	v.mu.RLock()
	preset, hasPreset := v.presets[l.Name]
	v.mu.RUnlock()

	kind := v.DetectGeometry(ctx, l.Name)
	switch {
	case hasPreset:
		_, err := v.applyStyle(l.Name, kind, preset)
		return err
	case kind == sld.Point:
		_, err := v.applyStyle(l.Name, kind, sld.DefaultPointStyle)
		return err
	}
	return nil
}

// RemoveLayer deletes a filtered layer. Base layers are refused.
func (v *Viewer) RemoveLayer(id string) error {
	l, err := v.Layer(id)
	if err != nil {
		return err
	}
	if !l.Filtered() {
		return fmt.Errorf("%w: %s", ErrBaseLayer, id)
	}
	if err := v.store.DeleteLayer(id); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.counts, id)
	v.mu.Unlock()
	v.bus.Publish(Event{Resource: ResourceLayers, Action: "deleted", ID: id})
	return nil
}

// RefreshCounts recounts every layer for the viewport b. A refresh that
// is superseded by a newer one returns ErrSuperseded and leaves the state
// of the newer refresh untouched.
func (v *Viewer) RefreshCounts(ctx context.Context, b orb.Bound) (map[string]Counts, error) {
	layers, err := v.store.Layers()
	if err != nil {
		return nil, err
	}

	ctx, tok := v.gens.Begin(ctx, genCounts)
	defer tok.Done()
	v.mu.Lock()
	v.countsState = CountsFetching
	v.bounds = &b
	v.mu.Unlock()

	result := v.counter.CountAll(ctx, layers, b)

	committed := tok.Commit(func() {
		v.mu.Lock()
		v.counts = result
		v.countsState = CountsSettled
		v.mu.Unlock()
	})
	if !committed {
		return nil, ErrSuperseded
	}
	v.bus.Publish(Event{Resource: ResourceCounts, Action: "updated"})
	return maps.Clone(result), nil
}

// CountLayers counts the given layers for viewport b without touching the
// viewer state.
func (v *Viewer) CountLayers(ctx context.Context, layers []LayerDescriptor, b orb.Bound) map[string]Counts {
	return v.counter.CountAll(ctx, layers, b)
}

// Counts returns the last settled counts and the refresh state.
func (v *Viewer) Counts() (map[string]Counts, CountsState) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.counts), v.countsState
}

// Bounds returns the viewport of the latest counts refresh, if any.
func (v *Viewer) Bounds() (orb.Bound, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.bounds == nil {
		return orb.Bound{}, false
	}
	return *v.bounds, true
}

// FeaturePage loads one attribute table page of a layer with every
// column visible, independent of the open table.
func (v *Viewer) FeaturePage(ctx context.Context, id string, b orb.Bound, page int) (TablePage, error) {
	l, err := v.Layer(id)
	if err != nil {
		return TablePage{}, err
	}
	if page < 1 {
		page = 1
	}
	p := Pagination{Page: page, PageSize: v.pageSize}
	columns, features, total, err := fetchPage(ctx, v.remote, l, b, p)
	if err != nil {
		return TablePage{}, err
	}
	p.Total = total
	cols := make([]TableColumn, len(columns))
	for i, c := range columns {
		cols[i] = TableColumn{Name: c, Visible: true}
	}
	return buildTablePage(l, p, cols, features), nil
}

// Table returns the open attribute table.
func (v *Viewer) Table() *AttributeTable { return v.table }

// OpenTable opens the attribute table on a layer at page 1.
func (v *Viewer) OpenTable(id string) error {
	if _, err := v.Layer(id); err != nil {
		return err
	}
	v.table.open(id)
	return nil
}

// CloseTable closes the attribute table.
func (v *Viewer) CloseTable() { v.table.close() }

// SetTablePage moves the open table to page.
func (v *Viewer) SetTablePage(page int) { v.table.setPage(page) }

// NextTablePage moves the open table forward, never past the last page
// of the latest load.
func (v *Viewer) NextTablePage() { v.table.step(true) }

// PrevTablePage moves the open table back, never below page 1.
func (v *Viewer) PrevTablePage() { v.table.step(false) }

// LoadTable loads the current page of the open table for viewport b.
// A load superseded by a newer one returns ErrSuperseded.
func (v *Viewer) LoadTable(ctx context.Context, b orb.Bound) (TablePage, error) {
	id, page := v.table.State()
	if id == "" {
		return TablePage{}, fmt.Errorf("%w: no table open", ErrLayerNotFound)
	}
	l, err := v.Layer(id)
	if err != nil {
		return TablePage{}, err
	}

	ctx, tok := v.gens.Begin(ctx, genTable)
	defer tok.Done()

	p := Pagination{Page: page, PageSize: v.pageSize}
	columns, features, total, err := fetchPage(ctx, v.remote, l, b, p)
	var out TablePage
	committed := tok.Commit(func() {
		if err != nil {
			return
		}
		p.Total = total
		v.table.loaded(p)
		v.table.initColumns(columns)
		out = buildTablePage(l, p, v.table.columns(columns), features)
	})
	if !committed {
		return TablePage{}, ErrSuperseded
	}
	if err != nil {
		return TablePage{}, err
	}
	return out, nil
}

// Columns lists the filterable columns of a layer inside b.
func (v *Viewer) Columns(ctx context.Context, id string, b orb.Bound) ([]string, error) {
	l, err := v.Layer(id)
	if err != nil {
		return nil, err
	}
	return v.filters.Columns(ctx, l, b), nil
}

// DistinctValues lists the distinct values of a column inside b.
func (v *Viewer) DistinctValues(ctx context.Context, id string, b orb.Bound, column string) ([]string, error) {
	l, err := v.Layer(id)
	if err != nil {
		return nil, err
	}
	return v.filters.DistinctValues(ctx, l, b, column), nil
}

// ApplyFilter adds a filtered variant of a layer.
func (v *Viewer) ApplyFilter(id, column string, values []string) (LayerDescriptor, error) {
	src, err := v.Layer(id)
	if err != nil {
		return LayerDescriptor{}, err
	}
	fl, err := NewFilteredLayer(src, column, values)
	if err != nil {
		return LayerDescriptor{}, err
	}
	if err := v.store.PutLayer(fl); err != nil {
		return LayerDescriptor{}, err
	}
	v.log.Info("filter applied", "source", id, "layer", fl.ID, "cql", fl.CQLFilter)
	v.bus.Publish(Event{Resource: ResourceLayers, Action: "created", ID: fl.ID})
	return fl, nil
}

// DetectGeometry classifies the geometry of a type name from one sample
// feature. Results are cached per type name; failures fall back to
// polygon and are not cached.
func (v *Viewer) DetectGeometry(ctx context.Context, layerName string) sld.GeometryKind {
	if kind, ok, err := v.store.GeometryKind(layerName); err == nil && ok {
		return kind
	}

	page, err := v.remote.Features(ctx, ogc.FeatureQuery{TypeName: layerName, MaxFeatures: 1})
	if err != nil {
		v.log.Warn("geometry detection failed", "layer", layerName, "error", err)
		return sld.Polygon
	}
	kind := sld.Polygon
	if fs := page.Collection.Features; len(fs) > 0 && fs[0].Geometry != nil {
		kind = sld.ParseGeometryKind(fs[0].Geometry.GeoJSONType())
	}
	if err := v.store.PutGeometryKind(layerName, kind); err != nil {
		v.log.Warn("geometry kind not cached", "layer", layerName, "error", err)
	}
	return kind
}

// Symbology is the state of the symbology editor for one layer.
type Symbology struct {
	LayerID   string           `json:"layerId"`
	LayerName string           `json:"layerName"`
	Kind      sld.GeometryKind `json:"kind" enum:"polygon,line,point"`
	Style     sld.LayerStyle   `json:"style"`
	Fields    []string         `json:"fields" doc:"Style fields relevant to the geometry kind"`
	Revision  int              `json:"revision"`
}

// OpenSymbology prepares the symbology editor for a layer.
func (v *Viewer) OpenSymbology(ctx context.Context, id string) (Symbology, error) {
	l, err := v.Layer(id)
	if err != nil {
		return Symbology{}, err
	}
	kind := v.DetectGeometry(ctx, l.Name)
	s := Symbology{LayerID: l.ID, LayerName: l.Name, Kind: kind, Style: sld.DefaultStyle, Fields: sld.Fields(kind)}

	rec, ok, err := v.store.Style(l.Name)
	if err != nil {
		return Symbology{}, err
	}
	if ok {
		s.Style = rec.Style
		s.Revision = rec.Revision
	} else {
		v.mu.RLock()
		if preset, ok := v.presets[l.Name]; ok {
			s.Style = preset
		}
		v.mu.RUnlock()
	}
	return s, nil
}

// ApplySymbology builds and stores the SLD of a layer's type name.
func (v *Viewer) ApplySymbology(ctx context.Context, id string, style sld.LayerStyle) (StyleRecord, error) {
	l, err := v.Layer(id)
	if err != nil {
		return StyleRecord{}, err
	}
	if err := sld.Validate(style); err != nil {
		return StyleRecord{}, err
	}
	return v.applyStyle(l.Name, v.DetectGeometry(ctx, l.Name), style)
}

func (v *Viewer) applyStyle(layerName string, kind sld.GeometryKind, style sld.LayerStyle) (StyleRecord, error) {
	body, err := sld.Build(style, kind, layerName)
	if err != nil {
		return StyleRecord{}, err
	}
	v.styleMu.Lock()
	defer v.styleMu.Unlock()
	prev, _, err := v.store.Style(layerName)
	if err != nil {
		return StyleRecord{}, err
	}
	rec := StyleRecord{
		LayerName: layerName,
		Kind:      kind,
		Style:     style,
		Body:      body,
		Revision:  prev.Revision + 1,
	}
	if err := v.store.PutStyle(rec); err != nil {
		return StyleRecord{}, err
	}
	v.log.Info("style applied", "layer", layerName, "kind", kind, "revision", rec.Revision)
	v.bus.Publish(Event{Resource: ResourceStyles, Action: "updated", ID: layerName})
	return rec, nil
}

// TileLayer describes the WMS tile layer the map draws for a layer.
type TileLayer struct {
	LayerID     string            `json:"layerId"`
	Layers      string            `json:"layers" doc:"WMS LAYERS parameter"`
	Format      string            `json:"format"`
	Transparent bool              `json:"transparent"`
	Version     string            `json:"version"`
	Params      map[string]string `json:"params" doc:"Vendor parameters (SLD_BODY, CQL_FILTER)"`
	Revision    int               `json:"revision" doc:"Style revision; changes force a re-render"`
}

// TileLayer returns the tile layer of a layer.
func (v *Viewer) TileLayer(id string) (TileLayer, error) {
	l, err := v.Layer(id)
	if err != nil {
		return TileLayer{}, err
	}
	t := TileLayer{
		LayerID:     l.ID,
		Layers:      l.Name,
		Format:      "image/png",
		Transparent: true,
		Version:     "1.1.1",
		Params:      map[string]string{},
	}
	rec, ok, err := v.store.Style(l.Name)
	if err != nil {
		return TileLayer{}, err
	}
	if ok {
		t.Params[ogc.ParamSLDBody] = rec.Body
		t.Revision = rec.Revision
	}
	if l.CQLFilter != "" {
		t.Params[ogc.ParamCQL] = l.CQLFilter
	}
	return t, nil
}

// TileOverrides returns the WMS parameters a tile proxy forces for a layer.
// SLD_BODY and CQL_FILTER are always present, empty when the layer has
// none, so a client cannot slip its own in.
func (v *Viewer) TileOverrides(id string) (map[string]string, error) {
	t, err := v.TileLayer(id)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		ogc.ParamLayers:  t.Layers,
		ogc.ParamSLDBody: t.Params[ogc.ParamSLDBody],
		ogc.ParamCQL:     t.Params[ogc.ParamCQL],
	}, nil
}

// IdentifyRequest is a map click in pixel space.
type IdentifyRequest struct {
	Bounds orb.Bound
	Width  int
	Height int
	X      float64
	Y      float64
}

// IdentifyResult is the outcome of a map click.
type IdentifyResult struct {
	Layers     []string       `json:"layers" doc:"Type names that were queried"`
	Properties map[string]any `json:"properties" doc:"Attributes of the first feature hit"`
}

// Identify queries the active layers at a clicked pixel. Failures and
// misses yield an empty result.
func (v *Viewer) Identify(ctx context.Context, req IdentifyRequest) (IdentifyResult, error) {
	layers, err := v.store.Layers()
	if err != nil {
		return IdentifyResult{}, err
	}
	var names []string
	seen := map[string]bool{}
	for _, l := range layers {
		if l.Active && !seen[l.Name] {
			seen[l.Name] = true
			names = append(names, l.Name)
		}
	}
	result := IdentifyResult{Layers: names, Properties: map[string]any{}}
	if len(names) == 0 {
		return result, nil
	}

	props, err := v.remote.FeatureInfo(ctx, ogc.InfoQuery{
		Layers: names,
		Bounds: req.Bounds,
		Width:  req.Width,
		Height: req.Height,
		X:      req.X,
		Y:      req.Y,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			v.log.Warn("identify failed", "layers", names, "error", err)
		}
		return result, nil
	}
	if props != nil {
		result.Properties = props
	}
	return result, nil
}
