package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/giscaleing/visor-sig/internal/ogc"
)

// Pagination is a page position over a hit count.
type Pagination struct {
	Page     int `json:"page" doc:"Current page (1-based)"`
	PageSize int `json:"pageSize" doc:"Rows per page"`
	Total    int `json:"total" doc:"Features inside the viewport"`
}

// TotalPages is ceil(Total/PageSize).
func (p Pagination) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// StartIndex is the WFS startIndex of the page.
func (p Pagination) StartIndex() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// HasPrev reports whether Prev moves.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether Next moves.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages() }

// Prev returns the previous page, never below 1.
func (p Pagination) Prev() Pagination {
	if p.HasPrev() {
		p.Page--
	}
	return p
}

// Next returns the next page, never past TotalPages.
func (p Pagination) Next() Pagination {
	if p.HasNext() {
		p.Page++
	}
	return p
}

// TableColumn is a column of the attribute table and its visibility.
type TableColumn struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// TablePage is one rendered page of the attribute table. Rows only hold
// the cells of visible columns, in column order.
type TablePage struct {
	LayerID    string        `json:"layerId"`
	LayerName  string        `json:"layerName"`
	Pagination Pagination    `json:"pagination"`
	TotalPages int           `json:"totalPages"`
	Columns    []TableColumn `json:"columns"`
	Rows       [][]string    `json:"rows"`
}

// VisibleColumns returns the names of visible columns.
func (t TablePage) VisibleColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Visible {
			names = append(names, c.Name)
		}
	}
	return names
}

// AttributeTable is the open attribute table. Column visibility is
// initialized once, from the first non-empty page, and survives layer,
// viewport and page changes.
type AttributeTable struct {
	mu      sync.Mutex
	layerID string
	page    int
	last    Pagination
	visible map[string]bool
}

// State returns the open layer and page.
func (t *AttributeTable) State() (layerID string, page int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.layerID, t.page
}

func (t *AttributeTable) open(layerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layerID = layerID
	t.page = 1
	t.last = Pagination{}
}

func (t *AttributeTable) setPage(page int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if page < 1 {
		page = 1
	}
	t.page = page
}

// step moves one page back or forward, clamped to the last loaded
// pagination.
func (t *AttributeTable) step(forward bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.last
	p.Page = t.page
	if forward {
		p = p.Next()
	} else {
		p = p.Prev()
	}
	t.page = max(p.Page, 1)
}

func (t *AttributeTable) loaded(p Pagination) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = p
}

func (t *AttributeTable) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layerID = ""
	t.page = 0
}

// Toggle flips the visibility of one column.
func (t *AttributeTable) Toggle(column string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visible == nil {
		t.visible = make(map[string]bool)
	}
	t.visible[column] = !t.isVisible(column)
}

func (t *AttributeTable) isVisible(column string) bool {
	v, ok := t.visible[column]
	return !ok || v
}

// initColumns seeds visibility from the first page it sees.
func (t *AttributeTable) initColumns(columns []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visible != nil || len(columns) == 0 {
		return
	}
	t.visible = make(map[string]bool, len(columns))
	for _, c := range columns {
		t.visible[c] = true
	}
}

func (t *AttributeTable) columns(names []string) []TableColumn {
	t.mu.Lock()
	defer t.mu.Unlock()
	cols := make([]TableColumn, len(names))
	for i, n := range names {
		cols[i] = TableColumn{Name: n, Visible: t.isVisible(n)}
	}
	return cols
}

// fetchPage loads the features and the hit count of one page.
func fetchPage(ctx context.Context, remote FeatureSource, l LayerDescriptor, b orb.Bound, p Pagination) (columns []string, features []*geojson.Feature, total int, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := remote.Features(ctx, ogc.FeatureQuery{
			TypeName:    l.Name,
			Bounds:      &b,
			CQL:         l.CQLFilter,
			MaxFeatures: p.PageSize,
			StartIndex:  p.StartIndex(),
		})
		if err != nil {
			return err
		}
		columns = page.Columns
		features = page.Collection.Features
		return nil
	})
	g.Go(func() error {
		n, err := remote.Hits(ctx, ogc.FeatureQuery{TypeName: l.Name, Bounds: &b, CQL: l.CQLFilter})
		if err != nil {
			return err
		}
		total = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}
	return columns, features, total, nil
}

func buildTablePage(l LayerDescriptor, p Pagination, cols []TableColumn, features []*geojson.Feature) TablePage {
	page := TablePage{
		LayerID:    l.ID,
		LayerName:  l.Name,
		Pagination: p,
		TotalPages: p.TotalPages(),
		Columns:    cols,
		Rows:       make([][]string, 0, len(features)),
	}
	visible := page.VisibleColumns()
	for _, f := range features {
		row := make([]string, len(visible))
		for i, c := range visible {
			row[i] = CellString(f.Properties[c])
		}
		page.Rows = append(page.Rows, row)
	}
	return page
}

// CellString renders a property value for display; nil is empty.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
