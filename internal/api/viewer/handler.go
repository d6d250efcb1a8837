// Package viewer serves the Datastar panels of the map viewer: the layer
// list with counts, the attribute table, the filter and symbology dialogs
// and feature identification. Every endpoint answers with SSE patches.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/service"
	"github.com/giscaleing/visor-sig/internal/templates"
)

// Tag marks viewer operations in the OpenAPI document.
const Tag = "viewer"

// PanelHandler holds the viewer SSE handlers.
type PanelHandler struct {
	humastar.Handler
	viewer *service.Viewer
	log    *slog.Logger
}

// NewPanelHandler creates the viewer panel handlers.
func NewPanelHandler(v *service.Viewer, renderer *templates.Renderer, log *slog.Logger) *PanelHandler {
	return &PanelHandler{
		Handler: humastar.Handler{Renderer: renderer},
		viewer:  v,
		log:     log,
	}
}

// RegisterRoutes registers every viewer route.
func (h *PanelHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(Tag)

	huma.Get(api, "/api/v1/viewer/layers", h.ListLayers, tags)
	huma.Post(api, "/api/v1/viewer/layers/{id}/toggle", h.ToggleLayer, tags)
	huma.Delete(api, "/api/v1/viewer/layers/{id}", h.RemoveLayer, tags)
	huma.Post(api, "/api/v1/viewer/counts", h.RefreshCounts, tags)

	huma.Post(api, "/api/v1/viewer/layers/{id}/table", h.OpenTable, tags)
	huma.Post(api, "/api/v1/viewer/table/page", h.TablePage, tags)
	huma.Post(api, "/api/v1/viewer/table/columns/{column}", h.ToggleColumn, tags)
	huma.Post(api, "/api/v1/viewer/table/close", h.CloseTable, tags)

	huma.Post(api, "/api/v1/viewer/layers/{id}/filter", h.OpenFilter, tags)
	huma.Post(api, "/api/v1/viewer/filter/values", h.FilterValues, tags)
	huma.Post(api, "/api/v1/viewer/filter/apply", h.ApplyFilter, tags)

	huma.Post(api, "/api/v1/viewer/layers/{id}/symbology", h.OpenSymbology, tags)
	huma.Post(api, "/api/v1/viewer/symbology/apply", h.ApplySymbology, tags)

	huma.Post(api, "/api/v1/viewer/identify", h.Identify, tags)
	huma.Get(api, "/api/v1/viewer/events", h.Events, tags)
}

// IDInput addresses one layer.
type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"metrix:colonias"`
}

// LayerInput addresses one layer and carries the page signals.
type LayerInput struct {
	ID      string `path:"id" doc:"Layer ID" example:"metrix:colonias"`
	RawBody []byte
}

func (i *LayerInput) signals() (humastar.Signals, error) {
	in := humastar.SignalsInput{RawBody: i.RawBody}
	return in.MustParse()
}

// layerRow is the data of one "layer-row" fragment.
type layerRow struct {
	ID       string
	Label    string
	Name     string
	Active   bool
	Filtered bool
	Visible  int
	Total    int
	Counted  bool
	Fetching bool
}

// tile is one WMS overlay as the page's map script expects it.
type tile struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Layers   string `json:"layers"`
	Format   string `json:"format"`
	Revision int    `json:"revision"`
}

// patchLayers re-renders the layer list and tells the map which WMS
// overlays to draw.
func (h *PanelHandler) patchLayers(sse humastar.SSE) {
	layers, err := h.viewer.Layers()
	if err != nil {
		sse.Error(err.Error())
		return
	}
	counts, state := h.viewer.Counts()

	rows := make([]any, 0, len(layers))
	tiles := []tile{}
	for _, l := range layers {
		c, counted := counts[l.ID]
		rows = append(rows, layerRow{
			ID:       l.ID,
			Label:    l.Label,
			Name:     l.Name,
			Active:   l.Active,
			Filtered: l.Filtered(),
			Visible:  c.Visible,
			Total:    c.Total,
			Counted:  counted,
			Fetching: state == service.CountsFetching,
		})
		if !l.Active {
			continue
		}
		tl, err := h.viewer.TileLayer(l.ID)
		if err != nil {
			continue
		}
		tiles = append(tiles, tile{
			ID:       l.ID,
			URL:      "/wms/" + url.PathEscape(l.ID),
			Layers:   tl.Layers,
			Format:   tl.Format,
			Revision: tl.Revision,
		})
	}

	sse.Patch(h.RenderList("layer-row", rows, "No layers", "The catalog is empty"), "#layers")
	sse.DispatchCustomEvent("tiles-changed", map[string]any{"tiles": tiles})
}

// refreshCounts recounts for the viewport in the signals and reloads an
// open attribute table for it. A superseded refresh is silent: the newer
// one patches the list.
func (h *PanelHandler) refreshCounts(ctx context.Context, sse humastar.SSE, signals humastar.Signals) {
	b, err := signals.Bound()
	if err != nil {
		h.log.Debug("counts skipped", "error", err)
		return
	}
	if _, err := h.viewer.RefreshCounts(ctx, b); err != nil {
		if !errors.Is(err, service.ErrSuperseded) {
			sse.Error(err.Error())
		}
		return
	}
	h.patchLayers(sse)
	if id, _ := h.viewer.Table().State(); id != "" {
		h.patchTable(sse, signals)
	}
}

// errorMessage maps service errors to user-facing messages.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrLayerNotFound):
		return "Layer not found"
	case errors.Is(err, service.ErrBaseLayer):
		return "Catalog layers cannot be removed"
	case errors.Is(err, service.ErrEmptyFilter):
		return "Pick a column and at least one value"
	}
	return err.Error()
}
