// Package api defines the Huma REST routes over the viewer service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/ogc"
	"github.com/giscaleing/visor-sig/internal/service"
	"github.com/giscaleing/visor-sig/internal/sld"
)

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"metrix:colonias"`
}

type BBoxInput struct {
	BBox string `query:"bbox" required:"true" doc:"Viewport as west,south,east,north (EPSG:4326)" example:"-76.09,5.60,-76.07,5.62"`
}

func (i BBoxInput) bound() (orb.Bound, error) {
	b, err := ogc.ParseBBox(i.BBox)
	if err != nil {
		return orb.Bound{}, huma.Error400BadRequest("invalid bbox", err)
	}
	return b, nil
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// LayerBody is a layer with its state-dependent actions.
type LayerBody struct {
	service.LayerDescriptor
}

var (
	layerActions = []humastar.ActionDef{
		{Rel: "features", Pattern: "/api/v1/layers/%s/features", Method: "GET", Title: "Attribute table"},
		{Rel: "columns", Pattern: "/api/v1/layers/%s/columns", Method: "GET", Title: "Filterable columns"},
		{Rel: "filter", Pattern: "/api/v1/layers/%s/filters", Method: "POST", Title: "Add filtered layer"},
		{Rel: "symbology", Pattern: "/api/v1/layers/%s/symbology", Method: "PUT", Title: "Edit symbology"},
		{Rel: "tile", Pattern: "/api/v1/layers/%s/tile", Method: "GET", Title: "WMS tile layer"},
	}
	showAction   = humastar.ActionDef{Rel: "show", Pattern: "/api/v1/layers/%s/active", Method: "PUT", Title: "Show layer"}
	hideAction   = humastar.ActionDef{Rel: "hide", Pattern: "/api/v1/layers/%s/active", Method: "PUT", Title: "Hide layer"}
	removeAction = humastar.ActionDef{Rel: "delete", Pattern: "/api/v1/layers/%s", Method: "DELETE", Title: "Remove filtered layer"}
)

// Actions returns the links valid for the layer's current state.
func (b LayerBody) Actions() []humastar.Action {
	defs := append([]humastar.ActionDef{}, layerActions...)
	if b.Active {
		defs = append(defs, hideAction)
	} else {
		defs = append(defs, showAction)
	}
	if b.Filtered() {
		defs = append(defs, removeAction)
	}
	return humastar.ActionsFor(b.ID, defs...)
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []service.LayerDescriptor
}

type ActiveInput struct {
	IDInput
	Body struct {
		Active bool `json:"active" doc:"Draw the layer"`
	}
}

type CountsBody struct {
	State  service.CountsState       `json:"state" enum:"idle,fetching,settled" doc:"Refresh state"`
	Counts map[string]service.Counts `json:"counts" doc:"Counts per layer ID"`
}

// Handler holds the REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type Handler struct {
	viewer *service.Viewer
	log    *slog.Logger
}

func NewHandler(v *service.Viewer, log *slog.Logger) *Handler {
	return &Handler{viewer: v, log: log}
}

// RegisterHealth registers health check routes.
func (h *Handler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers the layer panel routes.
func (h *Handler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}/active", h.PutActive, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
}

// RegisterCounts registers the feature count route.
func (h *Handler) RegisterCounts(api huma.API) {
	huma.Get(api, "/api/v1/counts", h.GetCounts, huma.OperationTags("counts"))
}

// Handlers

func (h *Handler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *Handler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	layers, err := h.viewer.Layers()
	if err != nil {
		return nil, toHTTP(err)
	}
	if layers == nil {
		layers = []service.LayerDescriptor{}
	}
	return &LayersOutput{Body: layers}, nil
}

func (h *Handler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	l, err := h.viewer.Layer(input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &LayerOutput{Body: LayerBody{l}}, nil
}

func (h *Handler) PutActive(ctx context.Context, input *ActiveInput) (*LayerOutput, error) {
	l, err := h.viewer.SetActive(ctx, input.ID, input.Body.Active)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &LayerOutput{Body: LayerBody{l}}, nil
}

func (h *Handler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if err := h.viewer.RemoveLayer(input.ID); err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: fmt.Sprintf("Layer %s removed", input.ID)}}, nil
}

func (h *Handler) GetCounts(ctx context.Context, input *BBoxInput) (*struct{ Body CountsBody }, error) {
	b, err := input.bound()
	if err != nil {
		return nil, err
	}
	counts, err := h.viewer.RefreshCounts(ctx, b)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body CountsBody }{Body: CountsBody{State: service.CountsSettled, Counts: counts}}, nil
}

// toHTTP maps service errors to problem responses. Upstream failures
// are 502s.
func toHTTP(err error) error {
	var (
		status   huma.StatusError
		upstream *geoserver.StatusError
		urlErr   *url.Error
	)
	switch {
	case errors.As(err, &status):
		return err
	case errors.Is(err, service.ErrLayerNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrBaseLayer):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrEmptyFilter), errors.Is(err, sld.ErrInvalidStyle):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrSuperseded):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &upstream), errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded):
		return huma.Error502BadGateway("geoserver request failed", err)
	}
	return huma.Error500InternalServerError("internal error", err)
}
