package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/ogc"
	"github.com/giscaleing/visor-sig/internal/service"
	"github.com/giscaleing/visor-sig/internal/sld"
)

type SymbologyInput struct {
	IDInput
	Body sld.LayerStyle
}

type SLDPreviewInput struct {
	Body struct {
		LayerName string           `json:"layerName" minLength:"1" doc:"WFS/WMS type name" example:"metrix:colonias"`
		Kind      sld.GeometryKind `json:"kind" enum:"polygon,line,point" doc:"Geometry kind"`
		Style     sld.LayerStyle   `json:"style"`
	}
}

type SLDOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type IdentifyInput struct {
	Body struct {
		BBox   string  `json:"bbox" doc:"Map viewport as west,south,east,north" example:"-76.09,5.60,-76.07,5.62"`
		Width  int     `json:"width" minimum:"1" doc:"Map width in pixels"`
		Height int     `json:"height" minimum:"1" doc:"Map height in pixels"`
		X      float64 `json:"x" minimum:"0" doc:"Clicked pixel column"`
		Y      float64 `json:"y" minimum:"0" doc:"Clicked pixel row"`
	}
}

// RegisterSymbology registers the style and tile routes.
func (h *Handler) RegisterSymbology(api huma.API) {
	huma.Get(api, "/api/v1/layers/{id}/symbology", h.GetSymbology, huma.OperationTags("symbology"))
	huma.Put(api, "/api/v1/layers/{id}/symbology", h.PutSymbology, huma.OperationTags("symbology"))
	huma.Get(api, "/api/v1/layers/{id}/tile", h.GetTile, huma.OperationTags("symbology"))
	huma.Post(api, "/api/v1/sld", h.PreviewSLD, huma.OperationTags("symbology"))
}

// RegisterIdentify registers the map click route.
func (h *Handler) RegisterIdentify(api huma.API) {
	huma.Post(api, "/api/v1/identify", h.Identify, huma.OperationTags("identify"))
}

func (h *Handler) GetSymbology(ctx context.Context, input *IDInput) (*struct{ Body service.Symbology }, error) {
	s, err := h.viewer.OpenSymbology(ctx, input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body service.Symbology }{Body: s}, nil
}

func (h *Handler) PutSymbology(ctx context.Context, input *SymbologyInput) (*struct{ Body service.StyleRecord }, error) {
	rec, err := h.viewer.ApplySymbology(ctx, input.ID, input.Body)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body service.StyleRecord }{Body: rec}, nil
}

func (h *Handler) GetTile(ctx context.Context, input *IDInput) (*struct{ Body service.TileLayer }, error) {
	t, err := h.viewer.TileLayer(input.ID)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body service.TileLayer }{Body: t}, nil
}

// PreviewSLD builds an SLD document without storing it.
func (h *Handler) PreviewSLD(ctx context.Context, input *SLDPreviewInput) (*SLDOutput, error) {
	if err := sld.Validate(input.Body.Style); err != nil {
		return nil, toHTTP(err)
	}
	doc, err := sld.Build(input.Body.Style, input.Body.Kind, input.Body.LayerName)
	if err != nil {
		return nil, huma.Error500InternalServerError("building SLD", err)
	}
	return &SLDOutput{ContentType: "application/vnd.ogc.sld+xml", Body: []byte(doc)}, nil
}

func (h *Handler) Identify(ctx context.Context, input *IdentifyInput) (*struct{ Body service.IdentifyResult }, error) {
	b, err := ogc.ParseBBox(input.Body.BBox)
	if err != nil {
		return nil, huma.NewError(http.StatusUnprocessableEntity, "invalid bbox", err)
	}
	res, err := h.viewer.Identify(ctx, service.IdentifyRequest{
		Bounds: b,
		Width:  input.Body.Width,
		Height: input.Body.Height,
		X:      input.Body.X,
		Y:      input.Body.Y,
	})
	if err != nil {
		return nil, toHTTP(err)
	}
	if res.Layers == nil {
		res.Layers = []string{}
	}
	return &struct{ Body service.IdentifyResult }{Body: res}, nil
}
