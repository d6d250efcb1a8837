package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/service"
)

type FeaturesInput struct {
	IDInput
	BBoxInput
	Page int `query:"page" minimum:"1" default:"1" doc:"Page number (1-based)"`
}

type FeaturesOutput struct {
	Body humastar.PageBody[map[string]string]
}

type ColumnsInput struct {
	IDInput
	BBoxInput
}

type ValuesInput struct {
	IDInput
	BBoxInput
	Column string `path:"column" doc:"Column name" example:"barrio"`
}

type FilterInput struct {
	IDInput
	Body struct {
		Column string   `json:"column" minLength:"1" doc:"Column to filter on" example:"barrio"`
		Values []string `json:"values" minItems:"1" doc:"Accepted values" example:"[\"Centro\"]"`
	}
}

type CreatedLayerBody struct {
	LayerBody
	Message string `json:"message" doc:"Result message"`
}

// RegisterFeatures registers the attribute table and filter routes.
func (h *Handler) RegisterFeatures(api huma.API) {
	huma.Get(api, "/api/v1/layers/{id}/features", h.GetFeatures, huma.OperationTags("features"))
	huma.Get(api, "/api/v1/layers/{id}/columns", h.GetColumns, huma.OperationTags("features"))
	huma.Get(api, "/api/v1/layers/{id}/columns/{column}/values", h.GetValues, huma.OperationTags("features"))
	huma.Register(api, huma.Operation{
		OperationID:   "create-filter",
		Method:        "POST",
		Path:          "/api/v1/layers/{id}/filters",
		Summary:       "Add a filtered layer",
		Tags:          []string{"layers"},
		DefaultStatus: 201,
	}, h.CreateFilter)
}

func (h *Handler) GetFeatures(ctx context.Context, input *FeaturesInput) (*FeaturesOutput, error) {
	b, err := input.bound()
	if err != nil {
		return nil, err
	}
	page, err := h.viewer.FeaturePage(ctx, input.ID, b, input.Page)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &FeaturesOutput{Body: pageBody(page)}, nil
}

func pageBody(page service.TablePage) humastar.PageBody[map[string]string] {
	names := page.VisibleColumns()
	data := make([]map[string]string, len(page.Rows))
	for i, row := range page.Rows {
		m := make(map[string]string, len(names))
		for j, n := range names {
			m[n] = row[j]
		}
		data[i] = m
	}
	return humastar.PageBody[map[string]string]{
		Page:       page.Pagination.Page,
		PageSize:   page.Pagination.PageSize,
		Total:      page.Pagination.Total,
		TotalPages: page.TotalPages,
		Data:       data,
	}
}

func (h *Handler) GetColumns(ctx context.Context, input *ColumnsInput) (*struct{ Body []string }, error) {
	b, err := input.bound()
	if err != nil {
		return nil, err
	}
	columns, err := h.viewer.Columns(ctx, input.ID, b)
	if err != nil {
		return nil, toHTTP(err)
	}
	if columns == nil {
		columns = []string{}
	}
	return &struct{ Body []string }{Body: columns}, nil
}

func (h *Handler) GetValues(ctx context.Context, input *ValuesInput) (*struct{ Body []string }, error) {
	b, err := input.bound()
	if err != nil {
		return nil, err
	}
	values, err := h.viewer.DistinctValues(ctx, input.ID, b, input.Column)
	if err != nil {
		return nil, toHTTP(err)
	}
	if values == nil {
		values = []string{}
	}
	return &struct{ Body []string }{Body: values}, nil
}

func (h *Handler) CreateFilter(ctx context.Context, input *FilterInput) (*struct{ Body CreatedLayerBody }, error) {
	fl, err := h.viewer.ApplyFilter(input.ID, input.Body.Column, input.Body.Values)
	if err != nil {
		return nil, toHTTP(err)
	}
	return &struct{ Body CreatedLayerBody }{Body: CreatedLayerBody{
		LayerBody: LayerBody{fl},
		Message:   "Filtered layer created",
	}}, nil
}
