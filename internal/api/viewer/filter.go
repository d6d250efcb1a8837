package viewer

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
)

// OpenFilter opens the filter dialog with the columns of a layer.
func (h *PanelHandler) OpenFilter(ctx context.Context, input *LayerInput) (*huma.StreamResponse, error) {
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		b, err := signals.Bound()
		if err != nil {
			sse.Error(err.Error())
			return
		}
		columns, err := h.viewer.Columns(sse.Context(), input.ID, b)
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		options := make([]humastar.SelectOptionData, len(columns))
		for i, c := range columns {
			options[i] = humastar.SelectOptionData{Value: c, Label: c}
		}
		sse.Signals(map[string]any{
			"showFilter":   true,
			"filterLayer":  input.ID,
			"filterColumn": "",
			"filterValues": []string{},
		})
		sse.Patch(h.RenderSelect("Select a column", options), "#filter-columns")
		sse.Patch("", "#filter-values")
	}), nil
}

// FilterValues lists the distinct values of the selected column.
func (h *PanelHandler) FilterValues(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		column := signals.String("filterColumn")
		if column == "" {
			sse.Patch("", "#filter-values")
			return
		}
		b, err := signals.Bound()
		if err != nil {
			sse.Error(err.Error())
			return
		}
		values, err := h.viewer.DistinctValues(sse.Context(), signals.String("filterLayer"), b, column)
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		items := make([]any, len(values))
		for i, v := range values {
			items[i] = v
		}
		sse.Signals(map[string]any{"filterValues": []string{}})
		sse.Patch(h.RenderList("filter-value", items, "No values", "No feature in view has a value in this column"), "#filter-values")
	}), nil
}

// ApplyFilter adds the filtered layer and closes the dialog.
func (h *PanelHandler) ApplyFilter(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		fl, err := h.viewer.ApplyFilter(signals.String("filterLayer"), signals.String("filterColumn"), signals.Strings("filterValues"))
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		sse.Signals(map[string]any{"showFilter": false})
		sse.Success(fmt.Sprintf("Added %s", fl.Label))
		h.patchLayers(sse)
		h.refreshCounts(sse.Context(), sse, signals)
	}), nil
}
