package viewer

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
)

// ListLayers renders the layer list.
func (h *PanelHandler) ListLayers(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		h.patchLayers(sse)
	}), nil
}

// ToggleLayer flips a layer's visibility and recounts.
func (h *PanelHandler) ToggleLayer(ctx context.Context, input *LayerInput) (*huma.StreamResponse, error) {
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		ctx := sse.Context()
		l, err := h.viewer.Layer(input.ID)
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		if _, err := h.viewer.SetActive(ctx, l.ID, !l.Active); err != nil {
			sse.Error(errorMessage(err))
			return
		}
		h.patchLayers(sse)
		h.refreshCounts(ctx, sse, signals)
	}), nil
}

// RemoveLayer deletes a filtered layer.
func (h *PanelHandler) RemoveLayer(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		if err := h.viewer.RemoveLayer(input.ID); err != nil {
			sse.Error(errorMessage(err))
			return
		}
		sse.Success(fmt.Sprintf("Layer %s removed", input.ID))
		h.patchLayers(sse)
	}), nil
}

// RefreshCounts recounts every layer for the viewport in the signals.
// The map posts here on every moveend.
func (h *PanelHandler) RefreshCounts(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		h.refreshCounts(sse.Context(), sse, signals)
	}), nil
}
