package viewer

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/service"
)

// Events keeps a stream open and re-renders the layer list whenever
// another surface changes viewer state.
func (h *PanelHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			bus := h.viewer.Bus()
			ch := bus.Subscribe()
			defer bus.Unsubscribe(ch)

			h.patchLayers(sse)
			for {
				select {
				case <-humaCtx.Context().Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					switch ev.Resource {
					case service.ResourceLayers, service.ResourceCounts, service.ResourceStyles:
						h.patchLayers(sse)
					}
					sse.DispatchCustomEvent("resource-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
					})
				}
			}
		},
	}, nil
}
