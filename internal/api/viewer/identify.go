package viewer

import (
	"context"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/service"
)

type attribute struct {
	Name  string
	Value string
}

// featureInfo is the data of the "feature-info" fragment.
type featureInfo struct {
	Layers     []string
	Attributes []attribute
}

// Identify shows the attributes of the feature under a map click. The
// page sends the viewport, the map size and the clicked pixel.
func (h *PanelHandler) Identify(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	b, err := signals.Bound()
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	req := service.IdentifyRequest{
		Bounds: b,
		Width:  signals.Int("width"),
		Height: signals.Int("height"),
		X:      signals.Float("clickX"),
		Y:      signals.Float("clickY"),
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, huma.Error400BadRequest("width and height must be positive")
	}
	return h.Stream(func(sse humastar.SSE) {
		res, err := h.viewer.Identify(sse.Context(), req)
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		info := featureInfo{Layers: res.Layers}
		for k, v := range res.Properties {
			info.Attributes = append(info.Attributes, attribute{Name: k, Value: service.CellString(v)})
		}
		sort.Slice(info.Attributes, func(i, j int) bool { return info.Attributes[i].Name < info.Attributes[j].Name })
		sse.Signals(map[string]any{"showInfo": true})
		sse.Patch(h.Render("feature-info", info), "#feature-info")
	}), nil
}
