package viewer

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/sld"
)

// symbologyForm is the data of the "symbology-form" fragment.
type symbologyForm struct {
	LayerID   string
	LayerName string
	Kind      sld.GeometryKind
	Fields    map[string]bool
	Revision  int
}

// OpenSymbology opens the symbology editor for a layer, seeded with its
// current style.
func (h *PanelHandler) OpenSymbology(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		s, err := h.viewer.OpenSymbology(sse.Context(), input.ID)
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		form := symbologyForm{
			LayerID:   s.LayerID,
			LayerName: s.LayerName,
			Kind:      s.Kind,
			Fields:    map[string]bool{},
			Revision:  s.Revision,
		}
		for _, f := range s.Fields {
			form.Fields[f] = true
		}
		sse.Signals(map[string]any{
			"showSymbology":    true,
			"symLayer":         s.LayerID,
			"symKind":          string(s.Kind),
			"symFillColor":     s.Style.FillColor,
			"symFillOpacity":   s.Style.FillOpacity,
			"symStrokeColor":   s.Style.StrokeColor,
			"symStrokeOpacity": s.Style.StrokeOpacity,
			"symStrokeWidth":   s.Style.StrokeWidth,
			"symRadius":        s.Style.Size(),
		})
		sse.Patch(h.Render("symbology-form", form), "#symbology-form")
	}), nil
}

// ApplySymbology applies the edited style and redraws the layer.
func (h *PanelHandler) ApplySymbology(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	style := styleFromSignals(signals)
	return h.Stream(func(sse humastar.SSE) {
		rec, err := h.viewer.ApplySymbology(sse.Context(), signals.String("symLayer"), style)
		if err != nil {
			sse.Error(errorMessage(err))
			return
		}
		sse.Signals(map[string]any{"showSymbology": false})
		sse.Success(fmt.Sprintf("Style of %s updated", rec.LayerName))
		h.patchLayers(sse)
	}), nil
}

// styleFromSignals reads the sym* signals. The radius only applies to
// point layers.
func styleFromSignals(s humastar.Signals) sld.LayerStyle {
	style := sld.LayerStyle{
		FillColor:     s.String("symFillColor"),
		FillOpacity:   s.Float("symFillOpacity"),
		StrokeColor:   s.String("symStrokeColor"),
		StrokeOpacity: s.Float("symStrokeOpacity"),
		StrokeWidth:   s.Float("symStrokeWidth"),
	}
	if sld.GeometryKind(s.String("symKind")) == sld.Point && s.Has("symRadius") {
		style = style.WithRadius(s.Float("symRadius"))
	}
	return style
}
