// Package humastar bridges Huma (REST/OpenAPI) with Datastar (SSE/hypermedia).
//
// It provides:
//   - SSE: Huma streaming → Datastar SSE protocol via [SSE] and [NewSSE]
//   - Signals: Datastar signal parsing via [Signals] and [SignalsInput]
//   - Handler: an embeddable base for viewer panels via [Handler]
//
// Usage:
//
//	type PanelHandler struct {
//	    humastar.Handler
//	    viewer *service.Viewer
//	}
//
//	func (h *PanelHandler) Layers(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(h.RenderList("layer-row", rows, "No layers", "The catalog is empty"), "#layers")
//	    }), nil
//	}
package humastar

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/giscaleing/visor-sig/internal/templates"
)

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Render renders one named fragment, or an empty string on failure.
func (h *Handler) Render(tmpl string, data any) string {
	var buf bytes.Buffer
	h.Renderer.RenderToBuffer(&buf, tmpl, data)
	return buf.String()
}

// RenderList renders items with a named template, or an empty state if none.
func (h *Handler) RenderList(tmpl string, items []any, emptyTitle, emptyMsg string) string {
	return RenderList(h.Renderer, tmpl, items, emptyTitle, emptyMsg)
}

// RenderSelect renders select options from a placeholder and option list.
func (h *Handler) RenderSelect(placeholder string, options []SelectOptionData) string {
	return RenderSelect(h.Renderer, placeholder, options)
}

// SSE wraps a Datastar SSE generator with the patterns the viewer uses:
// error/success signals and inner/outer element patching.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch sends HTML to replace inner content at a CSS selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Replace replaces outer HTML at a CSS selector.
func (s SSE) Replace(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
	)
}

// Error sends an error signal to the UI.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg, "success": ""})
}

// Success sends a success signal to the UI.
func (s SSE) Success(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"success": msg, "error": ""})
}

// Signals sends arbitrary signals to the UI.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals provides typed access to Datastar signal values.
// Datastar sends all signals as a flat JSON object in the request body.
type Signals map[string]any

// ParseSignals parses Datastar signals from a raw request body. An empty
// body yields no signals.
func ParseSignals(body []byte) (Signals, error) {
	signals := Signals{}
	if len(bytes.TrimSpace(body)) == 0 {
		return signals, nil
	}
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns a string signal value, or empty string if not found.
func (s Signals) String(key string) string {
	if str, ok := s[key].(string); ok {
		return str
	}
	return ""
}

// Int returns an int signal value, or 0 if not found.
func (s Signals) Int(key string) int {
	switch n := s[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// Float returns a float64 signal value, or 0 if not found.
func (s Signals) Float(key string) float64 {
	if f, ok := s[key].(float64); ok {
		return f
	}
	return 0
}

// Bool returns a bool signal value, or false if not found.
func (s Signals) Bool(key string) bool {
	if b, ok := s[key].(bool); ok {
		return b
	}
	return false
}

// Strings returns a string list signal (a multi-select), skipping
// non-string entries.
func (s Signals) Strings(key string) []string {
	raw, ok := s[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Has returns true if the signal key exists (even if zero-valued).
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Bound reads the map viewport from the west/south/east/north signals.
func (s Signals) Bound() (orb.Bound, error) {
	for _, k := range []string{"west", "south", "east", "north"} {
		if _, ok := s[k].(float64); !ok {
			return orb.Bound{}, fmt.Errorf("signal %q missing: the map has not reported its viewport", k)
		}
	}
	b := orb.Bound{
		Min: orb.Point{s.Float("west"), s.Float("south")},
		Max: orb.Point{s.Float("east"), s.Float("north")},
	}
	if b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("south %v is above north %v", b.Min[1], b.Max[1])
	}
	return b, nil
}

// EmptyInput is a shared input struct for handlers with no parameters.
type EmptyInput struct{}

// SignalsInput is an input struct for handlers that receive Datastar signals.
type SignalsInput struct {
	RawBody []byte
}

// Parse parses the signals from the raw body.
func (i *SignalsInput) Parse() (Signals, error) {
	return ParseSignals(i.RawBody)
}

// MustParse parses signals or returns a Huma 400 error.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}

// SelectOptionData holds data for rendering a <select> option template.
type SelectOptionData struct {
	Value    string
	Label    string
	Selected bool
}

// RenderList renders items with a named template, or an empty state if none.
func RenderList(r *templates.Renderer, tmpl string, items []any, emptyTitle, emptyMsg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		r.RenderToBuffer(&buf, "empty-state", map[string]string{
			"Title": emptyTitle, "Message": emptyMsg,
		})
	} else {
		for _, item := range items {
			r.RenderToBuffer(&buf, tmpl, item)
		}
	}
	return buf.String()
}

// RenderSelect renders <option> elements from a placeholder and option list.
func RenderSelect(r *templates.Renderer, placeholder string, options []SelectOptionData) string {
	var buf bytes.Buffer
	r.RenderToBuffer(&buf, "select-option", SelectOptionData{Label: placeholder})
	for _, opt := range options {
		r.RenderToBuffer(&buf, "select-option", opt)
	}
	return buf.String()
}
