// Package service holds the viewer's application state and the operations
// every surface (REST, SSE viewer, terminal UI) drives: layer visibility,
// feature counts, the attribute table, attribute filters and symbology.
package service

import (
	"errors"

	"github.com/giscaleing/visor-sig/internal/sld"
)

// LayerDescriptor is one entry of the layer panel. ID is the identity;
// Name is the WFS/WMS type name and is shared by filtered variants.
type LayerDescriptor struct {
	ID        string `json:"id" doc:"Unique layer identifier" example:"metrix:colonias"`
	Name      string `json:"name" doc:"WFS/WMS type name" example:"metrix:colonias"`
	Label     string `json:"label" doc:"Display label" example:"Colonias"`
	Active    bool   `json:"active" doc:"Whether the layer is drawn"`
	CQLFilter string `json:"cqlFilter,omitempty" doc:"CQL predicate restricting the layer" example:"barrio IN ('Centro')"`
	Source    string `json:"source,omitempty" doc:"Parent layer ID of a filtered layer"`
}

// Filtered reports whether l was derived from another layer by a filter.
func (l LayerDescriptor) Filtered() bool {
	return l.Source != ""
}

// StyleRecord is the applied symbology of a type name.
type StyleRecord struct {
	LayerName string           `json:"layerName" doc:"WFS/WMS type name the style applies to"`
	Kind      sld.GeometryKind `json:"kind" enum:"polygon,line,point" doc:"Geometry kind used to build the SLD"`
	Style     sld.LayerStyle   `json:"style" doc:"Style parameters"`
	Body      string           `json:"sld" doc:"Generated SLD document"`
	Revision  int              `json:"revision" doc:"Bumped on every change so tiles re-render"`
}

// Counts are the feature counts of one layer.
type Counts struct {
	Visible int `json:"visible" doc:"Features inside the viewport (0 for inactive layers)"`
	Total   int `json:"total" doc:"Features of the layer regardless of viewport"`
}

// CountsState is the lifecycle of a counts refresh.
type CountsState string

const (
	CountsIdle     CountsState = "idle"
	CountsFetching CountsState = "fetching"
	CountsSettled  CountsState = "settled"
)

var (
	ErrLayerNotFound = errors.New("layer not found")
	ErrBaseLayer     = errors.New("base layers cannot be removed")
	ErrEmptyFilter   = errors.New("a filter needs a column and at least one value")
	ErrSuperseded    = errors.New("superseded by a newer request")
)
