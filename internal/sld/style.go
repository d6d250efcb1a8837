// Package sld builds OGC Styled Layer Descriptor 1.0.0 documents from
// per-layer style records.
package sld

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// GeometryKind selects which symbolizer a style renders with.
type GeometryKind string

const (
	Polygon GeometryKind = "polygon"
	Line    GeometryKind = "line"
	Point   GeometryKind = "point"
)

// DefaultRadius is the mark size used for points without a radius.
const DefaultRadius = 6

// ParseGeometryKind classifies a GeoJSON geometry type ("Point",
// "MultiLineString", ...). Anything that is neither a point nor a line,
// including an empty string, is treated as a polygon.
func ParseGeometryKind(geojsonType string) GeometryKind {
	t := strings.ToLower(geojsonType)
	switch {
	case strings.Contains(t, "point"):
		return Point
	case strings.Contains(t, "line"):
		return Line
	default:
		return Polygon
	}
}

// Valid reports whether k is one of the known kinds.
func (k GeometryKind) Valid() bool {
	switch k {
	case Polygon, Line, Point:
		return true
	}
	return false
}

// LayerStyle is the symbology of one layer. It is replaced as a whole on
// every edit.
type LayerStyle struct {
	FillColor     string   `json:"fillColor" yaml:"fillColor" doc:"Fill color (CSS hex)" example:"#ff0000"`
	FillOpacity   float64  `json:"fillOpacity" yaml:"fillOpacity" doc:"Fill opacity (0-1)" example:"0.5"`
	StrokeColor   string   `json:"strokeColor" yaml:"strokeColor" doc:"Stroke color (CSS hex)" example:"#000000"`
	StrokeOpacity float64  `json:"strokeOpacity" yaml:"strokeOpacity" doc:"Stroke opacity (0-1)" example:"1"`
	StrokeWidth   float64  `json:"strokeWidth" yaml:"strokeWidth" doc:"Stroke width in pixels" example:"2"`
	Radius        *float64 `json:"radius,omitempty" yaml:"radius,omitempty" doc:"Point mark size, points only" example:"6"`
}

// WithRadius returns a copy of s with the given point radius.
func (s LayerStyle) WithRadius(r float64) LayerStyle {
	s.Radius = &r
	return s
}

// Size returns the point mark size, falling back to DefaultRadius.
func (s LayerStyle) Size() float64 {
	if s.Radius == nil || *s.Radius <= 0 {
		return DefaultRadius
	}
	return *s.Radius
}

// DefaultStyle is the initial style offered by the symbology editor.
var DefaultStyle = LayerStyle{
	FillColor:     "#008000",
	FillOpacity:   0.6,
	StrokeColor:   "#000000",
	StrokeOpacity: 1,
	StrokeWidth:   1,
}.WithRadius(14)

// DefaultPointStyle is applied to point layers that are switched on
// without any symbology.
var DefaultPointStyle = LayerStyle{
	FillColor:     "#2ECC71",
	FillOpacity:   0.7,
	StrokeColor:   "#000000",
	StrokeOpacity: 1,
	StrokeWidth:   1,
}.WithRadius(14)

// Style controls, as exposed to the editors.
const (
	FieldFillColor     = "fillColor"
	FieldFillOpacity   = "fillOpacity"
	FieldStrokeColor   = "strokeColor"
	FieldStrokeOpacity = "strokeOpacity"
	FieldStrokeWidth   = "strokeWidth"
	FieldRadius        = "radius"
)

// Fields returns the style controls that matter for a geometry kind.
func Fields(kind GeometryKind) []string {
	stroke := []string{FieldStrokeColor, FieldStrokeOpacity, FieldStrokeWidth}
	switch kind {
	case Line:
		return stroke
	case Point:
		return append([]string{FieldFillColor, FieldFillOpacity}, append(stroke, FieldRadius)...)
	default:
		return append([]string{FieldFillColor, FieldFillOpacity}, stroke...)
	}
}

// ErrInvalidStyle is returned by Validate.
var ErrInvalidStyle = errors.New("invalid style")

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks colors and numeric ranges. Build does not call it;
// styles are validated before they are applied to a layer.
func Validate(s LayerStyle) error {
	var problems []string
	if !hexColor.MatchString(s.FillColor) {
		problems = append(problems, fmt.Sprintf("fillColor %q is not a hex color", s.FillColor))
	}
	if !hexColor.MatchString(s.StrokeColor) {
		problems = append(problems, fmt.Sprintf("strokeColor %q is not a hex color", s.StrokeColor))
	}
	if s.FillOpacity < 0 || s.FillOpacity > 1 {
		problems = append(problems, "fillOpacity must be within [0,1]")
	}
	if s.StrokeOpacity < 0 || s.StrokeOpacity > 1 {
		problems = append(problems, "strokeOpacity must be within [0,1]")
	}
	if s.StrokeWidth < 0 {
		problems = append(problems, "strokeWidth must not be negative")
	}
	if s.Radius != nil && *s.Radius < 0 {
		problems = append(problems, "radius must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidStyle, strings.Join(problems, "; "))
	}
	return nil
}
