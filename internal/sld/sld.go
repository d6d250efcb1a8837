package sld

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

const (
	nsSLD   = "http://www.opengis.net/sld"
	nsOGC   = "http://www.opengis.net/ogc"
	nsXLink = "http://www.w3.org/1999/xlink"
	nsXSI   = "http://www.w3.org/2001/XMLSchema-instance"
)

// StyledLayerDescriptor is the document root.
type StyledLayerDescriptor struct {
	XMLName    xml.Name   `xml:"StyledLayerDescriptor"`
	Version    string     `xml:"version,attr"`
	Xmlns      string     `xml:"xmlns,attr"`
	XmlnsOGC   string     `xml:"xmlns:ogc,attr"`
	XmlnsXLink string     `xml:"xmlns:xlink,attr"`
	XmlnsXSI   string     `xml:"xmlns:xsi,attr"`
	NamedLayer NamedLayer `xml:"NamedLayer"`
}

type NamedLayer struct {
	Name      string    `xml:"Name"`
	UserStyle UserStyle `xml:"UserStyle"`
}

type UserStyle struct {
	Title            string           `xml:"Title,omitempty"`
	FeatureTypeStyle FeatureTypeStyle `xml:"FeatureTypeStyle"`
}

type FeatureTypeStyle struct {
	Rule Rule `xml:"Rule"`
}

// Rule holds exactly one of the symbolizers.
type Rule struct {
	PointSymbolizer   *PointSymbolizer   `xml:"PointSymbolizer,omitempty"`
	LineSymbolizer    *LineSymbolizer    `xml:"LineSymbolizer,omitempty"`
	PolygonSymbolizer *PolygonSymbolizer `xml:"PolygonSymbolizer,omitempty"`
}

type PointSymbolizer struct {
	Graphic Graphic `xml:"Graphic"`
}

type Graphic struct {
	Mark Mark   `xml:"Mark"`
	Size string `xml:"Size"`
}

type Mark struct {
	WellKnownName string `xml:"WellKnownName"`
	Fill          Fill   `xml:"Fill"`
	Stroke        Stroke `xml:"Stroke"`
}

type LineSymbolizer struct {
	Stroke Stroke `xml:"Stroke"`
}

type PolygonSymbolizer struct {
	Fill   Fill   `xml:"Fill"`
	Stroke Stroke `xml:"Stroke"`
}

type Fill struct {
	Params []CssParameter `xml:"CssParameter"`
}

type Stroke struct {
	Params []CssParameter `xml:"CssParameter"`
}

// CssParameter is a named SVG/CSS styling value.
type CssParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// Build renders style as an SLD document for layerName. Unknown kinds are
// rendered as polygons. Values are escaped but not validated.
func Build(style LayerStyle, kind GeometryKind, layerName string) (string, error) {
	doc := NewDocument(style, kind, layerName)
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sld for %s: %w", layerName, err)
	}
	return xml.Header + string(out), nil
}

// NewDocument returns the SLD tree Build marshals.
func NewDocument(style LayerStyle, kind GeometryKind, layerName string) StyledLayerDescriptor {
	var rule Rule
	switch kind {
	case Point:
		rule.PointSymbolizer = &PointSymbolizer{Graphic: Graphic{
			Mark: Mark{
				WellKnownName: "circle",
				Fill:          fill(style),
				Stroke:        stroke(style),
			},
			Size: num(style.Size()),
		}}
	case Line:
		rule.LineSymbolizer = &LineSymbolizer{Stroke: stroke(style)}
	default:
		rule.PolygonSymbolizer = &PolygonSymbolizer{Fill: fill(style), Stroke: stroke(style)}
	}

	return StyledLayerDescriptor{
		Version:    "1.0.0",
		Xmlns:      nsSLD,
		XmlnsOGC:   nsOGC,
		XmlnsXLink: nsXLink,
		XmlnsXSI:   nsXSI,
		NamedLayer: NamedLayer{
			Name: layerName,
			UserStyle: UserStyle{
				FeatureTypeStyle: FeatureTypeStyle{Rule: rule},
			},
		},
	}
}

func fill(s LayerStyle) Fill {
	return Fill{Params: []CssParameter{
		{Name: "fill", Value: s.FillColor},
		{Name: "fill-opacity", Value: num(s.FillOpacity)},
	}}
}

func stroke(s LayerStyle) Stroke {
	return Stroke{Params: []CssParameter{
		{Name: "stroke", Value: s.StrokeColor},
		{Name: "stroke-opacity", Value: num(s.StrokeOpacity)},
		{Name: "stroke-width", Value: num(s.StrokeWidth)},
	}}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
