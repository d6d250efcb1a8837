package ogc

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// InfoQuery is a WMS GetFeatureInfo click: the map viewport in pixels
// and the clicked pixel.
type InfoQuery struct {
	Layers       []string
	Bounds       orb.Bound
	Width        int
	Height       int
	X            float64
	Y            float64
	FeatureCount int
}

// GetFeatureInfoURL builds a WMS 1.1.1 GetFeatureInfo request asking for
// JSON. Pixel coordinates are truncated toward zero.
func (e Endpoint) GetFeatureInfoURL(q InfoQuery) string {
	layers := strings.Join(q.Layers, ",")
	v := url.Values{}
	v.Set("service", "WMS")
	v.Set("version", "1.1.1")
	v.Set("request", "GetFeatureInfo")
	v.Set("layers", layers)
	v.Set("query_layers", layers)
	v.Set("info_format", "application/json")
	v.Set("srs", CRS)
	v.Set("bbox", Coords(q.Bounds))
	v.Set("width", strconv.Itoa(q.Width))
	v.Set("height", strconv.Itoa(q.Height))
	v.Set("x", strconv.Itoa(int(math.Trunc(q.X))))
	v.Set("y", strconv.Itoa(int(math.Trunc(q.Y))))
	if q.FeatureCount > 0 {
		v.Set("feature_count", strconv.Itoa(q.FeatureCount))
	}
	return e.with(v)
}

// WMS vendor parameters carried on tile requests.
const (
	ParamLayers  = "LAYERS"
	ParamSLDBody = "SLD_BODY"
	ParamCQL     = "CQL_FILTER"
)

// GetMapURL forwards a tile request to the WMS endpoint. The incoming
// parameters (bbox, width, srs... as sent by the map client) are kept,
// and every key in overrides replaces any incoming key that matches it
// case-insensitively. Empty override values remove the key.
func (e Endpoint) GetMapURL(incoming url.Values, overrides map[string]string) string {
	v := url.Values{}
	for k, vs := range incoming {
		if _, ok := lookupFold(overrides, k); ok {
			continue
		}
		v[k] = vs
	}
	for k, val := range overrides {
		if val != "" {
			v.Set(k, val)
		}
	}
	if _, ok := lookupFold(valuesKeys(v), "request"); !ok {
		v.Set("service", "WMS")
		v.Set("request", "GetMap")
	}
	return e.with(v)
}

func lookupFold(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func valuesKeys(v url.Values) map[string]string {
	m := make(map[string]string, len(v))
	for k := range v {
		m[k] = v.Get(k)
	}
	return m
}
