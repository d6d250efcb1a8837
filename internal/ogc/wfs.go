package ogc

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// FeatureQuery selects features of one type name. Zero values leave the
// corresponding parameter out.
type FeatureQuery struct {
	TypeName    string
	Bounds      *orb.Bound
	CQL         string
	MaxFeatures int
	StartIndex  int
}

func (q FeatureQuery) params() url.Values {
	v := url.Values{}
	v.Set("service", "WFS")
	v.Set("version", "1.1.0")
	v.Set("request", "GetFeature")
	v.Set("typeName", q.TypeName)
	v.Set("srsName", CRS)
	if q.Bounds != nil {
		v.Set("bbox", BBox(*q.Bounds))
	}
	if q.CQL != "" {
		v.Set("cql_filter", q.CQL)
	}
	return v
}

// GetFeatureURL builds a WFS 1.1.0 GetFeature request returning GeoJSON.
func (e Endpoint) GetFeatureURL(q FeatureQuery) string {
	v := q.params()
	v.Set("outputFormat", "application/json")
	if q.MaxFeatures > 0 {
		v.Set("maxFeatures", strconv.Itoa(q.MaxFeatures))
	}
	if q.StartIndex > 0 {
		v.Set("startIndex", strconv.Itoa(q.StartIndex))
	}
	return e.with(v)
}

// HitsURL builds a WFS 1.1.0 GetFeature request with resultType=hits.
// Paging fields are ignored.
func (e Endpoint) HitsURL(q FeatureQuery) string {
	v := q.params()
	v.Set("resultType", "hits")
	return e.with(v)
}

var (
	numberOfFeatures = regexp.MustCompile(`numberOfFeatures="(\d+)"`)
	numberMatched    = regexp.MustCompile(`numberMatched="(\d+)"`)
)

const wfs20Namespace = "http://www.opengis.net/wfs/2.0"

// ParseHits extracts the feature count from a hits response: the
// numberOfFeatures attribute of WFS 1.1. A WFS 2.0 document (one declaring
// the 2.0 namespace) without it is read from numberMatched instead. Any
// other text counts as zero.
func ParseHits(text string) int {
	patterns := []*regexp.Regexp{numberOfFeatures}
	if strings.Contains(text, wfs20Namespace) {
		patterns = append(patterns, numberMatched)
	}
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}
