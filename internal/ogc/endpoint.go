// Package ogc builds WFS and WMS request URLs and CQL predicates for a
// GeoServer endpoint, and scrapes hit counts out of WFS responses.
package ogc

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// CRS is the coordinate reference system every viewer query uses.
const CRS = "EPSG:4326"

// Endpoint is a parsed OGC service URL (".../geoserver/wfs" or ".../wms").
// Existing query parameters on the base URL are preserved.
type Endpoint struct {
	u url.URL
}

// ParseEndpoint parses an absolute service URL.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q must be an absolute URL", raw)
	}
	return Endpoint{u: *u}, nil
}

// MustEndpoint is ParseEndpoint for constants and tests.
func MustEndpoint(raw string) Endpoint {
	e, err := ParseEndpoint(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the base URL.
func (e Endpoint) String() string {
	return e.u.String()
}

func (e Endpoint) with(params url.Values) string {
	u := e.u
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// BBox renders bounds as "west,south,east,north,EPSG:4326", the WFS bbox
// form.
func BBox(b orb.Bound) string {
	return Coords(b) + "," + CRS
}

// Coords renders bounds as "west,south,east,north" without a CRS suffix,
// the WMS 1.1.1 form.
func Coords(b orb.Bound) string {
	return strings.Join([]string{
		num(b.Left()), num(b.Bottom()), num(b.Right()), num(b.Top()),
	}, ",")
}

// ErrBadBBox is returned by ParseBBox.
var ErrBadBBox = errors.New("bbox must be west,south,east,north")

// ParseBBox parses "west,south,east,north" with an optional trailing CRS.
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) == 5 {
		parts = parts[:4]
	}
	if len(parts) != 4 {
		return orb.Bound{}, ErrBadBBox
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: %v", ErrBadBBox, err)
		}
		v[i] = f
	}
	if v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("%w: south %s is above north %s", ErrBadBBox, num(v[1]), num(v[3]))
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
