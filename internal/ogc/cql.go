package ogc

import (
	"errors"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
)

// ErrEmptyPredicate is returned when a predicate has nothing to match.
var ErrEmptyPredicate = errors.New("predicate needs a column and at least one value")

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reserved = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IN": true, "LIKE": true, "ILIKE": true,
	"IS": true, "NULL": true, "BETWEEN": true, "EXISTS": true, "DOES-NOT-EXIST": true,
	"TRUE": true, "FALSE": true, "INCLUDE": true, "EXCLUDE": true, "BBOX": true,
}

// Ident renders a property name. Plain identifiers are emitted bare;
// anything else is double-quoted with embedded quotes doubled.
func Ident(name string) string {
	if plainIdent.MatchString(name) && !reserved[strings.ToUpper(name)] {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Literal renders a CQL string literal, doubling embedded single quotes.
func Literal(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// InPredicate renders `column IN ('a','b')`.
func InPredicate(column string, values []string) (string, error) {
	if column == "" || len(values) == 0 {
		return "", ErrEmptyPredicate
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Literal(v)
	}
	return Ident(column) + " IN (" + strings.Join(quoted, ",") + ")", nil
}

// BBoxPredicate renders `BBOX(column, w, s, e, n, 'EPSG:4326')`.
func BBoxPredicate(geomColumn string, b orb.Bound) string {
	return "BBOX(" + Ident(geomColumn) + ", " +
		num(b.Left()) + ", " + num(b.Bottom()) + ", " +
		num(b.Right()) + ", " + num(b.Top()) + ", " + Literal(CRS) + ")"
}

// And combines an existing filter with another predicate. An empty filter
// yields the predicate alone.
func And(filter, predicate string) string {
	if filter == "" {
		return predicate
	}
	return "(" + filter + ") AND " + predicate
}
