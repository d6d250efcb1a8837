package humastar

import (
	"net/url"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"layerId":"metrix:colonias","page":2,"values":["A",1,"B"],"active":true}`))
	require.NoError(t, err)
	assert.Equal(t, "metrix:colonias", s.String("layerId"))
	assert.Equal(t, 2, s.Int("page"))
	assert.Equal(t, []string{"A", "B"}, s.Strings("values"))
	assert.True(t, s.Bool("active"))
	assert.True(t, s.Has("page"))
	assert.False(t, s.Has("missing"))
	assert.Equal(t, "", s.String("page"))

	empty, err := ParseSignals(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseSignals([]byte("{"))
	assert.Error(t, err)
}

func TestSignals_Bound(t *testing.T) {
	s := Signals{"west": -76.09, "south": 5.60, "east": -76.07, "north": 5.62}
	b, err := s.Bound()
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-76.09, 5.60}, Max: orb.Point{-76.07, 5.62}}, b)

	_, err = Signals{"west": 1.0}.Bound()
	assert.Error(t, err)

	_, err = Signals{"west": 0.0, "south": 2.0, "east": 1.0, "north": 1.0}.Bound()
	assert.Error(t, err)
}

func TestPageBody_PaginationLinks(t *testing.T) {
	u := url.URL{Path: "/api/v1/layers/x/features", RawQuery: "bbox=1,2,3,4&page=2"}
	p := PageBody[string]{Page: 2, PageSize: 50, Total: 130, TotalPages: 3}

	links := p.PaginationLinks(u)
	assert.Equal(t, []string{
		`</api/v1/layers/x/features?bbox=1%2C2%2C3%2C4&page=1>; rel="first"`,
		`</api/v1/layers/x/features?bbox=1%2C2%2C3%2C4&page=1>; rel="prev"`,
		`</api/v1/layers/x/features?bbox=1%2C2%2C3%2C4&page=3>; rel="next"`,
		`</api/v1/layers/x/features?bbox=1%2C2%2C3%2C4&page=3>; rel="last"`,
	}, links)

	empty := PageBody[string]{Page: 1, PageSize: 50}
	assert.Equal(t, []string{
		`</f?page=1>; rel="first"`,
		`</f?page=1>; rel="last"`,
	}, empty.PaginationLinks(url.URL{Path: "/f"}))
}

func TestActionsFor(t *testing.T) {
	actions := ActionsFor("a b", ActionDef{Rel: "delete", Pattern: "/api/v1/layers/%s", Method: "DELETE", Title: "Remove"})
	require.Len(t, actions, 1)
	assert.Equal(t, `</api/v1/layers/a%20b>; rel="delete"; method="DELETE"; title="Remove"`, actions[0].LinkHeader())
}

func TestParseLink(t *testing.T) {
	target, rel, ok := parseLink(`</api/v1/layers>; rel="collection"`)
	require.True(t, ok)
	assert.Equal(t, "/api/v1/layers", target)
	assert.Equal(t, "collection", rel)

	_, _, ok = parseLink("garbage")
	assert.False(t, ok)
}
