package humastar

import (
	"fmt"
	"strings"
)

// Action is a state-dependent hypermedia action link.
// Response bodies implement the Actor interface to emit conditional
// RFC 8288 Link headers with method and title extension parameters.
//
// Example Link header output:
//
//	</api/v1/layers/metrix:colonias_filter_1a2b3c4d>; rel="delete"; method="DELETE"; title="Remove filtered layer"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that provide state-dependent actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		fmt.Fprintf(&b, `; method="%s"`, a.Method)
	}
	if a.Title != "" {
		fmt.Fprintf(&b, `; title="%s"`, a.Title)
	}
	return b.String()
}

// ActionDef is a reusable action template. Pattern has a single %s verb
// for the resource ID.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// ActionsFor expands defs for one resource ID.
func ActionsFor(id string, defs ...ActionDef) []Action {
	actions := make([]Action, len(defs))
	for i, d := range defs {
		actions[i] = Action{
			Rel:    d.Rel,
			Href:   fmt.Sprintf(d.Pattern, escapeID(id)),
			Method: d.Method,
			Title:  d.Title,
		}
	}
	return actions
}
