// pagination.go: RFC 8288 Link headers for paginated list bodies.
//
// Response bodies implement the Pager interface to emit first/prev/next/last
// Link headers. The link transformer reads these and sets the headers.
package humastar

import (
	"net/url"
	"strconv"
)

// Pager is implemented by response bodies that carry pagination metadata.
// u is the request URL; links keep its other query parameters.
type Pager interface {
	PaginationLinks(u url.URL) []string
}

// PageBody is a page-numbered response envelope.
type PageBody[T any] struct {
	Page       int `json:"page" doc:"Current page (1-based)"`
	PageSize   int `json:"pageSize" doc:"Items per page"`
	Total      int `json:"total" doc:"Total number of items"`
	TotalPages int `json:"totalPages" doc:"Number of pages"`
	Data       []T `json:"data" doc:"Items"`
}

// PaginationLinks returns RFC 8288 Link header values for pagination rels.
func (p PageBody[T]) PaginationLinks(u url.URL) []string {
	last := p.TotalPages
	if last < 1 {
		last = 1
	}
	links := []string{pageLink(u, 1, "first")}
	if p.Page > 1 {
		links = append(links, pageLink(u, min(p.Page-1, last), "prev"))
	}
	if p.Page < p.TotalPages {
		links = append(links, pageLink(u, p.Page+1, "next"))
	}
	return append(links, pageLink(u, last, "last"))
}

func pageLink(u url.URL, page int, rel string) string {
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return `<` + u.Path + `?` + u.RawQuery + `>; rel="` + rel + `"`
}
