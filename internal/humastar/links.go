package humastar

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Links holds RFC 8288 link headers derived from the registered
// operations, keyed by operation path.
type Links struct {
	byPath map[string][]string
}

// Derive walks the OpenAPI document and fills l with hypermedia links,
// replacing earlier ones. Operations carrying one of the skip tags (SSE
// panels) are ignored. Call after all routes are registered; a transformer
// created earlier serves the derived links.
func (l *Links) Derive(api huma.API, entry string, skipTags ...string) {
	oapi := api.OpenAPI()
	l.byPath = map[string][]string{}

	var collections, items []string
	for p, pi := range oapi.Paths {
		if slices.ContainsFunc(primaryTags(pi), func(t string) bool { return slices.Contains(skipTags, t) }) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	sort.Strings(collections)
	sort.Strings(items)

	// Items link up to their parent; parents link down to the item template.
	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := oapi.Paths[parent]; ok {
			l.add(item, parent, "collection")
			l.add(parent, item, "item")
		}
		if pi := oapi.Paths[item]; pi.Put != nil || pi.Patch != nil {
			l.add(item, item, "edit")
		}
	}

	for _, coll := range collections {
		if coll == entry {
			continue
		}
		l.add(coll, entry, "up")
		l.add(entry, coll, lastSegment(coll))
	}
	l.add(entry, "/openapi.json", "service-desc")
	l.add(entry, "/docs", "service-doc")

	for p, headers := range l.byPath {
		pi, ok := oapi.Paths[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
}

// For returns the links of an operation path.
func (l *Links) For(opPath string) []string {
	if l == nil {
		return nil
	}
	return l.byPath[opPath]
}

// Transformer returns a Huma Transformer that writes the derived links,
// a self link for item paths, and the Pager and Actor links of bodies.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			u := ctx.URL()
			for _, link := range p.PaginationLinks(u) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(l.byPath[from], val) {
		l.byPath[from] = append(l.byPath[from], val)
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks documents the links as OpenAPI Link objects on the
// operation's success responses.
func injectResponseLinks(op *huma.Operation, headers []string) {
	for code, resp := range op.Responses {
		if !strings.HasPrefix(code, "2") || resp == nil {
			continue
		}
		if resp.Links == nil {
			resp.Links = map[string]*huma.Link{}
		}
		for _, h := range headers {
			target, rel, ok := parseLink(h)
			if !ok {
				continue
			}
			resp.Links[rel] = &huma.Link{OperationRef: target, Description: fmt.Sprintf("rel=%s", rel)}
		}
	}
}

func parseLink(h string) (target, rel string, ok bool) {
	start, end := strings.Index(h, "<"), strings.Index(h, ">")
	i := strings.Index(h, `rel="`)
	if start < 0 || end < start || i < 0 {
		return "", "", false
	}
	rel = strings.TrimSuffix(h[i+len(`rel="`):], `"`)
	return h[start+1 : end], rel, true
}

// escapeID makes a resource ID safe inside a path segment.
func escapeID(id string) string {
	return url.PathEscape(id)
}
