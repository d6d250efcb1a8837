package geoserver

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
)

// ParseFeatureInfo decodes a GetFeatureInfo body. JSON bodies yield the
// first feature's properties (nil when there is none). Anything else is
// scraped for <tr><th>key</th><td>value</td></tr> rows; a body with no
// such rows is returned whole under "info".
func ParseFeatureInfo(body []byte) map[string]any {
	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		if len(doc.Features) == 0 {
			return nil
		}
		props := doc.Features[0].Properties
		if props == nil {
			props = map[string]any{}
		}
		return props
	}

	fields := scrapeTable(body)
	if len(fields) == 0 {
		return map[string]any{"info": string(body)}
	}
	return fields
}

func scrapeTable(body []byte) map[string]any {
	fields := map[string]any{}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fields
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			th := firstChild(n, "th")
			td := firstChild(n, "td")
			if th != nil && td != nil {
				key := strings.TrimSpace(text(th))
				if key == "" {
					key = "field"
				}
				fields[key] = strings.TrimSpace(text(td))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return fields
}

func firstChild(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
