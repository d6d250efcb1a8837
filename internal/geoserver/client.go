// Package geoserver is the HTTP client for the GeoServer WFS and WMS
// endpoints the viewer talks to.
package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"

	"github.com/giscaleing/visor-sig/internal/logging"
	"github.com/giscaleing/visor-sig/internal/ogc"
)

// maxBody caps how much of a single response is read.
const maxBody = 64 << 20

// Options configures a Client.
type Options struct {
	WFSURL            string
	WMSURL            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client issues WFS/WMS requests. It is safe for concurrent use; all
// requests share one rate limiter.
type Client struct {
	wfs        ogc.Endpoint
	wms        ogc.Endpoint
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// New creates a client from opts.
func New(opts Options) (*Client, error) {
	wfs, err := ogc.ParseEndpoint(opts.WFSURL)
	if err != nil {
		return nil, fmt.Errorf("wfs: %w", err)
	}
	wms, err := ogc.ParseEndpoint(opts.WMSURL)
	if err != nil {
		return nil, fmt.Errorf("wms: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		wfs:        wfs,
		wms:        wms,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		log:        logging.Subsystem(opts.Logger, "geoserver"),
	}, nil
}

// WFS returns the WFS endpoint.
func (c *Client) WFS() ogc.Endpoint { return c.wfs }

// WMS returns the WMS endpoint.
func (c *Client) WMS() ogc.Endpoint { return c.wms }

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geoserver returned %d for %s: %s", e.Status, e.URL, e.Body)
}

// Response is a fully read upstream response.
type Response struct {
	Body        []byte
	ContentType string
}

// Get performs a rate-limited GET against rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", redact(rawURL), err)
	}
	c.log.Debug("geoserver request",
		slog.String("url", redact(rawURL)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{URL: redact(rawURL), Status: resp.StatusCode, Body: string(snippet)}
	}
	return &Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Hits returns the number of features matching q.
func (c *Client) Hits(ctx context.Context, q ogc.FeatureQuery) (int, error) {
	resp, err := c.Get(ctx, c.wfs.HitsURL(q))
	if err != nil {
		return 0, err
	}
	return ogc.ParseHits(string(resp.Body)), nil
}

// FeaturePage is a decoded GetFeature response.
type FeaturePage struct {
	Collection *geojson.FeatureCollection
	// Columns are the first feature's property keys in document order.
	Columns []string
}

// Features fetches GeoJSON features matching q.
func (c *Client) Features(ctx context.Context, q ogc.FeatureQuery) (*FeaturePage, error) {
	resp, err := c.Get(ctx, c.wfs.GetFeatureURL(q))
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding features of %s: %w", q.TypeName, err)
	}
	columns, err := firstPropertyKeys(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", q.TypeName, err)
	}
	return &FeaturePage{Collection: fc, Columns: columns}, nil
}

// FeatureInfo runs a GetFeatureInfo click. It returns the first feature's
// properties for JSON answers, the scraped table rows otherwise, or nil
// when nothing was hit.
func (c *Client) FeatureInfo(ctx context.Context, q ogc.InfoQuery) (map[string]any, error) {
	resp, err := c.Get(ctx, c.wms.GetFeatureInfoURL(q))
	if err != nil {
		return nil, err
	}
	return ParseFeatureInfo(resp.Body), nil
}

// GetMap proxies a WMS tile request with the given parameter overrides.
func (c *Client) GetMap(ctx context.Context, incoming url.Values, overrides map[string]string) (*Response, error) {
	return c.Get(ctx, c.wms.GetMapURL(incoming, overrides))
}

// firstPropertyKeys returns the property keys of the first feature in
// the order they appear in the document.
func firstPropertyKeys(body []byte) ([]string, error) {
	var doc struct {
		Features []struct {
			Properties json.RawMessage `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Features) == 0 {
		return []string{}, nil
	}
	return objectKeys(doc.Features[0].Properties)
}

func objectKeys(raw json.RawMessage) ([]string, error) {
	keys := []string{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return keys, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("properties is not an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// redact drops SLD bodies from logged URLs; they can be kilobytes long.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k := range q {
		if k == ogc.ParamSLDBody {
			q.Set(k, "…")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
