// Package config loads the viewer configuration: the GeoServer connection,
// viewer tuning and the base layer catalog.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giscaleing/visor-sig/internal/sld"
)

// Config is the full viewer configuration.
type Config struct {
	GeoServer GeoServerConfig `yaml:"geoserver"`
	Viewer    ViewerConfig    `yaml:"viewer"`
	Layers    []LayerConfig   `yaml:"layers"`
}

// GeoServerConfig describes the remote OGC service.
type GeoServerConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	WFSPath           string        `yaml:"wfsPath"`
	WMSPath           string        `yaml:"wmsPath"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// WFSURL returns the WFS endpoint URL.
func (g GeoServerConfig) WFSURL() string {
	return joinURL(g.BaseURL, g.WFSPath)
}

// WMSURL returns the WMS endpoint URL.
func (g GeoServerConfig) WMSURL() string {
	return joinURL(g.BaseURL, g.WMSPath)
}

// ViewerConfig tunes the viewer behaviour.
type ViewerConfig struct {
	PageSize         int        `yaml:"pageSize"`
	GeometryColumns  []string   `yaml:"geometryColumns"`
	Collation        string     `yaml:"collation"`
	CountConcurrency int        `yaml:"countConcurrency"`
	Center           [2]float64 `yaml:"center"` // lat, lon
	Zoom             int        `yaml:"zoom"`
}

// LayerConfig is a base layer of the catalog.
type LayerConfig struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name"`
	Label  string          `yaml:"label"`
	Active bool            `yaml:"active"`
	Style  *sld.LayerStyle `yaml:"style,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GeoServer: GeoServerConfig{
			BaseURL:           "https://geoserver.soymetrix.com/geoserver",
			WFSPath:           "wfs",
			WMSPath:           "wms",
			Timeout:           20 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
		},
		Viewer: ViewerConfig{
			PageSize: 50,
			GeometryColumns: []string{
				"geom", "the_geom", "wkb_geometry", "msGeometry", "shape", "geometry",
			},
			Collation:        "es",
			CountConcurrency: 4,
			Center:           [2]float64{5.60971, -76.08175},
			Zoom:             15,
		},
		Layers: []LayerConfig{
			{ID: "metrix:colonias", Name: "metrix:colonias", Label: "Colonias"},
			{ID: "metrix:identificate", Name: "metrix:identificate", Label: "Identificate"},
		},
	}
}

// Load reads path (if not empty) over the defaults. A missing file is an
// error; use an empty path for defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	for i := range cfg.Layers {
		if cfg.Layers[i].ID == "" {
			cfg.Layers[i].ID = cfg.Layers[i].Name
		}
		if cfg.Layers[i].Label == "" {
			cfg.Layers[i].Label = cfg.Layers[i].Name
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.GeoServer.BaseURL == "" {
		errs = append(errs, errors.New("geoserver.baseURL is required"))
	}
	if c.GeoServer.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("geoserver.requestsPerSecond must be positive"))
	}
	if c.Viewer.PageSize <= 0 {
		errs = append(errs, errors.New("viewer.pageSize must be positive"))
	}
	if len(c.Viewer.GeometryColumns) == 0 {
		errs = append(errs, errors.New("viewer.geometryColumns must not be empty"))
	}
	seen := map[string]bool{}
	for i, l := range c.Layers {
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("layers[%d].name is required", i))
		}
		if seen[l.ID] {
			errs = append(errs, fmt.Errorf("layers[%d]: duplicate id %q", i, l.ID))
		}
		seen[l.ID] = true
		if l.Style != nil {
			if err := sld.Validate(*l.Style); err != nil {
				errs = append(errs, fmt.Errorf("layers[%d].style: %w", i, err))
			}
		}
	}
	return errors.Join(errs...)
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
