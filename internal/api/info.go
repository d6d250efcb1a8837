package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/giscaleing/visor-sig/internal/config"
)

// Version is the API version reported by /health and /api/v1/info.
const Version = "1.0.0"

type InfoHandler struct {
	cfg     config.Config
	stateDB string
}

// NewInfoHandler reports the GeoServer endpoints and where viewer state
// lives. An empty stateDB means state is kept in memory.
func NewInfoHandler(cfg config.Config, stateDB string) *InfoHandler {
	return &InfoHandler{cfg: cfg, stateDB: stateDB}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	WFS      string   `json:"wfs" doc:"GeoServer WFS endpoint"`
	WMS      string   `json:"wms" doc:"GeoServer WMS endpoint"`
	StateDB  string   `json:"state_db,omitempty" doc:"DuckDB state file, empty when state is in memory"`
	PageSize int      `json:"page_size" doc:"Attribute table page size"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "visor-sig",
		Version:  Version,
		WFS:      h.cfg.GeoServer.WFSURL(),
		WMS:      h.cfg.GeoServer.WMSURL(),
		StateDB:  h.stateDB,
		PageSize: h.cfg.Viewer.PageSize,
		Features: []string{"counts", "attribute-table", "filters", "symbology", "identify", "wms-proxy"},
	}}, nil
}
