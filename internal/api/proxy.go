package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/service"
)

// TileFetcher fetches a WMS GetMap response.
type TileFetcher interface {
	GetMap(ctx context.Context, incoming url.Values, overrides map[string]string) (*geoserver.Response, error)
}

// TileProxy serves /wms/{id}: the map's WMS tile requests for a layer,
// forwarded with the layer's type name, SLD body and CQL filter forced.
type TileProxy struct {
	viewer *service.Viewer
	remote TileFetcher
	log    *slog.Logger
}

func NewTileProxy(v *service.Viewer, remote TileFetcher, log *slog.Logger) *TileProxy {
	return &TileProxy{viewer: v, remote: remote, log: log}
}

func (p *TileProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	overrides, err := p.viewer.TileOverrides(id)
	if err != nil {
		if errors.Is(err, service.ErrLayerNotFound) {
			http.Error(w, "layer not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp, err := p.remote.GetMap(r.Context(), r.URL.Query(), overrides)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("tile request failed", "layer", id, "error", err)
		}
		http.Error(w, "tile request failed", http.StatusBadGateway)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(resp.Body)
}
