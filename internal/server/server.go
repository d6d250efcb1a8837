package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/giscaleing/visor-sig/internal/api"
	"github.com/giscaleing/visor-sig/internal/api/viewer"
	"github.com/giscaleing/visor-sig/internal/config"
	"github.com/giscaleing/visor-sig/internal/db"
	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/humastar"
	"github.com/giscaleing/visor-sig/internal/logging"
	"github.com/giscaleing/visor-sig/internal/service"
	"github.com/giscaleing/visor-sig/internal/templates"
	"github.com/giscaleing/visor-sig/web"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string // DuckDB viewer state lives here; empty keeps state in memory
	WebDir  string // web/ directory read from disk instead of the embedded copy
	App     config.Config
	Logger  *slog.Logger

	// Remote replaces the GeoServer client; tests use it.
	Remote RemoteService
}

// RemoteService is the GeoServer API the server needs.
type RemoteService interface {
	service.FeatureSource
	api.TileFetcher
}

// Server is the viewer HTTP server.
type Server struct {
	config  Config
	mux     *http.ServeMux
	humaAPI huma.API
	viewer  *service.Viewer
	store   *db.Store
	remote  RemoteService
	page    *template.Template
	log     *slog.Logger
}

// New creates the server and seeds the layer catalog.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()

	links := &humastar.Links{}
	humaConfig := huma.DefaultConfig("visor-sig API", api.Version)
	humaConfig.Info.Description = "Web map viewer over a GeoServer WFS/WMS service: layer counts, attribute tables, filters and symbology."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	humaAPI := humago.New(mux, humaConfig)

	remote := cfg.Remote
	if remote == nil {
		client, err := geoserver.New(geoserver.Options{
			WFSURL:            cfg.App.GeoServer.WFSURL(),
			WMSURL:            cfg.App.GeoServer.WMSURL(),
			Timeout:           cfg.App.GeoServer.Timeout,
			RequestsPerSecond: cfg.App.GeoServer.RequestsPerSecond,
			Burst:             cfg.App.GeoServer.Burst,
			Logger:            log,
		})
		if err != nil {
			return nil, fmt.Errorf("geoserver client: %w", err)
		}
		remote = client
	}

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		remote:  remote,
		log:     log,
	}

	var store service.Store
	if cfg.DataDir != "" {
		st, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "visor"})
		if err != nil {
			return nil, err
		}
		s.store = st
		store = st
	}

	s.viewer = service.NewViewer(service.Options{
		Store:            store,
		Remote:           remote,
		PageSize:         cfg.App.Viewer.PageSize,
		GeometryColumns:  cfg.App.Viewer.GeometryColumns,
		Collation:        cfg.App.Viewer.Collation,
		CountConcurrency: cfg.App.Viewer.CountConcurrency,
		Logger:           logging.Subsystem(log, "viewer"),
	})
	if err := s.viewer.Seed(cfg.App.Layers); err != nil {
		s.Close()
		return nil, err
	}

	renderer, err := templates.New(s.fragments())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading fragments: %w", err)
	}
	page, err := s.viewerPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading viewer page: %w", err)
	}
	s.page = page

	s.routes(renderer)
	links.Derive(humaAPI, "/health", viewer.Tag)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Viewer returns the server's viewer state.
func (s *Server) Viewer() *service.Viewer { return s.viewer }

// OpenAPI returns the API description.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// Close closes server resources.
func (s *Server) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Server) routes(renderer *templates.Renderer) {
	// REST API routes (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewHandler(s.viewer, logging.Subsystem(s.log, "api")))
	api.NewInfoHandler(s.config.App, s.stateDB()).RegisterRoutes(s.humaAPI)
	var state api.StateInspector
	if s.store != nil {
		state = s.store
	}
	api.NewStateHandler(state).RegisterRoutes(s.humaAPI)

	// Viewer SSE routes using Huma + Datastar SDK
	viewer.NewPanelHandler(s.viewer, renderer, logging.Subsystem(s.log, "panel")).RegisterRoutes(s.humaAPI)

	s.mux.Handle("GET /wms/{id}", api.NewTileProxy(s.viewer, s.remote, logging.Subsystem(s.log, "wms")))
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(s.static())))

	// Page routes
	s.mux.HandleFunc("GET /viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) stateDB() string {
	if s.config.DataDir == "" {
		return ""
	}
	return db.Config{DataDir: s.config.DataDir, DBName: "visor"}.Path()
}

func (s *Server) fragments() fs.FS {
	if s.config.WebDir != "" {
		return os.DirFS(filepath.Join(s.config.WebDir, "templates", "fragments"))
	}
	return web.Fragments()
}

func (s *Server) static() fs.FS {
	if s.config.WebDir != "" {
		return os.DirFS(filepath.Join(s.config.WebDir, "static"))
	}
	return web.Static()
}

func (s *Server) viewerPage() (*template.Template, error) {
	var (
		src []byte
		err error
	)
	if s.config.WebDir != "" {
		src, err = os.ReadFile(filepath.Join(s.config.WebDir, "templates", "viewer.html"))
	} else {
		src, err = web.Viewer()
	}
	if err != nil {
		return nil, err
	}
	return template.New("viewer").Parse(string(src))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "visor-sig",
		"status":  "running",
		"viewer":  "/viewer",
		"docs":    "/docs",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := s.page.Execute(&buf, map[string]any{
		"Title":  "Visor SIG",
		"Center": s.config.App.Viewer.Center,
		"Zoom":   s.config.App.Viewer.Zoom,
	})
	if err != nil {
		s.log.Error("rendering viewer page", "error", err)
		http.Error(w, "rendering viewer page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
