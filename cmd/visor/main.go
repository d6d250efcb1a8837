package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/giscaleing/visor-sig/internal/config"
	"github.com/giscaleing/visor-sig/internal/db"
	"github.com/giscaleing/visor-sig/internal/geoserver"
	"github.com/giscaleing/visor-sig/internal/logging"
	"github.com/giscaleing/visor-sig/internal/ogc"
	"github.com/giscaleing/visor-sig/internal/server"
	"github.com/giscaleing/visor-sig/internal/service"
	"github.com/giscaleing/visor-sig/internal/sld"
	"github.com/giscaleing/visor-sig/internal/tui"
)

// Options defines all CLI flags and env vars for the viewer.
// Flags: --host, --port, --geoserver, --config, --data-dir, --web-dir, --log-level, --log-format
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_GEOSERVER, SERVICE_CONFIG, ...
type Options struct {
	Host      string `doc:"Host to bind to" default:"0.0.0.0"`
	Port      int    `doc:"Port to listen on" short:"p" default:"8086"`
	GeoServer string `name:"geoserver" doc:"GeoServer base URL, overrides the config file"`
	Config    string `doc:"YAML configuration file" short:"c"`
	DataDir   string `doc:"Directory for the DuckDB state; empty keeps state in memory"`
	WebDir    string `doc:"Serve web/ from this directory instead of the embedded copy"`
	LogLevel  string `doc:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat string `doc:"Log format (text, json)" default:"text" enum:"text,json"`
}

func setup(opts *Options) (config.Config, *slog.Logger) {
	log, err := logging.Setup(opts.LogLevel, opts.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if opts.GeoServer != "" {
		cfg.GeoServer.BaseURL = opts.GeoServer
	}
	return cfg, log
}

func newServer(opts *Options) (*server.Server, *slog.Logger) {
	cfg, log := setup(opts)
	srv, err := server.New(server.Config{
		Host:    opts.Host,
		Port:    strconv.Itoa(opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		App:     cfg,
		Logger:  log,
	})
	if err != nil {
		log.Error("server setup failed", "error", err)
		os.Exit(1)
	}
	return srv, log
}

// newViewer builds a standalone viewer for the offline subcommands.
func newViewer(opts *Options) (*service.Viewer, func(), *slog.Logger) {
	cfg, log := setup(opts)
	client, err := geoserver.New(geoserver.Options{
		WFSURL:            cfg.GeoServer.WFSURL(),
		WMSURL:            cfg.GeoServer.WMSURL(),
		Timeout:           cfg.GeoServer.Timeout,
		RequestsPerSecond: cfg.GeoServer.RequestsPerSecond,
		Burst:             cfg.GeoServer.Burst,
		Logger:            log,
	})
	if err != nil {
		log.Error("geoserver client", "error", err)
		os.Exit(1)
	}

	closeFn := func() {}
	var store service.Store
	if opts.DataDir != "" {
		st, err := db.Open(db.Config{DataDir: opts.DataDir, DBName: "visor"})
		if err != nil {
			log.Error("opening state", "error", err)
			os.Exit(1)
		}
		store = st
		closeFn = func() { st.Close() }
	}

	v := service.NewViewer(service.Options{
		Store:            store,
		Remote:           client,
		PageSize:         cfg.Viewer.PageSize,
		GeometryColumns:  cfg.Viewer.GeometryColumns,
		Collation:        cfg.Viewer.Collation,
		CountConcurrency: cfg.Viewer.CountConcurrency,
		Logger:           logging.Subsystem(log, "viewer"),
	})
	if err := v.Seed(cfg.Layers); err != nil {
		log.Error("seeding layers", "error", err)
		os.Exit(1)
	}
	return v, closeFn, log
}

func bboxFlag(cmd *cobra.Command) orb.Bound {
	raw, _ := cmd.Flags().GetString("bbox")
	b, err := ogc.ParseBBox(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: --bbox: %v\n", err)
		os.Exit(2)
	}
	return b
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv, log := newServer(opts)
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("visor server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Viewer:  %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)
			srv.Close()
		})
	})

	cli.Root().Use = "visor"
	cli.Root().Short = "Web map viewer over GeoServer WFS/WMS"
	cli.Root().Version = "1.0.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, _ := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// sld subcommand: print the SLD document of a style
	sldCmd := &cobra.Command{
		Use:   "sld <layer-name>",
		Short: "Print the SLD 1.0.0 document for a layer style",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := cmd.Flags()
			kind, _ := f.GetString("kind")
			style := sld.LayerStyle{}
			style.FillColor, _ = f.GetString("fill")
			style.FillOpacity, _ = f.GetFloat64("fill-opacity")
			style.StrokeColor, _ = f.GetString("stroke")
			style.StrokeOpacity, _ = f.GetFloat64("stroke-opacity")
			style.StrokeWidth, _ = f.GetFloat64("stroke-width")
			if f.Changed("radius") {
				r, _ := f.GetFloat64("radius")
				style = style.WithRadius(r)
			}

			k := sld.GeometryKind(kind)
			if !k.Valid() {
				fmt.Fprintf(os.Stderr, "Error: --kind must be polygon, line or point\n")
				os.Exit(2)
			}
			if err := sld.Validate(style); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(2)
			}
			doc, err := sld.Build(style, k, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(doc)
		},
	}
	sldCmd.Flags().String("kind", "polygon", "Geometry kind: polygon, line or point")
	sldCmd.Flags().String("fill", sld.DefaultStyle.FillColor, "Fill color")
	sldCmd.Flags().Float64("fill-opacity", sld.DefaultStyle.FillOpacity, "Fill opacity (0-1)")
	sldCmd.Flags().String("stroke", sld.DefaultStyle.StrokeColor, "Stroke color")
	sldCmd.Flags().Float64("stroke-opacity", sld.DefaultStyle.StrokeOpacity, "Stroke opacity (0-1)")
	sldCmd.Flags().Float64("stroke-width", sld.DefaultStyle.StrokeWidth, "Stroke width in pixels")
	sldCmd.Flags().Float64("radius", sld.DefaultRadius, "Point mark size")
	cli.Root().AddCommand(sldCmd)

	// counts subcommand: one counts refresh, printed as a table
	countsCmd := &cobra.Command{
		Use:   "counts",
		Short: "Count the features of every catalog layer inside a bbox",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			b := bboxFlag(cmd)
			all, _ := cmd.Flags().GetBool("all")
			v, closeFn, log := newViewer(opts)
			defer closeFn()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			layers, err := v.Layers()
			if err != nil {
				log.Error("listing layers", "error", err)
				os.Exit(1)
			}
			if all {
				// copies only; the stored layers keep their visibility
				for i := range layers {
					layers[i].Active = true
				}
			}
			counts := v.CountLayers(ctx, layers, b)

			rows := make([][]string, 0, len(layers))
			for _, l := range layers {
				c := counts[l.ID]
				rows = append(rows, []string{l.ID, l.Label, strconv.FormatBool(l.Active), strconv.Itoa(c.Visible), strconv.Itoa(c.Total)})
			}
			sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
			t := table.New().
				Border(lipgloss.RoundedBorder()).
				Headers("LAYER", "LABEL", "ACTIVE", "VISIBLE", "TOTAL").
				Rows(rows...)
			fmt.Println(t)
		}),
	}
	countsCmd.Flags().String("bbox", "", "Viewport as west,south,east,north")
	countsCmd.Flags().Bool("all", false, "Count every layer as active without changing the stored state")
	countsCmd.MarkFlagRequired("bbox")
	cli.Root().AddCommand(countsCmd)

	// tui subcommand: terminal layer panel
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Terminal layer panel with counts and attribute tables",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			b := bboxFlag(cmd)
			if opts.LogLevel == "info" {
				// keep the screen clean unless asked otherwise
				opts.LogLevel = "error"
			}
			v, closeFn, log := newViewer(opts)
			defer closeFn()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			p := tea.NewProgram(tui.New(ctx, v, b), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				log.Error("tui", "error", err)
				os.Exit(1)
			}
		}),
	}
	tuiCmd.Flags().String("bbox", "", "Viewport as west,south,east,north")
	tuiCmd.MarkFlagRequired("bbox")
	cli.Root().AddCommand(tuiCmd)

	cli.Run()
}
