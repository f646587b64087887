// Command choropleth-server serves the county map over HTTP.
//
// The server starts listening immediately and loads the assets in the
// background; until loading finishes the API answers 503.
//
// Configuration is read from the environment, after loading .env if present:
//
//	ADDR                listen address (default :8080)
//	CHORO_TABLE         attribute table CSV, path or URL (required)
//	CHORO_GEOMETRY      county TopoJSON or GeoJSON, path or URL (required)
//	CHORO_OBJECT        topology object holding the counties
//	CHORO_CONTEXT       optional outline layer
//	CHORO_ATTRS         comma separated attribute registry
//	CHORO_TABLE_KEY     table join column (default COUNTY)
//	CHORO_GEOMETRY_KEY  geometry join property (default COUNTY_NAM)
//	CHORO_MODE          fixed, quantile or equal
//	CHORO_DATA_DIR      download directory for remote assets
//	LOG_LEVEL, LOG_FORMAT
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andreiashu/choropleth"
	"github.com/andreiashu/choropleth/internal/api"
	"github.com/andreiashu/choropleth/internal/logger"
	"github.com/andreiashu/choropleth/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type config struct {
	addr        string
	table       string
	geometry    string
	object      string
	context     string
	attrs       []string
	tableKey    string
	geometryKey string
	mode        string
	dataDir     string
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func loadConfig() config {
	c := config{
		addr:        getenv("ADDR", ":8080"),
		table:       getenv("CHORO_TABLE", ""),
		geometry:    getenv("CHORO_GEOMETRY", ""),
		object:      getenv("CHORO_OBJECT", ""),
		context:     getenv("CHORO_CONTEXT", ""),
		tableKey:    getenv("CHORO_TABLE_KEY", choropleth.DefaultTableKey),
		geometryKey: getenv("CHORO_GEOMETRY_KEY", choropleth.DefaultGeometryKey),
		mode:        getenv("CHORO_MODE", string(choropleth.ClassifyFixed)),
		dataDir:     getenv("CHORO_DATA_DIR", ""),
	}
	for _, a := range strings.Split(getenv("CHORO_ATTRS", ""), ",") {
		if a = strings.TrimSpace(a); a != "" {
			c.attrs = append(c.attrs, a)
		}
	}
	return c
}

func (c config) options(l *slog.Logger) ([]choropleth.Option, error) {
	mode, err := choropleth.ParseClassificationMode(c.mode)
	if err != nil {
		return nil, err
	}
	opts := []choropleth.Option{
		choropleth.WithTable(c.table),
		choropleth.WithGeometry(c.geometry, c.object),
		choropleth.WithKeys(c.tableKey, c.geometryKey),
		choropleth.WithClassification(mode),
		choropleth.WithDataDir(c.dataDir),
		choropleth.WithLogger(l),
		choropleth.WithMapRenderer(api.SwitchRecorder()),
		choropleth.WithIndexOptions(choropleth.WithCacheObserver(metrics.ObserveLocate)),
	}
	if c.context != "" {
		opts = append(opts, choropleth.WithContextLayer(c.context, ""))
	}
	if len(c.attrs) > 0 {
		opts = append(opts, choropleth.WithAttributes(c.attrs...))
	}
	return opts, nil
}

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	cfg := loadConfig()
	opts, err := cfg.options(l)
	if err != nil {
		l.Error("config_invalid", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(logger.Access(l))

	h := api.NewHandler(nil, l)
	h.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	go func() {
		l.Info("assets_loading", "table", cfg.table, "geometry", cfg.geometry)
		t0 := time.Now()
		m, err := choropleth.New(ctx, opts...)
		metrics.LoadDurationSeconds.Observe(time.Since(t0).Seconds())
		if err != nil {
			metrics.LoadFailuresTotal.Inc()
			l.Error("assets_load_failed", "err", err)
			stop()
			return
		}
		if err := m.Validate(); err != nil {
			l.Warn("assets_invalid", "err", err)
		}
		h.SetMap(m)
		l.Info("server_ready", "duration_ms", time.Since(t0).Milliseconds())
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Shutdown(sctx)
	}()

	l.Info("server_listening", "addr", cfg.addr)
	if err := e.Start(cfg.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_failed", "err", err)
		os.Exit(1)
	}
}
