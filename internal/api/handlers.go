// Package api serves a choropleth Map over HTTP.
package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/andreiashu/choropleth"
	"github.com/andreiashu/choropleth/internal/metrics"
	"github.com/labstack/echo/v4"
)

const svgContentType = "image/svg+xml"

// Handler serves the map. Until SetMap is called every route answers 503,
// so clients cannot switch attributes before the assets are loaded.
type Handler struct {
	mu  sync.RWMutex
	m   *choropleth.Map
	log *slog.Logger
}

// NewHandler returns a handler for m, which may be nil while loading.
func NewHandler(m *choropleth.Map, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{m: m, log: l}
}

// SetMap binds a loaded map.
func (h *Handler) SetMap(m *choropleth.Map) {
	h.mu.Lock()
	h.m = m
	h.mu.Unlock()
	if m != nil {
		metrics.UnmatchedRows.Set(float64(len(m.Report().UnmatchedRows)))
		metrics.UnmatchedFeatures.Set(float64(len(m.Report().UnmatchedFeatures)))
	}
}

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api", observe)
	api.GET("/status", h.GetStatus)
	api.GET("/attributes", h.GetAttributes)
	api.GET("/view", h.GetView)
	api.PUT("/expressed", h.PutExpressed)
	api.POST("/expressed/step", h.PostStep)
	api.GET("/ranked", h.GetRanked)
	api.GET("/map.svg", h.GetMapSVG)
	api.GET("/symbols.svg", h.GetSymbolsSVG)
	api.GET("/chart.svg", h.GetChartSVG)
	api.GET("/locate", h.GetLocate)
	api.PUT("/highlight/:key", h.PutHighlight)
	api.DELETE("/highlight/:key", h.DeleteHighlight)
	api.GET("/report", h.GetReport)
}

// observe records request count and latency per route.
func observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		code := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		} else if err != nil {
			code = http.StatusInternalServerError
		}
		metrics.RequestsTotal.WithLabelValues(c.Path(), strconv.Itoa(code)).Inc()
		metrics.RequestDurationMs.WithLabelValues(c.Path()).Observe(float64(time.Since(start).Microseconds()) / 1000)
		return err
	}
}

func (h *Handler) current() (*choropleth.Map, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.m == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "loading")
	}
	return h.m, nil
}

// httpError maps library errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, choropleth.ErrNotReady):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, choropleth.ErrUnknownAttribute):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// --- DTOs ---

type entityDTO struct {
	Key   string   `json:"key"`
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Fill  string   `json:"fill"`
}

type viewDTO struct {
	Attribute   string      `json:"attribute"`
	Title       string      `json:"title"`
	Breakpoints []float64   `json:"breakpoints"`
	Colors      []string    `json:"colors"`
	Fallback    string      `json:"fallback"`
	Ranked      []entityDTO `json:"ranked"`
	Entities    []entityDTO `json:"entities,omitempty"`
}

func numberPtr(v float64, ok bool) *float64 {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func newEntityDTO(m *choropleth.Map, v *choropleth.View, e *choropleth.Entity) entityDTO {
	return entityDTO{
		Key:   e.Key,
		Name:  e.Name(m.NameKey()),
		Value: numberPtr(e.Value(v.Expressed)),
		Fill:  v.Scale.Classify(e.Value(v.Expressed)),
	}
}

func newViewDTO(m *choropleth.Map, v *choropleth.View, withEntities bool) viewDTO {
	d := viewDTO{
		Attribute:   v.Expressed,
		Title:       v.Title,
		Breakpoints: v.Scale.Breakpoints(),
		Colors:      v.Scale.Colors(),
		Fallback:    v.Scale.Fallback(),
		Ranked:      make([]entityDTO, 0, len(v.Ranked)),
	}
	for _, e := range v.Ranked {
		d.Ranked = append(d.Ranked, newEntityDTO(m, v, e))
	}
	if withEntities {
		all := m.Entities().All()
		d.Entities = make([]entityDTO, 0, len(all))
		for i, e := range all {
			ed := newEntityDTO(m, v, e)
			ed.Fill = v.Fill(i)
			d.Entities = append(d.Entities, ed)
		}
	}
	return d
}

// --- HANDLERS ---

// GetStatus reports whether the assets are loaded.
func (h *Handler) GetStatus(c echo.Context) error {
	h.mu.RLock()
	m := h.m
	h.mu.RUnlock()
	if m == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"ready": false, "state": choropleth.Loading.String()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ready":     true,
		"state":     m.Controller().State().String(),
		"entities":  m.Entities().Len(),
		"load_ms":   m.LoadTime().Milliseconds(),
		"expressed": m.Controller().Current().Expressed,
	})
}

// GetAttributes lists the registry and the expressed attribute.
func (h *Handler) GetAttributes(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"attributes": m.Registry().Attributes(),
		"expressed":  m.Controller().Current().Expressed,
	})
}

// GetView returns the current view with every entity's fill.
func (h *Handler) GetView(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	v, err := m.Controller().View()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newViewDTO(m, v, true))
}

type expressedRequest struct {
	Attribute string `json:"attribute"`
}

// PutExpressed switches the expressed attribute.
func (h *Handler) PutExpressed(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	var req expressedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Attribute == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "attribute is required")
	}
	return h.switched(c, m, func() (*choropleth.View, error) {
		return m.Controller().Select(req.Attribute)
	})
}

// PostStep moves the expressed attribute by ?delta= positions (default 1),
// wrapping at both ends.
func (h *Handler) PostStep(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	delta := 1
	if s := c.QueryParam("delta"); s != "" {
		delta, err = strconv.Atoi(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "delta must be an integer")
		}
	}
	return h.switched(c, m, func() (*choropleth.View, error) {
		return m.Controller().Step(delta)
	})
}

func (h *Handler) switched(c echo.Context, m *choropleth.Map, do func() (*choropleth.View, error)) error {
	v, err := do()
	if err != nil {
		if !errors.Is(err, choropleth.ErrUnknownAttribute) {
			metrics.SwitchFailuresTotal.Inc()
			h.log.Error("attribute_switch_failed", "err", err)
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newViewDTO(m, v, false))
}

// SwitchRecorder is a renderer counting completed attribute switches.
// Pass it to the Map with choropleth.WithMapRenderer.
func SwitchRecorder() choropleth.Renderer {
	return choropleth.RendererFunc(func(v *choropleth.View) error {
		metrics.SwitchesTotal.WithLabelValues(v.Expressed).Inc()
		return nil
	})
}

// GetRanked returns the chart subset, lowest first.
func (h *Handler) GetRanked(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	v, err := m.Controller().View()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newViewDTO(m, v, false).Ranked)
}

func (h *Handler) svg(c echo.Context, render func(w io.Writer, m *choropleth.Map, v *choropleth.View) error) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	v, err := m.Controller().View()
	if err != nil {
		return httpError(err)
	}
	var buf bytes.Buffer
	if err := render(&buf, m, v); err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, svgContentType, buf.Bytes())
}

// GetMapSVG renders the choropleth.
func (h *Handler) GetMapSVG(c echo.Context) error {
	return h.svg(c, func(w io.Writer, m *choropleth.Map, v *choropleth.View) error {
		return choropleth.RenderMap(w, v, m.Entities(), m.RenderOptions())
	})
}

// GetSymbolsSVG renders the proportional symbol map.
func (h *Handler) GetSymbolsSVG(c echo.Context) error {
	return h.svg(c, func(w io.Writer, m *choropleth.Map, v *choropleth.View) error {
		return choropleth.RenderSymbols(w, v, m.Entities(), m.MinValue(), m.RenderOptions())
	})
}

// GetChartSVG renders the ranking bar chart.
func (h *Handler) GetChartSVG(c echo.Context) error {
	return h.svg(c, func(w io.Writer, m *choropleth.Map, v *choropleth.View) error {
		return choropleth.RenderChart(w, v, m.RenderOptions())
	})
}

type locateResponse struct {
	Found  bool                   `json:"found"`
	Entity *entityDTO             `json:"entity,omitempty"`
	Label  *choropleth.InfoLabel  `json:"label,omitempty"`
	Styles map[string]interface{} `json:"styles,omitempty"`
}

// GetLocate returns the entity under ?lat=&lng=, its info label and the
// styles to apply while hovering.
func (h *Handler) GetLocate(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	lat, err1 := strconv.ParseFloat(c.QueryParam("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.QueryParam("lng"), 64)
	if err1 != nil || err2 != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "lat and lng must be numbers")
	}
	e, ok := m.Index().Locate(lat, lng)
	if !ok {
		return c.JSON(http.StatusOK, locateResponse{Found: false})
	}
	v, err := m.Controller().View()
	if err != nil {
		return httpError(err)
	}
	d := newEntityDTO(m, v, e)
	label := m.Label(e)
	st := m.Styles()
	return c.JSON(http.StatusOK, locateResponse{
		Found:  true,
		Entity: &d,
		Label:  &label,
		Styles: map[string]interface{}{
			"highlight": choropleth.HighlightStyle,
			"map":       st.Base(choropleth.MapUnit, e.Key),
			"bar":       st.Base(choropleth.ChartBar, e.Key),
		},
	})
}

// PutHighlight highlights an entity on the map and in the chart.
func (h *Handler) PutHighlight(c echo.Context) error {
	return h.highlight(c, true)
}

// DeleteHighlight restores an entity's base styles.
func (h *Handler) DeleteHighlight(c echo.Context) error {
	return h.highlight(c, false)
}

func (h *Handler) highlight(c echo.Context, on bool) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	key := c.Param("key")
	if _, ok := m.Entities().Get(key); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown entity")
	}
	st := m.Styles()
	var mapStyle, barStyle choropleth.Style
	if on {
		mapStyle = st.Highlight(choropleth.MapUnit, key)
		barStyle = st.Highlight(choropleth.ChartBar, key)
	} else {
		mapStyle = st.Dehighlight(choropleth.MapUnit, key)
		barStyle = st.Dehighlight(choropleth.ChartBar, key)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":         key,
		"highlighted": on,
		"map":         mapStyle,
		"bar":         barStyle,
	})
}

// GetReport returns the join report.
func (h *Handler) GetReport(c echo.Context) error {
	m, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m.Report())
}
