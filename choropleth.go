// Package choropleth joins an attribute table to county geometry, classifies
// the expressed attribute into colors and ranks the extremes for a chart.
//
// A Map is built once from a CSV table and a TopoJSON or GeoJSON geometry
// file. Switching the expressed attribute goes through the Map's Controller,
// which rebuilds the classification scale and the ranked subset and hands a
// View to the SVG renderers.
package choropleth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// Default join keys of the county data.
const (
	DefaultTableKey    = "COUNTY"
	DefaultGeometryKey = "COUNTY_NAM"
)

// Config contains configuration options for building a Map.
type Config struct {
	Table          string // CSV location, file path or URL
	Geometry       string // TopoJSON/GeoJSON location
	GeometryObject string // topology object name; empty selects the only one
	Context        string // optional outline layer location
	ContextObject  string
	DataDir        string // download directory for remote assets; empty fetches every time

	Attributes  []string
	Initial     string // first expressed attribute; empty selects the first
	TableKey    string
	GeometryKey string
	NameKey     string // property holding display names

	Breakpoints    []float64
	Colors         []string
	FallbackColor  string
	Classification ClassificationMode
	RankSize       int

	KeyNormalizer func(string) string
	HTTPClient    *http.Client
	Logger        *slog.Logger
	Renderers     []Renderer
	IndexOptions  []IndexOption
}

// Option is a functional option for configuring a Map.
type Option func(*Config)

// WithTable sets the attribute table location.
func WithTable(location string) Option {
	return func(c *Config) {
		c.Table = location
	}
}

// WithGeometry sets the geometry location and, for a topology with several
// objects, the object to use.
func WithGeometry(location, object string) Option {
	return func(c *Config) {
		c.Geometry = location
		c.GeometryObject = object
	}
}

// WithContextLayer adds outline geometry drawn beneath the counties.
func WithContextLayer(location, object string) Option {
	return func(c *Config) {
		c.Context = location
		c.ContextObject = object
	}
}

// WithDataDir caches remote assets in dir.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithAttributes sets the attribute registry.
func WithAttributes(attrs ...string) Option {
	return func(c *Config) {
		c.Attributes = attrs
	}
}

// WithInitialAttribute sets the attribute expressed after loading.
func WithInitialAttribute(attr string) Option {
	return func(c *Config) {
		c.Initial = attr
	}
}

// WithKeys sets the table column and geometry property used for joining.
func WithKeys(tableKey, geometryKey string) Option {
	return func(c *Config) {
		c.TableKey = tableKey
		c.GeometryKey = geometryKey
	}
}

// WithNameKey sets the geometry property holding display names.
func WithNameKey(prop string) Option {
	return func(c *Config) {
		c.NameKey = prop
	}
}

// WithBreakpoints sets the fixed classification breakpoints.
func WithBreakpoints(breaks ...float64) Option {
	return func(c *Config) {
		c.Breakpoints = breaks
	}
}

// WithColors sets the class colors, lowest class first.
func WithColors(colors ...string) Option {
	return func(c *Config) {
		c.Colors = colors
	}
}

// WithFallbackColor sets the color of entities without data.
func WithFallbackColor(color string) Option {
	return func(c *Config) {
		c.FallbackColor = color
	}
}

// WithClassification selects fixed, quantile or equal interval breakpoints.
func WithClassification(mode ClassificationMode) Option {
	return func(c *Config) {
		c.Classification = mode
	}
}

// WithMapRankSize sets how many entities each end of the chart shows.
func WithMapRankSize(n int) Option {
	return func(c *Config) {
		c.RankSize = n
	}
}

// WithJoinNormalizer normalizes both join keys before comparing them.
func WithJoinNormalizer(fn func(string) string) Option {
	return func(c *Config) {
		c.KeyNormalizer = fn
	}
}

// WithHTTPClient sets the client used for remote assets.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMapRenderer adds a renderer signalled on every attribute switch.
func WithMapRenderer(r Renderer) Option {
	return func(c *Config) {
		c.Renderers = append(c.Renderers, r)
	}
}

// WithIndexOptions configures the hover lookup index.
func WithIndexOptions(opts ...IndexOption) Option {
	return func(c *Config) {
		c.IndexOptions = append(c.IndexOptions, opts...)
	}
}

// defaultConfig returns the default configuration.
func defaultConfig() *Config {
	return &Config{
		Attributes:     DefaultAttributes,
		TableKey:       DefaultTableKey,
		GeometryKey:    DefaultGeometryKey,
		NameKey:        DefaultGeometryKey,
		Breakpoints:    DefaultBreakpoints,
		Colors:         DefaultColors,
		FallbackColor:  FallbackColor,
		Classification: ClassifyFixed,
		RankSize:       DefaultRankSize,
	}
}

// scaleBuilder returns the builder for the configured classification.
func (c *Config) scaleBuilder() (ScaleBuilder, error) {
	fallback := WithFallback(c.FallbackColor)
	switch c.Classification {
	case ClassifyFixed, "":
		if _, err := NewScale(c.Breakpoints, c.Colors); err != nil {
			return nil, err
		}
		return FixedScale(c.Breakpoints, c.Colors, fallback), nil
	case ClassifyQuantile, ClassifyEqual:
		if len(c.Colors) < 2 {
			return nil, fmt.Errorf("%w: %s classification needs at least 2 colors", ErrInvalidScale, c.Classification)
		}
		return DataScale(c.Classification, c.Colors, fallback), nil
	}
	return nil, fmt.Errorf("%w: unknown classification %q", ErrInvalidScale, c.Classification)
}

// Map is a loaded, joined choropleth. Safe for concurrent use.
type Map struct {
	cfg        *Config
	registry   *Registry
	entities   *Entities
	context    []Feature
	report     *JoinReport
	minValue   float64
	index      *Index
	styles     *Styles
	controller *Controller
	loadTime   time.Duration
}

// New loads the assets, joins them and expresses the initial attribute.
func New(ctx context.Context, opts ...Option) (*Map, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Table == "" || cfg.Geometry == "" {
		return nil, errors.New("table and geometry locations are required")
	}

	reg, err := NewRegistry(cfg.Attributes...)
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}
	build, err := cfg.scaleBuilder()
	if err != nil {
		return nil, fmt.Errorf("building scale: %w", err)
	}

	start := time.Now()
	spec := AssetSpec{
		Table:          SourceFor(cfg.Table, cfg.HTTPClient, cfg.DataDir),
		Geometry:       SourceFor(cfg.Geometry, cfg.HTTPClient, cfg.DataDir),
		GeometryObject: cfg.GeometryObject,
		ContextObject:  cfg.ContextObject,
	}
	if cfg.Context != "" {
		spec.Context = SourceFor(cfg.Context, cfg.HTTPClient, cfg.DataDir)
	}
	assets, err := Load(ctx, spec)
	if err != nil {
		return nil, err
	}
	if !assets.Table.HasColumn(cfg.TableKey) {
		return nil, fmt.Errorf("%w: table has no key column %q", ErrLoad, cfg.TableKey)
	}
	for _, a := range reg.Attributes() {
		if !assets.Table.HasColumn(a) {
			cfg.Logger.Warn("table_missing_attribute", "attribute", a)
		}
	}

	var jopts []JoinOption
	if cfg.KeyNormalizer != nil {
		jopts = append(jopts, WithKeyNormalizer(cfg.KeyNormalizer))
	}
	ents, report := Join(assets.Features, assets.Table, reg.Attributes(), cfg.GeometryKey, cfg.TableKey, jopts...)
	for _, u := range report.UnmatchedRows {
		cfg.Logger.Warn("join_unmatched_row", "row", u.Row, "key", u.Key, "suggestion", u.Suggestion)
	}
	if n := len(report.UnmatchedFeatures); n > 0 {
		cfg.Logger.Warn("join_unmatched_features", "count", n, "keys", report.UnmatchedFeatures)
	}

	m := &Map{
		cfg:      cfg,
		registry: reg,
		entities: ents,
		context:  assets.Context,
		report:   report,
		minValue: ents.MinValue(reg.Attributes()),
		index:    NewIndex(ents, cfg.IndexOptions...),
		styles:   NewStyles(),
		loadTime: time.Since(start),
	}
	copts := []ControllerOption{
		WithRankSize(cfg.RankSize),
		WithControllerLogger(cfg.Logger),
	}
	for _, r := range cfg.Renderers {
		copts = append(copts, WithRenderer(r))
	}
	m.controller = NewController(reg, ents, build, copts...)

	initial := cfg.Initial
	if initial == "" {
		initial = reg.At(0)
	}
	if _, err := m.controller.Select(initial); err != nil {
		return nil, fmt.Errorf("expressing %q: %w", initial, err)
	}

	cfg.Logger.Info("assets_loaded",
		"entities", ents.Len(),
		"rows", report.Rows,
		"matched_rows", report.MatchedRows,
		"unmatched_rows", len(report.UnmatchedRows),
		"unmatched_features", len(report.UnmatchedFeatures),
		"duration_ms", m.loadTime.Milliseconds(),
	)
	return m, nil
}

// Registry returns the attribute registry.
func (m *Map) Registry() *Registry { return m.registry }

// Entities returns the joined entities.
func (m *Map) Entities() *Entities { return m.entities }

// Controller returns the attribute switch controller.
func (m *Map) Controller() *Controller { return m.controller }

// Index returns the hover lookup index.
func (m *Map) Index() *Index { return m.index }

// Styles returns the highlight style records.
func (m *Map) Styles() *Styles { return m.styles }

// Report returns the join report.
func (m *Map) Report() *JoinReport { return m.report }

// MinValue returns the smallest value over all entities and attributes.
func (m *Map) MinValue() float64 { return m.minValue }

// Context returns the outline layer features.
func (m *Map) Context() []Feature { return m.context }

// LoadTime returns how long fetching and joining took.
func (m *Map) LoadTime() time.Duration { return m.loadTime }

// NameKey returns the property holding display names.
func (m *Map) NameKey() string { return m.cfg.NameKey }

// RenderOptions returns DefaultRenderOptions wired to the map's styles,
// context layer and name property.
func (m *Map) RenderOptions() RenderOptions {
	o := DefaultRenderOptions()
	o.Styles = m.styles
	o.Context = m.context
	o.NameProperty = m.cfg.NameKey
	return o
}

// Label returns the info label of e for the expressed attribute.
func (m *Map) Label(e *Entity) InfoLabel {
	return Label(e, m.controller.Current().Expressed, m.cfg.NameKey)
}

// Validate checks that the map is usable: it has entities, at least one row
// joined, and every registry attribute is present on every matched entity.
func (m *Map) Validate() error {
	if m.entities.Len() == 0 {
		return errors.New("no entities loaded")
	}
	if m.report.MatchedRows == 0 {
		return fmt.Errorf("no table rows matched on %s=%s", m.cfg.TableKey, m.cfg.GeometryKey)
	}
	for _, e := range m.entities.All() {
		if !e.Matched {
			continue
		}
		for _, a := range m.registry.Attributes() {
			if _, ok := e.Value(a); !ok {
				return fmt.Errorf("entity %q: attribute %q missing", e.Key, a)
			}
		}
	}
	if math.IsNaN(m.minValue) {
		return errors.New("no numeric values joined")
	}
	return nil
}
