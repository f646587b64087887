// Command choropleth renders the county map, the proportional symbol map
// and the ranking chart to SVG files.
//
// Usage:
//
//	go run ./cmd/choropleth -table data/mn_county_pop.csv -geometry data/mn_counties.topojson -all
//
// One file per attribute and view is written to -out, e.g.
// out/1970-1980-map.svg and out/1970-1980-chart.svg.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andreiashu/choropleth"
	"github.com/andreiashu/choropleth/internal/logger"
)

type options struct {
	table, geometry, object     string
	context, contextObject      string
	tableKey, geometryKey       string
	attrs, attr, mode, out, dir string
	all, symbols, validate      bool
	normalize                   string
}

func main() {
	var o options
	flag.StringVar(&o.table, "table", "", "attribute table CSV (path or URL)")
	flag.StringVar(&o.geometry, "geometry", "", "county TopoJSON or GeoJSON (path or URL)")
	flag.StringVar(&o.object, "object", "", "topology object holding the counties")
	flag.StringVar(&o.context, "context", "", "optional outline layer (path or URL)")
	flag.StringVar(&o.contextObject, "context-object", "", "topology object of the outline layer")
	flag.StringVar(&o.tableKey, "table-key", choropleth.DefaultTableKey, "table join column")
	flag.StringVar(&o.geometryKey, "geometry-key", choropleth.DefaultGeometryKey, "geometry join property")
	flag.StringVar(&o.normalize, "normalize", "", "key normalization: fold or fips (default exact)")
	flag.StringVar(&o.attrs, "attrs", "", "comma separated attribute registry (default the census decades)")
	flag.StringVar(&o.attr, "attr", "", "attribute to render (default the first)")
	flag.BoolVar(&o.all, "all", false, "render every attribute")
	flag.StringVar(&o.mode, "mode", "fixed", "classification: fixed, quantile or equal")
	flag.BoolVar(&o.symbols, "symbols", false, "also render the proportional symbol map")
	flag.StringVar(&o.out, "out", "out", "output directory")
	flag.StringVar(&o.dir, "data-dir", "", "download directory for remote assets")
	flag.BoolVar(&o.validate, "validate", false, "validate the join and exit")
	flag.Parse()

	log := logger.Setup()
	if err := run(context.Background(), o, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, log *slog.Logger) error {
	mode, err := choropleth.ParseClassificationMode(o.mode)
	if err != nil {
		return err
	}
	opts := []choropleth.Option{
		choropleth.WithTable(o.table),
		choropleth.WithGeometry(o.geometry, o.object),
		choropleth.WithKeys(o.tableKey, o.geometryKey),
		choropleth.WithClassification(mode),
		choropleth.WithDataDir(o.dir),
		choropleth.WithLogger(log),
	}
	if o.context != "" {
		opts = append(opts, choropleth.WithContextLayer(o.context, o.contextObject))
	}
	if o.attrs != "" {
		opts = append(opts, choropleth.WithAttributes(splitList(o.attrs)...))
	}
	if o.attr != "" {
		opts = append(opts, choropleth.WithInitialAttribute(o.attr))
	}
	switch o.normalize {
	case "":
	case "fold":
		opts = append(opts, choropleth.WithJoinNormalizer(choropleth.NormalizeFold))
	case "fips":
		opts = append(opts, choropleth.WithJoinNormalizer(choropleth.NormalizeFIPS))
	default:
		return fmt.Errorf("unknown normalization %q", o.normalize)
	}

	fmt.Println("Loading assets...")
	m, err := choropleth.New(ctx, opts...)
	if err != nil {
		return err
	}
	r := m.Report()
	fmt.Printf("      Entities: %d, rows: %d, matched rows: %d\n", m.Entities().Len(), r.Rows, r.MatchedRows)
	for _, u := range r.UnmatchedRows {
		if u.Suggestion != "" {
			fmt.Printf("      Unmatched row %d: %q (did you mean %q?)\n", u.Row, u.Key, u.Suggestion)
		} else {
			fmt.Printf("      Unmatched row %d: %q\n", u.Row, u.Key)
		}
	}

	if o.validate {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Println("Validation passed.")
		return nil
	}

	attrs := []string{m.Controller().Current().Expressed}
	if o.all {
		attrs = m.Registry().Attributes()
	}
	if err := os.MkdirAll(o.out, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, a := range attrs {
		v, err := m.Controller().Select(a)
		if err != nil {
			return err
		}
		if err := writeViews(o, m, v); err != nil {
			return err
		}
		log.Info("attribute_rendered", "attribute", a)
	}
	fmt.Printf("Rendered %d attribute(s) to %s.\n", len(attrs), o.out)
	return nil
}

func writeViews(o options, m *choropleth.Map, v *choropleth.View) error {
	ro := m.RenderOptions()
	base := filepath.Join(o.out, slug(v.Expressed))
	if err := writeFile(base+"-map.svg", func(f *os.File) error {
		return choropleth.RenderMap(f, v, m.Entities(), ro)
	}); err != nil {
		return err
	}
	if err := writeFile(base+"-chart.svg", func(f *os.File) error {
		return choropleth.RenderChart(f, v, ro)
	}); err != nil {
		return err
	}
	if o.symbols {
		return writeFile(base+"-symbols.svg", func(f *os.File) error {
			return choropleth.RenderSymbols(f, v, m.Entities(), m.MinValue(), ro)
		})
	}
	return nil
}

// writeFile creates path and removes it again if render or close fails.
func writeFile(path string, render func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	success := false
	defer func() {
		f.Close()
		if !success {
			os.Remove(path)
		}
	}()
	if err := render(f); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing file %s: %w", path, err)
	}
	success = true
	return nil
}

// slug turns "1970 - 1980" into "1970-1980".
func slug(attr string) string {
	s := strings.Join(strings.Fields(attr), "")
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
