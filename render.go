package choropleth

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aclements/go-moremath/scale"
	svg "github.com/ajstarks/svgo"
	"github.com/paulmach/orb"
)

// Projection maps lng/lat into a pixel frame. It is equirectangular with
// longitudes shrunk by the cosine of the middle latitude, which is close
// enough for a single state.
type Projection struct {
	minLng, maxLat float64
	kx, k          float64
	offX, offY     float64
}

// NewProjection fits bound into a width x height frame with padding pixels
// on every side, preserving aspect ratio and centring the result.
func NewProjection(bound orb.Bound, width, height int, padding float64) Projection {
	midLat := (bound.Min[1] + bound.Max[1]) / 2
	kx := math.Cos(midLat * math.Pi / 180)
	dx := (bound.Max[0] - bound.Min[0]) * kx
	dy := bound.Max[1] - bound.Min[1]

	w := float64(width) - 2*padding
	h := float64(height) - 2*padding
	k := 1.0
	switch {
	case dx > 0 && dy > 0:
		k = math.Min(w/dx, h/dy)
	case dx > 0:
		k = w / dx
	case dy > 0:
		k = h / dy
	}
	return Projection{
		minLng: bound.Min[0],
		maxLat: bound.Max[1],
		kx:     kx,
		k:      k,
		offX:   padding + (w-dx*k)/2,
		offY:   padding + (h-dy*k)/2,
	}
}

// Point projects a lng/lat point.
func (p Projection) Point(pt orb.Point) (x, y float64) {
	return p.offX + (pt[0]-p.minLng)*p.kx*p.k, p.offY + (p.maxLat-pt[1])*p.k
}

// Path returns SVG path data for a multipolygon.
func (p Projection) Path(mp orb.MultiPolygon) string {
	var b strings.Builder
	for _, poly := range mp {
		for _, ring := range poly {
			for i, pt := range ring {
				x, y := p.Point(pt)
				if i == 0 {
					b.WriteByte('M')
				} else {
					b.WriteByte('L')
				}
				b.WriteString(strconv.FormatFloat(x, 'f', 2, 64))
				b.WriteByte(',')
				b.WriteString(strconv.FormatFloat(y, 'f', 2, 64))
			}
			if len(ring) > 0 {
				b.WriteByte('Z')
			}
		}
	}
	return b.String()
}

// Bounds returns the bound of all entity geometry, or false if none has any.
func Bounds(ents []*Entity) (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, e := range ents {
		if len(e.Geometry) == 0 {
			continue
		}
		eb := e.Geometry.Bound()
		if !found {
			b, found = eb, true
			continue
		}
		b = b.Union(eb)
	}
	return b, found
}

// RenderOptions controls the SVG frame.
type RenderOptions struct {
	Width, Height int
	Padding       float64
	Styles        *Styles   // nil uses NewStyles()
	Context       []Feature // outlines drawn beneath the entities
	NameProperty  string    // property holding display names
	MinRadius     float64   // symbol radius at the minimum value; 0 uses DefaultMinRadius
	ChartDomain   [2]float64
}

// DefaultRenderOptions returns the options used by the tools.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Width:        960,
		Height:       720,
		Padding:      20,
		NameProperty: "COUNTY_NAM",
		MinRadius:    DefaultMinRadius,
		ChartDomain:  [2]float64{-25, 70},
	}
}

func (o RenderOptions) styles() *Styles {
	if o.Styles == nil {
		return NewStyles()
	}
	return o.Styles
}

// cssClass turns a key into a single CSS class token.
func cssClass(key string) string {
	return "k" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}

func svgAttr(name, value string) string {
	return name + `="` + xmlAttrEscape(value) + `"`
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;")

func xmlAttrEscape(s string) string { return attrEscaper.Replace(s) }

func (o RenderOptions) projection(ents []*Entity) Projection {
	b, ok := Bounds(ents)
	if !ok {
		b = orb.Bound{}
	}
	return NewProjection(b, o.Width, o.Height, o.Padding)
}

func renderContext(canvas *svg.SVG, p Projection, ctx []Feature) {
	if len(ctx) == 0 {
		return
	}
	canvas.Group(svgAttr("class", "context"))
	for _, f := range ctx {
		if len(f.Geometry) == 0 {
			continue
		}
		canvas.Path(p.Path(f.Geometry), "fill:#f2f2f2;stroke:#999;stroke-width:1px")
	}
	canvas.Gend()
}

// RenderMap writes the choropleth as an SVG document. Every entity is a
// group with class "counties <key>" holding a <desc> with its base style
// and a path filled from the view.
func RenderMap(w io.Writer, v *View, ents *Entities, o RenderOptions) error {
	if v == nil {
		return ErrNotReady
	}
	all := ents.All()
	p := o.projection(all)
	st := o.styles()

	canvas := svg.New(w)
	canvas.Start(o.Width, o.Height)
	canvas.Title(v.Expressed)
	renderContext(canvas, p, o.Context)
	canvas.Group(svgAttr("class", "map"))
	for i, e := range all {
		if len(e.Geometry) == 0 {
			continue
		}
		base := st.Base(MapUnit, e.Key)
		cur := st.Current(MapUnit, e.Key)
		canvas.Group(svgAttr("class", "counties "+cssClass(e.Key)), svgAttr("id", cssClass(e.Key)))
		canvas.Desc(base.JSON())
		canvas.Path(p.Path(e.Geometry), "fill:"+v.Fill(i)+";"+cur.CSS())
		canvas.Gend()
	}
	canvas.Gend()
	renderLegend(canvas, v.Scale, o)
	canvas.End()
	return nil
}

// renderLegend draws one swatch per class in the lower left corner.
func renderLegend(canvas *svg.SVG, s *Scale, o RenderOptions) {
	if s == nil {
		return
	}
	const sw = 18
	colors := s.Colors()
	breaks := s.Breakpoints()
	x := int(o.Padding)
	y := o.Height - int(o.Padding) - sw*(len(colors)+1)
	canvas.Group(svgAttr("class", "legend"))
	for i, c := range colors {
		yy := y + i*sw
		canvas.Rect(x, yy, sw, sw, "fill:"+c+";stroke:#666;stroke-width:0.5px")
		canvas.Text(x+sw+6, yy+sw-5, bucketLabel(breaks, i), "font-size:11px")
	}
	yy := y + len(colors)*sw
	canvas.Rect(x, yy, sw, sw, "fill:"+s.Fallback()+";stroke:#666;stroke-width:0.5px")
	canvas.Text(x+sw+6, yy+sw-5, "No data", "font-size:11px")
	canvas.Gend()
}

func bucketLabel(breaks []float64, i int) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch {
	case len(breaks) == 0:
		return ""
	case i == 0:
		return "< " + f(breaks[0])
	case i == len(breaks):
		return ">= " + f(breaks[i-1])
	}
	return f(breaks[i-1]) + " to " + f(breaks[i])
}

// RenderSymbols writes the proportional symbol variant: one circle per
// entity at its centroid, sized by Radius relative to minValue. Entities
// with no usable value are drawn as outlines only.
func RenderSymbols(w io.Writer, v *View, ents *Entities, minValue float64, o RenderOptions) error {
	if v == nil {
		return ErrNotReady
	}
	all := ents.All()
	p := o.projection(all)
	minRadius := o.MinRadius
	if minRadius <= 0 {
		minRadius = DefaultMinRadius
	}

	type symbol struct {
		x, y, r float64
		fill    string
		key     string
	}
	var syms []symbol

	canvas := svg.New(w)
	canvas.Start(o.Width, o.Height)
	canvas.Title(v.Expressed)
	renderContext(canvas, p, o.Context)
	canvas.Group(svgAttr("class", "map"))
	for i, e := range all {
		if len(e.Geometry) == 0 {
			continue
		}
		canvas.Path(p.Path(e.Geometry), "fill:#fff;"+MapBaseStyle.CSS())
		lat, lng, ok := e.Centroid()
		if !ok {
			continue
		}
		r, ok := Radius(e.Number(v.Expressed), minValue, WithMinRadius(minRadius))
		if !ok {
			continue
		}
		x, y := p.Point(orb.Point{lng, lat})
		syms = append(syms, symbol{x, y, r, v.Fill(i), e.Key})
	}
	canvas.Gend()

	// Largest first so small symbols stay visible on top.
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].r > syms[j].r })
	canvas.Group(svgAttr("class", "symbols"))
	for _, s := range syms {
		canvas.Circle(int(math.Round(s.x)), int(math.Round(s.y)), int(math.Round(s.r)),
			svgAttr("class", "symbol "+cssClass(s.key)),
			"fill:"+s.fill+";fill-opacity:0.8;stroke:#000;stroke-width:0.5px")
	}
	canvas.Gend()
	canvas.End()
	return nil
}

// RenderChart writes the bar chart of the view's ranked subset. Bars grow
// up from zero for increases and down for decreases.
func RenderChart(w io.Writer, v *View, o RenderOptions) error {
	if v == nil {
		return ErrNotReady
	}
	lo, hi := o.ChartDomain[0], o.ChartDomain[1]
	if !(hi > lo) {
		return fmt.Errorf("chart domain [%v, %v] is empty", lo, hi)
	}
	st := o.styles()

	const (
		left   = 50
		top    = 40
		bottom = 20
	)
	innerW := o.Width - left - int(o.Padding)
	innerH := o.Height - top - bottom
	ys := scale.Linear{Min: lo, Max: hi}
	yOf := func(x float64) float64 {
		return float64(top) + (1-ys.Map(x))*float64(innerH)
	}

	canvas := svg.New(w)
	canvas.Start(o.Width, o.Height)
	canvas.Title(v.Title)
	canvas.Text(o.Width/2, top/2+6, v.Title, "text-anchor:middle;font-size:14px")

	major, _ := ys.Ticks(scale.TickOptions{Max: 10})
	canvas.Group(svgAttr("class", "axis"))
	canvas.Line(left, top, left, top+innerH, "stroke:#000;stroke-width:1px")
	for _, t := range major {
		if t < lo || t > hi {
			continue
		}
		y := int(math.Round(yOf(t)))
		canvas.Line(left-5, y, left, y, "stroke:#000;stroke-width:1px")
		canvas.Text(left-8, y+4, strconv.FormatFloat(t, 'f', -1, 64), "text-anchor:end;font-size:10px")
	}
	canvas.Gend()

	n := len(v.Ranked)
	if n > 0 {
		zero := yOf(clamp(0, lo, hi))
		bw := float64(innerW) / float64(n)
		canvas.Group(svgAttr("class", "bars"))
		for i, e := range v.Ranked {
			val := clamp(e.Number(v.Expressed), lo, hi)
			y := yOf(val)
			barTop, height := y, zero-y
			if val < 0 {
				barTop, height = zero, y-zero
			}
			x := float64(left) + float64(i)*bw
			cur := st.Current(ChartBar, e.Key)
			canvas.Rect(int(math.Round(x+1)), int(math.Round(barTop)), int(math.Max(1, math.Round(bw-2))), int(math.Round(height)),
				svgAttr("class", "bar "+cssClass(e.Key)),
				"fill:"+v.Scale.Classify(e.Value(v.Expressed))+";"+cur.CSS())
			canvas.Text(int(math.Round(x+bw/2)), int(math.Round(barTop))+labelOffset(val, height), e.Name(o.NameProperty),
				"text-anchor:middle;font-size:9px")
		}
		canvas.Gend()
	}
	canvas.End()
	return nil
}

// labelOffset places a bar label just outside the bar end.
func labelOffset(val, height float64) int {
	if val < 0 {
		return int(math.Round(height + 11))
	}
	return -4
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
