package choropleth

import (
	"bytes"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

func fixtureView(t *testing.T, attr string) (*View, *Entities) {
	t.Helper()
	ents, _ := joinFixture(t)
	reg, _ := NewRegistry(DefaultAttributes...)
	v, err := NewController(reg, ents, nil).Select(attr)
	if err != nil {
		t.Fatal(err)
	}
	return v, ents
}

func TestRenderMap(t *testing.T) {
	v, ents := fixtureView(t, "1970 - 1980")
	geo, err := os.ReadFile(fixtureContext)
	if err != nil {
		t.Fatal(err)
	}
	outline, err := DecodeFeatures(geo, "")
	if err != nil {
		t.Fatal(err)
	}

	o := DefaultRenderOptions()
	o.Styles = NewStyles()
	o.Context = outline
	o.Styles.Highlight(MapUnit, "Anoka")

	var buf bytes.Buffer
	if err := RenderMap(&buf, v, ents, o); err != nil {
		t.Fatalf("RenderMap() error = %v", err)
	}
	out := buf.String()

	if n := strings.Count(out, `class="counties `); n != 12 {
		t.Errorf("rendered %d counties, want 12", n)
	}
	for _, want := range []string{
		`class="counties kAitkin"`,
		`id="kBig_Stone"`,
		"<desc>",
		`class="context"`,
		"fill:" + DefaultColors[8],
		"fill:" + FallbackColor,
		"stroke:purple;stroke-width:2px",
		"No data",
		"&lt; -15",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("map output missing %q", want)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "</svg>") {
		t.Error("document not closed")
	}

	if err := RenderMap(&buf, nil, ents, o); !errors.Is(err, ErrNotReady) {
		t.Errorf("RenderMap(nil) error = %v, want ErrNotReady", err)
	}
}

func TestRenderSymbols(t *testing.T) {
	v, ents := fixtureView(t, "1970 - 1980")
	o := DefaultRenderOptions()

	var buf bytes.Buffer
	if err := RenderSymbols(&buf, v, ents, ents.MinValue(DefaultAttributes), o); err != nil {
		t.Fatalf("RenderSymbols() error = %v", err)
	}
	// With a negative minimum only the shrinking counties get a positive
	// ratio: Brown is the one such county between 1970 and 1980.
	if n := strings.Count(buf.String(), `class="symbol `); n != 1 {
		t.Errorf("negative minimum drew %d symbols, want 1", n)
	}
	if !strings.Contains(buf.String(), `class="symbol kBrown"`) {
		t.Error("Brown symbol missing")
	}

	buf.Reset()
	if err := RenderSymbols(&buf, v, ents, 0.5, o); err != nil {
		t.Fatalf("RenderSymbols() error = %v", err)
	}
	// Eight counties grew between 1970 and 1980.
	if n := strings.Count(buf.String(), `class="symbol `); n != 8 {
		t.Errorf("drew %d symbols, want 8", n)
	}
	out := buf.String()
	if strings.Index(out, "kAnoka") > strings.Index(out, "kBecker") {
		t.Error("largest symbol should be drawn first")
	}
}

func TestRenderChart(t *testing.T) {
	v, _ := fixtureView(t, "1970 - 1980")
	o := DefaultRenderOptions()

	var buf bytes.Buffer
	if err := RenderChart(&buf, v, o); err != nil {
		t.Fatalf("RenderChart() error = %v", err)
	}
	out := buf.String()
	if n := strings.Count(out, `class="bar `); n != len(v.Ranked) {
		t.Errorf("drew %d bars, want %d", n, len(v.Ranked))
	}
	if !strings.Contains(out, ChartTitle("1970 - 1980")) {
		t.Error("chart title missing")
	}
	if strings.Index(out, "kBrown") > strings.Index(out, "kAnoka") {
		t.Error("bars not in ascending order")
	}

	o.ChartDomain = [2]float64{5, 5}
	if err := RenderChart(&buf, v, o); err == nil {
		t.Error("empty domain error = nil")
	}
}

func TestProjection(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-96, 44}, Max: orb.Point{-92, 47}}
	p := NewProjection(b, 400, 300, 10)

	x0, y0 := p.Point(orb.Point{-96, 47})
	x1, y1 := p.Point(orb.Point{-92, 44})
	if x0 < 10-1e-9 || y0 < 10-1e-9 || x1 > 390+1e-9 || y1 > 290+1e-9 {
		t.Errorf("bound projects to (%v,%v)-(%v,%v), outside the padded frame", x0, y0, x1, y1)
	}
	if !(x1 > x0 && y1 > y0) {
		t.Error("north should be up and east right")
	}
	// Centred on the constrained axis.
	if math.Abs((x0-10)-(390-x1)) > 1e-6 && math.Abs((y0-10)-(290-y1)) > 1e-6 {
		t.Error("projection not centred")
	}

	d := p.Path(orb.MultiPolygon{{square(-94, 45.5, 0.5)}})
	if !strings.HasPrefix(d, "M") || !strings.HasSuffix(d, "Z") || strings.Count(d, "L") != 4 {
		t.Errorf("Path() = %q", d)
	}
}

func TestBucketLabel(t *testing.T) {
	breaks := []float64{-5, 0, 7.5}
	tests := []struct {
		i    int
		want string
	}{
		{0, "< -5"},
		{1, "-5 to 0"},
		{2, "0 to 7.5"},
		{3, ">= 7.5"},
	}
	for _, tt := range tests {
		if got := bucketLabel(breaks, tt.i); got != tt.want {
			t.Errorf("bucketLabel(%d) = %q, want %q", tt.i, got, tt.want)
		}
	}
}

func TestCSSClass(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Aitkin", "kAitkin"},
		{"Big Stone", "kBig_Stone"},
		{"St. Louis", "kSt__Louis"},
		{"027", "k027"},
	}
	for _, tt := range tests {
		if got := cssClass(tt.in); got != tt.want {
			t.Errorf("cssClass(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBounds(t *testing.T) {
	ents, _ := joinFixture(t)
	b, ok := Bounds(ents.All())
	if !ok {
		t.Fatal("Bounds() ok = false")
	}
	if !nearPoint(b.Min, orb.Point{-96, 44}) || !nearPoint(b.Max, orb.Point{-92, 47}) {
		t.Errorf("Bounds() = %v", b)
	}
	if _, ok := Bounds(nil); ok {
		t.Error("Bounds(nil) ok = true")
	}
}
