package choropleth

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// FallbackColor is used for entities with no value for the expressed attribute.
const FallbackColor = "#ccc"

// DefaultBreakpoints are the equal-step population change thresholds (percent).
var DefaultBreakpoints = []float64{-15, -10, -5, 0, 5, 10, 20, 40}

// DefaultColors is a 9-class red-blue diverging palette, decline to growth.
var DefaultColors = []string{
	"#b2182b",
	"#d6604d",
	"#f4a582",
	"#fddbc7",
	"#f7f7f7",
	"#d1e5f0",
	"#92c5de",
	"#4393c3",
	"#2166ac",
}

// ErrInvalidScale is returned for breakpoints and colors that cannot form a
// threshold scale.
var ErrInvalidScale = errors.New("invalid classification scale")

// Scale is a threshold classification: N ascending breakpoints split the
// number line into N+1 buckets, each with its own color.
type Scale struct {
	breaks   []float64
	colors   []string
	fallback string
}

// ScaleOption configures a Scale.
type ScaleOption func(*Scale)

// WithFallback sets the color for missing and NaN values.
func WithFallback(color string) ScaleOption {
	return func(s *Scale) {
		s.fallback = color
	}
}

// NewScale builds a threshold scale. Breakpoints must be finite and strictly
// ascending and there must be exactly one more color than breakpoints.
func NewScale(breakpoints []float64, colors []string, opts ...ScaleOption) (*Scale, error) {
	if len(breakpoints) == 0 {
		return nil, fmt.Errorf("%w: no breakpoints", ErrInvalidScale)
	}
	if len(colors) != len(breakpoints)+1 {
		return nil, fmt.Errorf("%w: %d breakpoints need %d colors, got %d",
			ErrInvalidScale, len(breakpoints), len(breakpoints)+1, len(colors))
	}
	for i, b := range breakpoints {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return nil, fmt.Errorf("%w: breakpoint %d is %v", ErrInvalidScale, i, b)
		}
		if i > 0 && b <= breakpoints[i-1] {
			return nil, fmt.Errorf("%w: breakpoint %d (%v) not above %v", ErrInvalidScale, i, b, breakpoints[i-1])
		}
	}
	s := &Scale{
		breaks:   append([]float64(nil), breakpoints...),
		colors:   append([]string(nil), colors...),
		fallback: FallbackColor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bucket returns the class index of v: the number of breakpoints <= v.
// It returns -1 for NaN.
func (s *Scale) Bucket(v float64) int {
	if math.IsNaN(v) {
		return -1
	}
	return sort.Search(len(s.breaks), func(i int) bool { return s.breaks[i] > v })
}

// Color returns the class color of v, or the fallback color for NaN.
func (s *Scale) Color(v float64) string {
	b := s.Bucket(v)
	if b < 0 {
		return s.fallback
	}
	return s.colors[b]
}

// Classify returns the color for a value as returned by Entity.Value.
func (s *Scale) Classify(v float64, ok bool) string {
	if !ok {
		return s.fallback
	}
	return s.Color(v)
}

// Breakpoints returns a copy of the thresholds.
func (s *Scale) Breakpoints() []float64 { return append([]float64(nil), s.breaks...) }

// Colors returns a copy of the class colors.
func (s *Scale) Colors() []string { return append([]string(nil), s.colors...) }

// Fallback returns the no-data color.
func (s *Scale) Fallback() string { return s.fallback }

// ClassificationMode selects how breakpoints are derived per attribute.
type ClassificationMode string

const (
	// ClassifyFixed uses the configured breakpoints for every attribute.
	ClassifyFixed ClassificationMode = "fixed"
	// ClassifyQuantile derives breakpoints from the attribute's quantiles.
	ClassifyQuantile ClassificationMode = "quantile"
	// ClassifyEqual splits the attribute's range into equal intervals.
	ClassifyEqual ClassificationMode = "equal"
)

// ParseClassificationMode parses a mode name. The empty string is fixed.
func ParseClassificationMode(s string) (ClassificationMode, error) {
	switch m := ClassificationMode(s); m {
	case "", ClassifyFixed:
		return ClassifyFixed, nil
	case ClassifyQuantile, ClassifyEqual:
		return m, nil
	}
	return "", fmt.Errorf("unknown classification mode %q", s)
}

// QuantileBreaks returns up to classes-1 breakpoints at the quantiles of
// values. Repeated quantiles are collapsed so the result stays strictly
// ascending and may be shorter.
func QuantileBreaks(values []float64, classes int) []float64 {
	if classes < 2 || len(values) == 0 {
		return nil
	}
	xs := append([]float64(nil), values...)
	sort.Float64s(xs)
	s := stats.Sample{Xs: xs, Sorted: true}
	breaks := make([]float64, 0, classes-1)
	for i := 1; i < classes; i++ {
		breaks = append(breaks, s.Quantile(float64(i)/float64(classes)))
	}
	return dedupeAscending(breaks)
}

// EqualIntervalBreaks returns classes-1 breakpoints splitting the range of
// values into equal widths. A constant sample yields no breakpoints.
func EqualIntervalBreaks(values []float64, classes int) []float64 {
	if classes < 2 || len(values) == 0 {
		return nil
	}
	lo, hi := stats.Bounds(values)
	if hi <= lo {
		return nil
	}
	step := (hi - lo) / float64(classes)
	breaks := make([]float64, 0, classes-1)
	for i := 1; i < classes; i++ {
		breaks = append(breaks, lo+step*float64(i))
	}
	return breaks
}

func dedupeAscending(xs []float64) []float64 {
	out := xs[:0]
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		if len(out) == 0 || x > out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// ScaleBuilder builds the scale for one attribute from the joined entities.
type ScaleBuilder func(attr string, ents *Entities) (*Scale, error)

// FixedScale returns a builder that ignores the data and always uses the
// given breakpoints and colors.
func FixedScale(breakpoints []float64, colors []string, opts ...ScaleOption) ScaleBuilder {
	return func(string, *Entities) (*Scale, error) {
		return NewScale(breakpoints, colors, opts...)
	}
}

// DataScale returns a builder that derives breakpoints from the expressed
// attribute's values using mode. The palette is sampled evenly when fewer
// classes survive than colors were given.
func DataScale(mode ClassificationMode, colors []string, opts ...ScaleOption) ScaleBuilder {
	return func(attr string, ents *Entities) (*Scale, error) {
		vals := ents.Values(attr)
		var breaks []float64
		switch mode {
		case ClassifyQuantile:
			breaks = QuantileBreaks(vals, len(colors))
		case ClassifyEqual:
			breaks = EqualIntervalBreaks(vals, len(colors))
		default:
			return nil, fmt.Errorf("%w: mode %q needs fixed breakpoints", ErrInvalidScale, mode)
		}
		if len(breaks) == 0 {
			return nil, fmt.Errorf("%w: attribute %q has too few distinct values", ErrInvalidScale, attr)
		}
		return NewScale(breaks, samplePalette(colors, len(breaks)+1), opts...)
	}
}

// samplePalette picks n colors spread evenly over palette, keeping both ends.
func samplePalette(palette []string, n int) []string {
	if n >= len(palette) {
		return palette
	}
	if n == 1 {
		return palette[:1]
	}
	out := make([]string, n)
	for i := range out {
		out[i] = palette[int(math.Round(float64(i)*float64(len(palette)-1)/float64(n-1)))]
	}
	return out
}

// Flannery compensation constants for proportional symbols.
const (
	flanneryScale    = 1.0083
	flanneryExponent = 0.5716
)

// DefaultMinRadius is the radius, in pixels, of the smallest symbol.
const DefaultMinRadius = 5.0

// RadiusOption configures Radius.
type RadiusOption func(*float64)

// WithMinRadius sets the radius drawn for a value equal to the minimum.
func WithMinRadius(r float64) RadiusOption {
	return func(p *float64) { *p = r }
}

// Radius maps a value to a symbol radius with Flannery's apparent-magnitude
// compensation: 1.0083 * (value/minValue)^0.5716 * minRadius. minValue is the
// smallest value across all entities and attributes. ok is false unless
// value/minValue is finite and positive, so a negative minimum still sizes
// the negative values.
func Radius(value, minValue float64, opts ...RadiusOption) (r float64, ok bool) {
	minRadius := DefaultMinRadius
	for _, opt := range opts {
		opt(&minRadius)
	}
	ratio := value / minValue
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
		return 0, false
	}
	return flanneryScale * math.Pow(ratio, flanneryExponent) * minRadius, true
}
