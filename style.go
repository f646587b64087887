package choropleth

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Style is the stroke of a drawn unit. An empty Fill leaves the fill as
// classified.
type Style struct {
	Stroke      string `json:"stroke"`
	StrokeWidth string `json:"stroke-width"`
	Fill        string `json:"fill,omitempty"`
}

// CSS returns the style as an inline SVG style declaration.
func (s Style) CSS() string {
	var b strings.Builder
	if s.Fill != "" {
		b.WriteString("fill:" + s.Fill + ";")
	}
	b.WriteString("stroke:" + s.Stroke + ";stroke-width:" + s.StrokeWidth)
	return b.String()
}

// JSON returns the style as a JSON object, the form embedded in a
// rendered unit's <desc>.
func (s Style) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Target is a kind of drawn unit that can be highlighted.
type Target int

const (
	// MapUnit is an entity's polygon on the map.
	MapUnit Target = iota
	// ChartBar is an entity's bar in the ranking chart.
	ChartBar
)

var (
	// MapBaseStyle is the resting stroke of map polygons.
	MapBaseStyle = Style{Stroke: "#000", StrokeWidth: "0.5px"}
	// BarBaseStyle is the resting stroke of chart bars.
	BarBaseStyle = Style{Stroke: "none", StrokeWidth: "0px"}
	// HighlightStyle is applied to the unit under the pointer.
	HighlightStyle = Style{Stroke: "purple", StrokeWidth: "2px"}
)

type styleKey struct {
	target Target
	key    string
}

// Styles records the base and highlighted style of every drawn unit, so
// dehighlighting restores the recorded base rather than whatever was drawn.
// Safe for concurrent use.
type Styles struct {
	mu        sync.RWMutex
	base      map[Target]Style
	override  map[styleKey]Style
	highlight Style
	active    map[styleKey]bool
}

// StylesOption configures Styles.
type StylesOption func(*Styles)

// WithBaseStyle sets the resting style of all units of a target.
func WithBaseStyle(t Target, s Style) StylesOption {
	return func(st *Styles) {
		st.base[t] = s
	}
}

// WithHighlightStyle sets the style applied on highlight.
func WithHighlightStyle(s Style) StylesOption {
	return func(st *Styles) {
		st.highlight = s
	}
}

// NewStyles returns style records with the default map and bar styles.
func NewStyles(opts ...StylesOption) *Styles {
	s := &Styles{
		base:      map[Target]Style{MapUnit: MapBaseStyle, ChartBar: BarBaseStyle},
		override:  make(map[styleKey]Style),
		highlight: HighlightStyle,
		active:    make(map[styleKey]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBase records a per-unit base style, overriding the target default.
func (s *Styles) SetBase(t Target, key string, st Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override[styleKey{t, key}] = st
}

// Base returns the recorded resting style of a unit.
func (s *Styles) Base(t Target, key string) Style {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseLocked(t, key)
}

func (s *Styles) baseLocked(t Target, key string) Style {
	if st, ok := s.override[styleKey{t, key}]; ok {
		return st
	}
	return s.base[t]
}

// Highlight marks a unit as highlighted and returns the style to apply.
func (s *Styles) Highlight(t Target, key string) Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[styleKey{t, key}] = true
	return s.highlight
}

// Dehighlight clears a unit's highlight and returns its base style.
func (s *Styles) Dehighlight(t Target, key string) Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, styleKey{t, key})
	return s.baseLocked(t, key)
}

// Current returns the style a unit should be drawn with now.
func (s *Styles) Current(t Target, key string) Style {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active[styleKey{t, key}] {
		return s.highlight
	}
	return s.baseLocked(t, key)
}

// Highlighted reports whether a unit is highlighted.
func (s *Styles) Highlighted(t Target, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[styleKey{t, key}]
}

// InfoLabel is the pop-up text for the unit under the pointer.
type InfoLabel struct {
	ID        string `json:"id"`
	Value     string `json:"value"`
	Name      string `json:"name"`
	Attribute string `json:"attribute"`
}

// String joins the label lines with spaces.
func (l InfoLabel) String() string {
	return l.Value + " " + l.Name + " " + l.Attribute
}

// Label builds the info label of e for attr. nameProp names the property
// holding the display name.
func Label(e *Entity, attr, nameProp string) InfoLabel {
	value := "No data"
	if v, ok := e.Value(attr); ok && !math.IsNaN(v) {
		value = strconv.FormatFloat(v, 'f', -1, 64) + "%"
	}
	return InfoLabel{
		ID:        e.Key + "_label",
		Value:     value,
		Name:      e.Name(nameProp) + " County",
		Attribute: attr,
	}
}
