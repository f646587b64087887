package choropleth

import (
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// Entity is one geographic unit with its joined attribute values.
// Entities are built once by Join and are read-only afterwards.
type Entity struct {
	Key        string
	Properties map[string]any // copy of the feature properties
	Geometry   orb.MultiPolygon
	Matched    bool // a table row was joined

	values   map[string]float64
	centroid s2.LatLng
	area     float64 // steradians
}

// Value returns the joined value of attr. ok is false when no row matched
// or the attribute was never joined; a present value may still be NaN.
func (e *Entity) Value(attr string) (v float64, ok bool) {
	v, ok = e.values[attr]
	return v, ok
}

// Number returns the value of attr, or NaN when it is absent.
func (e *Entity) Number(attr string) float64 {
	if v, ok := e.values[attr]; ok {
		return v
	}
	return math.NaN()
}

// Name returns the display name: the named property if present, otherwise
// the county name for a FIPS key, otherwise the key itself.
func (e *Entity) Name(prop string) string {
	if s, ok := propertyKey(e.Properties[prop]); ok && s != "" {
		return s
	}
	if n := CountyName(e.Key); n != "" {
		return n
	}
	return e.Key
}

// Centroid returns the spherical centroid of the entity's outer rings.
// ok is false for entities without polygon geometry.
func (e *Entity) Centroid() (lat, lng float64, ok bool) {
	if e.area == 0 {
		return 0, 0, false
	}
	return e.centroid.Lat.Degrees(), e.centroid.Lng.Degrees(), true
}

// AreaKm2 returns the approximate area of the entity in square kilometres.
func (e *Entity) AreaKm2() float64 {
	const earthRadiusKm = 6371.0088
	return e.area * earthRadiusKm * earthRadiusKm
}

// ringLoop builds a normalized S2 loop from a GeoJSON ring. The closing
// vertex is dropped since S2 loops are implicitly closed. Returns nil for
// degenerate rings.
func ringLoop(r orb.Ring) *s2.Loop {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	if n < 3 {
		return nil
	}
	pts := make([]s2.Point, 0, n)
	for _, p := range r[:n] {
		pts = append(pts, s2.PointFromLatLng(s2.LatLngFromDegrees(p[1], p[0])))
	}
	l := s2.LoopFromPoints(pts)
	l.Normalize()
	return l
}

// computeShape fills the centroid and area from the outer rings.
func (e *Entity) computeShape() {
	var sum s2.Point
	var area float64
	for _, poly := range e.Geometry {
		if len(poly) == 0 {
			continue
		}
		l := ringLoop(poly[0])
		if l == nil {
			continue
		}
		c := l.Centroid()
		sum = s2.Point{Vector: sum.Add(c.Vector)}
		area += l.Area()
		for _, hole := range poly[1:] {
			if h := ringLoop(hole); h != nil {
				area -= h.Area()
			}
		}
	}
	if area <= 0 || sum.Norm() == 0 {
		return
	}
	e.area = area
	e.centroid = s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
}

// Entities is the arena of joined entities, indexed by key.
// Order matches the feature order given to Join.
type Entities struct {
	list  []*Entity
	byKey map[string][]int
}

func newEntities(n int) *Entities {
	return &Entities{
		list:  make([]*Entity, 0, n),
		byKey: make(map[string][]int, n),
	}
}

func (es *Entities) add(e *Entity) {
	es.byKey[e.Key] = append(es.byKey[e.Key], len(es.list))
	es.list = append(es.list, e)
}

// Len returns the number of entities.
func (es *Entities) Len() int { return len(es.list) }

// At returns the i-th entity.
func (es *Entities) At(i int) *Entity { return es.list[i] }

// All returns the entities in feature order. The slice is shared.
func (es *Entities) All() []*Entity { return es.list }

// Get returns the first entity with the given key.
func (es *Entities) Get(key string) (*Entity, bool) {
	idx := es.byKey[key]
	if len(idx) == 0 {
		return nil, false
	}
	return es.list[idx[0]], true
}

// IndexOf returns the position of e, or -1.
func (es *Entities) IndexOf(e *Entity) int {
	for _, i := range es.byKey[e.Key] {
		if es.list[i] == e {
			return i
		}
	}
	return -1
}

// Keys returns the distinct entity keys, sorted.
func (es *Entities) Keys() []string {
	keys := make([]string, 0, len(es.byKey))
	for k := range es.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the present, non-NaN values of attr in entity order.
func (es *Entities) Values(attr string) []float64 {
	var out []float64
	for _, e := range es.list {
		if v, ok := e.values[attr]; ok && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// MinValue returns the minimum observed value across all entities and all
// given attributes, or NaN if there are no values. The proportional symbol
// renderer scales radii relative to it.
func (es *Entities) MinValue(attrs []string) float64 {
	var all []float64
	for _, a := range attrs {
		all = append(all, es.Values(a)...)
	}
	if len(all) == 0 {
		return math.NaN()
	}
	lo, _ := stats.Bounds(all)
	return lo
}
