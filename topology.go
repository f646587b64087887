package choropleth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is a decoded geographic feature. Geometry is nil for features
// whose shape is not polygonal. Features are treated as read-only once
// decoded; the join builds new Entity values instead of writing here.
type Feature struct {
	Properties map[string]any
	Geometry   orb.MultiPolygon
}

// Property returns the named property as a join key string.
func (f Feature) Property(name string) (string, bool) {
	return propertyKey(f.Properties[name])
}

// DecodeFeatures decodes a TopoJSON topology or a GeoJSON FeatureCollection.
// For a topology, object selects the named object; an empty name selects
// the only object and is an error if there are several.
func DecodeFeatures(data []byte, object string) ([]Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding geometry: %w", err)
	}
	switch strings.ToLower(head.Type) {
	case "topology":
		return decodeTopology(data, object)
	case "featurecollection":
		return decodeGeoJSON(data)
	case "":
		return nil, errors.New("decoding geometry: missing type")
	default:
		return nil, fmt.Errorf("decoding geometry: unsupported type %q", head.Type)
	}
}

func decodeGeoJSON(data []byte) ([]Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}
	out := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		out = append(out, Feature{
			Properties: map[string]any(f.Properties),
			Geometry:   toMultiPolygon(f.Geometry),
		})
	}
	return out, nil
}

func toMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch g := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, sub := range g {
			mp = append(mp, toMultiPolygon(sub)...)
		}
		return mp
	}
	return nil
}

type topoTransform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

type topology struct {
	Type      string                `json:"type"`
	Transform *topoTransform        `json:"transform"`
	Arcs      [][][]float64         `json:"arcs"`
	Objects   map[string]topoObject `json:"objects"`
}

type topoObject struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Arcs       json.RawMessage `json:"arcs"`
	Geometries []topoObject    `json:"geometries"`
}

func decodeTopology(data []byte, object string) ([]Feature, error) {
	var t topology
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding topology: %w", err)
	}
	if len(t.Objects) == 0 {
		return nil, errors.New("decoding topology: no objects")
	}
	if object == "" {
		if len(t.Objects) > 1 {
			names := make([]string, 0, len(t.Objects))
			for n := range t.Objects {
				names = append(names, n)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("decoding topology: object name required, have %s", strings.Join(names, ", "))
		}
		for n := range t.Objects {
			object = n
		}
	}
	obj, ok := t.Objects[object]
	if !ok {
		return nil, fmt.Errorf("decoding topology: no object %q", object)
	}

	arcs := t.decodeArcs()
	var out []Feature
	if err := collectFeatures(&out, obj, arcs); err != nil {
		return nil, fmt.Errorf("decoding topology object %q: %w", object, err)
	}
	return out, nil
}

// decodeArcs converts arcs to absolute coordinates. Quantized topologies
// store delta-encoded integer positions that are undone with the transform.
func (t *topology) decodeArcs() [][]orb.Point {
	out := make([][]orb.Point, len(t.Arcs))
	for i, arc := range t.Arcs {
		pts := make([]orb.Point, 0, len(arc))
		var x, y float64
		for _, pos := range arc {
			if len(pos) < 2 {
				continue
			}
			if t.Transform != nil {
				x += pos[0]
				y += pos[1]
				pts = append(pts, orb.Point{
					x*t.Transform.Scale[0] + t.Transform.Translate[0],
					y*t.Transform.Scale[1] + t.Transform.Translate[1],
				})
			} else {
				pts = append(pts, orb.Point{pos[0], pos[1]})
			}
		}
		out[i] = pts
	}
	return out
}

func collectFeatures(out *[]Feature, obj topoObject, arcs [][]orb.Point) error {
	switch obj.Type {
	case "GeometryCollection":
		for i, g := range obj.Geometries {
			if err := collectFeatures(out, g, arcs); err != nil {
				return fmt.Errorf("geometry %d: %w", i, err)
			}
		}
		return nil
	case "Polygon":
		var rings [][]int
		if err := json.Unmarshal(obj.Arcs, &rings); err != nil {
			return fmt.Errorf("polygon arcs: %w", err)
		}
		poly, err := stitchPolygon(rings, arcs)
		if err != nil {
			return err
		}
		*out = append(*out, Feature{Properties: obj.Properties, Geometry: orb.MultiPolygon{poly}})
		return nil
	case "MultiPolygon":
		var polys [][][]int
		if err := json.Unmarshal(obj.Arcs, &polys); err != nil {
			return fmt.Errorf("multipolygon arcs: %w", err)
		}
		mp := make(orb.MultiPolygon, 0, len(polys))
		for _, rings := range polys {
			poly, err := stitchPolygon(rings, arcs)
			if err != nil {
				return err
			}
			mp = append(mp, poly)
		}
		*out = append(*out, Feature{Properties: obj.Properties, Geometry: mp})
		return nil
	default:
		// Points, lines and null geometries still carry join keys.
		*out = append(*out, Feature{Properties: obj.Properties})
		return nil
	}
}

func stitchPolygon(rings [][]int, arcs [][]orb.Point) (orb.Polygon, error) {
	poly := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		ring, err := stitchRing(r, arcs)
		if err != nil {
			return nil, err
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

// stitchRing concatenates arcs into one ring. A negative index ~i walks arc
// i backwards. Consecutive arcs share an endpoint, which is kept once.
func stitchRing(idx []int, arcs [][]orb.Point) (orb.Ring, error) {
	var ring orb.Ring
	for k, i := range idx {
		rev := i < 0
		if rev {
			i = ^i
		}
		if i >= len(arcs) {
			return nil, fmt.Errorf("arc index %d out of range (%d arcs)", i, len(arcs))
		}
		arc := arcs[i]
		pts := make([]orb.Point, len(arc))
		for j := range arc {
			if rev {
				pts[j] = arc[len(arc)-1-j]
			} else {
				pts[j] = arc[j]
			}
		}
		if k > 0 && len(pts) > 0 {
			pts = pts[1:]
		}
		ring = append(ring, pts...)
	}
	return ring, nil
}
