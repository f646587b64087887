package choropleth

import (
	"container/list"
	"math"
	"sync"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/golang/geo/s2"
)

// locateCellLevel is the S2 level of the polygon covering cells. Level 10
// cells are roughly 10km across, a few dozen per county.
const locateCellLevel = 10

// locateCoverMaxCells bounds the covering of a single polygon.
const locateCoverMaxCells = 256

// locateGeohashPrecision keys the lookup cache; 8 characters is about 38m x 19m.
// A cell can straddle a border, so cached answers are re-checked against the
// queried point.
const locateGeohashPrecision = 8

// DefaultLocateCacheSize is the number of memoized lookups kept.
const DefaultLocateCacheSize = 4096

type indexedPolygon struct {
	entity int
	outer  *s2.Loop
	holes  []*s2.Loop
}

func (p indexedPolygon) contains(pt s2.Point) bool {
	if !p.outer.ContainsPoint(pt) {
		return false
	}
	for _, h := range p.holes {
		if h.ContainsPoint(pt) {
			return false
		}
	}
	return true
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithCacheSize sets the lookup cache capacity. Zero disables caching.
func WithCacheSize(n int) IndexOption {
	return func(ix *Index) {
		ix.cacheSize = n
	}
}

// WithCacheObserver registers fn to be called on every cached lookup with
// whether it was a hit.
func WithCacheObserver(fn func(hit bool)) IndexOption {
	return func(ix *Index) {
		ix.observe = fn
	}
}

// Index answers "which entity is under this point" for hover lookups.
// Safe for concurrent use.
type Index struct {
	ents      *Entities
	polys     []indexedPolygon
	byEntity  [][]int             // entity -> polys
	shadowed  []bool              // entity overlaps an earlier one
	cells     map[s2.CellID][]int // cell -> polys
	cacheSize int
	cache     *lookupCache
	observe   func(hit bool)
}

// NewIndex builds an S2 cell covering index over every entity polygon.
func NewIndex(ents *Entities, opts ...IndexOption) *Index {
	ix := &Index{
		ents:      ents,
		byEntity:  make([][]int, ents.Len()),
		shadowed:  make([]bool, ents.Len()),
		cells:     make(map[s2.CellID][]int),
		cacheSize: DefaultLocateCacheSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.cacheSize > 0 {
		ix.cache = newLookupCache(ix.cacheSize)
	}

	coverer := &s2.RegionCoverer{
		MinLevel: locateCellLevel,
		MaxLevel: locateCellLevel,
		MaxCells: locateCoverMaxCells,
	}
	for i, e := range ents.All() {
		for _, poly := range e.Geometry {
			if len(poly) == 0 {
				continue
			}
			outer := ringLoop(poly[0])
			if outer == nil {
				continue
			}
			p := indexedPolygon{entity: i, outer: outer}
			for _, hole := range poly[1:] {
				if h := ringLoop(hole); h != nil {
					p.holes = append(p.holes, h)
				}
			}
			pi := len(ix.polys)
			ix.polys = append(ix.polys, p)
			ix.byEntity[i] = append(ix.byEntity[i], pi)
			for _, cell := range coverer.Covering(outer) {
				ix.cells[cell] = append(ix.cells[cell], pi)
			}
		}
	}
	ix.markOverlaps()
	return ix
}

// markOverlaps flags every entity whose outer rings overlap those of an
// earlier entity. Adjacent polygons sharing a border do not overlap.
func (ix *Index) markOverlaps() {
	type pair struct{ a, b int }
	seen := make(map[pair]bool)
	for _, polys := range ix.cells {
		for x, pa := range polys {
			for _, pb := range polys[x+1:] {
				a, b := ix.polys[pa], ix.polys[pb]
				if a.entity == b.entity || seen[pair{pa, pb}] {
					continue
				}
				seen[pair{pa, pb}] = true
				if a.outer.Intersects(b.outer) {
					ix.shadowed[max(a.entity, b.entity)] = true
				}
			}
		}
	}
}

// Len returns the number of indexed polygons.
func (ix *Index) Len() int { return len(ix.polys) }

// Locate returns the entity whose geometry contains the point. Points in a
// hole belong to no entity. When polygons overlap, the first entity wins.
func (ix *Index) Locate(lat, lng float64) (*Entity, bool) {
	if math.IsNaN(lat) || math.IsNaN(lng) ||
		math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return nil, false
	}

	ll := s2.LatLngFromDegrees(lat, lng)
	if ix.cache == nil {
		return ix.result(ix.lookup(ll))
	}

	key := geohash.EncodeWithPrecision(lat, lng, locateGeohashPrecision)
	if i, ok := ix.cache.get(key); ok && ix.owns(i, s2.PointFromLatLng(ll)) {
		ix.record(true)
		return ix.ents.At(i), true
	}
	ix.record(false)
	i := ix.lookup(ll)
	if i >= 0 {
		ix.cache.set(key, i)
	}
	return ix.result(i)
}

func (ix *Index) result(i int) (*Entity, bool) {
	if i < 0 {
		return nil, false
	}
	return ix.ents.At(i), true
}

// owns reports whether entity i is the answer for pt without a full lookup:
// one of its polygons contains pt and no earlier entity overlaps it.
func (ix *Index) owns(i int, pt s2.Point) bool {
	if i < 0 || i >= len(ix.byEntity) || ix.shadowed[i] {
		return false
	}
	for _, pi := range ix.byEntity[i] {
		if ix.polys[pi].contains(pt) {
			return true
		}
	}
	return false
}

func (ix *Index) record(hit bool) {
	if ix.observe != nil {
		ix.observe(hit)
	}
}

// lookup returns the entity index containing ll, or -1.
func (ix *Index) lookup(ll s2.LatLng) int {
	pt := s2.PointFromLatLng(ll)
	cell := s2.CellIDFromLatLng(ll).Parent(locateCellLevel)
	best := -1
	for _, pi := range ix.cells[cell] {
		p := ix.polys[pi]
		if (best < 0 || p.entity < best) && p.contains(pt) {
			best = p.entity
		}
	}
	return best
}

// lookupCache is a fixed-size LRU from geohash to entity index.
type lookupCache struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
}

type cacheEntry struct {
	k string
	v int
}

func newLookupCache(capacity int) *lookupCache {
	return &lookupCache{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *lookupCache) get(k string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		c.lst.MoveToFront(e)
		return e.Value.(cacheEntry).v, true
	}
	return 0, false
}

func (c *lookupCache) set(k string, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		e.Value = cacheEntry{k: k, v: v}
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(cacheEntry{k: k, v: v})
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(cacheEntry).k)
		c.lst.Remove(back)
	}
}

func (c *lookupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
