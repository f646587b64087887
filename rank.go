package choropleth

import (
	"math"
	"sort"
)

// DefaultRankSize is the number of entities taken from each end of the
// ranking for the chart.
const DefaultRankSize = 5

// TopAndBottom returns the n lowest and the n highest entities by attr,
// ordered from lowest to highest value. Entities without a value, or whose
// value is NaN, are not ranked. Equal values are ordered by key.
//
// When there are at most 2n rankable entities all of them are returned once.
// The input slice is not reordered.
func TopAndBottom(entities []*Entity, attr string, n int) []*Entity {
	if n <= 0 {
		return []*Entity{}
	}

	type ranked struct {
		e *Entity
		v float64
	}
	rs := make([]ranked, 0, len(entities))
	for _, e := range entities {
		v, ok := e.Value(attr)
		if !ok || math.IsNaN(v) {
			continue
		}
		rs = append(rs, ranked{e, v})
	}

	// Descending by value, then by key so the result does not depend on
	// feature order.
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].v != rs[j].v {
			return rs[i].v > rs[j].v
		}
		return rs[i].e.Key < rs[j].e.Key
	})

	var picked []ranked
	if len(rs) <= 2*n {
		picked = rs
	} else {
		picked = make([]ranked, 0, 2*n)
		picked = append(picked, rs[:n]...)
		picked = append(picked, rs[len(rs)-n:]...)
	}

	// Reverse the descending picks: bottom first, top last.
	out := make([]*Entity, len(picked))
	for i, r := range picked {
		out[len(picked)-1-i] = r.e
	}
	return out
}
