package choropleth

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance caps the edit distance for key suggestions; anything
// further away is not a plausible typo.
const maxSuggestDistance = 3

// JoinOption configures Join.
type JoinOption func(*joinConfig)

type joinConfig struct {
	normalize func(string) string
}

// WithKeyNormalizer applies fn to both the table key and the geometry key
// before comparing them. The default is exact, case-sensitive equality.
func WithKeyNormalizer(fn func(string) string) JoinOption {
	return func(c *joinConfig) {
		c.normalize = fn
	}
}

// UnmatchedRow is a table row whose key has no geometry counterpart.
// Suggestion is the closest geometry key within maxSuggestDistance, if any.
type UnmatchedRow struct {
	Row        int    `json:"row"` // zero-based row index
	Key        string `json:"key"` // raw table key
	Suggestion string `json:"suggestion,omitempty"`
}

// JoinReport summarises a join. Mismatches are informational; they never
// fail the join.
type JoinReport struct {
	Rows              int            `json:"rows"`
	MatchedRows       int            `json:"matched_rows"`
	MatchedEntities   int            `json:"matched_entities"`
	UnmatchedRows     []UnmatchedRow `json:"unmatched_rows"`
	UnmatchedFeatures []string       `json:"unmatched_features"` // geometry keys with no table row
	NonNumeric        int            `json:"non_numeric"`        // attribute values that parsed to NaN
}

// Join binds table rows to features by key and returns one Entity per
// feature, in feature order.
//
// A row matches every feature whose geometryKey property equals the row's
// tableKey field. For each match, every attribute is parsed as a float and
// stored on the entity; unparsable or missing values become NaN. Rows are
// applied in input order, so with duplicate keys the last row wins.
// Features without a matching row keep their attributes absent.
//
// Neither features nor the table are modified.
func Join(features []Feature, table *Table, attrs []string, geometryKey, tableKey string, opts ...JoinOption) (*Entities, *JoinReport) {
	cfg := joinConfig{normalize: func(s string) string { return s }}
	for _, opt := range opts {
		opt(&cfg)
	}

	ents := newEntities(len(features))
	byKey := make(map[string][]int, len(features))
	for i, f := range features {
		key, ok := f.Property(geometryKey)
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		e := &Entity{
			Key:        key,
			Properties: props,
			Geometry:   f.Geometry,
		}
		e.computeShape()
		ents.add(e)
		if ok && key != "" {
			nk := cfg.normalize(key)
			byKey[nk] = append(byKey[nk], i)
		}
	}

	report := &JoinReport{}
	if table == nil {
		report.UnmatchedFeatures = ents.Keys()
		return ents, report
	}
	report.Rows = len(table.Rows)

	for ri, row := range table.Rows {
		raw := row[tableKey]
		var idx []int
		if raw != "" {
			idx = byKey[cfg.normalize(raw)]
		}
		if len(idx) == 0 {
			report.UnmatchedRows = append(report.UnmatchedRows, UnmatchedRow{Row: ri, Key: raw})
			continue
		}
		report.MatchedRows++
		for _, i := range idx {
			e := ents.list[i]
			if e.values == nil {
				e.values = make(map[string]float64, len(attrs))
			}
			e.Matched = true
			for _, a := range attrs {
				v := parseNumber(row[a])
				if math.IsNaN(v) {
					report.NonNumeric++
				}
				e.values[a] = v
			}
		}
	}

	seen := make(map[string]bool)
	for _, e := range ents.list {
		if e.Matched {
			report.MatchedEntities++
			continue
		}
		if !seen[e.Key] {
			seen[e.Key] = true
			report.UnmatchedFeatures = append(report.UnmatchedFeatures, e.Key)
		}
	}
	sort.Strings(report.UnmatchedFeatures)

	for i := range report.UnmatchedRows {
		report.UnmatchedRows[i].Suggestion = suggestKey(report.UnmatchedRows[i].Key, report.UnmatchedFeatures)
	}
	return ents, report
}

// parseNumber parses a raw table value. Anything that is not a number,
// including an empty cell, becomes NaN.
func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// suggestKey returns the candidate closest to key by case-insensitive edit
// distance, or "" if none is within maxSuggestDistance. Ties go to the
// lexically smaller candidate.
func suggestKey(key string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1
	lk := strings.ToLower(key)
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(lk, strings.ToLower(c))
		if d < bestDist || (d == bestDist && c < best) {
			best, bestDist = c, d
		}
	}
	if bestDist > maxSuggestDistance {
		return ""
	}
	return best
}
