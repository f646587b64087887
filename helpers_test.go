package choropleth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

const (
	fixtureTable    = "testdata/counties.csv"
	fixtureGeometry = "testdata/counties.topojson"
	fixtureContext  = "testdata/states.geojson"
)

// loadFixture decodes the test counties: a 4x3 grid of one-degree cells
// starting at 96W 44N, plus Cook with no geometry.
func loadFixture(tb testing.TB) ([]Feature, *Table) {
	tb.Helper()
	geo, err := os.ReadFile(filepath.FromSlash(fixtureGeometry))
	if err != nil {
		tb.Fatal(err)
	}
	features, err := DecodeFeatures(geo, "counties")
	if err != nil {
		tb.Fatalf("DecodeFeatures() error = %v", err)
	}
	f, err := os.Open(filepath.FromSlash(fixtureTable))
	if err != nil {
		tb.Fatal(err)
	}
	defer f.Close()
	table, err := ParseTable(f)
	if err != nil {
		tb.Fatalf("ParseTable() error = %v", err)
	}
	return features, table
}

// joinFixture joins the fixture by county name.
func joinFixture(tb testing.TB) (*Entities, *JoinReport) {
	tb.Helper()
	features, table := loadFixture(tb)
	return Join(features, table, DefaultAttributes, DefaultGeometryKey, DefaultTableKey)
}

// square returns a closed lng/lat ring around (lng, lat).
func square(lng, lat, half float64) orb.Ring {
	return orb.Ring{
		{lng - half, lat - half},
		{lng + half, lat - half},
		{lng + half, lat + half},
		{lng - half, lat + half},
		{lng - half, lat - half},
	}
}

// entitiesOf builds joined entities directly from key/value pairs for attr.
// A NaN value is stored as present; use missing for absent values.
func entitiesOf(attr string, kv ...any) *Entities {
	ents := newEntities(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		e := &Entity{Key: kv[i].(string), Properties: map[string]any{}}
		if v, ok := kv[i+1].(float64); ok {
			e.values = map[string]float64{attr: v}
			e.Matched = true
		}
		ents.add(e)
	}
	return ents
}

// missing marks an absent value in entitiesOf.
var missing = struct{}{}
