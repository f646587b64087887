package choropleth

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestJoin_Fixture(t *testing.T) {
	ents, report := joinFixture(t)

	if ents.Len() != 13 {
		t.Fatalf("Len() = %d, want 13 (one entity per feature)", ents.Len())
	}
	if report.Rows != 12 || report.MatchedRows != 11 || report.MatchedEntities != 11 {
		t.Errorf("report = rows %d matched %d entities %d, want 12/11/11",
			report.Rows, report.MatchedRows, report.MatchedEntities)
	}
	wantRows := []UnmatchedRow{{Row: 11, Key: "Chipewa", Suggestion: "Chippewa"}}
	if !reflect.DeepEqual(report.UnmatchedRows, wantRows) {
		t.Errorf("UnmatchedRows = %+v, want %+v", report.UnmatchedRows, wantRows)
	}
	if want := []string{"Chippewa", "Cook"}; !reflect.DeepEqual(report.UnmatchedFeatures, want) {
		t.Errorf("UnmatchedFeatures = %v, want %v", report.UnmatchedFeatures, want)
	}
	if report.NonNumeric != 1 {
		t.Errorf("NonNumeric = %d, want 1", report.NonNumeric)
	}

	anoka, ok := ents.Get("Anoka")
	if !ok {
		t.Fatal("Anoka not found")
	}
	if v, ok := anoka.Value("1970 - 1980"); !ok || v != 60.1 {
		t.Errorf("Anoka 1970 - 1980 = %v, %v; want 60.1", v, ok)
	}

	bigStone, _ := ents.Get("Big Stone")
	v, ok := bigStone.Value("1970 - 1980")
	if !ok || !math.IsNaN(v) {
		t.Errorf("Big Stone n/a = %v, %v; want NaN, true", v, ok)
	}
	if v, _ := bigStone.Value("1980 - 1990"); v != 1 {
		t.Errorf("Big Stone 1980 - 1990 = %v, want 1", v)
	}

	chippewa, _ := ents.Get("Chippewa")
	if chippewa.Matched {
		t.Error("Chippewa should be unmatched")
	}
	if _, ok := chippewa.Value("1970 - 1980"); ok {
		t.Error("unmatched entity should have no value")
	}
	if !math.IsNaN(chippewa.Number("1970 - 1980")) {
		t.Error("Number() of absent value should be NaN")
	}
}

func TestJoin_DoesNotMutateInputs(t *testing.T) {
	features, table := loadFixture(t)
	before := len(features[0].Properties)
	firstRow := make(Row)
	for k, v := range table.Rows[0] {
		firstRow[k] = v
	}

	ents, _ := Join(features, table, DefaultAttributes, DefaultGeometryKey, DefaultTableKey)

	if len(features[0].Properties) != before {
		t.Errorf("feature properties changed: %d keys, want %d", len(features[0].Properties), before)
	}
	if !reflect.DeepEqual(table.Rows[0], firstRow) {
		t.Errorf("table row changed: %v", table.Rows[0])
	}
	ents.At(0).Properties["extra"] = true
	if _, ok := features[0].Properties["extra"]; ok {
		t.Error("entity properties alias feature properties")
	}
}

func TestJoin_Cases(t *testing.T) {
	feature := func(key any) Feature {
		return Feature{Properties: map[string]any{"k": key}}
	}
	tests := []struct {
		name     string
		features []Feature
		csv      string
		opts     []JoinOption
		key      string
		want     float64
		wantOK   bool
	}{
		{
			name:     "last row wins",
			features: []Feature{feature("A")},
			csv:      "k,v\nA,1\nA,2\n",
			key:      "A",
			want:     2,
			wantOK:   true,
		},
		{
			name:     "numeric property key",
			features: []Feature{feature(float64(27))},
			csv:      "k,v\n27,3.5\n",
			key:      "27",
			want:     3.5,
			wantOK:   true,
		},
		{
			name:     "case sensitive by default",
			features: []Feature{feature("Anoka")},
			csv:      "k,v\nANOKA,1\n",
			key:      "Anoka",
			wantOK:   false,
		},
		{
			name:     "whitespace is significant by default",
			features: []Feature{feature("Anoka")},
			csv:      "k,v\n Anoka,1\n",
			key:      "Anoka",
			wantOK:   false,
		},
		{
			name:     "fold normalizer",
			features: []Feature{feature("Anoka")},
			csv:      "k,v\n ANOKA ,1\n",
			opts:     []JoinOption{WithKeyNormalizer(NormalizeFold)},
			key:      "Anoka",
			want:     1,
			wantOK:   true,
		},
		{
			name:     "empty keys never match",
			features: []Feature{feature("")},
			csv:      "k,v\n,1\n",
			key:      "",
			wantOK:   false,
		},
		{
			name:     "trailing garbage is not a number",
			features: []Feature{feature("A")},
			csv:      "k,v\nA,12abc\n",
			key:      "A",
			want:     math.NaN(),
			wantOK:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseTable(strings.NewReader(tt.csv))
			if err != nil {
				t.Fatal(err)
			}
			ents, _ := Join(tt.features, table, []string{"v"}, "k", "k", tt.opts...)
			e, ok := ents.Get(tt.key)
			if !ok {
				t.Fatalf("entity %q not found", tt.key)
			}
			got, ok := e.Value("v")
			if ok != tt.wantOK {
				t.Fatalf("Value() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if math.IsNaN(tt.want) {
				if !math.IsNaN(got) {
					t.Errorf("Value() = %v, want NaN", got)
				}
			} else if got != tt.want {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJoin_LeadingSpaceReported(t *testing.T) {
	table, err := ParseTable(strings.NewReader("COUNTY,v\n Anoka,1\n"))
	if err != nil {
		t.Fatal(err)
	}
	features := []Feature{{Properties: map[string]any{"COUNTY_NAM": "Anoka"}}}
	ents, report := Join(features, table, []string{"v"}, DefaultGeometryKey, DefaultTableKey)
	if report.MatchedRows != 0 {
		t.Errorf("MatchedRows = %d, want 0", report.MatchedRows)
	}
	if len(report.UnmatchedRows) != 1 || report.UnmatchedRows[0].Key != " Anoka" {
		t.Fatalf("UnmatchedRows = %+v", report.UnmatchedRows)
	}
	if got := report.UnmatchedRows[0].Suggestion; got != "Anoka" {
		t.Errorf("Suggestion = %q, want Anoka", got)
	}
	e, ok := ents.Get("Anoka")
	if !ok {
		t.Fatal("entity Anoka not found")
	}
	if e.Matched {
		t.Error("Anoka matched a row keyed \" Anoka\"")
	}
}

func TestJoin_FIPS(t *testing.T) {
	features, table := loadFixture(t)
	_, report := Join(features, table, DefaultAttributes, "COUNTY_FIP", "COUNTYFP",
		WithKeyNormalizer(NormalizeFIPS))
	if report.MatchedRows != 12 {
		t.Errorf("MatchedRows = %d, want 12", report.MatchedRows)
	}
	if len(report.UnmatchedRows) != 0 {
		t.Errorf("UnmatchedRows = %+v, want none", report.UnmatchedRows)
	}
	if want := []string{"031"}; !reflect.DeepEqual(report.UnmatchedFeatures, want) {
		t.Errorf("UnmatchedFeatures = %v, want %v", report.UnmatchedFeatures, want)
	}
}

func TestJoin_NilTable(t *testing.T) {
	features, _ := loadFixture(t)
	ents, report := Join(features, nil, DefaultAttributes, DefaultGeometryKey, DefaultTableKey)
	if ents.Len() != len(features) {
		t.Errorf("Len() = %d, want %d", ents.Len(), len(features))
	}
	if len(report.UnmatchedFeatures) != len(features) {
		t.Errorf("UnmatchedFeatures = %d, want %d", len(report.UnmatchedFeatures), len(features))
	}
}

func TestSuggestKey(t *testing.T) {
	candidates := []string{"Big Stone", "Chippewa", "Cook"}
	tests := []struct {
		key  string
		want string
	}{
		{"Chipewa", "Chippewa"},
		{"BIG STONE", "Big Stone"},
		{"Cok", "Cook"},
		{"Hennepin", ""},
	}
	for _, tt := range tests {
		if got := suggestKey(tt.key, candidates); got != tt.want {
			t.Errorf("suggestKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestEntity_Shape(t *testing.T) {
	ents, _ := joinFixture(t)
	aitkin, _ := ents.Get("Aitkin")
	lat, lng, ok := aitkin.Centroid()
	if !ok {
		t.Fatal("Centroid() ok = false")
	}
	if math.Abs(lat-44.5) > 0.05 || math.Abs(lng+95.5) > 0.05 {
		t.Errorf("Centroid() = %v, %v; want about 44.5, -95.5", lat, lng)
	}
	// One degree square at 44.5N is about 111km x 79km.
	if a := aitkin.AreaKm2(); a < 8000 || a > 9500 {
		t.Errorf("AreaKm2() = %v", a)
	}

	cook, _ := ents.Get("Cook")
	if _, _, ok := cook.Centroid(); ok {
		t.Error("entity without geometry has a centroid")
	}
	if cook.Name("COUNTY_NAM") != "Cook" {
		t.Errorf("Name() = %q", cook.Name("COUNTY_NAM"))
	}
}

func TestEntities_MinValue(t *testing.T) {
	ents, _ := joinFixture(t)
	if got := ents.MinValue(DefaultAttributes); got != -5.7 {
		t.Errorf("MinValue() = %v, want -5.7", got)
	}
	if got := newEntities(0).MinValue(DefaultAttributes); !math.IsNaN(got) {
		t.Errorf("MinValue() of empty = %v, want NaN", got)
	}
}

func BenchmarkJoin(b *testing.B) {
	features, table := loadFixture(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Join(features, table, DefaultAttributes, DefaultGeometryKey, DefaultTableKey)
	}
}
