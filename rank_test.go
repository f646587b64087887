package choropleth

import (
	"math"
	"reflect"
	"testing"
)

func keysOf(es []*Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}

func TestTopAndBottom(t *testing.T) {
	tests := []struct {
		name string
		ents *Entities
		n    int
		want []string
	}{
		{
			name: "one from each end",
			ents: entitiesOf("v", "A", -5.0, "B", 10.0, "C", 3.0),
			n:    1,
			want: []string{"A", "B"},
		},
		{
			name: "fewer than 2n returns all once",
			ents: entitiesOf("v", "A", -5.0, "B", 10.0, "C", 3.0),
			n:    2,
			want: []string{"A", "C", "B"},
		},
		{
			name: "NaN and missing are not ranked",
			ents: entitiesOf("v", "A", 1.0, "B", math.NaN(), "C", missing, "D", 2.0),
			n:    5,
			want: []string{"A", "D"},
		},
		{
			name: "ties ordered by key",
			ents: entitiesOf("v", "B", 1.0, "A", 1.0, "C", 0.0, "D", 9.0, "E", 8.0),
			n:    2,
			want: []string{"C", "B", "E", "D"},
		},
		{
			name: "zero size",
			ents: entitiesOf("v", "A", 1.0),
			n:    0,
			want: []string{},
		},
		{
			name: "negative size",
			ents: entitiesOf("v", "A", 1.0),
			n:    -1,
			want: []string{},
		},
		{
			name: "empty",
			ents: entitiesOf("v"),
			n:    5,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keysOf(TopAndBottom(tt.ents.All(), "v", tt.n))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TopAndBottom() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopAndBottom_Fixture(t *testing.T) {
	ents, _ := joinFixture(t)
	tests := []struct {
		n    int
		want []string
	}{
		{5, []string{"Brown", "Carlton", "Becker", "Blue Earth", "Aitkin",
			"Benton", "Cass", "Beltrami", "Carver", "Anoka"}},
		{3, []string{"Brown", "Carlton", "Becker", "Beltrami", "Carver", "Anoka"}},
	}
	for _, tt := range tests {
		got := keysOf(TopAndBottom(ents.All(), "1970 - 1980", tt.n))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TopAndBottom(n=%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestTopAndBottom_InputUntouched(t *testing.T) {
	ents := entitiesOf("v", "A", 3.0, "B", 1.0, "C", 2.0)
	all := ents.All()
	TopAndBottom(all, "v", 1)
	if got := keysOf(all); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("input reordered: %v", got)
	}
}
