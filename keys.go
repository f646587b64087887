package choropleth

import (
	"math"
	"strconv"
	"strings"
	"sync"
)

// MinnesotaCounties maps three-digit county FIPS codes (state 27) to
// county names as spelled in the MN county boundary layer.
var MinnesotaCounties = map[string]string{
	"001": "Aitkin", "003": "Anoka", "005": "Becker", "007": "Beltrami",
	"009": "Benton", "011": "Big Stone", "013": "Blue Earth", "015": "Brown",
	"017": "Carlton", "019": "Carver", "021": "Cass", "023": "Chippewa",
	"025": "Chisago", "027": "Clay", "029": "Clearwater", "031": "Cook",
	"033": "Cottonwood", "035": "Crow Wing", "037": "Dakota", "039": "Dodge",
	"041": "Douglas", "043": "Faribault", "045": "Fillmore", "047": "Freeborn",
	"049": "Goodhue", "051": "Grant", "053": "Hennepin", "055": "Houston",
	"057": "Hubbard", "059": "Isanti", "061": "Itasca", "063": "Jackson",
	"065": "Kanabec", "067": "Kandiyohi", "069": "Kittson", "071": "Koochiching",
	"073": "Lac qui Parle", "075": "Lake", "077": "Lake of the Woods", "079": "Le Sueur",
	"081": "Lincoln", "083": "Lyon", "085": "McLeod", "087": "Mahnomen",
	"089": "Marshall", "091": "Martin", "093": "Meeker", "095": "Mille Lacs",
	"097": "Morrison", "099": "Mower", "101": "Murray", "103": "Nicollet",
	"105": "Nobles", "107": "Norman", "109": "Olmsted", "111": "Otter Tail",
	"113": "Pennington", "115": "Pine", "117": "Pipestone", "119": "Polk",
	"121": "Pope", "123": "Ramsey", "125": "Red Lake", "127": "Redwood",
	"129": "Renville", "131": "Rice", "133": "Rock", "135": "Roseau",
	"137": "St. Louis", "139": "Scott", "141": "Sherburne", "143": "Sibley",
	"145": "Stearns", "147": "Steele", "149": "Stevens", "151": "Swift",
	"153": "Todd", "155": "Traverse", "157": "Wabasha", "159": "Wadena",
	"161": "Waseca", "163": "Washington", "165": "Watonwan", "167": "Wilkin",
	"169": "Winona", "171": "Wright", "173": "Yellow Medicine",
}

// countyFIPSByName is the reverse of MinnesotaCounties, keyed by folded name.
// Built once on first use.
var countyFIPSByName = sync.OnceValue(func() map[string]string {
	m := make(map[string]string, len(MinnesotaCounties))
	for code, name := range MinnesotaCounties {
		m[NormalizeFold(name)] = code
	}
	return m
})

// CountyName returns the county name for a FIPS code, accepting unpadded
// codes ("1") and five-digit state+county codes ("27001").
func CountyName(fips string) string {
	return MinnesotaCounties[NormalizeFIPS(fips)]
}

// CountyFIPS returns the three-digit FIPS code for a county name,
// case-insensitively, or "" if the name is unknown.
func CountyFIPS(name string) string {
	return countyFIPSByName()[NormalizeFold(name)]
}

// NormalizeFold trims and lowercases a key. Use it with WithKeyNormalizer
// when the table and geometry disagree on capitalisation.
func NormalizeFold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeFIPS zero-pads numeric county codes to three digits and strips a
// two-digit state prefix from five-digit codes. Non-numeric keys are only
// trimmed.
func NormalizeFIPS(s string) string {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return s
	}
	if len(s) == 5 {
		n %= 1000
	}
	return leftPad(strconv.Itoa(n), 3)
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// propertyKey converts a property value into the string used for joining.
// Numbers are formatted without trailing zeros so a FIP stored as 27 in a
// topology matches "27" in a table.
func propertyKey(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}
