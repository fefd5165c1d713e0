package patterns

import (
	"regexp"
	"sort"
	"strings"
)

// BuiltinCities maps lowercase city and airport names to IATA codes. It is the
// fallback layer behind names printed in the document itself.
var BuiltinCities = map[string]string{
	"johannesburg":       "JNB",
	"o.r. tambo":         "JNB",
	"or tambo":           "JNB",
	"lanseria":           "HLA",
	"cape town":          "CPT",
	"durban":             "DUR",
	"king shaka":         "DUR",
	"port elizabeth":     "PLZ",
	"gqeberha":           "PLZ",
	"east london":        "ELS",
	"george":             "GRJ",
	"bloemfontein":       "BFN",
	"kimberley":          "KIM",
	"nelspruit":          "MQP",
	"mbombela":           "MQP",
	"accra":              "ACC",
	"kotoka":             "ACC",
	"kumasi":             "KMS",
	"lagos":              "LOS",
	"abuja":              "ABV",
	"nairobi":            "NBO",
	"mombasa":            "MBA",
	"addis ababa":        "ADD",
	"kigali":             "KGL",
	"entebbe":            "EBB",
	"dar es salaam":      "DAR",
	"zanzibar":           "ZNZ",
	"kilimanjaro":        "JRO",
	"harare":             "HRE",
	"bulawayo":           "BUQ",
	"victoria falls":     "VFA",
	"lusaka":             "LUN",
	"livingstone":        "LVI",
	"windhoek":           "WDH",
	"walvis bay":         "WVB",
	"gaborone":           "GBE",
	"maun":               "MUB",
	"maputo":             "MPM",
	"mauritius":          "MRU",
	"luanda":             "LAD",
	"kinshasa":           "FIH",
	"dakar":              "DSS",
	"abidjan":            "ABJ",
	"douala":             "DLA",
	"cairo":              "CAI",
	"casablanca":         "CMN",
	"london":             "LHR",
	"heathrow":           "LHR",
	"gatwick":            "LGW",
	"manchester":         "MAN",
	"edinburgh":          "EDI",
	"dublin":             "DUB",
	"paris":              "CDG",
	"charles de gaulle":  "CDG",
	"amsterdam":          "AMS",
	"schiphol":           "AMS",
	"frankfurt":          "FRA",
	"munich":             "MUC",
	"zurich":             "ZRH",
	"geneva":             "GVA",
	"brussels":           "BRU",
	"madrid":             "MAD",
	"lisbon":             "LIS",
	"rome":               "FCO",
	"istanbul":           "IST",
	"dubai":              "DXB",
	"doha":               "DOH",
	"abu dhabi":          "AUH",
	"new york":           "JFK",
	"newark":             "EWR",
	"washington":         "IAD",
	"atlanta":            "ATL",
	"chicago":            "ORD",
	"miami":              "MIA",
	"boston":             "BOS",
	"los angeles":        "LAX",
	"toronto":            "YYZ",
	"sao paulo":          "GRU",
	"perth":              "PER",
	"sydney":             "SYD",
	"singapore":          "SIN",
	"hong kong":          "HKG",
	"mumbai":             "BOM",
	"delhi":              "DEL",
	"jeddah":             "JED",
	"tel aviv":           "TLV",
}

// LookupCity resolves an exact city or airport name against the built-in table.
func LookupCity(name string) (string, bool) {
	key := cleanCityKey(name)
	if key == "" {
		return "", false
	}
	code, ok := BuiltinCities[key]
	return code, ok
}

// SpacedCodes is the fixed set of airport codes repaired when OCR has
// letter-spaced them ("l h r").
var SpacedCodes = []string{
	"LHR", "LGW", "JNB", "CPT", "ACC", "DUR", "LOS", "NBO", "ADD",
	"DXB", "DOH", "JFK", "CDG", "AMS", "FRA", "HRE", "LUN", "WDH",
}

// CityMap maps lowercase city names and IATA codes to IATA codes.
type CityMap map[string]string

var cityIATAPattern = regexp.MustCompile(`(?m)(?:^|[ \t,:])((?i:[a-z][a-z .'\-]{0,48}?))[ \t]*\n?[ \t]*\(([A-Z]{3})\)`)

// BuildCityMap scans text for "<City> (<IATA>)" pairs. Names printed in the
// document win over the built-in table, which only fills absent keys.
func BuildCityMap(text string) CityMap {
	m := make(CityMap)
	for _, match := range cityIATAPattern.FindAllStringSubmatch(text, -1) {
		code := match[2]
		if !IsValidIATA(code) {
			continue
		}
		m[code] = code
		city := cleanCityKey(match[1])
		if len(city) < 2 {
			continue
		}
		if _, exists := m[city]; !exists {
			m[city] = code
		}
	}
	for city, code := range BuiltinCities {
		if _, exists := m[city]; !exists {
			m[city] = code
		}
	}
	return m
}

// Resolve finds the IATA code for a city-name guess. An exact key or code
// wins; otherwise the longest key contained in the guess (or containing it)
// is used. Short keys never match as substrings.
func (m CityMap) Resolve(guess string) (string, bool) {
	key := cleanCityKey(guess)
	if key == "" {
		return "", false
	}
	if code, ok := m[key]; ok {
		return code, true
	}
	for _, tok := range strings.Fields(strings.ToUpper(guess)) {
		tok = strings.Trim(tok, "(),.;:")
		if code, ok := m[tok]; ok && code == tok {
			return code, true
		}
	}

	var best, bestCode string
	for _, k := range m.sortedKeys() {
		if len(k) < 4 || strings.ToUpper(k) == k {
			continue
		}
		if strings.Contains(key, k) || (len(key) >= 4 && strings.Contains(k, key)) {
			if len(k) > len(best) {
				best, bestCode = k, m[k]
			}
		}
	}
	if best == "" {
		return "", false
	}
	return bestCode, true
}

// CityFor returns a display name for a code: the first lowercase key that maps to it.
func (m CityMap) CityFor(code string) string {
	for _, k := range m.sortedKeys() {
		if m[k] == code && strings.ToUpper(k) != k {
			return k
		}
	}
	return ""
}

func (m CityMap) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var cityNoise = regexp.MustCompile(`[^a-z .'\-]`)

func cleanCityKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, NextDayMarkerLower, "")
	s = cityNoise.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " .-'")
}

// NextDayMarkerLower is the lowercase form of NextDayMarker.
const NextDayMarkerLower = "next_day"
