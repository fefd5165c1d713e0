package itinerary

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Cabin values in the external itinerary.
const (
	CabinEconomy        = "ECONOMY"
	CabinPremiumEconomy = "PREMIUM_ECONOMY"
	CabinBusiness       = "BUSINESS"
	CabinFirst          = "FIRST"
)

// carrierCabins holds marketing cabin names keyed by carrier, then by
// lower-cased name with any trailing "class" removed.
var carrierCabins = map[string]map[string]string{
	"BA": {
		"world traveller":      CabinEconomy,
		"euro traveller":       CabinEconomy,
		"world traveller plus": CabinPremiumEconomy,
		"club world":           CabinBusiness,
		"club europe":          CabinBusiness,
		"club suite":           CabinBusiness,
		"first":                CabinFirst,
	},
	"SA": {
		"classic":        CabinEconomy,
		"premium":        CabinBusiness,
		"economy saver":  CabinEconomy,
		"business saver": CabinBusiness,
	},
	"EK": {
		"economy":         CabinEconomy,
		"premium economy": CabinPremiumEconomy,
		"business":        CabinBusiness,
		"first":           CabinFirst,
	},
	"VS": {
		"economy light":   CabinEconomy,
		"economy classic": CabinEconomy,
		"premium":         CabinPremiumEconomy,
		"upper":           CabinBusiness,
	},
}

var genericCabins = map[string]string{
	"economy":         CabinEconomy,
	"coach":           CabinEconomy,
	"main cabin":      CabinEconomy,
	"tourist":         CabinEconomy,
	"premium economy": CabinPremiumEconomy,
	"business":        CabinBusiness,
	"first":           CabinFirst,
}

var cabinSpace = regexp.MustCompile(`\s+`)

func cabinKey(raw string) string {
	k := strings.ToLower(strings.TrimSpace(cabinSpace.ReplaceAllString(raw, " ")))
	return strings.TrimSpace(strings.TrimSuffix(k, " class"))
}

// MapCabin maps a printed cabin name to ECONOMY, PREMIUM_ECONOMY, BUSINESS
// or FIRST. The carrier's own table wins over the generic one; unmapped
// names are returned unchanged.
func MapCabin(carrier, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	key := cabinKey(raw)
	if table, ok := carrierCabins[strings.ToUpper(carrier)]; ok {
		if c, ok := table[key]; ok {
			return c
		}
	}
	if c, ok := genericCabins[key]; ok {
		return c
	}
	return raw
}

var (
	bagCountWeight = regexp.MustCompile(`(?i)^\s*(\d{1,2})\s*(?:x|×|\*|pcs?\s*(?:x|×|of|@)?|pieces?\s*(?:x|×|of|@)?)\s*(\d{1,3})\s*kgs?\s*$`)
	bagWeightCount = regexp.MustCompile(`(?i)^\s*(\d{1,3})\s*kgs?\s*(?:x|×|\*)\s*(\d{1,2})\s*$`)
	bagWeightOnly  = regexp.MustCompile(`(?i)^\s*(\d{1,3})\s*kgs?\s*$`)
)

// CanonicalBaggage rewrites "2 x 23kg", "2PC 23KG", "23kg x 2" and a bare
// "23kg" to "<count> × <weight>kg". Anything else is returned unchanged.
func CanonicalBaggage(raw string) string {
	if m := bagCountWeight.FindStringSubmatch(raw); m != nil {
		return bagString(m[1], m[2])
	}
	if m := bagWeightCount.FindStringSubmatch(raw); m != nil {
		return bagString(m[2], m[1])
	}
	if m := bagWeightOnly.FindStringSubmatch(raw); m != nil {
		return bagString("1", m[1])
	}
	return raw
}

func bagString(count, weight string) string {
	n, _ := strconv.Atoi(count)
	w, _ := strconv.Atoi(weight)
	return fmt.Sprintf("%d × %dkg", n, w)
}
