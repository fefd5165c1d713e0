// Package patterns provides shared regex patterns, reference tables and
// lexical extractors for airline ticket text.
package patterns

import (
	"regexp"
	"strings"
)

// Common regex patterns used across ticket parsers.
var (
	// IATAPattern matches a standalone three-letter airport code.
	IATAPattern = regexp.MustCompile(`\b[A-Z]{3}\b`)

	// ParenIATAPattern matches an airport code printed in parentheses: "(JNB)".
	ParenIATAPattern = regexp.MustCompile(`\(([A-Z]{3})\)`)

	// ClockPattern matches a normalised HH:MM time.
	ClockPattern = regexp.MustCompile(`\b([01]\d|2[0-3]):([0-5]\d)\b`)

	// TimeLinePattern opens a waypoint candidate: "20:30 Accra".
	TimeLinePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)(?:\s+(.*))?$`)

	// TerminalPattern matches "Terminal A", "Terminal 2", "TERMINAL B1".
	TerminalPattern = regexp.MustCompile(`(?i)\bterminal\s*:?\s*([A-Z0-9]{1,3})\b`)

	// NextDayMarker is the canonical token emitted by the normalizer.
	NextDayMarker = "NEXT_DAY"

	// FlightLabelPattern matches a labelled flight number: "Flight: SA 052", "Flight No. BA57".
	FlightLabelPattern = regexp.MustCompile(`(?i)\bflight(?:\s*(?:no\.?|number|#))?\s*[:\-]?\s*([A-Z][A-Z0-9]|[0-9][A-Z])\s?(\d{1,4}[A-Z]?)\b`)

	// FlightTokenPattern matches an unlabelled flight number: "SA052", "SA 052", "4Z 123".
	FlightTokenPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]|[0-9][A-Z])(\s?)(\d{1,4})\b`)

	// FlightNumberShape validates a flight number once extracted.
	FlightNumberShape = regexp.MustCompile(`^([A-Z][A-Z0-9]|[0-9][A-Z])\d{1,4}[A-Z]?$`)

	// DurationPattern matches "7h 55m", "7hr 55min", "Duration: 07:55", "10h".
	DurationPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:hours?|hrs|hr|h)\b\s*(?:(\d{1,2})\s*(?:minutes?|mins|min|m)\b)?`)

	// LabelledDurationClockPattern matches "Duration: 07:55".
	LabelledDurationClockPattern = regexp.MustCompile(`(?i)\b(?:duration|flight\s*time|travel\s*time)\s*[:\-]?\s*(\d{1,2}):(\d{2})\b`)

	// BookingRefPattern matches labelled booking references.
	BookingRefPattern = regexp.MustCompile(`(?i)\b(?:booking\s*(?:ref(?:erence)?|code|number)|PNR|record\s*locator|reservation\s*(?:code|number|ref(?:erence)?)|confirmation\s*(?:number|code)|booking)\s*(?:no\.?|number|#)?\s*[:\-]?\s*([A-Z0-9]{5,8})\b`)

	// AirlineLocatorPattern matches an airline-issued locator distinct from the agency PNR.
	AirlineLocatorPattern = regexp.MustCompile(`(?i)\bairline\s*(?:ref(?:erence)?|locator|booking\s*ref(?:erence)?|pnr)\s*[:\-]?\s*([A-Z0-9]{5,8})\b`)

	// TicketNumberPattern matches 13-digit e-ticket numbers: "083-2401234567", "0832401234567".
	TicketNumberPattern = regexp.MustCompile(`\b(\d{3})[- ]?(\d{10})\b`)

	// SlashNamePattern matches GDS-style names: "SMITH/JOHN MR".
	SlashNamePattern = regexp.MustCompile(`\b([A-Z][A-Z'\-]+)/([A-Z][A-Z'\-]+(?: [A-Z][A-Z'\-]+){0,3})\b`)

	// LabelledNamePattern matches "Passenger: MR JOHN SMITH" and "Name: Jane Doe".
	LabelledNamePattern = regexp.MustCompile(`(?i)\b(?:passenger(?:\s*name)?|traveller(?:\s*name)?|traveler(?:\s*name)?|name)\s*[:\-]\s*([A-Za-z][A-Za-z'\-/ ]{2,60})`)

	// PaxTypePattern matches a passenger type code.
	PaxTypePattern = regexp.MustCompile(`\b(ADT|CHD|CNN|INF|YTH)\b`)

	// BaggagePattern matches a baggage allowance line.
	BaggagePattern = regexp.MustCompile(`(?i)\b(?:checked\s*)?(?:baggage|bag(?:s|gage)?)(?:\s*allowance)?\s*[:\-]\s*([^\n]{1,40})`)

	// TotalPattern matches a payment total with currency.
	TotalPattern = regexp.MustCompile(`(?i)\b(?:grand\s*total|total\s*(?:paid|amount|fare)?|amount\s*(?:paid|charged))\s*[:\-]?\s*([A-Z]{3})\s*([\d,]+(?:\.\d{2})?)`)

	// CardPattern matches a card payment with trailing four digits.
	CardPattern = regexp.MustCompile(`(?i)\b(visa|mastercard|master\s*card|amex|american\s*express|diners)\b[^\n\d]{0,24}(\d{4})\b`)

	// FareBasisPattern matches "Fare basis: YOWZA".
	FareBasisPattern = regexp.MustCompile(`(?i)\bfare\s*basis\s*(?:code)?\s*[:\-]?\s*([A-Z0-9]{3,10})\b`)

	// FareNotePattern matches common fare restriction phrases.
	FareNotePattern = regexp.MustCompile(`(?i)\b(non[- ]?refundable|refundable|non[- ]?changeable|changes?\s+permitted|change\s+fee\s+applies|no[- ]?show\s+fee\s+applies|non[- ]?endorsable)\b`)

	// CabinPattern matches cabin names.
	CabinPattern = regexp.MustCompile(`(?i)\b(premium\s+economy|world\s+traveller\s+plus|world\s+traveller|euro\s+traveller|club\s+world|club\s+europe|economy|business|first\s+class)(?:\s+class)?\b`)

	// BookingClassPattern matches a single-letter booking class.
	BookingClassPattern = regexp.MustCompile(`(?i)\b(?:booking\s*)?class\s*[:\-]?\s*([A-Z])\b`)
)

// Date patterns recognised by ExtractDates.
var (
	ISODatePattern     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	SlashDatePattern   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	LongDatePattern    = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
	MonthFirstPattern  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	CompactDatePattern = regexp.MustCompile(`\b(\d{2})(JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)(\d{2})?\b`)
)

// MonthNames maps three-letter month abbreviations to month numbers.
var MonthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

// IATABlocklist contains three-letter uppercase words that look like airport
// codes but appear in ticket boilerplate.
var IATABlocklist = map[string]bool{
	"THE": true, "AND": true, "FOR": true, "YOU": true, "ARE": true,
	"NOT": true, "PER": true, "PAX": true, "ADT": true, "CHD": true,
	"INF": true, "MRS": true, "ETA": true, "ETD": true,
	"NEW": true, "OLD": true, "TAX": true, "FEE": true, "VAT": true,
	"USD": true, "EUR": true, "GBP": true, "ZAR": true, "GHS": true,
	"NGN": true, "KES": true, "OUT": true, "RET": true, "DEP": true,
	"ARR": true, "REF": true, "PNR": true, "NON": true, "YES": true,
	"AIR": true, "BAG": true, "ALL": true, "VIA": true, "WAY": true,
}

// IsValidIATA reports whether code looks like an airport code and is not a
// boilerplate word.
func IsValidIATA(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return !IATABlocklist[code]
}

// CarrierNames maps two-character airline designators to airline names.
var CarrierNames = map[string]string{
	"SA": "South African Airways",
	"BA": "British Airways",
	"KQ": "Kenya Airways",
	"ET": "Ethiopian Airlines",
	"EK": "Emirates",
	"QR": "Qatar Airways",
	"EY": "Etihad Airways",
	"LH": "Lufthansa",
	"AF": "Air France",
	"KL": "KLM",
	"TK": "Turkish Airlines",
	"VS": "Virgin Atlantic",
	"AA": "American Airlines",
	"UA": "United Airlines",
	"DL": "Delta Air Lines",
	"4Z": "Airlink",
	"FA": "FlySafair",
	"MN": "Kulula",
	"WB": "RwandAir",
	"KP": "ASKY Airlines",
	"AT": "Royal Air Maroc",
	"MS": "EgyptAir",
	"TP": "TAP Air Portugal",
	"LX": "Swiss",
	"OS": "Austrian Airlines",
	"SN": "Brussels Airlines",
	"QF": "Qantas",
	"SQ": "Singapore Airlines",
	"CX": "Cathay Pacific",
	"AW": "Africa World Airlines",
	"P4": "Air Peace",
	"W3": "Arik Air",
	"TC": "Air Tanzania",
	"UR": "Uganda Airlines",
	"UM": "Air Zimbabwe",
	"TM": "LAM Mozambique",
	"MK": "Air Mauritius",
	"HM": "Air Seychelles",
	"EW": "Eurowings",
	"U2": "easyJet",
	"FR": "Ryanair",
}

// IsKnownCarrier reports whether code is in the carrier table.
func IsKnownCarrier(code string) bool {
	_, ok := CarrierNames[strings.ToUpper(code)]
	return ok
}

// CarrierPrefix returns the two-character designator of a flight number.
func CarrierPrefix(flightNo string) string {
	flightNo = strings.ToUpper(strings.ReplaceAll(flightNo, " ", ""))
	if !FlightNumberShape.MatchString(flightNo) {
		return ""
	}
	return flightNo[:2]
}

// NameBlacklist holds phrases that are never passenger names.
var NameBlacklist = []string{
	"BAGGAGE ALLOWANCE",
	"BOOKING REFERENCE",
	"BOOKING REF",
	"E-TICKET",
	"ETICKET",
	"ELECTRONIC TICKET",
	"TICKET NUMBER",
	"PASSENGER NAME",
	"PASSENGER TYPE",
	"FLIGHT DETAILS",
	"FLIGHT NUMBER",
	"DEPARTURE",
	"ARRIVAL",
	"TERMINAL",
	"ITINERARY",
	"RECEIPT",
	"ECONOMY",
	"BUSINESS",
	"CHECK IN",
	"CHECK-IN",
	"FARE BASIS",
	"FARE DETAILS",
	"PAYMENT",
	"TOTAL",
	"CONFIRMED",
	"OPERATED BY",
	"SEAT",
	"CABIN",
	"TRAVEL INFORMATION",
	"IMPORTANT",
	"NOT VALID",
}

// IsBlacklistedName reports whether name contains a known non-name phrase.
func IsBlacklistedName(name string) bool {
	upper := strings.ToUpper(name)
	for _, phrase := range NameBlacklist {
		if strings.Contains(upper, phrase) {
			return true
		}
	}
	return false
}

// Titles recognised in passenger names.
var Titles = map[string]bool{
	"MR": true, "MRS": true, "MS": true, "MISS": true, "MSTR": true,
	"DR": true, "PROF": true, "MX": true,
}

// Tokenize splits text into whitespace-separated tokens.
func Tokenize(text string) []string {
	return strings.Fields(text)
}
