// Package quality scores parsed tickets and decides whether a deterministic
// result is good enough to return without generative extraction.
package quality

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"ticket_parser/internal/patterns"
	"ticket_parser/internal/ticket"
)

// Score weights. Critical fields dominate; the optional bonus is small.
const (
	WeightBookingRef       = 25.0
	WeightPassengers       = 20.0
	WeightSegments         = 25.0
	WeightPassengerQuality = 10.0
	WeightSegmentShape     = 15.0
	WeightBaggage          = 2.0
	WeightPayments         = 2.0
	WeightFareNotes        = 1.0

	MaxScore = WeightBookingRef + WeightPassengers + WeightSegments +
		WeightPassengerQuality + WeightSegmentShape +
		WeightBaggage + WeightPayments + WeightFareNotes
)

// MinBookingRefLen is the shortest booking reference that earns credit.
const MinBookingRefLen = 5

// Plausible-name bounds.
const (
	minNameTokens = 2
	maxNameTokens = 4
	minVowelRatio = 0.15
	maxVowelRatio = 0.80
)

// Breakdown is a score with its components.
type Breakdown struct {
	BookingRef       float64 `json:"booking_ref"`
	Passengers       float64 `json:"passengers"`
	Segments         float64 `json:"segments"`
	PassengerQuality float64 `json:"passenger_quality"`
	SegmentShape     float64 `json:"segment_shape"`
	Optional         float64 `json:"optional"`
	Total            float64 `json:"total"`
}

func (b Breakdown) String() string {
	return fmt.Sprintf("%.1f (ref %.0f pax %.0f seg %.0f names %.1f shape %.1f opt %.0f)",
		b.Total, b.BookingRef, b.Passengers, b.Segments, b.PassengerQuality, b.SegmentShape, b.Optional)
}

// Score rates t on a 0-100 scale. It is pure and deterministic.
func Score(t *ticket.ParsedTicket) Breakdown {
	var b Breakdown
	if t == nil {
		return b
	}

	if len(strings.TrimSpace(t.BookingRef)) >= MinBookingRefLen {
		b.BookingRef = WeightBookingRef
	}
	if len(t.Passengers) > 0 {
		b.Passengers = WeightPassengers
		b.PassengerQuality = WeightPassengerQuality * fraction(len(t.Passengers), func(i int) bool {
			return PlausibleName(t.Passengers[i].FullName)
		})
	}
	if len(t.Segments) > 0 {
		b.Segments = WeightSegments
		b.SegmentShape = WeightSegmentShape * fraction(len(t.Segments), func(i int) bool {
			return wellShaped(t.Segments[i])
		})
	}

	if strings.TrimSpace(t.Baggage) != "" {
		b.Optional += WeightBaggage
	}
	if len(t.Payments) > 0 {
		b.Optional += WeightPayments
	}
	if t.FareDetails != nil && (t.FareDetails.FareBasis != "" || len(t.FareDetails.Notes) > 0) {
		b.Optional += WeightFareNotes
	}

	b.Total = b.BookingRef + b.Passengers + b.Segments + b.PassengerQuality + b.SegmentShape + b.Optional
	b.Total = math.Round(b.Total*10) / 10
	return b
}

func fraction(n int, ok func(int) bool) float64 {
	good := 0
	for i := 0; i < n; i++ {
		if ok(i) {
			good++
		}
	}
	return float64(good) / float64(n)
}

func wellShaped(s ticket.Segment) bool {
	fn := strings.ToUpper(strings.ReplaceAll(s.MarketingFlightNo, " ", ""))
	return patterns.FlightNumberShape.MatchString(fn) &&
		patterns.IsValidIATA(s.Dep.IATA) && patterns.IsValidIATA(s.Arr.IATA)
}

// PlausibleName reports whether name looks like a person: two to four
// alphabetic tokens after titles are removed, a sane vowel share, and no
// blacklisted phrase.
func PlausibleName(name string) bool {
	if strings.TrimSpace(name) == "" || patterns.IsBlacklistedName(name) {
		return false
	}
	var tokens []string
	for _, tok := range strings.Fields(strings.ReplaceAll(name, "/", " ")) {
		if patterns.Titles[strings.ToUpper(strings.Trim(tok, "."))] {
			continue
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) < minNameTokens || len(tokens) > maxNameTokens {
		return false
	}

	letters, vowels := 0, 0
	for _, tok := range tokens {
		for _, r := range tok {
			switch {
			case unicode.IsLetter(r):
				letters++
				if strings.ContainsRune("AEIOUYaeiouy", r) {
					vowels++
				}
			case r == '-' || r == '\'':
			default:
				return false
			}
		}
	}
	if letters == 0 {
		return false
	}
	ratio := float64(vowels) / float64(letters)
	return ratio >= minVowelRatio && ratio <= maxVowelRatio
}

// Field names reported by MissingFields.
const (
	FieldBookingRef     = "booking_ref"
	FieldPassengers     = "passengers"
	FieldPassengerNames = "passenger_names"
	FieldSegments       = "segments"
	FieldFlightNumbers  = "flight_numbers"
	FieldAirports       = "airports"
	FieldSegmentDates   = "segment_dates"
)

// MissingFields lists the critical fields that are absent or malformed, in a
// stable order. An empty result means nothing needs enhancing.
func MissingFields(t *ticket.ParsedTicket) []string {
	if t == nil {
		return []string{FieldBookingRef, FieldPassengers, FieldSegments}
	}
	var out []string
	if len(strings.TrimSpace(t.BookingRef)) < MinBookingRefLen {
		out = append(out, FieldBookingRef)
	}
	if len(t.Passengers) == 0 {
		out = append(out, FieldPassengers)
	} else {
		for _, p := range t.Passengers {
			if !PlausibleName(p.FullName) {
				out = append(out, FieldPassengerNames)
				break
			}
		}
	}
	if len(t.Segments) == 0 {
		return append(out, FieldSegments)
	}

	var badFlight, badAirport, badDate bool
	for _, s := range t.Segments {
		fn := strings.ToUpper(strings.ReplaceAll(s.MarketingFlightNo, " ", ""))
		if !patterns.FlightNumberShape.MatchString(fn) {
			badFlight = true
		}
		if !patterns.IsValidIATA(s.Dep.IATA) || !patterns.IsValidIATA(s.Arr.IATA) {
			badAirport = true
		}
		if !s.Dep.HasDate() || s.Dep.DateSource == ticket.DateFallback {
			badDate = true
		}
	}
	if badFlight {
		out = append(out, FieldFlightNumbers)
	}
	if badAirport {
		out = append(out, FieldAirports)
	}
	if badDate {
		out = append(out, FieldSegmentDates)
	}
	return out
}
