// Package generic implements the carrier-independent ticket pipeline:
// city map, waypoint detection, leg stitching and date inference over
// normalised text. It is registered as the catch-all parser.
package generic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ticket_parser/internal/dates"
	"ticket_parser/internal/normalize"
	"ticket_parser/internal/patterns"
	"ticket_parser/internal/registry"
	"ticket_parser/internal/ticket"
	"ticket_parser/internal/waypoint"
)

// ParserName is the registry name of the generic parser.
const ParserName = "generic"

// Parser runs the general waypoint pipeline.
type Parser struct{}

func init() {
	registry.RegisterCatchAll(&Parser{})
}

func (p *Parser) Name() string               { return ParserName }
func (p *Parser) Carriers() []string         { return nil }
func (p *Parser) Priority() int              { return 1000 }
func (p *Parser) QuickCheck(text string) bool { return strings.TrimSpace(text) != "" }

// Parse returns nil only when there is no text at all. An unproductive parse
// still yields a result so callers can see the diagnostics.
func (p *Parser) Parse(doc *ticket.Document) *registry.Result {
	text := Text(doc)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	t, diags := Build(text, doc.CarrierHint, doc.BaseDate)
	t.Raw = ticket.RawDocument{Text: doc.Text, HTML: doc.HTML}
	return &registry.Result{Parser: ParserName, Ticket: t, Diagnostics: diags}
}

// Text returns the document's normalised text, normalising on demand.
func Text(doc *ticket.Document) string {
	if doc.Normalized == "" && doc.Text != "" {
		doc.Normalized = normalize.Text(doc.Text)
	}
	return doc.Normalized
}

// Build runs every stage over normalised text.
func Build(text, carrierHint string, base time.Time) (*ticket.ParsedTicket, ticket.Diagnostics) {
	var diags ticket.Diagnostics

	cities := patterns.BuildCityMap(text)
	wps, d := waypoint.DetectDated(text, cities, base)
	diags.Merge(d)

	flights := patterns.ExtractFlightNumbers(text)
	durations := patterns.ExtractDurations(text)
	legs, d, err := waypoint.Stitch(wps, flights, durations)
	diags.Merge(d)
	if err != nil {
		diags.Warnf(ticket.StageStitch, "%v", err)
	}

	segs := waypoint.Segments(legs)
	waypoint.AttachCabins(segs, patterns.ExtractCabins(text), patterns.ExtractBookingClasses(text))

	t := &ticket.ParsedTicket{Segments: segs}
	FillFields(t, text)
	t.Carrier = Carrier(carrierHint, t.Segments, flights)

	if len(t.Segments) > 0 {
		// Chronology warnings are already mirrored into d.
		t.Segments, _, d = dates.Infer(t.Segments, dates.Options{BaseDate: base})
		diags.Merge(d)
	}
	return t, diags
}

// FillFields sets the non-segment fields from lexical extraction. Fields that
// are already set are kept.
func FillFields(t *ticket.ParsedTicket, text string) {
	if t.BookingRef == "" {
		t.BookingRef = patterns.ExtractBookingRef(text)
	}
	if t.AirlineLocator == "" {
		t.AirlineLocator = patterns.ExtractAirlineLocator(text)
	}
	if len(t.Passengers) == 0 {
		t.Passengers = patterns.ExtractPassengers(text)
	}
	if t.Baggage == "" {
		t.Baggage = patterns.ExtractBaggage(text)
	}
	if len(t.Payments) == 0 {
		t.Payments = patterns.ExtractPayments(text)
	}
	if t.FareDetails == nil {
		t.FareDetails = patterns.ExtractFareDetails(text)
	}
}

// Carrier picks the hint, else the prefix of the first flight number.
func Carrier(hint string, segs []ticket.Segment, flights []string) string {
	if hint != "" {
		return strings.ToUpper(hint)
	}
	for _, s := range segs {
		if c := patterns.CarrierPrefix(s.MarketingFlightNo); c != "" {
			return c
		}
	}
	for _, f := range flights {
		if c := patterns.CarrierPrefix(f); c != "" {
			return c
		}
	}
	return ""
}

// ParseWithTrace reports what each stage found.
func (p *Parser) ParseWithTrace(doc *ticket.Document) *registry.TraceResult {
	text := Text(doc)
	trace := &registry.TraceResult{ParserName: ParserName}
	if strings.TrimSpace(text) == "" {
		return trace
	}

	cities := patterns.BuildCityMap(text)
	wps, _ := waypoint.DetectDated(text, cities, doc.BaseDate)
	var wpDesc []string
	for _, w := range wps {
		s := w.Time + " " + w.Location
		if w.IsNextDay {
			s += "+1"
		}
		wpDesc = append(wpDesc, s)
	}
	flights := patterns.ExtractFlightNumbers(text)

	add := func(name, value string) {
		trace.Extractors = append(trace.Extractors, registry.Extractor{Name: name, Matched: value != "", Value: value})
	}
	add("booking_ref", patterns.ExtractBookingRef(text))
	add("flight_numbers", strings.Join(flights, ", "))
	add("waypoints", strings.Join(wpDesc, ", "))
	add("legs", pairs(len(wps)))

	var names []string
	for _, pax := range patterns.ExtractPassengers(text) {
		names = append(names, pax.FullName)
	}
	add("passengers", strings.Join(names, "; "))

	trace.Matched = p.Parse(doc) != nil
	return trace
}

func pairs(n int) string {
	if n < 2 {
		return ""
	}
	s := strconv.Itoa(n / 2)
	if n%2 != 0 {
		s += fmt.Sprintf(" (odd waypoint count %d)", n)
	}
	return s
}
