// Package gds parses itineraries issued by travel agencies, which print a
// numbered segment table regardless of the operating carrier.
package gds

import (
	"regexp"
	"strings"
	"sync"

	"ticket_parser/internal/dates"
	"ticket_parser/internal/parsers/generic"
	"ticket_parser/internal/patterns"
	"ticket_parser/internal/registry"
	"ticket_parser/internal/ticket"
)

// ParserName is the registry name of this parser.
const ParserName = "gds"

// Parser parses agency segment tables.
type Parser struct{}

var (
	grokCompiler *patterns.Compiler
	grokOnce     sync.Once
	grokErr      error
)

func getCompiler() (*patterns.Compiler, error) {
	grokOnce.Do(func() {
		grokCompiler = patterns.NewCompiler(Formats, nil)
		grokErr = grokCompiler.Compile()
	})
	return grokCompiler, grokErr
}

// Agency name layout: "Last Name: SMITH - First Name: JOHN".
var (
	agencyNamePattern  = regexp.MustCompile(`(?im)last\s*name\s*:\s*([A-Za-z'\- ]+?)\s*-\s*first\s*name\s*:\s*([A-Za-z'\- ]+?)(?:\s*-|\s*$)`)
	airlinesPnrPattern = regexp.MustCompile(`(?i)\bairlines?\s+pnr\s*:\s*(?:[A-Z0-9]{2}/)?([A-Z0-9]{5,8})\b`)
	providerPnrPattern = regexp.MustCompile(`(?i)\bprovider\s+pnr\s*:\s*([A-Z0-9]{5,8})\b`)
)

func init() {
	registry.Register(&Parser{})
}

func (p *Parser) Name() string       { return ParserName }
func (p *Parser) Carriers() []string { return nil }
func (p *Parser) Priority() int      { return 50 }

func (p *Parser) QuickCheck(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "PNR") ||
		strings.Contains(upper, "SEGMENT") ||
		strings.Contains(upper, "HK1") ||
		strings.Contains(upper, "STATUS")
}

func (p *Parser) Parse(doc *ticket.Document) *registry.Result {
	text := generic.Text(doc)
	if text == "" {
		return nil
	}
	compiler, err := getCompiler()
	if err != nil {
		return nil
	}

	rows := patterns.NonOverlapping(compiler.FindAll(text))
	if len(rows) == 0 {
		return nil
	}

	var diags ticket.Diagnostics
	cities := patterns.BuildCityMap(text)
	t := &ticket.ParsedTicket{}
	for _, row := range rows {
		seg := segmentFromRow(row.Match, cities, doc, &diags)
		if status := row.GetCapture("status", ""); status != "" && status != "HK" && status != "OK" && status != "CONFIRMED" && status != "KK" {
			diags.Warnf(ticket.StageCarrier, "segment %s %s status %s", row.GetCapture("seg", "?"), seg.MarketingFlightNo, status)
		}
		t.Segments = append(t.Segments, seg)
	}

	if m := providerPnrPattern.FindStringSubmatch(text); m != nil {
		t.BookingRef = strings.ToUpper(m[1])
	}
	if m := airlinesPnrPattern.FindStringSubmatch(text); m != nil {
		t.AirlineLocator = strings.ToUpper(m[1])
	}
	t.Passengers = agencyPassengers(text)
	generic.FillFields(t, text)
	t.Carrier = generic.Carrier(doc.CarrierHint, t.Segments, nil)
	t.Raw = ticket.RawDocument{Text: doc.Text, HTML: doc.HTML}

	var d ticket.Diagnostics
	t.Segments, _, d = dates.Infer(t.Segments, dates.Options{BaseDate: doc.BaseDate})
	diags.Merge(d)

	return &registry.Result{Parser: ParserName, Ticket: t, Diagnostics: diags}
}

func segmentFromRow(m patterns.Match, cities patterns.CityMap, doc *ticket.Document, diags *ticket.Diagnostics) ticket.Segment {
	flight := strings.ReplaceAll(m.GetCapture("flight", ""), " ", "")
	seg := ticket.Segment{
		MarketingFlightNo: flight,
		BookingClass:      m.GetCapture("rbd", ""),
		Dep: ticket.Endpoint{
			IATA:      m.GetCapture("orig", ""),
			City:      cities.CityFor(m.GetCapture("orig", "")),
			TimeLocal: m.GetCapture("dep", ""),
		},
		Arr: ticket.Endpoint{
			IATA:      m.GetCapture("dest", ""),
			City:      cities.CityFor(m.GetCapture("dest", "")),
			TimeLocal: m.GetCapture("arr", ""),
			NextDay:   m.GetCapture("nextday", "") != "",
		},
	}
	for _, e := range []struct {
		capture string
		ep      *ticket.Endpoint
	}{{"depdate", &seg.Dep}, {"arrdate", &seg.Arr}} {
		raw := m.GetCapture(e.capture, "")
		if raw == "" {
			continue
		}
		if d, ok := patterns.ParseDate(raw, doc.BaseDate); ok {
			e.ep.Date = d
			e.ep.DateSource = ticket.DateExplicit
		} else {
			diags.Warnf(ticket.StageCarrier, "%s: unreadable date %q", flight, raw)
		}
	}
	return seg
}

func agencyPassengers(text string) []ticket.Passenger {
	var out []ticket.Passenger
	for _, m := range agencyNamePattern.FindAllStringSubmatch(text, -1) {
		surname := strings.ToUpper(strings.TrimSpace(m[1]))
		given := strings.ToUpper(strings.TrimSpace(m[2]))
		out = append(out, ticket.Passenger{
			FullName:  given + " " + surname,
			GivenName: given,
			Surname:   surname,
		})
	}
	return out
}
