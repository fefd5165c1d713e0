// Package saa is the fast path for South African Airways itineraries that
// print one row per flight. Documents without such rows are left to the
// generic parser.
package saa

import (
	"strings"
	"sync"

	"ticket_parser/internal/dates"
	"ticket_parser/internal/parsers/generic"
	"ticket_parser/internal/patterns"
	"ticket_parser/internal/registry"
	"ticket_parser/internal/ticket"
)

// ParserName is the registry name of this parser.
const ParserName = "saa"

// Parser parses SAA itinerary rows.
type Parser struct{}

// Grok compiler singleton.
var (
	grokCompiler *patterns.Compiler
	grokOnce     sync.Once
	grokErr      error
)

// getCompiler returns the singleton grok compiler.
func getCompiler() (*patterns.Compiler, error) {
	grokOnce.Do(func() {
		grokCompiler = patterns.NewCompiler(Formats, nil)
		grokErr = grokCompiler.Compile()
	})
	return grokCompiler, grokErr
}

func init() {
	registry.Register(&Parser{})
}

func (p *Parser) Name() string       { return ParserName }
func (p *Parser) Carriers() []string { return []string{"SA"} }
func (p *Parser) Priority() int      { return 10 }

func (p *Parser) QuickCheck(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "SOUTH AFRICAN AIRWAYS") ||
		strings.Contains(upper, "FLYSAA") ||
		strings.Contains(upper, "SAA VOYAGER")
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
	t := &ticket.ParsedTicket{Carrier: "SA"}
	for _, row := range rows {
		t.Segments = append(t.Segments, segmentFromRow(row.Match, cities, doc, &diags))
	}
	generic.FillFields(t, text)
	t.Raw = ticket.RawDocument{Text: doc.Text, HTML: doc.HTML}

	var d ticket.Diagnostics
	t.Segments, _, d = dates.Infer(t.Segments, dates.Options{BaseDate: doc.BaseDate})
	diags.Merge(d)

	diags.Infof(ticket.StageCarrier, "%d SAA rows", len(rows))
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
	if d, ok := patterns.ParseDate(m.GetCapture("date", ""), doc.BaseDate); ok {
		seg.Dep.Date = d
		seg.Dep.DateSource = ticket.DateExplicit
	} else {
		diags.Warnf(ticket.StageCarrier, "%s: unreadable date %q", flight, m.GetCapture("date", ""))
	}
	return seg
}

// ParseWithTrace reports which row formats matched.
func (p *Parser) ParseWithTrace(doc *ticket.Document) *registry.TraceResult {
	text := generic.Text(doc)
	trace := &registry.TraceResult{
		ParserName: ParserName,
		QuickCheck: &registry.QuickCheck{Passed: p.QuickCheck(text)},
	}
	if !trace.QuickCheck.Passed {
		trace.QuickCheck.Reason = "no SAA branding"
	}

	compiler, err := getCompiler()
	if err != nil {
		return trace
	}
	for _, line := range strings.Split(text, "\n") {
		pt := compiler.ParseWithTrace(line)
		if pt.Match == nil {
			continue
		}
		for _, ft := range pt.Formats {
			if ft.Matched {
				trace.Formats = append(trace.Formats, registry.FormatTrace{
					Name:     ft.Name,
					Matched:  true,
					Pattern:  ft.Pattern,
					Captures: ft.Captures,
				})
				break
			}
		}
	}
	trace.Matched = p.Parse(doc) != nil
	return trace
}
