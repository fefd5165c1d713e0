package registry

import "ticket_parser/internal/ticket"

// TraceResult contains trace information from a parser's attempt to parse a document.
type TraceResult struct {
	ParserName string        // Name of the parser.
	QuickCheck *QuickCheck   // QuickCheck result (nil for catch-all parsers).
	Formats    []FormatTrace // Row format match attempts (for grok-style parsers).
	Extractors []Extractor   // Field extractor results.
	Matched    bool          // Whether the parser produced a result.
}

// QuickCheck contains the result of a parser's quick check.
type QuickCheck struct {
	Passed bool
	Reason string
}

// FormatTrace contains debug information about a format match attempt.
type FormatTrace struct {
	Name     string
	Matched  bool
	Pattern  string
	Captures map[string]string
}

// Extractor contains debug information about a field extractor.
type Extractor struct {
	Name    string // e.g. "booking_ref", "waypoints".
	Matched bool
	Value   string
}

// Traceable is implemented by parsers that can explain why they did or
// didn't match a document.
type Traceable interface {
	ParseWithTrace(doc *ticket.Document) *TraceResult
}

// Trace runs every registered parser against doc and reports what each did.
// Parsers that are not Traceable get a trace built from QuickCheck and Parse.
func (r *Registry) Trace(doc *ticket.Document) []*TraceResult {
	r.mu.RLock()
	catchAll := make(map[string]bool, len(r.catchAll))
	for _, p := range r.catchAll {
		catchAll[p.Name()] = true
	}
	r.mu.RUnlock()

	var out []*TraceResult
	for _, p := range r.AllParsers() {
		if tp, ok := p.(Traceable); ok {
			out = append(out, tp.ParseWithTrace(doc))
			continue
		}
		tr := &TraceResult{ParserName: p.Name()}
		if !catchAll[p.Name()] {
			passed := p.QuickCheck(doc.Normalized)
			tr.QuickCheck = &QuickCheck{Passed: passed}
			if !passed {
				tr.QuickCheck.Reason = "keywords not found"
				out = append(out, tr)
				continue
			}
		}
		tr.Matched = p.Parse(doc) != nil
		out = append(out, tr)
	}
	return out
}
