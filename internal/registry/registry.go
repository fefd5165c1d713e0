// Package registry provides a carrier parser registry for dispatching
// ticket documents to appropriate parsers.
package registry

import (
	"sort"
	"strings"
	"sync"

	"ticket_parser/internal/ticket"
)

// Result is what a parser produces for one document.
type Result struct {
	Parser      string               `json:"parser"`
	Ticket      *ticket.ParsedTicket `json:"ticket"`
	Diagnostics ticket.Diagnostics   `json:"diagnostics,omitempty"`
}

// Parser is implemented by each ticket parser.
type Parser interface {
	// Name returns the parser's unique identifier.
	Name() string

	// Carriers returns the two-character carrier codes this parser handles.
	// Empty slice means "any carrier" (layout-based parser like GDS tables).
	Carriers() []string

	// QuickCheck performs a fast string check before expensive regex.
	// Returns true if the document MIGHT be parseable (false = definitely skip).
	// This should use strings.Contains/HasPrefix, NOT regex.
	QuickCheck(text string) bool

	// Priority determines order when multiple parsers could match.
	// Lower number = checked first.
	Priority() int

	// Parse attempts to parse the document, returns nil if not applicable.
	// Parsers read doc.Normalized.
	Parse(doc *ticket.Document) *Result
}

// Registry holds all registered parsers organised for dispatch.
type Registry struct {
	mu sync.RWMutex

	// byCarrier maps carrier codes to parser slices, sorted by Priority (ascending)
	byCarrier map[string][]Parser

	// global holds layout-based parsers not tied to one carrier
	global []Parser

	// catchAll holds parsers that run only when nothing else matched
	catchAll []Parser

	sorted bool
}

// New creates a new Registry instance.
func New() *Registry {
	return &Registry{
		byCarrier: make(map[string][]Parser),
	}
}

var defaultRegistry = New()

// Default returns the global registry instance.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a parser to the default registry.
// Called during init() in each parser package.
func Register(p Parser) {
	defaultRegistry.Register(p)
}

// RegisterCatchAll adds a catch-all parser to the default registry.
func RegisterCatchAll(p Parser) {
	defaultRegistry.RegisterCatchAll(p)
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	carriers := p.Carriers()
	if len(carriers) == 0 {
		r.global = append(r.global, p)
	} else {
		for _, c := range carriers {
			c = strings.ToUpper(c)
			r.byCarrier[c] = append(r.byCarrier[c], p)
		}
	}
	r.sorted = false
}

// RegisterCatchAll adds a catch-all parser.
func (r *Registry) RegisterCatchAll(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchAll = append(r.catchAll, p)
	r.sorted = false
}

// Sort sorts all parser slices by priority. Call before dispatching.
func (r *Registry) Sort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sorted {
		return
	}
	byPriority := func(ps []Parser) {
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].Priority() < ps[j].Priority()
		})
	}
	for c := range r.byCarrier {
		byPriority(r.byCarrier[c])
	}
	byPriority(r.global)
	byPriority(r.catchAll)
	r.sorted = true
}

// IsCatchAll reports whether name belongs to a catch-all parser.
func (r *Registry) IsCatchAll(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.catchAll {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// Lookup returns the parsers registered for a carrier code.
func (r *Registry) Lookup(carrier string) []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Parser(nil), r.byCarrier[strings.ToUpper(carrier)]...)
}

// Candidates returns the specialised parsers worth trying for doc, best first.
// With a carrier hint the hinted parsers are returned without a quick check;
// otherwise every carrier and global parser whose QuickCheck passes is
// returned in priority order. Catch-all parsers are never included.
func (r *Registry) Candidates(doc *ticket.Document) []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if doc.CarrierHint != "" {
		if ps, ok := r.byCarrier[strings.ToUpper(doc.CarrierHint)]; ok {
			return append([]Parser(nil), ps...)
		}
	}

	text := doc.Normalized
	seen := make(map[string]bool)
	var out []Parser
	consider := func(p Parser) {
		if seen[p.Name()] || !p.QuickCheck(text) {
			return
		}
		seen[p.Name()] = true
		out = append(out, p)
	}
	for _, c := range r.carrierKeys() {
		for _, p := range r.byCarrier[c] {
			consider(p)
		}
	}
	for _, p := range r.global {
		consider(p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// Dispatch routes a document to the specialised candidates and returns every
// non-nil result. If nothing matched, catch-all parsers are tried.
// Note: Sort() should be called before Dispatch() for deterministic order.
func (r *Registry) Dispatch(doc *ticket.Document) []*Result {
	var results []*Result
	for _, p := range r.Candidates(doc) {
		if res := p.Parse(doc); res != nil {
			results = append(results, res)
		}
	}
	if len(results) > 0 {
		return results
	}
	if res := r.CatchAll(doc); res != nil {
		results = append(results, res)
	}
	return results
}

// DispatchFirst returns only the first successful parse result.
func (r *Registry) DispatchFirst(doc *ticket.Document) *Result {
	for _, p := range r.Candidates(doc) {
		if res := p.Parse(doc); res != nil {
			return res
		}
	}
	return r.CatchAll(doc)
}

// CatchAll runs the catch-all parsers in order and returns the first result.
func (r *Registry) CatchAll(doc *ticket.Document) *Result {
	r.mu.RLock()
	catchAll := append([]Parser(nil), r.catchAll...)
	r.mu.RUnlock()

	for _, p := range catchAll {
		if res := p.Parse(doc); res != nil {
			return res
		}
	}
	return nil
}

// RegisteredCarriers returns all carrier codes that have parsers registered.
func (r *Registry) RegisteredCarriers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.carrierKeys()
}

func (r *Registry) carrierKeys() []string {
	keys := make([]string, 0, len(r.byCarrier))
	for c := range r.byCarrier {
		keys = append(keys, c)
	}
	sort.Strings(keys)
	return keys
}

// ParserCount returns the total number of unique registered parsers.
func (r *Registry) ParserCount() int {
	return len(r.AllParsers())
}

// AllParsers returns all registered parsers (carrier, global and catch-all),
// each once.
func (r *Registry) AllParsers() []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var result []Parser
	add := func(p Parser) {
		if !seen[p.Name()] {
			seen[p.Name()] = true
			result = append(result, p)
		}
	}
	for _, c := range r.carrierKeys() {
		for _, p := range r.byCarrier[c] {
			add(p)
		}
	}
	for _, p := range r.global {
		add(p)
	}
	for _, p := range r.catchAll {
		add(p)
	}
	return result
}
