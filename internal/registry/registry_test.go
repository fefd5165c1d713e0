package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/ticket"
)

type fakeParser struct {
	name     string
	carriers []string
	keyword  string
	priority int
	fail     bool
}

func (f *fakeParser) Name() string       { return f.name }
func (f *fakeParser) Carriers() []string { return f.carriers }
func (f *fakeParser) Priority() int      { return f.priority }
func (f *fakeParser) QuickCheck(text string) bool {
	return f.keyword == "" || strings.Contains(text, f.keyword)
}
func (f *fakeParser) Parse(doc *ticket.Document) *Result {
	if f.fail {
		return nil
	}
	return &Result{Parser: f.name, Ticket: &ticket.ParsedTicket{Carrier: strings.Join(f.carriers, ",")}}
}

func newTestRegistry() *Registry {
	r := New()
	r.Register(&fakeParser{name: "saa", carriers: []string{"sa"}, keyword: "SOUTH AFRICAN", priority: 10})
	r.Register(&fakeParser{name: "ba", carriers: []string{"BA"}, keyword: "BRITISH AIRWAYS", priority: 10})
	r.Register(&fakeParser{name: "gds", keyword: "SEG FLIGHT", priority: 50})
	r.RegisterCatchAll(&fakeParser{name: "generic", priority: 100})
	r.Sort()
	return r
}

func names(ps []Parser) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}

func TestLookup(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, []string{"saa"}, names(r.Lookup("SA")))
	assert.Equal(t, []string{"saa"}, names(r.Lookup("sa")))
	assert.Empty(t, r.Lookup("ZZ"))
	assert.Equal(t, []string{"BA", "SA"}, r.RegisteredCarriers())
}

func TestCandidatesByHint(t *testing.T) {
	r := newTestRegistry()
	doc := &ticket.Document{CarrierHint: "SA", Normalized: "nothing relevant"}
	assert.Equal(t, []string{"saa"}, names(r.Candidates(doc)))
}

func TestCandidatesByQuickCheck(t *testing.T) {
	r := newTestRegistry()
	doc := &ticket.Document{Normalized: "SOUTH AFRICAN AIRWAYS\nSEG FLIGHT CLASS"}
	assert.Equal(t, []string{"saa", "gds"}, names(r.Candidates(doc)))

	// Unknown hint falls back to quick checks.
	doc.CarrierHint = "ZZ"
	assert.Equal(t, []string{"saa", "gds"}, names(r.Candidates(doc)))
}

func TestDispatchCatchAll(t *testing.T) {
	r := newTestRegistry()
	results := r.Dispatch(&ticket.Document{Normalized: "plain receipt"})
	require.Len(t, results, 1)
	assert.Equal(t, "generic", results[0].Parser)
}

func TestDispatchSpecialised(t *testing.T) {
	r := newTestRegistry()
	results := r.Dispatch(&ticket.Document{Normalized: "BRITISH AIRWAYS e-ticket"})
	require.Len(t, results, 1)
	assert.Equal(t, "ba", results[0].Parser)
}

func TestDispatchFirstFallsThrough(t *testing.T) {
	r := New()
	r.Register(&fakeParser{name: "saa", carriers: []string{"SA"}, keyword: "SA", fail: true})
	r.RegisterCatchAll(&fakeParser{name: "generic"})
	r.Sort()

	res := r.DispatchFirst(&ticket.Document{Normalized: "SA052"})
	require.NotNil(t, res)
	assert.Equal(t, "generic", res.Parser)
}

func TestParserCount(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeParser{name: "saa", carriers: []string{"MN"}})
	assert.Equal(t, 4, r.ParserCount())
}

func TestTrace(t *testing.T) {
	r := newTestRegistry()
	traces := r.Trace(&ticket.Document{Normalized: "BRITISH AIRWAYS"})
	require.Len(t, traces, 4)

	byName := make(map[string]*TraceResult)
	for _, tr := range traces {
		byName[tr.ParserName] = tr
	}
	assert.True(t, byName["ba"].Matched)
	assert.False(t, byName["saa"].QuickCheck.Passed)
	assert.False(t, byName["saa"].Matched)
	assert.Nil(t, byName["generic"].QuickCheck)
	assert.True(t, byName["generic"].Matched)
}

func TestIsCatchAll(t *testing.T) {
	r := newTestRegistry()
	assert.True(t, r.IsCatchAll("generic"))
	assert.False(t, r.IsCatchAll("saa"))
}
