package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/quality"
	"ticket_parser/internal/ticket"
)

func openTestReview(t *testing.T) *ReviewDB {
	t.Helper()
	db, err := OpenReview(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleResult() *pipeline.Result {
	res := &pipeline.Result{
		DocumentID: "doc-1",
		Parser:     "generic",
		Source:     pipeline.SourceDeterministic,
		Decision:   quality.Decision{Tier: quality.TierEnhance, Missing: []string{"passengers", "segment_dates"}},
		Score:      quality.Breakdown{Total: 62.5},
		Ticket: &ticket.ParsedTicket{
			Carrier:    "SA",
			BookingRef: "X7KQ2M",
			Segments: []ticket.Segment{
				{MarketingFlightNo: "SA053"},
				{MarketingFlightNo: "SA054"},
			},
			Raw: ticket.RawDocument{Text: "Johannesburg to Accra on SA053"},
		},
	}
	res.Diagnostics.Warnf(ticket.StageDates, "no date anchor")
	res.Diagnostics.Infof(ticket.StageCarrier, "ignored")
	return res
}

func TestInsertParamsFromResult(t *testing.T) {
	p := InsertParamsFromResult(sampleResult())
	assert.Equal(t, "doc-1", p.DocumentID)
	assert.Equal(t, "enhance", p.Tier)
	assert.Equal(t, "deterministic", p.Source)
	assert.Equal(t, []string{"SA053", "SA054"}, p.Flights)
	assert.Equal(t, "Johannesburg to Accra on SA053", p.RawText)
	assert.Len(t, p.Warnings, 1)
	assert.Equal(t, 62.5, p.Confidence)
}

func TestReviewInsertAndGet(t *testing.T) {
	db := openTestReview(t)

	id, err := db.Insert(InsertParamsFromResult(sampleResult()))
	require.NoError(t, err)
	assert.Positive(t, id)

	run, err := db.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "doc-1", run.DocumentID)
	assert.Equal(t, "SA053,SA054", run.Flights)
	assert.Equal(t, "passengers,segment_dates", run.MissingFields)
	assert.Equal(t, "[warn] dates: no date anchor", run.Warnings)
	assert.Contains(t, run.ParsedJSON, `"booking_ref":"X7KQ2M"`)
	assert.False(t, run.IsGolden)
	assert.WithinDuration(t, time.Now(), run.CreatedAt, time.Minute)

	byDoc, err := db.GetByDocumentID("doc-1")
	require.NoError(t, err)
	require.NotNil(t, byDoc)
	assert.Equal(t, id, byDoc.ID)

	missing, err := db.GetByID(id + 100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReviewQuery(t *testing.T) {
	db := openTestReview(t)

	first := InsertParamsFromResult(sampleResult())
	_, err := db.Insert(first)
	require.NoError(t, err)

	second := first
	second.DocumentID = "doc-2"
	second.Parser = "saa"
	second.Tier = "accept"
	second.MissingFields = nil
	second.BookingRef = "YOWZA1"
	second.RawText = "Cape Town to Durban"
	second.Confidence = 91
	_, err = db.Insert(second)
	require.NoError(t, err)

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"all", QueryParams{}, []string{"doc-1", "doc-2"}},
		{"parser", QueryParams{Parser: "saa"}, []string{"doc-2"}},
		{"tier", QueryParams{Tier: "enhance"}, []string{"doc-1"}},
		{"booking ref case-insensitive", QueryParams{BookingRef: "yowza1"}, []string{"doc-2"}},
		{"flight", QueryParams{Flight: "SA054"}, []string{"doc-1", "doc-2"}},
		{"missing field", QueryParams{MissingField: "segment_dates"}, []string{"doc-1"}},
		{"has missing", QueryParams{HasMissing: true}, []string{"doc-1"}},
		{"full text", QueryParams{FullText: "Durban"}, []string{"doc-2"}},
		{"full text with filter", QueryParams{FullText: "Accra", Parser: "saa"}, nil},
		{"order by confidence desc", QueryParams{OrderBy: "confidence", OrderDesc: true}, []string{"doc-2", "doc-1"}},
		{"limit offset", QueryParams{Limit: 1, Offset: 1}, []string{"doc-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := db.Query(tt.params)
			require.NoError(t, err)
			var got []string
			for _, r := range runs {
				got = append(got, r.DocumentID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReviewAnnotations(t *testing.T) {
	db := openTestReview(t)
	id, err := db.Insert(InsertParamsFromResult(sampleResult()))
	require.NoError(t, err)

	require.NoError(t, db.SetGolden(id, true))
	require.NoError(t, db.SetAnnotation(id, "second passenger missed"))
	require.NoError(t, db.SetExpectedJSON(id, `{"booking_ref":"X7KQ2M"}`))

	run, err := db.GetByID(id)
	require.NoError(t, err)
	assert.True(t, run.IsGolden)
	assert.Equal(t, "second passenger missed", run.Annotation)
	assert.JSONEq(t, `{"booking_ref":"X7KQ2M"}`, run.ExpectedJSON)

	golden, err := db.GetGoldenRuns()
	require.NoError(t, err)
	assert.Len(t, golden, 1)

	assert.Error(t, db.SetExpectedJSON(id, "{not json"))
	assert.ErrorIs(t, db.SetGolden(id+1, true), ErrRunNotFound)
}

func TestReviewStats(t *testing.T) {
	db := openTestReview(t)

	p := InsertParamsFromResult(sampleResult())
	_, err := db.Insert(p)
	require.NoError(t, err)
	p.Tier = "accept"
	p.MissingFields = []string{"passengers"}
	p.Confidence = 87.5
	id, err := db.Insert(p)
	require.NoError(t, err)
	require.NoError(t, db.SetGolden(id, true))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.Golden)
	assert.Equal(t, 2, stats.WithMissing)
	assert.InDelta(t, 75.0, stats.AvgConfidence, 0.001)
	assert.Equal(t, map[string]int{"generic": 2}, stats.ByParser)
	assert.Equal(t, map[string]int{"enhance": 1, "accept": 1}, stats.ByTier)
	assert.Equal(t, map[string]int{"passengers": 2, "segment_dates": 1}, stats.TopMissingFields)
}

func TestRunItinerary(t *testing.T) {
	db := openTestReview(t)
	id, err := db.Insert(InsertParamsFromResult(sampleResult()))
	require.NoError(t, err)

	run, err := db.GetByID(id)
	require.NoError(t, err)
	it, err := run.Itinerary()
	require.NoError(t, err)
	assert.Equal(t, "doc-1", it.ID)
	assert.Equal(t, "X7KQ2M", it.BookingRef)
	assert.Equal(t, 62.5, it.Confidence)
	assert.Len(t, it.Flights, 2)

	require.NoError(t, db.SetExpectedJSON(id, `{"booking_ref":"FIXED1"}`))
	run, err = db.GetByID(id)
	require.NoError(t, err)
	tk, err := run.Ticket(true)
	require.NoError(t, err)
	assert.Equal(t, "FIXED1", tk.BookingRef)
	tk, err = run.Ticket(false)
	require.NoError(t, err)
	assert.Equal(t, "X7KQ2M", tk.BookingRef)

	_, err = Run{ID: 9, ParsedJSON: "{"}.Ticket(false)
	assert.Error(t, err)
}
