package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/storage"
	"ticket_parser/internal/ticket"
)

type fakeProcessor struct {
	mu   sync.Mutex
	docs []*ticket.Document
	res  *pipeline.Result
	err  error
}

func (f *fakeProcessor) Process(_ context.Context, doc *ticket.Document) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return f.res, f.err
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, docs []*ticket.Document, _ int) []pipeline.BatchItem {
	items := make([]pipeline.BatchItem, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			items[i] = pipeline.BatchItem{Index: i, Err: pipeline.ErrNoInput, Error: pipeline.ErrNoInput.Error()}
			continue
		}
		res, _ := f.Process(ctx, d)
		items[i] = pipeline.BatchItem{Index: i, Result: res}
	}
	return items
}

type fakeRuns struct {
	runs   []storage.Run
	params storage.QueryParams
}

func (f *fakeRuns) GetByDocumentID(id string) (*storage.Run, error) {
	for i := range f.runs {
		if f.runs[i].DocumentID == id {
			return &f.runs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRuns) Query(p storage.QueryParams) ([]storage.Run, error) {
	f.params = p
	return f.runs, nil
}

func (f *fakeRuns) GetStats() (*storage.Stats, error) {
	return &storage.Stats{TotalRuns: len(f.runs)}, nil
}

type fakeItineraries map[string]itinerary.Itinerary

func (f fakeItineraries) GetItinerary(_ context.Context, id string) (*itinerary.Itinerary, error) {
	if it, ok := f[id]; ok {
		return &it, nil
	}
	return nil, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeSaver) Save(_ context.Context, documentID string, res *pipeline.Result, procErr error) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res != nil {
		documentID = res.DocumentID
	}
	f.saved = append(f.saved, documentID)
	return int64(len(f.saved)), f.err
}

func okResult() *pipeline.Result {
	return &pipeline.Result{
		DocumentID: "doc-1",
		Parser:     "generic",
		Source:     pipeline.SourceDeterministic,
		Ticket:     &ticket.ParsedTicket{BookingRef: "X7KQ2M"},
		Itinerary:  itinerary.Itinerary{ID: "doc-1", BookingRef: "X7KQ2M"},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := New(Options{}, Config{Port: 8081}).Router()

	rec := do(t, router, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestParseEndpoint(t *testing.T) {
	proc := &fakeProcessor{res: okResult()}
	saver := &fakeSaver{}
	router := New(Options{Processor: proc, Saver: saver}, Config{}).Router()

	rec := do(t, router, http.MethodPost, "/api/v1/parse",
		`{"text":"Booking Reference: X7KQ2M","carrier_hint":" sa ","base_date":"2025-09-28"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RunID  int64 `json:"run_id"`
		Result struct {
			DocumentID string              `json:"document_id"`
			Itinerary  itinerary.Itinerary `json:"itinerary"`
		} `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RunID != 1 {
		t.Errorf("expected run_id 1, got %d", resp.RunID)
	}
	if resp.Result.Itinerary.BookingRef != "X7KQ2M" {
		t.Errorf("expected booking ref X7KQ2M, got %q", resp.Result.Itinerary.BookingRef)
	}

	if len(proc.docs) != 1 {
		t.Fatalf("expected 1 processed document, got %d", len(proc.docs))
	}
	doc := proc.docs[0]
	if doc.CarrierHint != "SA" {
		t.Errorf("expected carrier hint SA, got %q", doc.CarrierHint)
	}
	if doc.BaseDate.Format("2006-01-02") != "2025-09-28" {
		t.Errorf("unexpected base date %v", doc.BaseDate)
	}
	if len(saver.saved) != 1 || saver.saved[0] != "doc-1" {
		t.Errorf("expected doc-1 to be saved, got %v", saver.saved)
	}
}

func TestParseEndpointErrors(t *testing.T) {
	noResult := &pipeline.Result{DocumentID: "doc-2"}
	noResult.Diagnostics.Warnf(ticket.StageLLM, "generative extractor not configured")

	tests := []struct {
		name       string
		body       string
		res        *pipeline.Result
		err        error
		wantStatus int
		wantDiags  int
	}{
		{name: "invalid json", body: "not json", wantStatus: http.StatusBadRequest},
		{name: "bad base date", body: `{"text":"x","base_date":"28/09/2025"}`, wantStatus: http.StatusBadRequest},
		{name: "no input", body: `{}`, err: pipeline.ErrNoInput, wantStatus: http.StatusUnprocessableEntity},
		{name: "no result", body: `{"text":"x"}`, res: noResult, err: pipeline.ErrNoResult, wantStatus: http.StatusUnprocessableEntity, wantDiags: 1},
		{name: "internal", body: `{"text":"x"}`, err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{res: tt.res, err: tt.err}
			router := New(Options{Processor: proc}, Config{}).Router()

			rec := do(t, router, http.MethodPost, "/api/v1/parse", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error == "" {
				t.Error("expected an error message")
			}
			if len(resp.Diagnostics) != tt.wantDiags {
				t.Errorf("expected %d diagnostics, got %d", tt.wantDiags, len(resp.Diagnostics))
			}
		})
	}
}

func TestParseBodyTooLarge(t *testing.T) {
	router := New(Options{Processor: &fakeProcessor{}}, Config{MaxBodyBytes: 16}).Router()

	rec := do(t, router, http.MethodPost, "/api/v1/parse", `{"text":"`+strings.Repeat("x", 64)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
}

func TestParseBatchEndpoint(t *testing.T) {
	proc := &fakeProcessor{res: okResult()}
	saver := &fakeSaver{}
	router := New(Options{Processor: proc, Saver: saver}, Config{}).Router()

	rec := do(t, router, http.MethodPost, "/api/v1/parse/batch",
		`{"documents":[{"id":"a","text":"one"},{"id":"b"},{"id":"c","text":"three"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Items []struct {
			Index int    `json:"index"`
			Error string `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(resp.Items))
	}
	if resp.Items[1].Error != pipeline.ErrNoInput.Error() {
		t.Errorf("expected no-input error for item 1, got %q", resp.Items[1].Error)
	}
	if len(saver.saved) != 3 {
		t.Errorf("expected every item to be saved, got %d", len(saver.saved))
	}

	for _, body := range []string{`{"documents":[]}`, `{"documents":[` + strings.Repeat(`{},`, MaxBatchDocuments) + `{}]}`} {
		if rec := do(t, router, http.MethodPost, "/api/v1/parse/batch", body); rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	}
}

func TestGetTicket(t *testing.T) {
	runs := &fakeRuns{runs: []storage.Run{{ID: 7, DocumentID: "doc-1", Parser: "generic"}}}
	its := fakeItineraries{"doc-1": {ID: "doc-1", BookingRef: "X7KQ2M"}}
	router := New(Options{Runs: runs, Itineraries: its}, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/api/v1/tickets/doc-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp TicketResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Run == nil || resp.Run.ID != 7 {
		t.Errorf("expected run 7, got %+v", resp.Run)
	}
	if resp.Itinerary == nil || resp.Itinerary.BookingRef != "X7KQ2M" {
		t.Errorf("expected itinerary X7KQ2M, got %+v", resp.Itinerary)
	}

	if rec := do(t, router, http.MethodGet, "/api/v1/tickets/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}

	bare := New(Options{}, Config{}).Router()
	if rec := do(t, bare, http.MethodGet, "/api/v1/tickets/doc-1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}

func TestListTickets(t *testing.T) {
	runs := &fakeRuns{runs: []storage.Run{{ID: 1, DocumentID: "doc-1"}}}
	router := New(Options{Runs: runs}, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/api/v1/tickets?tier=enhance&booking_ref=x7kq2m&q=Accra&golden=true&limit=10&offset=5&desc=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	p := runs.params
	if p.Tier != "enhance" || p.BookingRef != "x7kq2m" || p.FullText != "Accra" {
		t.Errorf("filters not passed through: %+v", p)
	}
	if !p.GoldenOnly || !p.OrderDesc || p.Limit != 10 || p.Offset != 5 {
		t.Errorf("flags not passed through: %+v", p)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("expected count 1, got %d", resp.Count)
	}

	for _, q := range []string{"limit=abc", "limit=1000", "offset=-1"} {
		if rec := do(t, router, http.MethodGet, "/api/v1/tickets?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, rec.Code)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	runs := &fakeRuns{runs: []storage.Run{{ID: 1}, {ID: 2}}}
	router := New(Options{Runs: runs}, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var stats storage.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.TotalRuns != 2 {
		t.Errorf("expected 2 runs, got %d", stats.TotalRuns)
	}
}

func TestAuthMiddleware(t *testing.T) {
	runs := &fakeRuns{}
	router := New(Options{Runs: runs}, Config{
		AuthEnabled: true,
		APIKeys:     []string{"test-key-123", "another-key"},
	}).Router()

	tests := []struct {
		name       string
		apiKey     string
		keyHeader  string
		query      string
		wantStatus int
	}{
		{name: "no key", wantStatus: http.StatusUnauthorized},
		{name: "invalid key", apiKey: "wrong-key", keyHeader: "X-API-Key", wantStatus: http.StatusForbidden},
		{name: "valid key via X-API-Key", apiKey: "test-key-123", keyHeader: "X-API-Key", wantStatus: http.StatusOK},
		{name: "valid key via Bearer", apiKey: "another-key", keyHeader: "Authorization", wantStatus: http.StatusOK},
		{name: "valid key via query", query: "?api_key=test-key-123", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stats"+tt.query, nil)
			if tt.apiKey != "" {
				if tt.keyHeader == "Authorization" {
					req.Header.Set("Authorization", "Bearer "+tt.apiKey)
				} else {
					req.Header.Set(tt.keyHeader, tt.apiKey)
				}
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	// Health stays open.
	if rec := do(t, router, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("expected health to skip auth, got %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	router := New(Options{}, Config{}).Router()

	rec := do(t, router, http.MethodOptions, "/api/v1/parse", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 for OPTIONS, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected CORS Allow-Methods header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tickets_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := New(Options{Gatherer: reg}, Config{AuthEnabled: true}).Router()
	rec := do(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tickets_test_total 1") {
		t.Errorf("expected counter in output, got %s", rec.Body.String())
	}
}
