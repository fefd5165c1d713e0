// Package review serves the stored parse runs for review and golden
// annotation.
package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ticket_parser/internal/export"
	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/storage"
)

// Server provides the review API.
type Server struct {
	db     *storage.ReviewDB
	port   int
	filter string // Optional parser filter
	logger *zap.Logger
}

// NewServer creates a new review server.
func NewServer(db *storage.ReviewDB, port int, filter string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		db:     db,
		port:   port,
		filter: filter,
		logger: logger,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("POST /api/runs/{id}/golden", s.setGolden)
	mux.HandleFunc("POST /api/runs/{id}/annotation", s.setAnnotation)
	mux.HandleFunc("POST /api/runs/{id}/expected", s.setExpected)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/parsers", s.handleParsers)
	mux.HandleFunc("GET /api/export/json", s.handleExportJSON)
	mux.HandleFunc("GET /api/export/xlsx", s.handleExportXLSX)
	mux.HandleFunc("GET /api/export/go", s.handleExportGo)

	return mux
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("review API starting", zap.String("addr", "http://localhost"+addr), zap.String("parser_filter", s.filter))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// APIRun is the JSON representation of a run.
type APIRun struct {
	ID            int64           `json:"id"`
	DocumentID    string          `json:"document_id"`
	CreatedAt     string          `json:"created_at"`
	Parser        string          `json:"parser"`
	Source        string          `json:"source"`
	Tier          string          `json:"tier"`
	Carrier       string          `json:"carrier,omitempty"`
	BookingRef    string          `json:"booking_ref,omitempty"`
	Flights       []string        `json:"flights,omitempty"`
	RawText       string          `json:"raw_text"`
	Parsed        json.RawMessage `json:"parsed,omitempty"`
	MissingFields []string        `json:"missing_fields"`
	Warnings      []string        `json:"warnings,omitempty"`
	Confidence    float64         `json:"confidence"`
	IsGolden      bool            `json:"is_golden"`
	Annotation    string          `json:"annotation"`
	Expected      json.RawMessage `json:"expected,omitempty"`
}

func runToAPI(r *storage.Run) APIRun {
	api := APIRun{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		CreatedAt:  r.CreatedAt.Format("2006-01-02 15:04:05"),
		Parser:     r.Parser,
		Source:     r.Source,
		Tier:       r.Tier,
		Carrier:    r.Carrier,
		BookingRef: r.BookingRef,
		RawText:    r.RawText,
		Confidence: r.Confidence,
		IsGolden:   r.IsGolden,
		Annotation: r.Annotation,
	}

	api.Flights = splitList(r.Flights, ",")
	api.MissingFields = splitList(r.MissingFields, ",")
	api.Warnings = splitList(r.Warnings, "\n")

	if json.Valid([]byte(r.ParsedJSON)) {
		api.Parsed = json.RawMessage(r.ParsedJSON)
	}
	if r.ExpectedJSON != "" && json.Valid([]byte(r.ExpectedJSON)) {
		api.Expected = json.RawMessage(r.ExpectedJSON)
	}
	return api
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := storage.QueryParams{
		Parser:       q.Get("parser"),
		Tier:         q.Get("tier"),
		BookingRef:   q.Get("booking_ref"),
		Flight:       q.Get("flight"),
		MissingField: q.Get("missing"),
		HasMissing:   q.Get("has_missing") == "true",
		GoldenOnly:   q.Get("golden") == "true",
		FullText:     q.Get("search"),
		OrderBy:      q.Get("order"),
		OrderDesc:    q.Get("desc") != "false",
	}

	// Apply server-level filter.
	if s.filter != "" && params.Parser == "" {
		params.Parser = s.filter
	}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		params.Limit = limit
	} else {
		params.Limit = 50
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		params.Offset = offset
	}

	runs, err := s.db.Query(params)
	if err != nil {
		s.serverError(w, "query runs", err)
		return
	}

	result := make([]APIRun, 0, len(runs))
	for i := range runs {
		result = append(result, runToAPI(&runs[i]))
	}
	writeJSON(w, result)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	run, err := s.db.GetByID(id)
	if err != nil {
		s.serverError(w, "get run", err)
		return
	}
	if run == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, runToAPI(run))
}

func (s *Server) setGolden(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Golden bool `json:"golden"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.finishUpdate(w, s.db.SetGolden(id, req.Golden))
}

func (s *Server) setAnnotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Annotation string `json:"annotation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.finishUpdate(w, s.db.SetAnnotation(id, req.Annotation))
}

func (s *Server) setExpected(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Expected json.RawMessage `json:"expected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A null or missing expected value clears the correction.
	expected := string(req.Expected)
	if expected == "null" {
		expected = ""
	}
	s.finishUpdate(w, s.db.SetExpectedJSON(id, expected))
}

func (s *Server) finishUpdate(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrRunNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case err != nil:
		s.serverError(w, "update run", err)
	default:
		writeJSON(w, map[string]bool{"success": true})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.serverError(w, "get stats", err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleParsers(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.serverError(w, "get stats", err)
		return
	}
	parsers := make([]string, 0, len(stats.ByParser))
	for p := range stats.ByParser {
		parsers = append(parsers, p)
	}
	sort.Strings(parsers)
	writeJSON(w, parsers)
}

// GoldenExport is a golden run in the JSON export.
type GoldenExport struct {
	ID         int64           `json:"id"`
	DocumentID string          `json:"document_id"`
	RawText    string          `json:"raw_text"`
	Parser     string          `json:"parser"`
	Expected   json.RawMessage `json:"expected"`
	Annotation string          `json:"annotation,omitempty"`
}

func (s *Server) goldenRuns(w http.ResponseWriter) ([]storage.Run, bool) {
	runs, err := s.db.GetGoldenRuns()
	if err != nil {
		s.serverError(w, "get golden runs", err)
		return nil, false
	}
	if s.filter == "" {
		return runs, true
	}
	filtered := runs[:0]
	for _, r := range runs {
		if r.Parser == s.filter {
			filtered = append(filtered, r)
		}
	}
	return filtered, true
}

func (s *Server) handleExportJSON(w http.ResponseWriter, _ *http.Request) {
	runs, ok := s.goldenRuns(w)
	if !ok {
		return
	}

	exports := make([]GoldenExport, 0, len(runs))
	for _, r := range runs {
		// Use expected_json if set, otherwise use parsed_json.
		expected := r.ParsedJSON
		if r.ExpectedJSON != "" {
			expected = r.ExpectedJSON
		}
		exports = append(exports, GoldenExport{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			RawText:    r.RawText,
			Parser:     r.Parser,
			Expected:   json.RawMessage(expected),
			Annotation: r.Annotation,
		})
	}

	w.Header().Set("Content-Disposition", "attachment; filename=golden_tickets.json")
	writeJSON(w, exports)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	var runs []storage.Run
	if r.URL.Query().Get("all") == "true" {
		var err error
		runs, err = s.db.Query(storage.QueryParams{Parser: s.filter, Limit: 100000})
		if err != nil {
			s.serverError(w, "query runs", err)
			return
		}
	} else {
		var ok bool
		if runs, ok = s.goldenRuns(w); !ok {
			return
		}
	}

	its := make([]itinerary.Itinerary, 0, len(runs))
	for _, run := range runs {
		t, err := run.Ticket(true)
		if err != nil {
			s.logger.Warn("skipping run in export", zap.Int64("id", run.ID), zap.Error(err))
			continue
		}
		it := itinerary.Map(t)
		it.ID = run.DocumentID
		it.Confidence = run.Confidence
		its = append(its, it)
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, its); err != nil {
		s.serverError(w, "write xlsx", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=itineraries.xlsx")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleExportGo(w http.ResponseWriter, _ *http.Request) {
	runs, ok := s.goldenRuns(w)
	if !ok {
		return
	}

	// Group by parser.
	byParser := make(map[string][]storage.Run)
	for _, r := range runs {
		byParser[r.Parser] = append(byParser[r.Parser], r)
	}
	parsers := make([]string, 0, len(byParser))
	for p := range byParser {
		parsers = append(parsers, p)
	}
	sort.Strings(parsers)

	var code strings.Builder
	code.WriteString("// Code generated from golden tickets. DO NOT EDIT.\n\n")
	code.WriteString("package pipeline_test\n\n")
	code.WriteString("import (\n")
	code.WriteString("\t\"context\"\n")
	code.WriteString("\t\"testing\"\n\n")
	code.WriteString("\t_ \"ticket_parser/internal/parsers\"\n")
	code.WriteString("\t\"ticket_parser/internal/pipeline\"\n")
	code.WriteString("\t\"ticket_parser/internal/ticket\"\n")
	code.WriteString(")\n\n")

	for _, parser := range parsers {
		code.WriteString(fmt.Sprintf("func TestGolden_%s(t *testing.T) {\n", goIdent(parser)))
		code.WriteString("\tp := pipeline.New(pipeline.Options{})\n\n")
		code.WriteString("\tcases := []struct {\n")
		code.WriteString("\t\tname       string\n")
		code.WriteString("\t\traw        string\n")
		code.WriteString("\t\tbookingRef string\n")
		code.WriteString("\t\tsegments   int\n")
		code.WriteString("\t}{\n")

		for _, r := range byParser[parser] {
			name := fmt.Sprintf("run_%d", r.ID)
			if r.BookingRef != "" {
				name = r.BookingRef
			}
			var bookingRef string
			var segments int
			if t, err := r.Ticket(true); err == nil {
				bookingRef, segments = t.BookingRef, len(t.Segments)
			}
			// Escape backticks in raw text.
			rawText := strings.ReplaceAll(r.RawText, "`", "` + \"`\" + `")
			code.WriteString(fmt.Sprintf("\t\t{%q, `%s`, %q, %d},\n", name, rawText, bookingRef, segments))
		}

		code.WriteString("\t}\n\n")
		code.WriteString("\tfor _, tc := range cases {\n")
		code.WriteString("\t\tt.Run(tc.name, func(t *testing.T) {\n")
		code.WriteString("\t\t\tres, err := p.Process(context.Background(), &ticket.Document{Text: tc.raw})\n")
		code.WriteString("\t\t\tif err != nil {\n")
		code.WriteString("\t\t\t\tt.Fatalf(\"Process: %v\", err)\n")
		code.WriteString("\t\t\t}\n")
		code.WriteString("\t\t\tif res.Ticket.BookingRef != tc.bookingRef {\n")
		code.WriteString("\t\t\t\tt.Errorf(\"booking ref = %q, want %q\", res.Ticket.BookingRef, tc.bookingRef)\n")
		code.WriteString("\t\t\t}\n")
		code.WriteString("\t\t\tif len(res.Ticket.Segments) != tc.segments {\n")
		code.WriteString("\t\t\t\tt.Errorf(\"segments = %d, want %d\", len(res.Ticket.Segments), tc.segments)\n")
		code.WriteString("\t\t\t}\n")
		code.WriteString("\t\t})\n")
		code.WriteString("\t}\n")
		code.WriteString("}\n\n")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=golden_test.go")
	_, _ = w.Write([]byte(code.String()))
}

// goIdent turns a parser name into an identifier suffix.
func goIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
