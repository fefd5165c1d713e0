// Package storage persists parse runs and itineraries.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/ticket"
)

// Run is one stored parse run with its review state.
type Run struct {
	ID            int64     `json:"id"`
	DocumentID    string    `json:"document_id"`
	CreatedAt     time.Time `json:"created_at"`
	Parser        string    `json:"parser"`
	Source        string    `json:"source"`
	Tier          string    `json:"tier"`
	Carrier       string    `json:"carrier,omitempty"`
	BookingRef    string    `json:"booking_ref,omitempty"`
	Flights       string    `json:"flights,omitempty"`
	RawText       string    `json:"raw_text"`
	ParsedJSON    string    `json:"parsed_json"`
	MissingFields string    `json:"missing_fields,omitempty"`
	Warnings      string    `json:"warnings,omitempty"`
	Confidence    float64   `json:"confidence"`
	IsGolden      bool      `json:"is_golden"`
	Annotation    string    `json:"annotation,omitempty"`
	ExpectedJSON  string    `json:"expected_json,omitempty"`
}

// Ticket decodes the stored ticket. When expected is true and a corrected
// ticket has been recorded, that one is returned instead.
func (r Run) Ticket(expected bool) (*ticket.ParsedTicket, error) {
	data := r.ParsedJSON
	if expected && r.ExpectedJSON != "" {
		data = r.ExpectedJSON
	}
	var t ticket.ParsedTicket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("run %d: %w", r.ID, err)
	}
	return &t, nil
}

// Itinerary maps the stored ticket, carrying over the document id and
// confidence.
func (r Run) Itinerary() (itinerary.Itinerary, error) {
	t, err := r.Ticket(false)
	if err != nil {
		return itinerary.Itinerary{}, err
	}
	it := itinerary.Map(t)
	it.ID = r.DocumentID
	it.Confidence = r.Confidence
	return it, nil
}

// ReviewDB is the local SQLite store of parse runs.
type ReviewDB struct {
	db *sql.DB
}

// OpenReview opens or creates a SQLite review database at path.
func OpenReview(path string) (*ReviewDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the API read while the worker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createReviewSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &ReviewDB{db: db}, nil
}

// Close closes the database connection.
func (d *ReviewDB) Close() error {
	return d.db.Close()
}

func createReviewSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		parser TEXT NOT NULL,
		source TEXT NOT NULL,
		tier TEXT NOT NULL,
		carrier TEXT,
		booking_ref TEXT,
		flights TEXT,
		raw_text TEXT NOT NULL,
		parsed_json TEXT NOT NULL,
		missing_fields TEXT,
		warnings TEXT,
		confidence REAL,
		is_golden INTEGER DEFAULT 0,
		annotation TEXT,
		expected_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_document ON runs(document_id);
	CREATE INDEX IF NOT EXISTS idx_runs_parser ON runs(parser);
	CREATE INDEX IF NOT EXISTS idx_runs_tier ON runs(tier);
	CREATE INDEX IF NOT EXISTS idx_runs_booking_ref ON runs(booking_ref);
	CREATE INDEX IF NOT EXISTS idx_runs_golden ON runs(is_golden);

	-- Full-text search on the raw ticket text.
	CREATE VIRTUAL TABLE IF NOT EXISTS runs_fts USING fts5(
		raw_text,
		content='runs',
		content_rowid='id'
	);

	CREATE TRIGGER IF NOT EXISTS runs_ai AFTER INSERT ON runs BEGIN
		INSERT INTO runs_fts(rowid, raw_text) VALUES (new.id, new.raw_text);
	END;

	CREATE TRIGGER IF NOT EXISTS runs_ad AFTER DELETE ON runs BEGIN
		INSERT INTO runs_fts(runs_fts, rowid, raw_text) VALUES('delete', old.id, old.raw_text);
	END;

	CREATE TRIGGER IF NOT EXISTS runs_au AFTER UPDATE OF raw_text ON runs BEGIN
		INSERT INTO runs_fts(runs_fts, rowid, raw_text) VALUES('delete', old.id, old.raw_text);
		INSERT INTO runs_fts(rowid, raw_text) VALUES (new.id, new.raw_text);
	END;
	`
	_, err := db.Exec(schema)
	return err
}

// InsertParams holds the columns written for one run.
type InsertParams struct {
	DocumentID    string
	CreatedAt     time.Time
	Parser        string
	Source        string
	Tier          string
	Carrier       string
	BookingRef    string
	Flights       []string
	RawText       string
	ParsedData    any
	MissingFields []string
	Warnings      []string
	Confidence    float64
}

// InsertParamsFromResult builds the review row for a pipeline result.
func InsertParamsFromResult(res *pipeline.Result) InsertParams {
	p := InsertParams{
		DocumentID:    res.DocumentID,
		CreatedAt:     time.Now().UTC(),
		Parser:        res.Parser,
		Source:        string(res.Source),
		Tier:          string(res.Decision.Tier),
		MissingFields: res.Decision.Missing,
		Confidence:    res.Score.Total,
		ParsedData:    res.Ticket,
	}
	for _, e := range res.Diagnostics {
		if e.Severity != ticket.SeverityInfo {
			p.Warnings = append(p.Warnings, e.String())
		}
	}
	if t := res.Ticket; t != nil {
		p.Carrier = t.Carrier
		p.BookingRef = t.BookingRef
		p.RawText = t.Raw.Text
		if p.RawText == "" {
			p.RawText = t.Raw.HTML
		}
		for _, s := range t.Segments {
			p.Flights = append(p.Flights, s.MarketingFlightNo)
		}
	}
	return p
}

// Insert stores a run and returns its row id.
func (d *ReviewDB) Insert(p InsertParams) (int64, error) {
	parsedJSON, err := json.Marshal(p.ParsedData)
	if err != nil {
		return 0, fmt.Errorf("marshal parsed data: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	result, err := d.db.Exec(`
		INSERT INTO runs (document_id, created_at, parser, source, tier, carrier, booking_ref, flights,
			raw_text, parsed_json, missing_fields, warnings, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.DocumentID, p.CreatedAt.Format(time.RFC3339Nano), p.Parser, p.Source, p.Tier, p.Carrier, p.BookingRef,
		strings.Join(p.Flights, ","), p.RawText, string(parsedJSON),
		strings.Join(p.MissingFields, ","), strings.Join(p.Warnings, "\n"), p.Confidence)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	return result.LastInsertId()
}

// QueryParams filters runs. Zero values are ignored.
type QueryParams struct {
	ID           int64
	DocumentID   string
	Parser       string
	Tier         string
	BookingRef   string
	Flight       string // LIKE match
	MissingField string // LIKE match
	HasMissing   bool
	GoldenOnly   bool
	FullText     string // FTS5 match on raw_text
	Limit        int    // default 100
	Offset       int
	OrderBy      string // created_at, parser, tier, confidence
	OrderDesc    bool
}

const runColumns = `id, document_id, created_at, parser, source, tier, carrier, booking_ref, flights,
	raw_text, parsed_json, missing_fields, warnings, confidence, is_golden, annotation, expected_json`

// Query returns the runs matching p.
func (d *ReviewDB) Query(p QueryParams) ([]Run, error) {
	var conditions []string
	var args []any

	if p.ID != 0 {
		conditions = append(conditions, "r.id = ?")
		args = append(args, p.ID)
	}
	if p.DocumentID != "" {
		conditions = append(conditions, "r.document_id = ?")
		args = append(args, p.DocumentID)
	}
	if p.Parser != "" {
		conditions = append(conditions, "r.parser = ?")
		args = append(args, p.Parser)
	}
	if p.Tier != "" {
		conditions = append(conditions, "r.tier = ?")
		args = append(args, p.Tier)
	}
	if p.BookingRef != "" {
		conditions = append(conditions, "r.booking_ref = ?")
		args = append(args, strings.ToUpper(p.BookingRef))
	}
	if p.Flight != "" {
		conditions = append(conditions, "r.flights LIKE ?")
		args = append(args, "%"+p.Flight+"%")
	}
	if p.MissingField != "" {
		conditions = append(conditions, "r.missing_fields LIKE ?")
		args = append(args, "%"+p.MissingField+"%")
	}
	if p.HasMissing {
		conditions = append(conditions, "r.missing_fields != '' AND r.missing_fields IS NOT NULL")
	}
	if p.GoldenOnly {
		conditions = append(conditions, "r.is_golden = 1")
	}

	query := "SELECT " + prefixColumns("r.") + " FROM runs r"
	if p.FullText != "" {
		query += " JOIN runs_fts ON r.id = runs_fts.rowid"
		conditions = append([]string{"runs_fts MATCH ?"}, conditions...)
		args = append([]any{p.FullText}, args...)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	orderField := "id"
	switch p.OrderBy {
	case "created_at", "parser", "tier", "confidence":
		orderField = p.OrderBy
	}
	direction := "ASC"
	if p.OrderDesc {
		direction = "DESC"
	}
	limit := 100
	if p.Limit > 0 {
		limit = p.Limit
	}
	query += fmt.Sprintf(" ORDER BY r.%s %s LIMIT %d OFFSET %d", orderField, direction, limit, p.Offset)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func prefixColumns(prefix string) string {
	cols := strings.Split(runColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var r Run
	var ts string
	var carrier, bookingRef, flights, missing, warnings, annotation, expectedJSON sql.NullString
	var confidence sql.NullFloat64
	var isGolden sql.NullInt64

	err := s.Scan(&r.ID, &r.DocumentID, &ts, &r.Parser, &r.Source, &r.Tier, &carrier, &bookingRef, &flights,
		&r.RawText, &r.ParsedJSON, &missing, &warnings, &confidence, &isGolden, &annotation, &expectedJSON)
	if err != nil {
		return r, fmt.Errorf("scan row: %w", err)
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	r.Carrier = carrier.String
	r.BookingRef = bookingRef.String
	r.Flights = flights.String
	r.MissingFields = missing.String
	r.Warnings = warnings.String
	r.Confidence = confidence.Float64
	r.IsGolden = isGolden.Valid && isGolden.Int64 == 1
	r.Annotation = annotation.String
	r.ExpectedJSON = expectedJSON.String
	return r, nil
}

// GetByID returns the run with the given row id, or nil if there is none.
func (d *ReviewDB) GetByID(id int64) (*Run, error) {
	return d.getOne("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
}

// GetByDocumentID returns the latest run for a document, or nil.
func (d *ReviewDB) GetByDocumentID(documentID string) (*Run, error) {
	return d.getOne("SELECT "+runColumns+" FROM runs WHERE document_id = ? ORDER BY id DESC LIMIT 1", documentID)
}

func (d *ReviewDB) getOne(query string, arg any) (*Run, error) {
	r, err := scanRun(d.db.QueryRow(query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// SetGolden marks or unmarks a run as golden.
func (d *ReviewDB) SetGolden(id int64, golden bool) error {
	val := 0
	if golden {
		val = 1
	}
	return d.update(`UPDATE runs SET is_golden = ? WHERE id = ?`, val, id)
}

// SetAnnotation sets the reviewer note for a run.
func (d *ReviewDB) SetAnnotation(id int64, annotation string) error {
	return d.update(`UPDATE runs SET annotation = ? WHERE id = ?`, annotation, id)
}

// SetExpectedJSON stores the hand-corrected ticket for a run.
func (d *ReviewDB) SetExpectedJSON(id int64, expectedJSON string) error {
	if expectedJSON != "" && !json.Valid([]byte(expectedJSON)) {
		return fmt.Errorf("expected json for run %d is not valid JSON", id)
	}
	return d.update(`UPDATE runs SET expected_json = ? WHERE id = ?`, expectedJSON, id)
}

// ErrRunNotFound is returned by the setters when no row matched.
var ErrRunNotFound = errors.New("storage: run not found")

func (d *ReviewDB) update(query string, args ...any) error {
	res, err := d.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetGoldenRuns returns every run marked golden.
func (d *ReviewDB) GetGoldenRuns() ([]Run, error) {
	return d.Query(QueryParams{GoldenOnly: true, Limit: 100000})
}

// Stats summarises the stored runs.
type Stats struct {
	TotalRuns        int            `json:"total_runs"`
	Golden           int            `json:"golden"`
	WithMissing      int            `json:"with_missing"`
	AvgConfidence    float64        `json:"avg_confidence"`
	ByParser         map[string]int `json:"by_parser"`
	ByTier           map[string]int `json:"by_tier"`
	BySource         map[string]int `json:"by_source"`
	TopMissingFields map[string]int `json:"top_missing_fields"`
}

// GetStats returns aggregate statistics about the stored runs.
func (d *ReviewDB) GetStats() (*Stats, error) {
	stats := &Stats{
		ByParser:         make(map[string]int),
		ByTier:           make(map[string]int),
		BySource:         make(map[string]int),
		TopMissingFields: make(map[string]int),
	}

	row := d.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(is_golden), 0), COALESCE(AVG(confidence), 0) FROM runs`)
	if err := row.Scan(&stats.TotalRuns, &stats.Golden, &stats.AvgConfidence); err != nil {
		return nil, err
	}

	for column, into := range map[string]map[string]int{
		"parser": stats.ByParser,
		"tier":   stats.ByTier,
		"source": stats.BySource,
	} {
		if err := d.countBy(column, into); err != nil {
			return nil, err
		}
	}

	rows, err := d.db.Query("SELECT missing_fields FROM runs WHERE missing_fields != '' AND missing_fields IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var fields string
		if err := rows.Scan(&fields); err != nil {
			return nil, err
		}
		stats.WithMissing++
		for _, f := range strings.Split(fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				stats.TopMissingFields[f]++
			}
		}
	}
	return stats, rows.Err()
}

// countBy is only called with the fixed column names in GetStats.
func (d *ReviewDB) countBy(column string, into map[string]int) error {
	rows, err := d.db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM runs GROUP BY %s", column, column))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}
