// Command-line entry point for the ticket parser.
//
// Input formats
// -------------
// parse and trace take a single file: plain text, HTML (.html/.htm) or a
// raw email (.eml). Without -input the document text is read from stdin.
//
// batch takes either a directory of such files or a JSONL file where each
// line is a document, in one of these shapes:
//  1. Wrapped:    {"document":{"id":"...","text":"...","html":"..."}}
//  2. Flat:       {"id":"...","text":"...","carrier_hint":"SA"}
//  3. Plain text: any line that is not a JSON object.
//
// The generative extractor is used when LLM_BASE_URL or LLM_API_KEY is set.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ticket_parser/internal/bus"
	"ticket_parser/internal/config"
	"ticket_parser/internal/export"
	"ticket_parser/internal/extract"
	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/llm"
	"ticket_parser/internal/logging"
	"ticket_parser/internal/normalize"
	_ "ticket_parser/internal/parsers" // register all parsers via init()
	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/quality"
	"ticket_parser/internal/registry"
	"ticket_parser/internal/review"
	"ticket_parser/internal/storage"
	"ticket_parser/internal/ticket"
)

type Stats struct {
	Documents int
	Accepted  int
	Enhanced  int
	Fallback  int
	Failed    int
	LLMCalls  int
}

func (s *Stats) add(res *pipeline.Result, err error) {
	s.Documents++
	if err != nil || res == nil {
		s.Failed++
		return
	}
	s.LLMCalls += res.LLMCalls
	switch res.Decision.Tier {
	case quality.TierAccept:
		s.Accepted++
	case quality.TierEnhance:
		s.Enhanced++
	default:
		s.Fallback++
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "ticket_parser - commands:")
	fmt.Fprintln(w, "  parse   - parse one ticket and output JSON")
	fmt.Fprintln(w, "  batch   - parse a directory or JSONL file of tickets")
	fmt.Fprintln(w, "  trace   - show what each parser did with a ticket")
	fmt.Fprintln(w, "  export  - write stored itineraries to an XLSX workbook")
	fmt.Fprintln(w, "  review  - serve the review API over a review database")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ticket_parser parse [-input ticket.eml] [-carrier SA] [-base-date 2025-09-01] [-output out.json] [-pretty] [-db review.db]")
	fmt.Fprintln(w, "  ticket_parser batch (-dir tickets/ | -input docs.jsonl) [-concurrency 4] [-output out.json] [-pretty] [-stats] [-db review.db]")
	fmt.Fprintln(w, "  ticket_parser trace [-input ticket.txt] [-carrier SA]")
	fmt.Fprintln(w, "  ticket_parser export -db review.db -output itineraries.xlsx [-golden] [-parser generic] [-limit 1000]")
	fmt.Fprintln(w, "  ticket_parser review -db review.db [-port 8090] [-parser saa]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - Supported files: .txt, .html, .htm, .eml")
	fmt.Fprintln(w, "  - Configuration is read from the environment and a .env file.")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "parse":
		err = runParse(ctx, os.Args[2:])
	case "batch":
		err = runBatch(ctx, os.Args[2:])
	case "trace":
		err = runTrace(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "review":
		err = runReview(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// env holds what every pipeline-running command needs.
type env struct {
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	review   *storage.ReviewDB
}

func setup(dbPath string) (*env, error) {
	cfg := config.Load()
	// Logs go to stderr; console format unless overridden.
	format := cfg.LogFormat
	if os.Getenv("LOG_FORMAT") == "" {
		format = "console"
	}
	logger, err := logging.New(cfg.LogLevel, format)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Gate:   quality.Gate{AcceptThreshold: cfg.AcceptThreshold, EnhanceThreshold: cfg.EnhanceThreshold},
		Logger: logger,
	}
	if cfg.LLM.Enabled() {
		opts.LLM = llm.NewClient(llm.Config{
			BaseURL:       cfg.LLM.BaseURL,
			APIKey:        cfg.LLM.APIKey,
			CheapModel:    cfg.LLM.CheapModel,
			EscalateModel: cfg.LLM.EscalateModel,
			Timeout:       cfg.LLM.Timeout,
			MaxRetries:    cfg.LLM.MaxRetries,
		}, logger)
	}

	e := &env{logger: logger, pipeline: pipeline.New(opts)}
	if dbPath != "" {
		if e.review, err = storage.OpenReview(dbPath); err != nil {
			return nil, fmt.Errorf("open review db: %w", err)
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.review != nil {
		_ = e.review.Close()
	}
	_ = e.logger.Sync()
}

func (e *env) save(res *pipeline.Result) {
	if e.review == nil || res == nil {
		return
	}
	if _, err := e.review.Insert(storage.InsertParamsFromResult(res)); err != nil {
		e.logger.Warn("store parse run", zap.String("document_id", res.DocumentID), zap.Error(err))
	}
}

func runParse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	inPath := fs.String("input", "", "Ticket file (default: stdin as text)")
	outPath := fs.String("output", "", "Output JSON file (default: stdout)")
	carrier := fs.String("carrier", "", "Carrier hint, e.g. SA")
	baseDate := fs.String("base-date", "", "Reference date for year inference (YYYY-MM-DD)")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	dbPath := fs.String("db", "", "SQLite review database to record the run in")
	_ = fs.Parse(args)

	doc, err := readDocument(ctx, *inPath)
	if err != nil {
		return err
	}
	if err := applyHints(doc, *carrier, *baseDate); err != nil {
		return err
	}

	e, err := setup(*dbPath)
	if err != nil {
		return err
	}
	defer e.close()

	res, procErr := e.pipeline.Process(ctx, doc)
	e.save(res)
	if procErr != nil && res == nil {
		return procErr
	}
	if err := writeJSON(*outPath, res, *pretty); err != nil {
		return err
	}
	return procErr
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	dir := fs.String("dir", "", "Directory of ticket files")
	inPath := fs.String("input", "", "JSONL file of documents (default: stdin)")
	outPath := fs.String("output", "", "Output JSON file (default: stdout)")
	concurrency := fs.Int("concurrency", pipeline.DefaultConcurrency, "Documents parsed in parallel")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	showStats := fs.Bool("stats", false, "Print basic counters to stderr")
	dbPath := fs.String("db", "", "SQLite review database to record runs in")
	_ = fs.Parse(args)

	var docs []*ticket.Document
	var err error
	if *dir != "" {
		docs, err = readDir(ctx, *dir)
	} else {
		docs, err = readJSONL(*inPath)
	}
	if err != nil {
		return err
	}

	e, err := setup(*dbPath)
	if err != nil {
		return err
	}
	defer e.close()

	items := e.pipeline.ProcessBatch(ctx, docs, *concurrency)
	st := &Stats{}
	for _, it := range items {
		st.add(it.Result, it.Err)
		e.save(it.Result)
	}

	if err := writeJSON(*outPath, items, *pretty); err != nil {
		return err
	}
	if *showStats {
		fmt.Fprintf(os.Stderr,
			"stats: documents=%d accepted=%d enhanced=%d fallback=%d failed=%d llm_calls=%d\n",
			st.Documents, st.Accepted, st.Enhanced, st.Fallback, st.Failed, st.LLMCalls,
		)
	}
	return nil
}

func runTrace(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	inPath := fs.String("input", "", "Ticket file (default: stdin as text)")
	carrier := fs.String("carrier", "", "Carrier hint, e.g. SA")
	_ = fs.Parse(args)

	doc, err := readDocument(context.Background(), *inPath)
	if err != nil {
		return err
	}
	if err := applyHints(doc, *carrier, ""); err != nil {
		return err
	}
	if strings.TrimSpace(doc.Text) == "" {
		doc.Text = extract.HTMLToText(doc.HTML)
	}
	doc.Normalized = normalize.Text(doc.Text)

	reg := registry.Default()
	reg.Sort()

	fmt.Printf("Candidates: %s\n", strings.Join(parserNames(reg.Candidates(doc)), ", "))
	for _, tr := range reg.Trace(doc) {
		printTrace(os.Stdout, tr)
	}
	return nil
}

func parserNames(ps []registry.Parser) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name())
	}
	return names
}

func printTrace(w io.Writer, tr *registry.TraceResult) {
	status := "no match"
	if tr.Matched {
		status = "MATCHED"
	}
	fmt.Fprintf(w, "\n=== %s: %s\n", tr.ParserName, status)
	if qc := tr.QuickCheck; qc != nil {
		fmt.Fprintf(w, "  quick check: passed=%v", qc.Passed)
		if qc.Reason != "" {
			fmt.Fprintf(w, " (%s)", qc.Reason)
		}
		fmt.Fprintln(w)
	}
	for _, f := range tr.Formats {
		fmt.Fprintf(w, "  format %-20s matched=%v\n", f.Name, f.Matched)
		keys := make([]string, 0, len(f.Captures))
		for k := range f.Captures {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s = %q\n", k, f.Captures[k])
		}
	}
	for _, x := range tr.Extractors {
		fmt.Fprintf(w, "  %-16s matched=%-5v %s\n", x.Name, x.Matched, x.Value)
	}
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite review database")
	outPath := fs.String("output", "itineraries.xlsx", "Output workbook")
	golden := fs.Bool("golden", false, "Only export golden runs")
	parser := fs.String("parser", "", "Only export runs from this parser")
	limit := fs.Int("limit", 1000, "Maximum runs to export")
	_ = fs.Parse(args)

	if *dbPath == "" {
		return errors.New("-db is required")
	}
	db, err := storage.OpenReview(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Query(storage.QueryParams{
		Parser:     *parser,
		GoldenOnly: *golden,
		Limit:      *limit,
		OrderBy:    "created_at",
		OrderDesc:  true,
	})
	if err != nil {
		return err
	}

	its := make([]itinerary.Itinerary, 0, len(runs))
	for _, r := range runs {
		it, err := r.Itinerary()
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %v\n", err)
			continue
		}
		its = append(its, it)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := export.WriteXLSX(f, its); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d itineraries to %s\n", len(its), *outPath)
	return nil
}

func runReview(args []string) error {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite review database")
	port := fs.Int("port", 8090, "HTTP port")
	parser := fs.String("parser", "", "Only show runs from this parser")
	_ = fs.Parse(args)

	if *dbPath == "" {
		return errors.New("-db is required")
	}
	db, err := storage.OpenReview(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	logger, err := logging.New(os.Getenv("LOG_LEVEL"), "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return review.NewServer(db, *port, *parser, logger).Run()
}

// readDocument loads a ticket file, or stdin as plain text when path is empty.
func readDocument(ctx context.Context, path string) (*ticket.Document, error) {
	if path == "" {
		b, err := io.ReadAll(io.LimitReader(os.Stdin, extract.DefaultMaxBytes))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return &ticket.Document{Source: "stdin", Text: string(b)}, nil
	}

	res := extract.NewFileExtractor().Extract(ctx, path)
	if res.Error != "" {
		return nil, fmt.Errorf("%s: %s", path, res.Error)
	}
	return &ticket.Document{
		ID:     filepath.Base(path),
		Source: res.SourceType,
		Text:   res.Text,
		HTML:   res.HTML,
	}, nil
}

func readDir(ctx context.Context, dir string) ([]*ticket.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var docs []*ticket.Document
	for _, e := range entries {
		if e.IsDir() || !extract.IsSupported(e.Name()) {
			continue
		}
		doc, err := readDocument(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %v\n", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readJSONL(path string) ([]*ticket.Document, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	// Embedded HTML makes for long lines.
	scanner.Buffer(make([]byte, 0, 1024*1024), 60*1024*1024)

	var docs []*ticket.Document
	line := 0
	for scanner.Scan() {
		line++
		doc, err := bus.DecodeDocument(scanner.Bytes(), nil)
		if errors.Is(err, bus.ErrEmptyPayload) {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", line, err)
			continue
		}
		doc.Source = "jsonl"
		if doc.ID == "" {
			doc.ID = fmt.Sprintf("line-%d", line)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("input read error: %w", err)
	}
	return docs, nil
}

func applyHints(doc *ticket.Document, carrier, baseDate string) error {
	if carrier != "" {
		doc.CarrierHint = strings.ToUpper(strings.TrimSpace(carrier))
	}
	if baseDate != "" {
		t, err := time.Parse("2006-01-02", baseDate)
		if err != nil {
			return fmt.Errorf("invalid -base-date %q: %w", baseDate, err)
		}
		doc.BaseDate = t
	}
	return nil
}

func writeJSON(path string, v any, pretty bool) error {
	var enc []byte
	var err error
	if pretty {
		enc, err = json.MarshalIndent(v, "", "  ")
	} else {
		enc, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("JSON encode error: %w", err)
	}

	if path == "" {
		_, err = os.Stdout.Write(append(enc, '\n'))
		return err
	}
	return os.WriteFile(path, enc, 0o644)
}
