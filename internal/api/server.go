// Package api exposes the ticket pipeline and the stored runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/storage"
	"ticket_parser/internal/ticket"
)

// Limits on request bodies.
const (
	DefaultMaxBodyBytes = 5 << 20
	MaxBatchDocuments   = 100
)

// Processor runs documents through the pipeline.
type Processor interface {
	Process(ctx context.Context, doc *ticket.Document) (*pipeline.Result, error)
	ProcessBatch(ctx context.Context, docs []*ticket.Document, concurrency int) []pipeline.BatchItem
}

// RunStore reads stored parse runs.
type RunStore interface {
	GetByDocumentID(documentID string) (*storage.Run, error)
	Query(p storage.QueryParams) ([]storage.Run, error)
	GetStats() (*storage.Stats, error)
}

// ItineraryStore reads mapped itineraries.
type ItineraryStore interface {
	GetItinerary(ctx context.Context, id string) (*itinerary.Itinerary, error)
}

// Saver persists pipeline outcomes.
type Saver interface {
	Save(ctx context.Context, documentID string, res *pipeline.Result, procErr error) (int64, error)
}

// Config holds configuration for the API server.
type Config struct {
	Port             int
	AuthEnabled      bool
	APIKeys          []string // Valid API keys.
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	BatchConcurrency int
}

// Options wires the server's collaborators. Only Processor is required.
type Options struct {
	Processor   Processor
	Runs        RunStore
	Itineraries ItineraryStore
	Saver       Saver
	Gatherer    prometheus.Gatherer // nil uses the default gatherer
	Logger      *zap.Logger
}

// Server serves the ticket API.
type Server struct {
	proc        Processor
	runs        RunStore
	itineraries ItineraryStore
	saver       Saver
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
	cfg         Config
	apiKeys     map[string]bool
}

// New creates a server.
func New(opts Options, cfg Config) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		proc:        opts.Processor,
		runs:        opts.Runs,
		itineraries: opts.Itineraries,
		saver:       opts.Saver,
		gatherer:    opts.Gatherer,
		logger:      opts.Logger,
		cfg:         cfg,
		apiKeys:     keys,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Router returns the configured chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(corsMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.cfg.AuthEnabled {
				r.Use(s.authMiddleware)
			}
			r.Post("/parse", s.handleParse)
			r.Post("/parse/batch", s.handleParseBatch)
			r.Get("/tickets", s.handleListTickets)
			r.Get("/tickets/{id}", s.handleGetTicket)
			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("ticket API starting",
		zap.String("addr", srv.Addr),
		zap.Bool("auth_enabled", s.cfg.AuthEnabled),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")

		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ParseRequest is the body of POST /parse.
type ParseRequest struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text,omitempty"`
	HTML        string `json:"html,omitempty"`
	CarrierHint string `json:"carrier_hint,omitempty"`
	BaseDate    string `json:"base_date,omitempty"` // YYYY-MM-DD
}

func (p ParseRequest) document() (*ticket.Document, error) {
	doc := &ticket.Document{
		ID:          p.ID,
		Source:      "api",
		Text:        p.Text,
		HTML:        p.HTML,
		CarrierHint: strings.ToUpper(strings.TrimSpace(p.CarrierHint)),
	}
	if p.BaseDate != "" {
		d, err := time.Parse("2006-01-02", p.BaseDate)
		if err != nil {
			return nil, errors.New("invalid base_date format (use YYYY-MM-DD)")
		}
		doc.BaseDate = d
	}
	return doc, nil
}

// ParseResponse is the body returned by POST /parse.
type ParseResponse struct {
	RunID  int64            `json:"run_id,omitempty"`
	Result *pipeline.Result `json:"result"`
}

// ErrorResponse carries an error and, when available, the diagnostics of a
// failed parse.
type ErrorResponse struct {
	Error       string             `json:"error"`
	Diagnostics ticket.Diagnostics `json:"diagnostics,omitempty"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !s.decode(w, r, &req) {
		return
	}
	doc, err := req.document()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.proc.Process(r.Context(), doc)
	runID := s.save(r.Context(), doc.ID, res, err)
	if err != nil {
		status := statusFor(err)
		resp := ErrorResponse{Error: err.Error()}
		if res != nil {
			resp.Diagnostics = res.Diagnostics
		}
		if status == http.StatusInternalServerError {
			s.logger.Error("parse failed", zap.Error(err))
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, ParseResponse{RunID: runID, Result: res})
}

// BatchRequest is the body of POST /parse/batch.
type BatchRequest struct {
	Documents []ParseRequest `json:"documents"`
}

// BatchResponse lists one item per submitted document, in order.
type BatchResponse struct {
	Items []pipeline.BatchItem `json:"items"`
}

func (s *Server) handleParseBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "No documents specified")
		return
	}
	if len(req.Documents) > MaxBatchDocuments {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d documents per batch request", MaxBatchDocuments))
		return
	}

	docs := make([]*ticket.Document, len(req.Documents))
	for i, p := range req.Documents {
		doc, err := p.document()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("document %d: %v", i, err))
			return
		}
		docs[i] = doc
	}

	items := s.proc.ProcessBatch(r.Context(), docs, s.cfg.BatchConcurrency)
	for _, it := range items {
		s.save(r.Context(), docs[it.Index].ID, it.Result, it.Err)
	}
	writeJSON(w, http.StatusOK, BatchResponse{Items: items})
}

// TicketResponse is a stored run with its itinerary when one was persisted.
type TicketResponse struct {
	Run       *storage.Run         `json:"run,omitempty"`
	Itinerary *itinerary.Itinerary `json:"itinerary,omitempty"`
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if s.runs == nil && s.itineraries == nil {
		writeError(w, http.StatusServiceUnavailable, "No ticket store configured")
		return
	}

	var resp TicketResponse
	if s.runs != nil {
		run, err := s.runs.GetByDocumentID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Run = run
	}
	if s.itineraries != nil {
		it, err := s.itineraries.GetItinerary(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Itinerary = it
	}

	if resp.Run == nil && resp.Itinerary == nil {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "No review store configured")
		return
	}

	q := r.URL.Query()
	params := storage.QueryParams{
		Parser:       q.Get("parser"),
		Tier:         q.Get("tier"),
		BookingRef:   q.Get("booking_ref"),
		Flight:       q.Get("flight"),
		MissingField: q.Get("missing"),
		FullText:     q.Get("q"),
		OrderBy:      q.Get("order_by"),
		OrderDesc:    q.Get("desc") == "true",
		GoldenOnly:   q.Get("golden") == "true",
	}
	var err error
	if params.Limit, err = intParam(q.Get("limit"), 50); err != nil || params.Limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
		return
	}
	if params.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	runs, err := s.runs.Query(params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": runs, "count": len(runs)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "No review store configured")
		return
	}
	stats, err := s.runs.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) save(ctx context.Context, documentID string, res *pipeline.Result, procErr error) int64 {
	if s.saver == nil {
		return 0
	}
	id, err := s.saver.Save(ctx, documentID, res, procErr)
	if err != nil {
		s.logger.Warn("store parse run", zap.String("document_id", documentID), zap.Error(err))
	}
	return id
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoInput), errors.Is(err, pipeline.ErrNoResult):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
