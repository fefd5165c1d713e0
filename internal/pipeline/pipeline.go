// Package pipeline runs a document through the deterministic parsers and,
// when the quality gate asks for it, the generative extractor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ticket_parser/internal/dates"
	"ticket_parser/internal/extract"
	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/llm"
	"ticket_parser/internal/metrics"
	"ticket_parser/internal/normalize"
	"ticket_parser/internal/quality"
	"ticket_parser/internal/registry"
	"ticket_parser/internal/ticket"
	"ticket_parser/internal/usage"
)

var (
	// ErrNoInput means the document had no text and no HTML.
	ErrNoInput = errors.New("pipeline: no extractable text")
	// ErrNoResult means nothing usable came out of either path.
	ErrNoResult = errors.New("pipeline: no usable result")
)

// Source says which path produced the final ticket.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceEnhanced      Source = "llm_enhanced"
	SourceGenerative    Source = "llm"
)

// Result is the outcome of Process.
type Result struct {
	DocumentID  string                    `json:"document_id"`
	Parser      string                    `json:"parser,omitempty"`
	Source      Source                    `json:"source"`
	// Decision is the gate verdict on the deterministic result.
	Decision    quality.Decision          `json:"decision"`
	// Score is the score of the returned ticket.
	Score       quality.Breakdown         `json:"score"`
	Ticket      *ticket.ParsedTicket      `json:"ticket"`
	Itinerary   itinerary.Itinerary       `json:"itinerary"`
	Chronology  []dates.ChronologyWarning `json:"chronology,omitempty"`
	Diagnostics ticket.Diagnostics        `json:"diagnostics,omitempty"`
	LLMCalls    int                       `json:"llm_calls"`
	Usage       []llm.Usage               `json:"usage,omitempty"`
	Duration    time.Duration             `json:"duration"`
}

// Options configures a Pipeline. Zero values get defaults.
type Options struct {
	Registry *registry.Registry
	Gate     quality.Gate
	LLM      llm.Extractor // nil disables the generative path
	Usage    usage.Recorder
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// Pipeline is safe for concurrent use; each Process call is independent.
type Pipeline struct {
	registry *registry.Registry
	gate     quality.Gate
	llm      llm.Extractor
	usage    usage.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		registry: opts.Registry,
		gate:     opts.Gate,
		llm:      opts.LLM,
		usage:    opts.Usage,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if p.registry == nil {
		p.registry = registry.Default()
	}
	p.registry.Sort()
	if p.gate.AcceptThreshold == 0 && p.gate.EnhanceThreshold == 0 {
		p.gate = quality.DefaultGate()
	}
	if p.usage == nil {
		p.usage = usage.Nop{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Process parses one document. On ErrNoResult the returned Result is still
// non-nil and carries the diagnostics gathered along the way.
func (p *Pipeline) Process(ctx context.Context, in *ticket.Document) (*Result, error) {
	start := time.Now()
	if in == nil {
		p.metrics.ObserveFailure("no_input")
		return nil, ErrNoInput
	}
	doc := *in
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	log := p.logger.With(zap.String("document_id", doc.ID))

	if strings.TrimSpace(doc.Text) == "" && strings.TrimSpace(doc.HTML) != "" {
		doc.Text = extract.HTMLToText(doc.HTML)
	}
	if strings.TrimSpace(doc.Text) == "" && strings.TrimSpace(doc.HTML) == "" {
		p.metrics.ObserveFailure("no_input")
		return nil, ErrNoInput
	}
	doc.Normalized = normalize.Text(doc.Text)

	res := &Result{DocumentID: doc.ID, Source: SourceDeterministic}
	det := p.deterministic(&doc, res)
	res.Decision = p.gate.Decide(det)
	res.Score = res.Decision.Score
	res.Ticket = det

	log.Debug("deterministic result",
		zap.String("parser", res.Parser),
		zap.String("tier", string(res.Decision.Tier)),
		zap.Float64("score", res.Score.Total),
		zap.Strings("missing", res.Decision.Missing),
	)

	if res.Decision.Tier != quality.TierAccept {
		p.generative(ctx, &doc, res, log)
	}

	if res.Ticket.IsEmpty() {
		res.Duration = time.Since(start)
		p.metrics.ObserveFailure("no_result")
		p.logDiagnostics(log, res.Diagnostics)
		return res, ErrNoResult
	}

	res.Ticket.Raw = ticket.RawDocument{Text: in.Text, HTML: in.HTML}
	res.Chronology = dates.Validate(res.Ticket.Segments)
	res.Itinerary = itinerary.Map(res.Ticket)
	res.Itinerary.ID = doc.ID
	res.Itinerary.Confidence = res.Score.Total
	res.Duration = time.Since(start)

	p.metrics.ObserveDocument(string(res.Decision.Tier), string(res.Source), res.Parser, res.Score.Total, res.Duration)
	p.logDiagnostics(log, res.Diagnostics)
	return res, nil
}

// deterministic runs the registry. A specialised parser that does not pass
// the gate on its own is compared against the general pipeline and the
// better-scoring result is kept.
func (p *Pipeline) deterministic(doc *ticket.Document, res *Result) *ticket.ParsedTicket {
	first := p.registry.DispatchFirst(doc)
	if first == nil {
		res.Diagnostics.Warnf(ticket.StageCarrier, "no parser produced a result")
		return nil
	}
	chosen := first
	if !p.registry.IsCatchAll(first.Parser) && p.gate.Decide(first.Ticket).Tier != quality.TierAccept {
		if general := p.registry.CatchAll(doc); general != nil {
			fast, gen := quality.Score(first.Ticket), quality.Score(general.Ticket)
			res.Diagnostics.Infof(ticket.StageCarrier, "%s scored %.1f, %s scored %.1f",
				first.Parser, fast.Total, general.Parser, gen.Total)
			if quality.Better(gen, fast) {
				chosen = general
			}
		}
	}
	res.Parser = chosen.Parser
	res.Diagnostics.Merge(chosen.Diagnostics)
	return chosen.Ticket
}

// generative calls the extractor at most twice, cheap tier first. Failures
// are recorded as diagnostics and the best result so far is kept.
func (p *Pipeline) generative(ctx context.Context, doc *ticket.Document, res *Result, log *zap.Logger) {
	if p.llm == nil {
		res.Diagnostics.Warnf(ticket.StageLLM, "score %.1f below accept threshold; generative extractor not configured", res.Score.Total)
		return
	}

	purpose := string(res.Decision.Tier)
	for _, tier := range []llm.Tier{llm.TierCheap, llm.TierEscalate} {
		if ctx.Err() != nil {
			res.Diagnostics.Warnf(ticket.StageLLM, "generative extraction cancelled: %v", ctx.Err())
			return
		}

		req := llm.Request{Text: doc.Text, HTML: doc.HTML, CarrierHint: doc.CarrierHint, Tier: tier}
		if res.Decision.Tier == quality.TierEnhance && !res.Ticket.IsEmpty() {
			req.Prior = res.Ticket
			req.Missing = quality.MissingFields(res.Ticket)
		}

		res.LLMCalls++
		resp, err := p.llm.Extract(ctx, req)
		if resp != nil {
			p.recordUsage(doc.ID, purpose, tier, resp.Usage, res)
		}
		if err != nil || resp == nil || resp.Result == nil {
			if err == nil {
				err = errors.New("empty response")
			}
			res.Diagnostics.Warnf(ticket.StageLLM, "%s extraction failed: %v", tier, err)
			p.metrics.ObserveLLM(string(tier), "error", 0, 0)
			log.Warn("generative extraction failed", zap.String("tier", string(tier)), zap.Error(err))
			continue
		}

		candidate, source := resp.Result, SourceGenerative
		if req.Narrow() {
			candidate, source = Merge(res.Ticket, resp.Result, req.Missing), SourceEnhanced
		}
		var d ticket.Diagnostics
		candidate.Segments, _, d = dates.Infer(candidate.Segments, dates.Options{BaseDate: doc.BaseDate, Now: p.now})
		score := quality.Score(candidate)

		if res.Ticket.IsEmpty() || quality.Better(score, res.Score) {
			res.Diagnostics.Infof(ticket.StageLLM, "%s result accepted: %.1f over %.1f", tier, score.Total, res.Score.Total)
			res.Diagnostics.Merge(d)
			res.Ticket, res.Score, res.Source = candidate, score, source
			p.metrics.ObserveLLM(string(tier), "accepted", resp.Usage.TokensIn, resp.Usage.TokensOut)
		} else {
			res.Diagnostics.Infof(ticket.StageLLM, "%s result rejected: %.1f not above %.1f", tier, score.Total, res.Score.Total)
			p.metrics.ObserveLLM(string(tier), "rejected", resp.Usage.TokensIn, resp.Usage.TokensOut)
		}

		if res.Score.Total >= p.gate.AcceptThreshold {
			return
		}
	}
}

func (p *Pipeline) recordUsage(docID, purpose string, tier llm.Tier, u llm.Usage, res *Result) {
	res.Usage = append(res.Usage, u)
	p.usage.Record(usage.Record{
		Model:      u.Model,
		TokensIn:   u.TokensIn,
		TokensOut:  u.TokensOut,
		Cost:       u.Cost,
		Purpose:    fmt.Sprintf("%s:%s", purpose, tier),
		DocumentID: docID,
		At:         p.now().UTC(),
	})
}

func (p *Pipeline) logDiagnostics(log *zap.Logger, diags ticket.Diagnostics) {
	for _, e := range diags {
		if e.Severity == ticket.SeverityInfo {
			continue
		}
		log.Debug("diagnostic", zap.String("stage", e.Stage), zap.String("severity", string(e.Severity)), zap.String("message", e.Message))
	}
}
