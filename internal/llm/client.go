package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ticket_parser/internal/ticket"
)

// MaxInputChars bounds the document text sent to the model.
const MaxInputChars = 12000

// Price is the cost of a model per thousand tokens.
type Price struct {
	InPer1K  float64
	OutPer1K float64
}

// Config for the chat-completions client.
type Config struct {
	BaseURL       string // default https://api.openai.com/v1
	APIKey        string
	CheapModel    string
	EscalateModel string
	Temperature   float32
	Timeout       time.Duration // per attempt
	MaxRetries    int
	RetryInterval time.Duration // first backoff interval
	Prices        map[string]Price
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient fills defaults and returns a client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.CheapModel == "" {
		cfg.CheapModel = "gpt-4o-mini"
	}
	if cfg.EscalateModel == "" {
		cfg.EscalateModel = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Model returns the model configured for a tier.
func (c *Client) Model(tier Tier) string {
	if tier == TierEscalate {
		return c.cfg.EscalateModel
	}
	return c.cfg.CheapModel
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Extract implements Extractor.
func (c *Client) Extract(ctx context.Context, req Request) (*Response, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := c.Model(req.Tier)
	log := c.logger.With(zap.String("req_id", rid), zap.String("model", model))

	log.Debug("llm.extract.start",
		zap.String("tier", string(req.Tier)),
		zap.Int("text_len", len(req.Text)),
		zap.Int("html_len", len(req.HTML)),
		zap.Strings("missing", req.Missing),
	)

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt(req)},
			{"role": "user", "content": userPrompt(req)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(TicketSchema())},
		},
	}

	raw, err := c.postWithRetry(ctx, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		log.Warn("llm.extract.http_error", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, errors.New("llm: no choices in response")
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	if cc.Model == "" {
		cc.Model = model
	}
	usage := Usage{
		Model:     cc.Model,
		TokensIn:  cc.Usage.PromptTokens,
		TokensOut: cc.Usage.CompletionTokens,
	}
	usage.Cost = c.cost(model, usage.TokensIn, usage.TokensOut)

	result, err := Decode(content)
	if err != nil {
		log.Warn("llm.extract.schema_validation_failed", zap.Error(err))
		// Usage is still billed.
		return &Response{Usage: usage, Raw: content}, err
	}

	log.Debug("llm.extract.ok",
		zap.Int("segments", len(result.Segments)),
		zap.Int("tokens_in", usage.TokensIn),
		zap.Int("tokens_out", usage.TokensOut),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Response{Result: result, Usage: usage, Raw: content}, nil
}

func (c *Client) cost(model string, in, out int) float64 {
	p, ok := c.cfg.Prices[model]
	if !ok {
		return 0
	}
	return float64(in)/1000*p.InPer1K + float64(out)/1000*p.OutPer1K
}

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm status %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) postWithRetry(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	var out []byte
	attempt := 0
	op := func() error {
		attempt++
		raw, err := c.post(ctx, url, b)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && !retryable(se.Status) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Debug("llm.http.retry", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = raw
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm http error: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("llm response body close error", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func systemPrompt(req Request) string {
	parts := []string{
		"You extract airline e-ticket data. Return ONLY JSON that matches the JSON Schema provided.",
		"Airports are 3-letter IATA codes. Times are 24h HH:MM local time. Dates are YYYY-MM-DD.",
		"Flight numbers are the 2-character airline designator followed by digits, without spaces.",
		"Only include a date when it is printed in the document or follows unambiguously from it.",
		"Passenger type is ADT, CHD or INF. Never output null; omit unknown fields.",
	}
	if req.CarrierHint != "" {
		parts = append(parts, "The issuing carrier is "+strings.ToUpper(req.CarrierHint)+".")
	}
	if req.Narrow() {
		parts = append(parts, "A previous extraction is supplied. Fill in only these fields: "+
			strings.Join(req.Missing, ", ")+". Copy all other fields from the previous extraction.")
	}
	return strings.Join(parts, " ")
}

func userPrompt(req Request) string {
	var b strings.Builder
	doc := req.Text
	label := "Ticket text"
	if strings.TrimSpace(doc) == "" {
		doc, label = req.HTML, "Ticket HTML"
	}
	doc = truncate(doc, MaxInputChars)
	b.WriteString(label)
	b.WriteString(":\n")
	b.WriteString(doc)
	if req.Prior != nil {
		// The document is already above; Raw would repeat it untruncated.
		prior := *req.Prior
		prior.Raw = ticket.RawDocument{}
		b.WriteString("\n\nPrevious extraction:\n")
		b.WriteString(mustJSON(prior))
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
