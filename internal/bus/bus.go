// Package bus consumes ticket documents from NATS and publishes parse results.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/ticket"
)

// Headers read from incoming messages.
const (
	HeaderDocumentID  = "Document-Id"
	HeaderCarrierHint = "Carrier-Hint"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrEmptyPayload is returned by DecodeDocument for a blank message.
var ErrEmptyPayload = errors.New("bus: empty payload")

// Processor runs one document through the pipeline.
type Processor interface {
	Process(ctx context.Context, doc *ticket.Document) (*pipeline.Result, error)
}

// Saver persists pipeline outcomes.
type Saver interface {
	Save(ctx context.Context, documentID string, res *pipeline.Result, procErr error) (int64, error)
}

// Envelope wraps a document the way upstream mail fetchers publish it.
type Envelope struct {
	Document *ticket.Document `json:"document"`
}

// DecodeDocument accepts a wrapped document, a bare document, or plain text.
// Headers, when present, fill in the id and carrier hint.
func DecodeDocument(data []byte, header nats.Header) (*ticket.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	var doc *ticket.Document
	if trimmed[0] == '{' {
		var env Envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Document != nil {
			doc = env.Document
		} else {
			var flat ticket.Document
			if err := json.Unmarshal(trimmed, &flat); err != nil {
				return nil, fmt.Errorf("decode document: %w", err)
			}
			doc = &flat
		}
	} else {
		doc = &ticket.Document{Text: string(data)}
	}

	if doc.ID == "" {
		doc.ID = header.Get(HeaderDocumentID)
	}
	if doc.CarrierHint == "" {
		doc.CarrierHint = strings.ToUpper(header.Get(HeaderCarrierHint))
	}
	if doc.Source == "" {
		doc.Source = "nats"
	}
	return doc, nil
}

// ResultEnvelope is published for every consumed document.
type ResultEnvelope struct {
	DocumentID  string           `json:"document_id"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	Result      *pipeline.Result `json:"result,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// EncodeResult serialises a pipeline outcome. A result returned together
// with an error is kept so consumers see its diagnostics.
func EncodeResult(documentID string, res *pipeline.Result, procErr error) ([]byte, error) {
	env := ResultEnvelope{
		DocumentID:  documentID,
		Status:      StatusOK,
		Result:      res,
		ProcessedAt: time.Now().UTC(),
	}
	if res != nil && res.DocumentID != "" {
		env.DocumentID = res.DocumentID
	}
	if procErr != nil {
		env.Status = StatusError
		env.Error = procErr.Error()
	}
	return json.Marshal(env)
}

// DecodeResult parses a published result.
func DecodeResult(data []byte) (*ResultEnvelope, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &env, nil
}

// Config controls subscription and concurrency.
type Config struct {
	Subject       string
	ResultSubject string // empty disables publishing; replies are still sent
	Queue         string
	Workers       int
}

// Worker queue-subscribes to the document subject and runs the pipeline for
// each message on a bounded pool of goroutines.
type Worker struct {
	nc     *nats.Conn
	proc   Processor
	saver  Saver
	cfg    Config
	logger *zap.Logger
}

// NewWorker creates a worker. saver and logger may be nil.
func NewWorker(nc *nats.Conn, proc Processor, saver Saver, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{nc: nc, proc: proc, saver: saver, cfg: cfg, logger: logger}
}

// Start subscribes and blocks until ctx is cancelled. In-flight messages are
// finished before it returns.
func (w *Worker) Start(ctx context.Context) error {
	if w.cfg.Subject == "" {
		return errors.New("bus: subject is required")
	}

	q := newQueue(ctx, w.cfg.Workers)
	sub, err := w.nc.QueueSubscribe(w.cfg.Subject, w.cfg.Queue, func(msg *nats.Msg) {
		q.submit(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.cfg.Subject, err)
	}

	w.logger.Info("bus worker started",
		zap.String("subject", w.cfg.Subject),
		zap.String("queue", w.cfg.Queue),
		zap.Int("workers", w.cfg.Workers),
	)

	var wg sync.WaitGroup
	for range w.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range q.jobs {
				w.handle(context.WithoutCancel(ctx), msg)
			}
		}()
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		w.logger.Warn("unsubscribe", zap.Error(err))
	}
	q.close()
	wg.Wait()
	w.logger.Info("bus worker stopped")
	return nil
}

// queue hands subscription callbacks to the worker pool. A callback can still
// be running after Unsubscribe returns, so submit and close share a lock and
// submit becomes a no-op once the channel is closed.
type queue struct {
	ctx    context.Context
	jobs   chan *nats.Msg
	mu     sync.RWMutex
	closed bool
}

func newQueue(ctx context.Context, size int) *queue {
	return &queue{ctx: ctx, jobs: make(chan *nats.Msg, size)}
}

// submit blocks until a worker slot frees up or ctx is done. It reports
// whether msg was queued.
func (q *queue) submit(msg *nats.Msg) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- msg:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// close waits for pending submits to return, then closes jobs. Messages
// already queued are still delivered to range loops.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	out := w.Process(ctx, msg.Data, msg.Header)

	if msg.Reply != "" {
		if err := msg.Respond(out); err != nil {
			w.logger.Warn("reply", zap.Error(err))
		}
	}
	if w.cfg.ResultSubject != "" {
		if err := w.nc.Publish(w.cfg.ResultSubject, out); err != nil {
			w.logger.Warn("publish result", zap.String("subject", w.cfg.ResultSubject), zap.Error(err))
		}
	}
}

// Process decodes one payload, runs the pipeline, stores the outcome and
// returns the encoded result envelope.
func (w *Worker) Process(ctx context.Context, data []byte, header nats.Header) []byte {
	doc, err := DecodeDocument(data, header)
	if err != nil {
		w.logger.Warn("decode document", zap.Error(err))
		return w.encode(header.Get(HeaderDocumentID), nil, err)
	}

	res, procErr := w.proc.Process(ctx, doc)
	if w.saver != nil {
		if _, err := w.saver.Save(ctx, doc.ID, res, procErr); err != nil {
			w.logger.Warn("store parse run", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if procErr != nil {
		w.logger.Info("document not parsed", zap.String("document_id", doc.ID), zap.Error(procErr))
	}
	return w.encode(doc.ID, res, procErr)
}

func (w *Worker) encode(documentID string, res *pipeline.Result, procErr error) []byte {
	out, err := EncodeResult(documentID, res, procErr)
	if err != nil {
		w.logger.Error("encode result", zap.Error(err))
		out, _ = EncodeResult(documentID, nil, err)
	}
	return out
}
