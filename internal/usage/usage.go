// Package usage records generative-extraction token usage and cost without
// blocking the caller.
package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Record is one billed model call.
type Record struct {
	Model      string    `json:"model"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	Cost       float64   `json:"cost"`
	Purpose    string    `json:"purpose"`
	DocumentID string    `json:"document_id,omitempty"`
	At         time.Time `json:"at"`
}

// Recorder accepts records fire-and-forget.
type Recorder interface {
	Record(r Record)
}

// Sink persists records. Errors are logged, never returned to the caller
// of Record.
type Sink interface {
	WriteUsage(ctx context.Context, recs []Record) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Record) {}

// DefaultQueueSize is used when NewAsync is given a non-positive size.
const DefaultQueueSize = 256

const writeTimeout = 10 * time.Second

// Async buffers records in a channel drained by a single goroutine.
// When the buffer is full the record is dropped and counted.
type Async struct {
	sink    Sink
	logger  *zap.Logger
	ch      chan Record
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64

	// OnDrop is called for every dropped record, e.g. to bump a metric.
	OnDrop func()

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the drain goroutine.
func NewAsync(sink Sink, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		sink:   sink,
		logger: logger,
		ch:     make(chan Record, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Record implements Recorder. It never blocks.
func (a *Async) Record(r Record) {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(r, "closed")
		return
	}
	select {
	case a.ch <- r:
	default:
		a.drop(r, "queue full")
	}
}

func (a *Async) drop(r Record, reason string) {
	a.dropped.Add(1)
	if a.OnDrop != nil {
		a.OnDrop()
	}
	a.logger.Debug("usage record dropped", zap.String("reason", reason), zap.String("model", r.Model))
}

func (a *Async) run() {
	defer close(a.done)
	for r := range a.ch {
		batch := []Record{r}
		// Drain whatever is already queued into the same write.
	drain:
		for {
			select {
			case next, ok := <-a.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		a.write(batch)
	}
}

func (a *Async) write(batch []Record) {
	if a.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.sink.WriteUsage(ctx, batch); err != nil {
		a.logger.Warn("usage sink write failed", zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	a.written.Add(int64(len(batch)))
}

// Dropped returns the number of records discarded so far.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Written returns the number of records the sink accepted.
func (a *Async) Written() int64 { return a.written.Load() }

// Close stops accepting records and waits for the queue to drain or ctx
// to expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
