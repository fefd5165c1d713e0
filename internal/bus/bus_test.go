package bus

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/ticket"
)

type fakeProcessor struct {
	mu   sync.Mutex
	docs []*ticket.Document
	err  error
}

func (f *fakeProcessor) Process(_ context.Context, doc *ticket.Document) (*pipeline.Result, error) {
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{
		DocumentID: doc.ID,
		Parser:     "generic",
		Source:     pipeline.SourceDeterministic,
		Ticket:     &ticket.ParsedTicket{BookingRef: "X7KQ2M"},
	}, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeSaver) Save(_ context.Context, documentID string, _ *pipeline.Result, _ error) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, documentID)
	return int64(len(f.saved)), f.err
}

func TestDecodeDocument(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		header nats.Header
		want   ticket.Document
	}{
		{
			name: "wrapped",
			data: `{"document":{"id":"doc-1","text":"PNR X7KQ2M","carrier_hint":"SA"}}`,
			want: ticket.Document{ID: "doc-1", Text: "PNR X7KQ2M", CarrierHint: "SA", Source: "nats"},
		},
		{
			name: "flat",
			data: `{"id":"doc-2","html":"<p>Ticket</p>","source":"imap"}`,
			want: ticket.Document{ID: "doc-2", HTML: "<p>Ticket</p>", Source: "imap"},
		},
		{
			name:   "plain text with headers",
			data:   "Booking reference X7KQ2M",
			header: nats.Header{HeaderDocumentID: {"doc-3"}, HeaderCarrierHint: {"sa"}},
			want:   ticket.Document{ID: "doc-3", Text: "Booking reference X7KQ2M", CarrierHint: "SA", Source: "nats"},
		},
		{
			name:   "body id wins over header",
			data:   `{"id":"doc-4","text":"x"}`,
			header: nats.Header{HeaderDocumentID: {"other"}},
			want:   ticket.Document{ID: "doc-4", Text: "x", Source: "nats"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := DecodeDocument([]byte(tt.data), tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *doc)
		})
	}
}

func TestDecodeDocumentErrors(t *testing.T) {
	_, err := DecodeDocument([]byte("  \n"), nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodeDocument([]byte(`{"id":`), nil)
	assert.Error(t, err)
}

func TestEncodeResult(t *testing.T) {
	res := &pipeline.Result{DocumentID: "doc-1", Parser: "saa"}
	data, err := EncodeResult("ignored", res, nil)
	require.NoError(t, err)

	env, err := DecodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", env.DocumentID)
	assert.Equal(t, StatusOK, env.Status)
	assert.Empty(t, env.Error)
	require.NotNil(t, env.Result)
	assert.Equal(t, "saa", env.Result.Parser)
	assert.False(t, env.ProcessedAt.IsZero())

	data, err = EncodeResult("doc-2", nil, pipeline.ErrNoResult)
	require.NoError(t, err)
	env, err = DecodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, "doc-2", env.DocumentID)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, pipeline.ErrNoResult.Error(), env.Error)
	assert.Nil(t, env.Result)
}

func TestWorkerProcess(t *testing.T) {
	proc := &fakeProcessor{}
	saver := &fakeSaver{}
	w := NewWorker(nil, proc, saver, Config{Subject: "tickets.in"}, nil)

	out := w.Process(context.Background(), []byte(`{"id":"doc-1","text":"PNR X7KQ2M"}`), nil)
	env, err := DecodeResult(out)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, "doc-1", env.DocumentID)
	assert.Equal(t, "X7KQ2M", env.Result.Ticket.BookingRef)
	assert.Equal(t, []string{"doc-1"}, saver.saved)
	require.Len(t, proc.docs, 1)
	assert.Equal(t, "nats", proc.docs[0].Source)
}

func TestWorkerProcessFailures(t *testing.T) {
	proc := &fakeProcessor{err: pipeline.ErrNoResult}
	saver := &fakeSaver{err: errors.New("disk full")}
	w := NewWorker(nil, proc, saver, Config{}, nil)

	env, err := DecodeResult(w.Process(context.Background(), []byte("no flights here"),
		nats.Header{HeaderDocumentID: {"doc-7"}}))
	require.NoError(t, err)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, "doc-7", env.DocumentID)
	assert.Equal(t, []string{"doc-7"}, saver.saved)

	env, err = DecodeResult(w.Process(context.Background(), nil, nats.Header{HeaderDocumentID: {"doc-8"}}))
	require.NoError(t, err)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, "doc-8", env.DocumentID)
	assert.Equal(t, ErrEmptyPayload.Error(), env.Error)
	assert.Len(t, proc.docs, 1)
}

func TestStartRequiresSubject(t *testing.T) {
	w := NewWorker(nil, &fakeProcessor{}, nil, Config{}, nil)
	assert.Error(t, w.Start(context.Background()))
}

func TestQueueCloseWhileSubmitting(t *testing.T) {
	for range 200 {
		ctx, cancel := context.WithCancel(context.Background())
		q := newQueue(ctx, 1)

		var queued, drained sync.WaitGroup
		var accepted, received int
		var mu sync.Mutex
		drained.Add(1)
		go func() {
			defer drained.Done()
			for range q.jobs {
				received++
			}
		}()
		for range 8 {
			queued.Add(1)
			go func() {
				defer queued.Done()
				for range 5 {
					if q.submit(&nats.Msg{Subject: "tickets.in"}) {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}
			}()
		}

		cancel()
		q.close()
		queued.Wait()
		drained.Wait()
		assert.Equal(t, accepted, received)
		assert.False(t, q.submit(&nats.Msg{}))
	}
}

func TestQueueCloseTwice(t *testing.T) {
	q := newQueue(context.Background(), 2)
	require.True(t, q.submit(&nats.Msg{Subject: "a"}))
	q.close()
	q.close()

	msg, ok := <-q.jobs
	require.True(t, ok)
	assert.Equal(t, "a", msg.Subject)
	_, ok = <-q.jobs
	assert.False(t, ok)
}

func TestWorkerRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skip("No NATS server available")
	}
	defer nc.Close()

	results := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("tickets.test.results", results)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	w := NewWorker(nc, &fakeProcessor{}, nil, Config{
		Subject:       "tickets.test.in",
		ResultSubject: "tickets.test.results",
		Queue:         "tickets-test",
		Workers:       2,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	var reply *nats.Msg
	require.Eventually(t, func() bool {
		reply, err = nc.Request("tickets.test.in", []byte(`{"id":"doc-rt","text":"x"}`), 500*time.Millisecond)
		return err == nil
	}, 5*time.Second, 100*time.Millisecond)

	env, err := DecodeResult(reply.Data)
	require.NoError(t, err)
	assert.Equal(t, "doc-rt", env.DocumentID)

	select {
	case msg := <-results:
		env, err := DecodeResult(msg.Data)
		require.NoError(t, err)
		assert.Equal(t, "doc-rt", env.DocumentID)
	case <-time.After(5 * time.Second):
		t.Fatal("no result published")
	}

	cancel()
	assert.NoError(t, <-done)
}
