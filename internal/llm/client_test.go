package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/ticket"
)

const validTicket = `{
  "booking_ref": "YOWZA",
  "passengers": [{"full_name": "JOHN SMITH", "type": "ADT"}],
  "segments": [{
    "marketing_flight_no": "SA53",
    "dep": {"iata": "ACC", "time_local": "20:30", "date": "2025-09-28"},
    "arr": {"iata": "JNB", "time_local": "04:25", "date": "2025-09-29", "date_source": "inferred"}
  }]
}`

func chatBody(t *testing.T, content string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 1200, "completion_tokens": 300},
	})
	require.NoError(t, err)
	return b
}

func testConfig(url string) Config {
	return Config{
		BaseURL:       url,
		APIKey:        "secret",
		CheapModel:    "cheap-model",
		EscalateModel: "big-model",
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
		Prices:        map[string]Price{"cheap-model": {InPer1K: 0.1, OutPer1K: 0.4}},
	}
}

func TestExtract(t *testing.T) {
	var gotModel, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)
		_, _ = w.Write(chatBody(t, validTicket))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/v1/"), nil)
	resp, err := c.Extract(context.Background(), Request{Text: "ticket", Tier: TierCheap})
	require.NoError(t, err)

	assert.Equal(t, "cheap-model", gotModel)
	assert.Equal(t, "Bearer secret", gotAuth)

	require.NotNil(t, resp.Result)
	assert.Equal(t, "YOWZA", resp.Result.BookingRef)
	require.Len(t, resp.Result.Segments, 1)
	seg := resp.Result.Segments[0]
	assert.Equal(t, ticket.DateExplicit, seg.Dep.DateSource)
	assert.Equal(t, ticket.DateInferred, seg.Arr.DateSource)

	assert.Equal(t, "test-model", resp.Usage.Model)
	assert.Equal(t, 1200, resp.Usage.TokensIn)
	assert.Equal(t, 300, resp.Usage.TokensOut)
	assert.InDelta(t, 0.12+0.12, resp.Usage.Cost, 1e-9)
}

func TestExtractEscalateModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		_, _ = w.Write(chatBody(t, validTicket))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	resp, err := c.Extract(context.Background(), Request{Text: "ticket", Tier: TierEscalate})
	require.NoError(t, err)
	assert.Equal(t, "big-model", gotModel)
	assert.Zero(t, resp.Usage.Cost)
}

func TestExtractRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(chatBody(t, validTicket))
	}))
	defer srv.Close()

	resp, err := NewClient(testConfig(srv.URL), nil).Extract(context.Background(), Request{Text: "ticket"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Result)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExtractGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil).Extract(context.Background(), Request{Text: "ticket"})
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExtractClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil).Extract(context.Background(), Request{Text: "ticket"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestExtractInvalidOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatBody(t, `{"segments": [{"marketing_flight_no": "SA53", "dep": {"iata": "Accra"}, "arr": {"iata": "JNB"}}]}`))
	}))
	defer srv.Close()

	resp, err := NewClient(testConfig(srv.URL), nil).Extract(context.Background(), Request{Text: "ticket"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOutput))
	require.NotNil(t, resp)
	assert.Nil(t, resp.Result)
	assert.Equal(t, 1200, resp.Usage.TokensIn)
}

func TestExtractNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil).Extract(context.Background(), Request{Text: "ticket"})
	assert.Error(t, err)
}

func TestExtractCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(testConfig(srv.URL), nil).Extract(ctx, Request{Text: "ticket"})
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	req := Request{
		Text:        "SA053 ACC JNB",
		Prior:       &ticket.ParsedTicket{BookingRef: "YOWZA"},
		Missing:     []string{"passengers"},
		CarrierHint: "sa",
	}
	assert.True(t, req.Narrow())
	sys := systemPrompt(req)
	assert.Contains(t, sys, "The issuing carrier is SA.")
	assert.Contains(t, sys, "Fill in only these fields: passengers.")

	user := userPrompt(req)
	assert.Contains(t, user, "Ticket text:\nSA053 ACC JNB")
	assert.Contains(t, user, `"booking_ref": "YOWZA"`)

	htmlOnly := userPrompt(Request{HTML: "<p>SA053</p>"})
	assert.Contains(t, htmlOnly, "Ticket HTML:\n<p>SA053</p>")

	assert.False(t, Request{Prior: &ticket.ParsedTicket{}}.Narrow())
}

func TestUserPromptBounded(t *testing.T) {
	doc := strings.Repeat("SA053 ACC JNB 20:30\n", 1200)
	req := Request{
		Text: doc,
		Prior: &ticket.ParsedTicket{
			BookingRef: "YOWZA",
			Raw:        ticket.RawDocument{Text: doc, HTML: "<pre>" + doc + "</pre>"},
		},
		Missing: []string{"passengers"},
	}

	user := userPrompt(req)
	assert.Less(t, len(user), MaxInputChars+1000)
	assert.Contains(t, user, `"booking_ref": "YOWZA"`)
	assert.NotContains(t, user, "<pre>")
	assert.Equal(t, doc, req.Prior.Raw.Text)
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", MaxInputChars)
	got := truncate(s, MaxInputChars+1)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, MaxInputChars)

	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "a", truncate("aé", 2))
}
