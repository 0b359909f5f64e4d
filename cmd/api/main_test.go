package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/llm"
	"github.com/promtior/sitechat/engine/rag"
	"github.com/promtior/sitechat/engine/semantic"
	"github.com/promtior/sitechat/pkg/hashembed"
	"github.com/promtior/sitechat/pkg/metrics"
	"github.com/promtior/sitechat/pkg/mid"
)

// fakeAnswerer records the question and replies from its fields.
type fakeAnswerer struct {
	got    string
	answer string
	tokens []string
	err    error
	// failAfter, when > 0, fails the stream after that many tokens.
	failAfter int
}

func (f *fakeAnswerer) Answer(_ context.Context, q string) (string, error) {
	f.got = q
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeAnswerer) AnswerStream(_ context.Context, q string, onToken func(string) error) error {
	f.got = q
	if f.err != nil && f.failAfter == 0 {
		return f.err
	}
	for i, tok := range f.tokens {
		if f.failAfter > 0 && i == f.failAfter {
			return f.err
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func newTestServer(svc Answerer) http.Handler {
	s := &server{
		svc:     svc,
		info:    Info{Provider: "local", Backend: "file", Collection: "promtior_site"},
		metrics: metrics.New().Handler(),
		logger:  discardLogger(),
	}
	return mid.Chain(s.routes(), mid.WithRequestID(), mid.MaxBody(maxBodyBytes))
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		body string
		want string
		kind inputKind
	}{
		{`{"input":{"question":"Who are you?"}}`, "Who are you?", inputEnvelope},
		{`{"input":"Who are you?"}`, "Who are you?", inputEnvelope},
		{`{"question":"Who are you?"}`, "Who are you?", inputObject},
		{`"Who are you?"`, "Who are you?", inputString},
		{`not json at all`, "not json at all", inputOther},
		{`{"foo":1}`, `{"foo":1}`, inputOther},
		{`42`, "42", inputOther},
		{`null`, "", inputOther},
		{``, "", inputOther},
	}
	for _, tt := range tests {
		got := parseInput([]byte(tt.body))
		if got.Text != tt.want || got.Kind != tt.kind {
			t.Errorf("parseInput(%q) = %+v, want %q kind %d", tt.body, got, tt.want, tt.kind)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(&fakeAnswerer{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Index  Info   `json:"index"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Index.Collection != "promtior_site" {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeAnswerer{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestInvoke(t *testing.T) {
	f := &fakeAnswerer{answer: "Promtior was founded in 2022."}
	h := newTestServer(f)

	rec := post(h, "/rag/invoke", `{"input":{"question":"When was Promtior founded?"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp InvokeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Output != f.answer {
		t.Fatalf("output = %q", resp.Output)
	}
	if resp.Metadata.RunID == "" || resp.Metadata.RunID != rec.Header().Get(mid.RequestIDHeader) {
		t.Fatalf("run_id %q should echo the request id %q", resp.Metadata.RunID, rec.Header().Get(mid.RequestIDHeader))
	}
	if f.got != "When was Promtior founded?" {
		t.Fatalf("question = %q", f.got)
	}
}

func TestInvokeErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{domain.NewValidationError("question", "", domain.ErrInvalidQuestion), http.StatusBadRequest, "invalid_question"},
		{fmt.Errorf("search: %w", domain.ErrIndexUnavailable), http.StatusServiceUnavailable, "index_unavailable"},
		{fmt.Errorf("chat: %w", domain.ErrGenerationUnavailable), http.StatusServiceUnavailable, "generation_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		h := newTestServer(&fakeAnswerer{err: tt.err})
		rec := post(h, "/rag/invoke", `{"question":"x"}`)
		if rec.Code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, rec.Code)
			continue
		}
		var body errorBody
		json.NewDecoder(rec.Body).Decode(&body)
		if body.Kind != tt.kind {
			t.Errorf("%v: kind = %q, want %q", tt.err, body.Kind, tt.kind)
		}
		if strings.Contains(body.Error, "boom") {
			t.Errorf("internal error text leaked: %q", body.Error)
		}
	}
}

func TestInvokeBodyTooLarge(t *testing.T) {
	h := newTestServer(&fakeAnswerer{answer: "ok"})
	rec := post(h, "/rag/invoke", `"`+strings.Repeat("a", maxBodyBytes+1)+`"`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestInvokeWrongMethod(t *testing.T) {
	h := newTestServer(&fakeAnswerer{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rag/invoke", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestStream(t *testing.T) {
	h := newTestServer(&fakeAnswerer{tokens: []string{"Founded ", "in\n2022."}})
	rec := post(h, "/rag/stream", `{"input":"When?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	events := readEvents(t, rec.Body.String())
	if len(events) != 3 || events[2].name != "end" {
		t.Fatalf("events = %+v", events)
	}
	var joined string
	for _, e := range events[:2] {
		if e.name != "data" {
			t.Fatalf("unexpected event %+v", e)
		}
		var tok string
		if err := json.Unmarshal([]byte(e.data), &tok); err != nil {
			t.Fatalf("data is not a JSON string: %q", e.data)
		}
		joined += tok
	}
	if joined != "Founded in\n2022." {
		t.Fatalf("joined = %q", joined)
	}
}

func TestStreamErrorBeforeFirstToken(t *testing.T) {
	h := newTestServer(&fakeAnswerer{err: fmt.Errorf("x: %w", domain.ErrIndexUnavailable)})
	rec := post(h, "/rag/stream", `{"question":"When?"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStreamErrorMidway(t *testing.T) {
	h := newTestServer(&fakeAnswerer{
		tokens:    []string{"a", "b", "c"},
		failAfter: 1,
		err:       fmt.Errorf("x: %w", domain.ErrGenerationUnavailable),
	})
	rec := post(h, "/rag/stream", `{"question":"When?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("headers were already sent, expected 200, got %d", rec.Code)
	}
	events := readEvents(t, rec.Body.String())
	if len(events) != 2 || events[0].name != "data" || events[1].name != "error" {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(events[1].data, "503") {
		t.Fatalf("error event = %q", events[1].data)
	}
}

func TestIngestTrigger(t *testing.T) {
	s := &server{svc: &fakeAnswerer{}, logger: discardLogger()}
	rec := post(s.routes(), "/api/ingest", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a trigger, got %d", rec.Code)
	}

	called := 0
	s.trigger = func(context.Context) error { called++; return nil }
	rec = post(s.routes(), "/api/ingest", "")
	if rec.Code != http.StatusAccepted || called != 1 {
		t.Fatalf("expected 202 and one call, got %d and %d", rec.Code, called)
	}

	s.trigger = func(context.Context) error { return errors.New("nats down") }
	rec = post(s.routes(), "/api/ingest", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestInvokeAnswersFromIndex(t *testing.T) {
	ctx := context.Background()
	store, err := semantic.OpenFileStore(t.TempDir(), "promtior_site")
	if err != nil {
		t.Fatal(err)
	}
	emb := hashembed.New(hashembed.DefaultDims)
	ix := semantic.NewIndex(emb, store, nil)
	err = ix.Rebuild(ctx, []domain.Chunk{
		{Text: "Promtior was founded in 2022.", Source: "https://promtior.ai/about"},
		{Text: "Our services include consulting and training.", Source: "https://promtior.ai/services"},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := rag.New(rag.NewContextBuilder(emb, ix, 4, nil), rag.NewAssembler(llm.Extractive{}, nil), nil, nil)

	rec := post(newTestServer(svc), "/rag/invoke", `{"input":{"question":"When was Promtior founded?"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp InvokeResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp.Output, "2022") {
		t.Fatalf("output = %q", resp.Output)
	}

	rec = post(newTestServer(svc), "/rag/invoke", `{"input":{"question":"   "}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank question: expected 400, got %d", rec.Code)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ctxCompleter returns the request context's error, as provider clients do
// when the caller goes away.
type ctxCompleter struct{}

func (ctxCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "ok", nil
}

func TestInvokeClientGone(t *testing.T) {
	store, err := semantic.OpenFileStore(t.TempDir(), "promtior_site")
	if err != nil {
		t.Fatal(err)
	}
	emb := hashembed.New(64)
	ix := semantic.NewIndex(emb, store, nil)
	if err := ix.Rebuild(context.Background(), []domain.Chunk{{Text: "Promtior was founded in 2022.", Source: "https://promtior.ai/about"}}); err != nil {
		t.Fatal(err)
	}
	svc := rag.New(rag.NewContextBuilder(emb, ix, 4, nil), rag.NewAssembler(ctxCompleter{}, nil), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rag/invoke", strings.NewReader(`{"question":"When?"}`)).WithContext(ctx)
	newTestServer(svc).ServeHTTP(rec, req)

	if rec.Code != 499 {
		t.Fatalf("expected 499 for a cancelled request, got %d: %s", rec.Code, rec.Body)
	}
	var body errorBody
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Kind != "canceled" {
		t.Fatalf("kind = %q", body.Kind)
	}
}
