package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/promtior/sitechat/engine/rag"
	"github.com/promtior/sitechat/pkg/mid"
)

// Answerer is the query pipeline as seen by the HTTP layer.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
	AnswerStream(ctx context.Context, question string, onToken func(string) error) error
}

// IngestTrigger asks the ingester to run. Nil disables POST /api/ingest.
type IngestTrigger func(ctx context.Context) error

// Info is reported by the health endpoint.
type Info struct {
	Provider   string `json:"provider"`
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
}

type server struct {
	svc     Answerer
	info    Info
	trigger IngestTrigger
	metrics http.Handler
	logger  *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /rag/invoke", s.handleInvoke)
	mux.HandleFunc("POST /rag/stream", s.handleStream)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "index": s.info})
}

// InvokeResponse is the body of a successful POST /rag/invoke.
type InvokeResponse struct {
	Output   string         `json:"output"`
	Metadata InvokeMetadata `json:"metadata"`
}

// InvokeMetadata identifies the request that produced an answer.
type InvokeMetadata struct {
	RunID string `json:"run_id"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	q, ok := s.readQuestion(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Answer(r.Context(), q.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{Output: out, Metadata: InvokeMetadata{RunID: mid.RequestID(r.Context())}})
}

// handleStream sends the answer as Server-Sent Events: one "data" event per
// fragment (a JSON string), then "end"; failures after the headers are sent
// become an "error" event.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	q, ok := s.readQuestion(w, r)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}

	err := s.svc.AnswerStream(r.Context(), q.Text, func(tok string) error {
		start()
		data, _ := json.Marshal(tok)
		if _, err := fmt.Fprintf(w, "event: data\ndata: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil && !started {
		s.writeError(w, err)
		return
	}
	start()
	if err != nil {
		status, body := classify(err)
		s.logger.Warn("stream aborted", "kind", body.Kind, "err", err)
		data, _ := json.Marshal(map[string]any{"status_code": status, "message": body.Error})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	} else {
		fmt.Fprint(w, "event: end\n\n")
	}
	rc.Flush()
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "ingestion trigger not configured", Kind: "unavailable"})
		return
	}
	if err := s.trigger(r.Context()); err != nil {
		s.logger.Error("ingest trigger failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "could not request ingestion", Kind: "unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *server) readQuestion(w http.ResponseWriter, r *http.Request) (question, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Kind: "invalid_question"})
			return question{}, false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "could not read request body", Kind: "invalid_question"})
		return question{}, false
	}
	return parseInput(body), true
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= 500 {
		s.logger.Error("question failed", "kind", body.Kind, "err", err)
	}
	writeJSON(w, status, body)
}

// classify maps a query error to an HTTP status and a client-safe body.
func classify(err error) (int, errorBody) {
	kind := rag.ErrorKind(err)
	switch kind {
	case "invalid_question":
		return http.StatusBadRequest, errorBody{Error: "question is required", Kind: kind}
	case "index_unavailable":
		return http.StatusServiceUnavailable, errorBody{Error: "the index is not available", Kind: kind}
	case "generation_unavailable":
		return http.StatusServiceUnavailable, errorBody{Error: "the language model is not available", Kind: kind}
	case "canceled":
		return 499, errorBody{Error: "request canceled", Kind: kind}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal server error", Kind: kind}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
