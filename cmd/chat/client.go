package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to a running sitechat API server.
type apiClient struct {
	base   string
	http   *http.Client
	stream bool
}

func newAPIClient(base string, stream bool) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 3 * time.Minute},
		stream: stream,
	}
}

type invokeRequest struct {
	Input struct {
		Question string `json:"question"`
	} `json:"input"`
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status int
	Kind   string
	Msg    string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Kind, e.Msg)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Msg)
}

// Ask implements tui.Asker.
func (c *apiClient) Ask(ctx context.Context, question string, onToken func(string) error) error {
	if c.stream {
		return c.askStream(ctx, question, onToken)
	}
	out, err := c.invoke(ctx, question)
	if err != nil {
		return err
	}
	return onToken(out)
}

func (c *apiClient) post(ctx context.Context, path, question string) (*http.Response, error) {
	var body invokeRequest
	body.Input.Question = question
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &apiError{Status: resp.StatusCode, Kind: body.Kind, Msg: body.Error}
}

func (c *apiClient) invoke(ctx context.Context, question string) (string, error) {
	resp, err := c.post(ctx, "/rag/invoke", question)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Output string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("api: decode: %w", err)
	}
	return out.Output, nil
}

// askStream reads the Server-Sent Events of /rag/stream.
func (c *apiClient) askStream(ctx context.Context, question string, onToken func(string) error) error {
	resp, err := c.post(ctx, "/rag/stream", question)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			if event == "end" {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event == "error" {
				var e struct {
					Status  int    `json:"status_code"`
					Message string `json:"message"`
				}
				json.Unmarshal([]byte(data), &e)
				return &apiError{Status: e.Status, Msg: e.Message}
			}
			var tok string
			if err := json.Unmarshal([]byte(data), &tok); err != nil {
				return fmt.Errorf("api: bad stream data %q: %w", data, err)
			}
			if err := onToken(tok); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("api: stream: %w", err)
	}
	return fmt.Errorf("api: stream ended without end event")
}
