// Package gemini adapts the Google Gen AI SDK to the embed / complete shape
// used by the rest of the module.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrMissingKey is returned by New when no API key is configured.
var ErrMissingKey = errors.New("gemini: api key required")

// Config configures a Client.
type Config struct {
	APIKey      string
	ChatModel   string
	EmbedModel  string
	Temperature float32
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

// Client wraps one genai.Client with fixed models.
type Client struct {
	client      *genai.Client
	chatModel   string
	embedModel  string
	temperature float32
}

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrMissingKey
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-2.0-flash"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-004"
	}
	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{
		client:      client,
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
	}, nil
}

// Embed returns the embedding of one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single call, one vector per text.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Complete returns the model reply to a system + user turn.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.chatModel, userTurn(user), c.config(system))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// CompleteStream streams the reply, calling onToken per received fragment.
func (c *Client) CompleteStream(ctx context.Context, system, user string, onToken func(string) error) error {
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.chatModel, userTurn(user), c.config(system)) {
		if err != nil {
			return fmt.Errorf("gemini generate: %w", err)
		}
		if tok := resp.Text(); tok != "" {
			if err := onToken(tok); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) config(system string) *genai.GenerateContentConfig {
	temp := c.temperature
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       &temp,
	}
}

func userTurn(text string) []*genai.Content {
	return []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}}
}
