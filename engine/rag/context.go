package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/llm"
)

// DefaultTopK is how many chunks are retrieved per question.
const DefaultTopK = 4

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]domain.SearchHit, error)
}

// ContextBuilder embeds a question and renders the nearest chunks into one
// attributable context string.
type ContextBuilder struct {
	embedder llm.Embedder
	search   Searcher
	k        int
	logger   *slog.Logger
}

// NewContextBuilder creates a ContextBuilder. k <= 0 means DefaultTopK.
func NewContextBuilder(embedder llm.Embedder, search Searcher, k int, logger *slog.Logger) *ContextBuilder {
	if k <= 0 {
		k = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{embedder: embedder, search: search, k: k, logger: logger}
}

// Retrieve returns up to k hits for question, most similar first.
func (b *ContextBuilder) Retrieve(ctx context.Context, question string) ([]domain.SearchHit, error) {
	emb, err := b.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed question: %w: %w", domain.ErrIndexUnavailable, err)
	}
	hits, err := b.search.Search(ctx, emb, b.k)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	b.logger.Debug("retrieved context", "hits", len(hits))
	return hits, nil
}

// Build retrieves and renders the context for question. No hits yields "".
func (b *ContextBuilder) Build(ctx context.Context, question string) (string, error) {
	hits, err := b.Retrieve(ctx, question)
	if err != nil {
		return "", err
	}
	return Render(hits), nil
}

// Render formats hits as "[source: url] text" blocks separated by a blank line.
func Render(hits []domain.SearchHit) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = fmt.Sprintf("[source: %s] %s", h.Source, h.Text)
	}
	return strings.Join(blocks, "\n\n")
}
