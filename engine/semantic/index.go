package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/pkg/fn"
)

// EmbedBatchSize is the max chunks per embedding request.
const EmbedBatchSize = 100

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index composes an embedder with a store.
type Index struct {
	embedder Embedder
	store    Store
	logger   *slog.Logger
}

// NewIndex creates an Index.
func NewIndex(embedder Embedder, store Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{embedder: embedder, store: store, logger: logger}
}

// Rebuild embeds every chunk and replaces the collection with the result.
// Nothing becomes visible unless every chunk was embedded and stored; any
// failure is reported as domain.ErrIndexUnavailable.
func (ix *Index) Rebuild(ctx context.Context, chunks []domain.Chunk) error {
	entries := make([]domain.IndexEntry, 0, len(chunks))
	for bi, batch := range fn.Chunk(chunks, EmbedBatchSize) {
		texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("semantic: rebuild: embed batch %d: %w: %w", bi, domain.ErrIndexUnavailable, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("semantic: rebuild: embed batch %d: got %d vectors for %d texts: %w",
				bi, len(vecs), len(batch), domain.ErrIndexUnavailable)
		}
		for i, c := range batch {
			entries = append(entries, domain.IndexEntry{Embedding: vecs[i], Text: c.Text, Source: c.Source})
		}
	}

	if err := ix.store.Replace(ctx, entries); err != nil {
		return fmt.Errorf("semantic: rebuild: %w: %w", domain.ErrIndexUnavailable, err)
	}
	ix.logger.Info("index rebuilt", "entries", len(entries))
	return nil
}

// Search returns up to k hits for a query embedding, most similar first.
func (ix *Index) Search(ctx context.Context, embedding []float32, k int) ([]domain.SearchHit, error) {
	hits, err := ix.store.Search(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return hits, nil
}

// Store returns the underlying store.
func (ix *Index) Store() Store { return ix.store }
