// Package semantic owns the vector index: embedding chunks, storing them in
// a swappable collection and running similarity search.
package semantic

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/promtior/sitechat/engine/domain"
)

// Store holds the entries of one logical collection.
type Store interface {
	// Replace makes entries the only visible contents of the collection.
	// Readers observe either the previous set or the new one, never a mix,
	// and a failed Replace leaves the previous set in place.
	Replace(ctx context.Context, entries []domain.IndexEntry) error
	// Search returns up to k hits ordered by descending similarity. Equal
	// scores keep insertion order.
	Search(ctx context.Context, embedding []float32, k int) ([]domain.SearchHit, error)
	Close() error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// ranked pairs a hit with its insertion ordinal for stable ordering.
type ranked struct {
	hit     domain.SearchHit
	ordinal int
}

// topK sorts by score desc then ordinal asc and keeps the first k.
func topK(items []ranked, k int) []domain.SearchHit {
	slices.SortStableFunc(items, func(a, b ranked) int {
		if c := cmp.Compare(b.hit.Score, a.hit.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ordinal, b.ordinal)
	})
	if len(items) > k {
		items = items[:k]
	}
	out := make([]domain.SearchHit, len(items))
	for i, r := range items {
		out[i] = r.hit
	}
	return out
}
