// Package chunker splits page text into overlapping windows for embedding.
package chunker

import (
	"fmt"
	"unicode"

	"github.com/promtior/sitechat/engine/domain"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 150
)

// Splitter cuts text into windows of at most Size characters where
// consecutive windows share about Overlap characters. Lengths are counted in
// runes.
type Splitter struct {
	size    int
	overlap int
}

// New returns a splitter. The overlap must be smaller than the size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunker: overlap %d must be in [0, %d)", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Default returns the 1000/150 splitter.
func Default() *Splitter {
	return &Splitter{size: DefaultSize, overlap: DefaultOverlap}
}

// Split chunks every page independently; chunks never span two pages and
// each carries its page URL as Source.
func (s *Splitter) Split(pages []domain.CrawledPage) []domain.Chunk {
	var out []domain.Chunk
	for _, p := range pages {
		out = append(out, s.SplitPage(p)...)
	}
	return out
}

// SplitPage chunks one page. Text no longer than the window size yields a
// single chunk equal to the text; empty text yields none.
func (s *Splitter) SplitPage(p domain.CrawledPage) []domain.Chunk {
	r := []rune(p.Text)
	spans := s.spans(r)
	out := make([]domain.Chunk, len(spans))
	for i, sp := range spans {
		out[i] = domain.Chunk{
			Text:   string(r[sp[0]:sp[1]]),
			Source: p.URL,
			Index:  i,
			Start:  sp[0],
			End:    sp[1],
		}
	}
	return out
}

// spans returns [start, end) rune offsets for each window.
func (s *Splitter) spans(r []rune) [][2]int {
	n := len(r)
	if n == 0 {
		return nil
	}
	if n <= s.size {
		return [][2]int{{0, n}}
	}

	minLen := max(s.size/2, s.overlap+1)
	var out [][2]int
	start := 0
	for {
		end := min(start+s.size, n)
		if end == n {
			out = append(out, [2]int{start, n})
			return out
		}
		cut := boundary(r, start+minLen, end)
		out = append(out, [2]int{start, cut})
		start = wordStart(r, cut-s.overlap, cut)
	}
}

// boundary picks the cut point in [lo, hi], preferring a paragraph break,
// then a sentence end, then a word gap, and finally the hard limit hi.
func boundary(r []rune, lo, hi int) int {
	for i := hi - 1; i >= lo; i-- {
		if r[i] == '\n' && i+1 < len(r) && r[i+1] == '\n' {
			return i
		}
	}
	for i := hi - 1; i >= lo-1 && i >= 0; i-- {
		if isSentenceEnd(r[i]) && i+1 < len(r) && unicode.IsSpace(r[i+1]) && i+1 >= lo {
			return i + 1
		}
	}
	for i := hi - 1; i >= lo; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return hi
}

// wordStart moves from to the first word start before limit. When the
// overlap region has no word start, from is returned unchanged.
func wordStart(r []rune, from, limit int) int {
	for j := from; j < limit; j++ {
		if (j == 0 || unicode.IsSpace(r[j-1])) && !unicode.IsSpace(r[j]) {
			return j
		}
	}
	return from
}

func isSentenceEnd(c rune) bool {
	return c == '.' || c == '!' || c == '?'
}
