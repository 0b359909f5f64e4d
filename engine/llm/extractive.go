package llm

import (
	"context"
	"sort"
	"strings"

	"github.com/promtior/sitechat/pkg/hashembed"
)

// NoAnswer is the reply of the extractive completer when nothing in the
// context overlaps the question.
const NoAnswer = "I don't know based on the ingested content. Try ingesting more pages of the site or check its About and Services pages."

// Extractive is an offline Completer. It reads the question and the
// "[source: url] text" blocks out of the user message and replies with the
// context sentences sharing the most terms with the question, citing their urls.
type Extractive struct {
	// MaxSentences caps the reply length. Zero means 2.
	MaxSentences int
}

type sentence struct {
	text   string
	source string
	score  int
	order  int
}

func (e Extractive) Complete(_ context.Context, _, user string) (string, error) {
	question, blocks := parsePrompt(user)
	terms := make(map[string]bool)
	for _, t := range hashembed.Tokens(question) {
		terms[t] = true
	}

	var cands []sentence
	for _, b := range blocks {
		for _, s := range splitSentences(b.text) {
			score := 0
			for _, t := range hashembed.Tokens(s) {
				if terms[t] {
					score++
				}
			}
			if score > 0 {
				cands = append(cands, sentence{text: s, source: b.source, score: score, order: len(cands)})
			}
		}
	}
	if len(cands) == 0 {
		return NoAnswer, nil
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	n := e.MaxSentences
	if n <= 0 {
		n = 2
	}
	cands = cands[:min(n, len(cands))]
	sort.Slice(cands, func(i, j int) bool { return cands[i].order < cands[j].order })

	var texts, sources []string
	seen := make(map[string]bool)
	for _, c := range cands {
		texts = append(texts, c.text)
		if !seen[c.source] {
			seen[c.source] = true
			sources = append(sources, c.source)
		}
	}
	return strings.Join(texts, " ") + "\n\nSources: " + strings.Join(sources, ", "), nil
}

type block struct {
	source string
	text   string
}

const (
	questionMark = "Question:\n"
	contextMark  = "\n\nContext:\n"
	answerMark   = "\n\nAnswer in"
)

// parsePrompt splits a "Question: ... Context: ... Answer in ..." message.
func parsePrompt(user string) (string, []block) {
	rest := strings.TrimPrefix(user, questionMark)
	at := contextStart(rest)
	if at < 0 {
		return strings.TrimSpace(rest), nil
	}
	question, ctxText := rest[:at], rest[at+len(contextMark):]
	if i := strings.LastIndex(ctxText, answerMark); i >= 0 {
		ctxText = ctxText[:i]
	}

	var blocks []block
	for _, part := range strings.Split(ctxText, "\n\n") {
		part = strings.TrimSpace(part)
		src, ok := strings.CutPrefix(part, "[source: ")
		if !ok {
			continue
		}
		url, text, ok := strings.Cut(src, "]")
		if !ok {
			continue
		}
		blocks = append(blocks, block{source: url, text: strings.TrimSpace(text)})
	}
	return strings.TrimSpace(question), blocks
}

// contextStart finds the context marker the template wrote. The question may
// contain the marker text too, so the first marker followed by a source block
// or the empty-context note wins; otherwise the last one.
func contextStart(rest string) int {
	for off := 0; ; {
		i := strings.Index(rest[off:], contextMark)
		if i < 0 {
			break
		}
		i += off
		body := rest[i+len(contextMark):]
		if strings.HasPrefix(body, "[source: ") || strings.HasPrefix(body, "(no relevant context") {
			return i
		}
		off = i + 1
	}
	return strings.LastIndex(rest, contextMark)
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
