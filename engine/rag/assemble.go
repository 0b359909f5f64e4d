package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/engine/llm"
)

// SystemPrompt grounds the model in the retrieved context.
const SystemPrompt = "You are a helpful assistant. Answer ONLY using the provided context. " +
	"If the context is insufficient, say you don't know and suggest what to ingest or where to look."

const humanTemplate = "Question:\n%s\n\nContext:\n%s\n\n" +
	"Answer in a clear, concise way and cite sources by URL when relevant."

// NoContext stands in for an empty context so the model still sees the
// grounding rule and answers that it does not know.
const NoContext = "(no relevant context found)"

// FallbackAnswer is returned when the model replies with nothing.
const FallbackAnswer = "I don't know based on the available context. " +
	"Try ingesting more pages of the site, or check its About and Services pages."

// Assembler builds the grounding prompt and calls the completer.
type Assembler struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(completer llm.Completer, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{completer: completer, logger: logger}
}

// Prompt returns the system instruction and the human turn for a question.
func Prompt(question, context string) (system, user string) {
	if strings.TrimSpace(context) == "" {
		context = NoContext
	}
	return SystemPrompt, fmt.Sprintf(humanTemplate, question, context)
}

// Answer returns the model's reply verbatim, or FallbackAnswer when it is blank.
func (a *Assembler) Answer(ctx context.Context, question, context string) (string, error) {
	system, user := Prompt(question, context)
	out, err := a.completer.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("rag: complete: %w: %w", domain.ErrGenerationUnavailable, err)
	}
	if strings.TrimSpace(out) == "" {
		a.logger.Warn("model returned an empty reply")
		return FallbackAnswer, nil
	}
	return out, nil
}

// AnswerStream yields the reply through onToken. A stream that produced
// nothing yields FallbackAnswer.
func (a *Assembler) AnswerStream(ctx context.Context, question, context string, onToken func(string) error) error {
	system, user := Prompt(question, context)
	var wrote, sinkErr bool
	err := llm.Stream(ctx, a.completer, system, user, func(tok string) error {
		if tok == "" {
			return nil
		}
		wrote = true
		if err := onToken(tok); err != nil {
			sinkErr = true
			return err
		}
		return nil
	})
	switch {
	case err != nil && sinkErr:
		return fmt.Errorf("rag: stream: %w", err)
	case err != nil:
		return fmt.Errorf("rag: stream: %w: %w", domain.ErrGenerationUnavailable, err)
	case !wrote:
		return onToken(FallbackAnswer)
	}
	return nil
}
