// Package rag answers questions from retrieved site content: it builds an
// attributable context from the vector index and asks the model to answer
// strictly from it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/promtior/sitechat/engine/rag")

// Service composes retrieval and answer assembly.
type Service struct {
	builder   *ContextBuilder
	assembler *Assembler
	metrics   *metrics.Set
	logger    *slog.Logger
}

// New creates a Service. m may be nil.
func New(builder *ContextBuilder, assembler *Assembler, m *metrics.Set, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{builder: builder, assembler: assembler, metrics: m, logger: logger}
}

// Answer validates question, retrieves context and returns the model's answer.
func (s *Service) Answer(ctx context.Context, question string) (string, error) {
	ctx, span, q, err := s.begin(ctx, "rag.answer", question)
	defer span.End()
	start := time.Now()
	if err != nil {
		return "", s.finish(ctx, span, start, err)
	}

	text, err := s.builder.Build(ctx, q)
	if err != nil {
		return "", s.finish(ctx, span, start, err)
	}
	out, err := s.assembler.Answer(ctx, q, text)
	return out, s.finish(ctx, span, start, err)
}

// AnswerStream is Answer with the reply delivered through onToken.
func (s *Service) AnswerStream(ctx context.Context, question string, onToken func(string) error) error {
	ctx, span, q, err := s.begin(ctx, "rag.answer_stream", question)
	defer span.End()
	start := time.Now()
	if err != nil {
		return s.finish(ctx, span, start, err)
	}

	text, err := s.builder.Build(ctx, q)
	if err != nil {
		return s.finish(ctx, span, start, err)
	}
	return s.finish(ctx, span, start, s.assembler.AnswerStream(ctx, q, text, onToken))
}

func (s *Service) begin(ctx context.Context, name, question string) (context.Context, trace.Span, string, error) {
	ctx, span := tracer.Start(ctx, name)
	q, err := domain.ValidateQuestion(question)
	span.SetAttributes(attribute.Int("question_len", len(q)))
	return ctx, span, q, err
}

// finish records the outcome. A failure on a request whose context has ended
// is reported as the cancellation, whatever stage wrapped it.
func (s *Service) finish(ctx context.Context, span trace.Span, start time.Time, err error) error {
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("rag: %w: %v", ctx.Err(), err)
	}
	kind := ErrorKind(err)
	s.metrics.QueryFinished(start, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("question failed", "kind", kind, "err", err)
		return err
	}
	s.logger.Info("question answered", "duration", time.Since(start))
	return nil
}

// ErrorKind names the failure class of a query error for metrics and HTTP
// mapping. Nil yields "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidQuestion):
		return "invalid_question"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, domain.ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
