package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/promtior/sitechat/pkg/fn"
)

// Transient reports whether err is worth retrying: timeouts, dropped
// connections, rate limits and 5xx replies. Cancellation never is.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var op *net.OpError
	if errors.As(err, &op) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return false
}

func retryOpts(opts fn.RetryOpts, what string, logger *slog.Logger) fn.RetryOpts {
	if opts.Retryable == nil {
		opts.Retryable = Transient
	}
	if opts.OnRetry == nil {
		opts.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Warn("retrying model call", "call", what, "attempt", attempt, "wait", wait, "err", err)
		}
	}
	return opts
}

type retryingEmbedder struct {
	next Embedder
	opts fn.RetryOpts
}

// RetryEmbedder retries transient embedding failures.
func RetryEmbedder(next Embedder, opts fn.RetryOpts, logger *slog.Logger) Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingEmbedder{next: next, opts: retryOpts(opts, "embed", logger)}
}

func (r *retryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(r.next.Embed(ctx, text))
	}).Unwrap()
}

func (r *retryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(r.next.EmbedBatch(ctx, texts))
	}).Unwrap()
}

type retryingCompleter struct {
	next Completer
	opts fn.RetryOpts
}

// RetryCompleter retries transient completion failures. A stream is only
// retried while it has not produced any fragment.
func RetryCompleter(next Completer, opts fn.RetryOpts, logger *slog.Logger) StreamCompleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingCompleter{next: next, opts: retryOpts(opts, "complete", logger)}
}

func (r *retryingCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[string] {
		return fn.FromPair(r.next.Complete(ctx, system, user))
	}).Unwrap()
}

func (r *retryingCompleter) CompleteStream(ctx context.Context, system, user string, onToken func(string) error) error {
	started := false
	opts := r.opts
	retryable := opts.Retryable
	opts.Retryable = func(err error) bool { return !started && retryable(err) }

	_, err := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, Stream(ctx, r.next, system, user, func(tok string) error {
			started = true
			return onToken(tok)
		}))
	}).Unwrap()
	return err
}
