package llm

import (
	"context"

	"github.com/promtior/sitechat/pkg/resilience"
)

type guardedCompleter struct {
	next    Completer
	breaker *resilience.Breaker
}

// GuardCompleter puts a circuit breaker in front of next so a dead provider
// fails fast with resilience.ErrCircuitOpen.
func GuardCompleter(next Completer, b *resilience.Breaker) StreamCompleter {
	return &guardedCompleter{next: next, breaker: b}
}

func (g *guardedCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Complete(ctx, system, user)
		return err
	})
	return out, err
}

func (g *guardedCompleter) CompleteStream(ctx context.Context, system, user string, onToken func(string) error) error {
	return g.breaker.Call(ctx, func(ctx context.Context) error {
		return Stream(ctx, g.next, system, user, onToken)
	})
}
