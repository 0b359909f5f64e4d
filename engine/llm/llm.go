// Package llm defines the two model capabilities the pipelines depend on,
// text embedding and chat completion, plus the wrappers and the factory that
// turn configuration into concrete providers.
package llm

import "context"

// Embedder turns text into vectors. EmbedBatch returns one vector per text, in order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer answers a system instruction plus one user message.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// StreamCompleter is a Completer that can also yield the reply in fragments.
// Returning an error from onToken stops the stream with that error.
type StreamCompleter interface {
	Completer
	CompleteStream(ctx context.Context, system, user string, onToken func(string) error) error
}

// Stream yields c's reply through onToken, fragment by fragment when c can
// stream and as one fragment otherwise.
func Stream(ctx context.Context, c Completer, system, user string, onToken func(string) error) error {
	if sc, ok := c.(StreamCompleter); ok {
		return sc.CompleteStream(ctx, system, user, onToken)
	}
	text, err := c.Complete(ctx, system, user)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return onToken(text)
}

// Provider is the pair of capabilities selected by configuration.
type Provider struct {
	Name      string
	Embedder  Embedder
	Completer Completer
}
