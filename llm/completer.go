package llm

import (
	"context"
	"fmt"
	"strings"
)

// Completer adapts a Provider to a single system+user completion call.
type Completer struct {
	provider    Provider
	model       string
	temperature float64
}

// NewCompleter returns a Completer that sends every call to model. An
// empty model uses the provider's configured one.
func NewCompleter(p Provider, model string, temperature float64) *Completer {
	return &Completer{provider: p, model: model, temperature: temperature}
}

// Complete returns the trimmed text of the first choice.
func (c *Completer) Complete(ctx context.Context, system, user string) (string, error) {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: user})

	resp, err := c.provider.Chat(ctx, ChatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Embedder adapts a Provider to single-text embedding.
type Embedder struct {
	provider Provider
}

// NewEmbedder returns an Embedder over p.
func NewEmbedder(p Provider) *Embedder {
	return &Embedder{provider: p}
}

// Embed returns the embedding of one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
