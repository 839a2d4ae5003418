package ai

import "context"

// Provider abstracts a concrete AI backend. Adapters must not mutate shared
// state; cost and budget accounting belong to the router.
type Provider interface {
	// Name returns the provider's unique identifier.
	Name() string

	// Chat performs a non-streaming chat completion.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Embed generates one embedding per input text, positionally aligned.
	Embed(ctx context.Context, texts []string) (*EmbeddingResponse, error)

	// Available reports whether credentials are present and the backend's
	// liveness check passes.
	Available(ctx context.Context) bool

	// Cost returns the monetary cost of the given token count for the
	// provider's configured model of the given kind.
	Cost(tokens int, kind TokenKind) float64
}
