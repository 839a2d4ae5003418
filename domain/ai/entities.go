package ai

// Core AI entities independent of frameworks and vendors

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single chat request. Zero values mean provider defaults.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Model       string   `json:"model,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// Request is immutable once submitted to the router.
type Request struct {
	Messages []Message `json:"messages"`
	Options  Options   `json:"options,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response carries the model that actually served the request, which
// may differ from the requested model after fallback.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   *Usage `json:"usage,omitempty"`
}

// EmbeddingResponse holds one vector per input text, positionally aligned
// with the request's input sequence.
type EmbeddingResponse struct {
	Vectors [][]float32 `json:"vectors"`
	Usage   *Usage      `json:"usage,omitempty"`
}

// TokenKind selects the price column for cost calculation.
type TokenKind string

const (
	TokenKindInput     TokenKind = "input"
	TokenKindOutput    TokenKind = "output"
	TokenKindEmbedding TokenKind = "embedding"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// Validate rejects malformed requests before any provider is contacted.
func (r *Request) Validate() error {
	if r.Options.Stream {
		return WrapInvalidArgument("streaming responses are not supported")
	}
	if len(r.Messages) == 0 {
		return WrapInvalidArgument("messages cannot be empty")
	}
	const maxMessages = 100
	if len(r.Messages) > maxMessages {
		return WrapInvalidArgument("too many messages: %d (max %d)", len(r.Messages), maxMessages)
	}
	for i, msg := range r.Messages {
		if msg.Role == "" {
			return WrapInvalidArgument("message %d: role cannot be empty", i)
		}
		if msg.Content == "" {
			return WrapInvalidArgument("message %d: content cannot be empty", i)
		}
		const maxContentLength = 50000
		if len(msg.Content) > maxContentLength {
			return WrapInvalidArgument("message %d: content too long (%d chars, max %d)", i, len(msg.Content), maxContentLength)
		}
		if msg.Role != RoleUser && msg.Role != RoleAssistant && msg.Role != RoleSystem {
			return WrapInvalidArgument("message %d: invalid role '%s' (must be user, assistant, or system)", i, msg.Role)
		}
	}
	return nil
}
