package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
)

const providerName = "openai"

// Prices are USD per 1K tokens for one model.
type Prices struct {
	Input     float64
	Output    float64
	Embedding float64
}

// Provider is the hosted-API adapter. It speaks the OpenAI-compatible wire
// format and holds no shared mutable state; spend accounting belongs to
// the router.
type Provider struct {
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel string
	prices     map[string]Prices
	httpClient *http.Client
}

func NewProvider(apiKey, baseURL, chatModel, embedModel string, prices map[string]Prices) *Provider {
	// Pooled transport; the per-request deadline comes from the caller's context.
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Provider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		chatModel:  chatModel,
		embedModel: embedModel,
		prices:     prices,
		httpClient: &http.Client{Transport: transport},
	}
}

func (p *Provider) Name() string { return providerName }

// Available reports whether the adapter holds credentials. The actual
// upstream liveness is discovered on first use; the circuit breaker
// wrapper downgrades availability after repeated failures.
func (p *Provider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

// Cost returns USD for the given token count against the configured model
// of that kind. Unknown models cost zero rather than failing the request.
func (p *Provider) Cost(tokens int, kind ai.TokenKind) float64 {
	model := p.chatModel
	if kind == ai.TokenKindEmbedding {
		model = p.embedModel
	}
	prices, ok := p.prices[model]
	if !ok {
		logrus.WithField("model", model).Warn("No price configured for model, assuming zero cost")
		return 0
	}
	perK := prices.Input
	switch kind {
	case ai.TokenKindOutput:
		perK = prices.Output
	case ai.TokenKindEmbedding:
		perK = prices.Embedding
	}
	return float64(tokens) / 1000.0 * perK
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type apiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage apiUsage `json:"usage"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage apiUsage `json:"usage"`
}

// Chat performs a single completion attempt. There is no same-provider
// retry loop here: retry only crosses providers, and the router owns that.
func (p *Provider) Chat(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key is not configured", ai.ErrProviderUnavailable, providerName)
	}

	model := p.chatModel
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	messages := make([]apiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, apiMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(apiChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var out apiChatResponse
	if err := p.post(ctx, "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", ai.ErrProviderRequestFailed, providerName)
	}

	resolvedModel := out.Model
	if resolvedModel == "" {
		resolvedModel = model
	}

	return &ai.Response{
		Content: out.Choices[0].Message.Content,
		Model:   resolvedModel,
		Usage: &ai.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

// Embed generates one vector per input, positionally aligned.
func (p *Provider) Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error) {
	if len(texts) == 0 {
		return nil, ai.WrapInvalidArgument("texts cannot be empty")
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key is not configured", ai.ErrProviderUnavailable, providerName)
	}

	body, err := json.Marshal(apiEmbedRequest{Model: p.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var out apiEmbedResponse
	if err := p.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d inputs",
			ai.ErrProviderRequestFailed, providerName, len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: %s returned embedding index %d out of range",
				ai.ErrProviderRequestFailed, providerName, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	return &ai.EmbeddingResponse{
		Vectors: vectors,
		Usage: &ai.Usage{
			PromptTokens: out.Usage.PromptTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) post(ctx context.Context, path string, body []byte, out any) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(hreq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s call exceeded deadline: %v", ai.ErrProviderTimeout, providerName, err)
		}
		return fmt.Errorf("%w: %s: %v", ai.ErrProviderUnavailable, providerName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ai.ErrProviderRequestFailed, providerName, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		logrus.WithField("status", resp.StatusCode).Error("Hosted provider rejected credentials")
		return fmt.Errorf("%w: %s rejected credentials: status %d", ai.ErrProviderUnavailable, providerName, resp.StatusCode)
	default:
		logrus.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(respBody)}).Error("Hosted provider API error")
		return fmt.Errorf("%w: %s: status %d: %s", ai.ErrProviderRequestFailed, providerName, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ai.ErrProviderRequestFailed, providerName, err)
	}
	return nil
}
