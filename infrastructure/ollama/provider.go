package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
)

const providerName = "ollama"

// availabilityTTL bounds how often the liveness probe hits the local
// endpoint when availability is polled per request.
const availabilityTTL = 30 * time.Second

// Provider is the locally-hosted fallback adapter. Local inference is
// free, so Cost always returns zero.
type Provider struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client

	mu          sync.Mutex
	lastProbe   time.Time
	lastHealthy bool
}

func NewProvider(baseURL, chatModel, embedModel string) *Provider {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Provider{
		baseURL:    baseURL,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Transport: transport},
	}
}

func (p *Provider) Name() string { return providerName }

// Available probes the local endpoint's tag listing, caching the result
// briefly so hot paths do not hammer it.
func (p *Provider) Available(ctx context.Context) bool {
	p.mu.Lock()
	if time.Since(p.lastProbe) < availabilityTTL {
		healthy := p.lastHealthy
		p.mu.Unlock()
		return healthy
	}
	p.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	healthy := false
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err == nil {
		resp, err := p.httpClient.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			healthy = resp.StatusCode == http.StatusOK
		}
	}

	p.mu.Lock()
	p.lastProbe = time.Now()
	p.lastHealthy = healthy
	p.mu.Unlock()

	if !healthy {
		logrus.WithField("base_url", p.baseURL).Debug("Local inference endpoint is not reachable")
	}
	return healthy
}

func (p *Provider) Cost(tokens int, kind ai.TokenKind) float64 {
	return 0
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiChatRequest struct {
	Model    string         `json:"model"`
	Messages []apiMessage   `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type apiChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

type apiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (p *Provider) Chat(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	model := p.chatModel
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	messages := make([]apiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, apiMessage{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{}
	if req.Options.Temperature != nil {
		options["temperature"] = *req.Options.Temperature
	}
	if req.Options.MaxTokens > 0 {
		options["num_predict"] = req.Options.MaxTokens
	}

	body, err := json.Marshal(apiChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var out apiChatResponse
	if err := p.post(ctx, "/api/chat", body, &out); err != nil {
		return nil, err
	}

	resolvedModel := out.Model
	if resolvedModel == "" {
		resolvedModel = model
	}

	return &ai.Response{
		Content: out.Message.Content,
		Model:   resolvedModel,
		Usage: &ai.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error) {
	if len(texts) == 0 {
		return nil, ai.WrapInvalidArgument("texts cannot be empty")
	}

	body, err := json.Marshal(apiEmbedRequest{Model: p.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var out apiEmbedResponse
	if err := p.post(ctx, "/api/embed", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d inputs",
			ai.ErrProviderRequestFailed, providerName, len(out.Embeddings), len(texts))
	}

	return &ai.EmbeddingResponse{
		Vectors: out.Embeddings,
		Usage:   &ai.Usage{PromptTokens: out.PromptEvalCount, TotalTokens: out.PromptEvalCount},
	}, nil
}

func (p *Provider) post(ctx context.Context, path string, body []byte, out any) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

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

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(respBody)}).Error("Local inference API error")
		return fmt.Errorf("%w: %s: status %d: %s", ai.ErrProviderRequestFailed, providerName, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ai.ErrProviderRequestFailed, providerName, err)
	}
	return nil
}
