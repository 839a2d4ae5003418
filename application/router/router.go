package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/budget"
	"github.com/renatodap/studysharper-sub001/domain/content"
)

// defaultOutputEstimate is the completion-token estimate used for
// admission when the caller does not cap output tokens.
const defaultOutputEstimate = 500

// Config fixes the router's behavior for its lifetime.
type Config struct {
	RequestTimeout     time.Duration
	MeteredEmbeddings  bool
	EmbeddingCacheSize int
}

// Router dispatches chat and embedding requests across a primary and an
// optional fallback provider under budget admission control. Ordering is
// strictly primary-then-fallback; a failed call is never retried against
// the same provider. All outbound model calls go through here.
type Router struct {
	primary    ai.Provider
	fallback   ai.Provider // nil when no fallback is configured
	ledger     budget.Ledger
	config     Config
	embedCache *lru.Cache[string, []float32]
}

func NewRouter(primary, fallback ai.Provider, ledger budget.Ledger, config Config) (*Router, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary provider is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("budget ledger is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.EmbeddingCacheSize <= 0 {
		config.EmbeddingCacheSize = 1000
	}

	cache, err := lru.New[string, []float32](config.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &Router{
		primary:    primary,
		fallback:   fallback,
		ledger:     ledger,
		config:     config,
		embedCache: cache,
	}, nil
}

func (r *Router) tiers() []ai.Provider {
	tiers := []ai.Provider{r.primary}
	if r.fallback != nil {
		tiers = append(tiers, r.fallback)
	}
	return tiers
}

// Chat resolves a provider, executes with fallback, commits actual spend,
// and returns the response annotated with the serving provider's model.
func (r *Router) Chat(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	if req == nil {
		return nil, ai.WrapInvalidArgument("request cannot be nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tiers := r.tiers()
	budgetDenied := 0
	var lastErr error

	for _, provider := range tiers {
		if !provider.Available(ctx) {
			lastErr = fmt.Errorf("%w: %s liveness check failed", ai.ErrProviderUnavailable, provider.Name())
			logrus.WithField("provider", provider.Name()).Warn("Provider unavailable, trying next tier")
			continue
		}

		estimate := r.estimateChatCost(provider, req)
		reservation, err := r.ledger.Reserve(estimate)
		if err != nil {
			if errors.Is(err, ai.ErrBudgetExceeded) {
				budgetDenied++
				lastErr = err
				logrus.WithFields(logrus.Fields{
					"provider": provider.Name(),
					"estimate": estimate,
				}).Warn("Budget admission denied, trying next tier")
				continue
			}
			return nil, err
		}

		resp, err := r.callChat(ctx, provider, req)
		if err != nil {
			reservation.Release()
			if ai.IsProviderFailure(err) {
				lastErr = err
				logrus.WithError(err).WithField("provider", provider.Name()).Warn("Provider call failed, trying next tier")
				continue
			}
			return nil, err
		}

		actual := r.actualChatCost(provider, resp)
		reservation.Commit(actual)
		logrus.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"model":    resp.Model,
			"cost":     actual,
		}).Debug("Chat request served")
		return resp, nil
	}

	if budgetDenied == len(tiers) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ai.ErrAllProvidersExhausted, lastErr)
}

// Embed follows the same two-tier resolution as Chat. Admission is
// skipped when embeddings are configured unmetered; cache hits never
// reach a provider or the ledger.
func (r *Router) Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error) {
	if len(texts) == 0 {
		return nil, ai.WrapInvalidArgument("texts cannot be empty")
	}
	for i, text := range texts {
		if text == "" {
			return nil, ai.WrapInvalidArgument("text %d cannot be empty", i)
		}
	}

	tiers := r.tiers()
	budgetDenied := 0
	var lastErr error

	for _, provider := range tiers {
		if !provider.Available(ctx) {
			lastErr = fmt.Errorf("%w: %s liveness check failed", ai.ErrProviderUnavailable, provider.Name())
			continue
		}

		// Resolve cache hits for this provider; different providers emit
		// vectors of different dimensionality, so keys are per provider.
		vectors := make([][]float32, len(texts))
		var missing []int
		for i, text := range texts {
			if cached, ok := r.embedCache.Get(cacheKey(provider.Name(), text)); ok {
				vectors[i] = cached
			} else {
				missing = append(missing, i)
			}
		}

		if len(missing) == 0 {
			return &ai.EmbeddingResponse{Vectors: vectors}, nil
		}

		missingTexts := make([]string, len(missing))
		tokens := 0
		for j, i := range missing {
			missingTexts[j] = texts[i]
			tokens += content.EstimateTokens(texts[i])
		}

		var reservation budget.Reservation
		if r.config.MeteredEmbeddings {
			estimate := provider.Cost(tokens, ai.TokenKindEmbedding)
			var err error
			reservation, err = r.ledger.Reserve(estimate)
			if err != nil {
				if errors.Is(err, ai.ErrBudgetExceeded) {
					budgetDenied++
					lastErr = err
					continue
				}
				return nil, err
			}
		}

		resp, err := r.callEmbed(ctx, provider, missingTexts)
		if err != nil {
			if reservation != nil {
				reservation.Release()
			}
			if ai.IsProviderFailure(err) {
				lastErr = err
				logrus.WithError(err).WithField("provider", provider.Name()).Warn("Embedding call failed, trying next tier")
				continue
			}
			return nil, err
		}

		if reservation != nil {
			actualTokens := tokens
			if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
				actualTokens = resp.Usage.TotalTokens
			}
			reservation.Commit(provider.Cost(actualTokens, ai.TokenKindEmbedding))
		}

		for j, i := range missing {
			vectors[i] = resp.Vectors[j]
			r.embedCache.Add(cacheKey(provider.Name(), texts[i]), resp.Vectors[j])
		}

		return &ai.EmbeddingResponse{Vectors: vectors, Usage: resp.Usage}, nil
	}

	if budgetDenied == len(tiers) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ai.ErrAllProvidersExhausted, lastErr)
}

// CurrentSpend exposes the ledger's running total for the current period.
func (r *Router) CurrentSpend() float64 {
	return r.ledger.CurrentSpend()
}

// PeriodStart exposes the start of the ledger's current budget period.
func (r *Router) PeriodStart() time.Time {
	return r.ledger.PeriodStart()
}

func (r *Router) callChat(ctx context.Context, provider ai.Provider, req *ai.Request) (*ai.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	resp, err := provider.Chat(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !ai.IsProviderFailure(err) {
			return nil, fmt.Errorf("%w: %s: %v", ai.ErrProviderTimeout, provider.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

func (r *Router) callEmbed(ctx context.Context, provider ai.Provider, texts []string) (*ai.EmbeddingResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	resp, err := provider.Embed(callCtx, texts)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !ai.IsProviderFailure(err) {
			return nil, fmt.Errorf("%w: %s: %v", ai.ErrProviderTimeout, provider.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// estimateChatCost prices the request before execution for admission
// control. Output tokens are unknown up front, so the caller's cap or a
// fixed estimate stands in.
func (r *Router) estimateChatCost(provider ai.Provider, req *ai.Request) float64 {
	inputTokens := 0
	for _, msg := range req.Messages {
		inputTokens += content.EstimateTokens(msg.Content)
	}
	outputTokens := req.Options.MaxTokens
	if outputTokens <= 0 {
		outputTokens = defaultOutputEstimate
	}
	return provider.Cost(inputTokens, ai.TokenKindInput) + provider.Cost(outputTokens, ai.TokenKindOutput)
}

// actualChatCost prices the completed call from reported usage, falling
// back to estimates when the provider reports none.
func (r *Router) actualChatCost(provider ai.Provider, resp *ai.Response) float64 {
	if resp.Usage == nil {
		return provider.Cost(content.EstimateTokens(resp.Content), ai.TokenKindOutput)
	}
	return provider.Cost(resp.Usage.PromptTokens, ai.TokenKindInput) +
		provider.Cost(resp.Usage.CompletionTokens, ai.TokenKindOutput)
}

func cacheKey(provider, text string) string {
	hash := sha256.Sum256([]byte(text))
	return provider + ":" + hex.EncodeToString(hash[:16])
}
