package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
)

const systemPrompt = "You are a study assistant. Answer using the provided study material excerpts. " +
	"If the excerpts do not contain the answer, say so instead of guessing."

// AIRouter is the slice of the router the pipeline needs.
type AIRouter interface {
	Chat(ctx context.Context, req *ai.Request) (*ai.Response, error)
	Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error)
}

// Pipeline implements retrieval-augmented generation: embed the query,
// retrieve the top-k chunks in scope, assemble an augmented prompt, and
// route it to chat completion.
type Pipeline struct {
	router             AIRouter
	store              vector.Store
	topK               int
	contextTokenBudget int
}

func NewPipeline(router AIRouter, store vector.Store, topK, contextTokenBudget int) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	if contextTokenBudget <= 0 {
		contextTokenBudget = 3000
	}
	return &Pipeline{
		router:             router,
		store:              store,
		topK:               topK,
		contextTokenBudget: contextTokenBudget,
	}
}

// Answer returns the chat response for the query grounded in the scope's
// content. Zero chunks in scope fail with ErrNoContentAvailable; whether
// to proceed without retrieval context is the caller's policy.
func (p *Pipeline) Answer(ctx context.Context, query string, scope vector.Scope) (*ai.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ai.WrapInvalidArgument("query cannot be empty")
	}

	embedResp, err := p.router.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := p.store.Query(ctx, embedResp.Vectors[0], p.topK, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no chunks in scope for owner %s", ai.ErrNoContentAvailable, scope.OwnerID)
	}

	kept := p.fitToBudget(results)
	logrus.WithFields(logrus.Fields{
		"retrieved": len(results),
		"kept":      len(kept),
		"owner_id":  scope.OwnerID,
	}).Debug("Assembled retrieval context")

	req := &ai.Request{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: p.buildContext(kept)},
			{Role: ai.RoleUser, Content: query},
		},
	}

	return p.router.Chat(ctx, req)
}

// fitToBudget truncates retrieved context to the model's input budget,
// dropping the lowest-similarity chunks first. The store returns results
// ordered by similarity descending, so keeping a prefix is exactly that.
// At least the best chunk is always kept so an oversized single chunk
// never fails the request.
func (p *Pipeline) fitToBudget(results []vector.SearchResult) []vector.SearchResult {
	kept := results[:0:0]
	used := 0
	for _, result := range results {
		tokens := result.Chunk.TokenEstimate
		if tokens == 0 {
			tokens = content.EstimateTokens(result.Chunk.Text)
		}
		if used+tokens > p.contextTokenBudget && len(kept) > 0 {
			break
		}
		kept = append(kept, result)
		used += tokens
	}
	return kept
}

func (p *Pipeline) buildContext(results []vector.SearchResult) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nStudy material excerpts:\n")
	for i, result := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, result.Chunk.Text)
	}
	return b.String()
}
