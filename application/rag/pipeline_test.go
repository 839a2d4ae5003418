package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
)

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Chat(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Response), args.Error(1)
}

func (m *mockRouter) Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error) {
	args := m.Called(texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.EmbeddingResponse), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upsert(ctx context.Context, chunks []content.Chunk) error {
	return m.Called(chunks).Error(0)
}

func (m *mockStore) Query(ctx context.Context, embedding []float32, k int, scope vector.Scope) ([]vector.SearchResult, error) {
	args := m.Called(embedding, k, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.SearchResult), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, ownerID, sourceID string) error {
	return m.Called(ownerID, sourceID).Error(0)
}

func (m *mockStore) Count(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func searchResult(text string, ordinal, tokens int, similarity float64) vector.SearchResult {
	return vector.SearchResult{
		Chunk: content.Chunk{
			ID:            uuid.New(),
			SourceID:      "src-1",
			OwnerID:       "user-1",
			Ordinal:       ordinal,
			Text:          text,
			TokenEstimate: tokens,
		},
		Similarity: similarity,
	}
}

func TestPipeline_Answer_GroundsPromptInRetrievedChunks(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 3000)

	queryVec := []float32{0.1, 0.2}
	scope := vector.Scope{OwnerID: "user-1"}

	router.On("Embed", []string{"what is mitosis?"}).Return(&ai.EmbeddingResponse{
		Vectors: [][]float32{queryVec},
	}, nil)
	store.On("Query", queryVec, 5, scope).Return([]vector.SearchResult{
		searchResult("Mitosis is cell division.", 0, 10, 0.95),
		searchResult("The cell cycle has phases.", 1, 10, 0.80),
	}, nil)

	var captured *ai.Request
	router.On("Chat", mock.AnythingOfType("*ai.Request")).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*ai.Request)
	}).Return(&ai.Response{Content: "Mitosis is...", Model: "gpt-4o-mini"}, nil)

	resp, err := pipeline.Answer(context.Background(), "what is mitosis?", scope)

	require.NoError(t, err)
	assert.Equal(t, "Mitosis is...", resp.Content)

	require.NotNil(t, captured)
	require.Len(t, captured.Messages, 2)
	// Retrieved material rides in the system message, ahead of the question.
	assert.Equal(t, ai.RoleSystem, captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "Mitosis is cell division.")
	assert.Contains(t, captured.Messages[0].Content, "The cell cycle has phases.")
	assert.Equal(t, ai.RoleUser, captured.Messages[1].Role)
	assert.Equal(t, "what is mitosis?", captured.Messages[1].Content)
}

func TestPipeline_Answer_NoContentAvailable(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 3000)

	scope := vector.Scope{OwnerID: "user-1"}
	router.On("Embed", mock.Anything).Return(&ai.EmbeddingResponse{Vectors: [][]float32{{0.1}}}, nil)
	store.On("Query", mock.Anything, 5, scope).Return([]vector.SearchResult{}, nil)

	resp, err := pipeline.Answer(context.Background(), "anything indexed?", scope)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ai.ErrNoContentAvailable)
	router.AssertNotCalled(t, "Chat", mock.Anything)
}

func TestPipeline_Answer_DropsLowestSimilarityToFitBudget(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 25)

	scope := vector.Scope{OwnerID: "user-1"}
	router.On("Embed", mock.Anything).Return(&ai.EmbeddingResponse{Vectors: [][]float32{{0.1}}}, nil)
	store.On("Query", mock.Anything, 5, scope).Return([]vector.SearchResult{
		searchResult("best chunk", 0, 10, 0.95),
		searchResult("good chunk", 1, 10, 0.85),
		searchResult("weak chunk", 2, 10, 0.40),
	}, nil)

	var captured *ai.Request
	router.On("Chat", mock.AnythingOfType("*ai.Request")).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*ai.Request)
	}).Return(&ai.Response{Content: "answer"}, nil)

	_, err := pipeline.Answer(context.Background(), "question", scope)

	require.NoError(t, err)
	require.NotNil(t, captured)
	// 25 tokens fit two chunks of 10; the weakest match gets cut.
	assert.Contains(t, captured.Messages[0].Content, "best chunk")
	assert.Contains(t, captured.Messages[0].Content, "good chunk")
	assert.NotContains(t, captured.Messages[0].Content, "weak chunk")
}

func TestPipeline_Answer_OversizedTopChunkStillKept(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 25)

	scope := vector.Scope{OwnerID: "user-1"}
	router.On("Embed", mock.Anything).Return(&ai.EmbeddingResponse{Vectors: [][]float32{{0.1}}}, nil)
	store.On("Query", mock.Anything, 5, scope).Return([]vector.SearchResult{
		searchResult("huge chunk", 0, 100, 0.95),
	}, nil)
	router.On("Chat", mock.AnythingOfType("*ai.Request")).Return(&ai.Response{Content: "answer"}, nil)

	resp, err := pipeline.Answer(context.Background(), "question", scope)

	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
}

func TestPipeline_Answer_EmptyQuery(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 3000)

	resp, err := pipeline.Answer(context.Background(), "   ", vector.Scope{OwnerID: "user-1"})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ai.ErrInvalidArgument)
	router.AssertNotCalled(t, "Embed", mock.Anything)
}

func TestPipeline_Answer_EmbedFailurePropagates(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 3000)

	router.On("Embed", mock.Anything).Return(nil, ai.ErrBudgetExceeded)

	resp, err := pipeline.Answer(context.Background(), "question", vector.Scope{OwnerID: "user-1"})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ai.ErrBudgetExceeded)
	store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Answer_ChatResponseReturnedUnchanged(t *testing.T) {
	router := &mockRouter{}
	store := &mockStore{}
	pipeline := NewPipeline(router, store, 5, 3000)

	scope := vector.Scope{OwnerID: "user-1"}
	router.On("Embed", mock.Anything).Return(&ai.EmbeddingResponse{Vectors: [][]float32{{0.1}}}, nil)
	store.On("Query", mock.Anything, 5, scope).Return([]vector.SearchResult{
		searchResult("chunk", 0, 10, 0.9),
	}, nil)

	want := &ai.Response{
		Content: strings.Repeat("a", 100),
		Model:   "llama3.2",
		Usage:   &ai.Usage{PromptTokens: 50, CompletionTokens: 25, TotalTokens: 75},
	}
	router.On("Chat", mock.AnythingOfType("*ai.Request")).Return(want, nil)

	got, err := pipeline.Answer(context.Background(), "question", scope)

	require.NoError(t, err)
	assert.Same(t, want, got)
}
