package httpiface

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/renatodap/studysharper-sub001/application/planner"
	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
	"github.com/renatodap/studysharper-sub001/infrastructure/indexing"
	"github.com/renatodap/studysharper-sub001/infrastructure/vectorstore"
)

type mockAIService struct {
	mock.Mock
}

func (m *mockAIService) Chat(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Response), args.Error(1)
}

func (m *mockAIService) Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error) {
	args := m.Called(texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.EmbeddingResponse), args.Error(1)
}

func (m *mockAIService) CurrentSpend() float64 {
	return m.Called().Get(0).(float64)
}

func (m *mockAIService) PeriodStart() time.Time {
	return m.Called().Get(0).(time.Time)
}

type mockAnswerService struct {
	mock.Mock
}

func (m *mockAnswerService) Answer(ctx context.Context, query string, scope vector.Scope) (*ai.Response, error) {
	args := m.Called(query, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Response), args.Error(1)
}

type mockPlanService struct {
	mock.Mock
}

func (m *mockPlanService) Plan(ctx context.Context, uc planner.UserContext) (*planner.StudyPlan, error) {
	args := m.Called(uc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*planner.StudyPlan), args.Error(1)
}

type mockIndexer struct {
	mock.Mock
	running bool
}

func (m *mockIndexer) Submit(doc *content.Document) error {
	return m.Called(doc).Error(0)
}

func (m *mockIndexer) Health() indexing.Health {
	return indexing.Health{IsRunning: m.running}
}

type testHarness struct {
	service *mockAIService
	answers *mockAnswerService
	plans   *mockPlanService
	indexer *mockIndexer
	store   vector.Store
	engine  http.Handler
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		service: &mockAIService{},
		answers: &mockAnswerService{},
		plans:   &mockPlanService{},
		indexer: &mockIndexer{running: true},
		store:   vectorstore.NewMemoryStore(2),
	}
	router := NewRouter(h.service, h.answers, h.plans, h.indexer, h.store, 5.0, []string{"*"}, nil)
	h.engine = router.SetupRoutes()
	return h
}

func (h *testHarness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-ID": userID}
}

func TestRouter_Liveness(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/live", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Readiness_DegradedWhenIndexerStopped(t *testing.T) {
	h := newHarness(t)
	h.indexer.running = false

	rec := h.do(http.MethodGet, "/ready", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_MissingUserIDRejected(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-User-ID")
}

func TestRouter_Chat_Success(t *testing.T) {
	h := newHarness(t)

	h.service.On("Chat", mock.AnythingOfType("*ai.Request")).Return(&ai.Response{
		Content: "Hello!",
		Model:   "gpt-4o-mini",
	}, nil)

	rec := h.do(http.MethodPost, "/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
	}, asUser("user-1"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ai.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello!", resp.Content)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_Chat_EchoesRequestID(t *testing.T) {
	h := newHarness(t)

	h.service.On("Chat", mock.AnythingOfType("*ai.Request")).Return(&ai.Response{Content: "ok"}, nil)

	headers := asUser("user-1")
	headers["X-Request-ID"] = "req-42"
	rec := h.do(http.MethodPost, "/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
	}, headers)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRouter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "invalid argument", err: ai.WrapInvalidArgument("bad"), wantCode: http.StatusBadRequest},
		{name: "budget exceeded", err: ai.ErrBudgetExceeded, wantCode: http.StatusPaymentRequired},
		{name: "all providers exhausted", err: ai.ErrAllProvidersExhausted, wantCode: http.StatusServiceUnavailable},
		{name: "provider unavailable", err: ai.ErrProviderUnavailable, wantCode: http.StatusServiceUnavailable},
		{name: "unexpected", err: assert.AnError, wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.service.On("Chat", mock.AnythingOfType("*ai.Request")).Return(nil, tt.err)

			rec := h.do(http.MethodPost, "/v1/chat", map[string]any{
				"messages": []map[string]string{{"role": "user", "content": "Hi"}},
			}, asUser("user-1"))

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRouter_Answer_NoContentIs404(t *testing.T) {
	h := newHarness(t)

	h.answers.On("Answer", "what is mitosis?", vector.Scope{OwnerID: "user-1"}).
		Return(nil, ai.ErrNoContentAvailable)

	rec := h.do(http.MethodPost, "/v1/answer", map[string]any{"query": "what is mitosis?"}, asUser("user-1"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Answer_ScopedByHeaderIdentity(t *testing.T) {
	h := newHarness(t)

	h.answers.On("Answer", "q", vector.Scope{OwnerID: "alice", CourseID: "bio"}).
		Return(&ai.Response{Content: "grounded answer"}, nil)

	rec := h.do(http.MethodPost, "/v1/answer", map[string]any{
		"query":     "q",
		"course_id": "bio",
	}, asUser("alice"))

	assert.Equal(t, http.StatusOK, rec.Code)
	h.answers.AssertExpectations(t)
}

func TestRouter_SubmitDocument_Accepted(t *testing.T) {
	h := newHarness(t)

	h.indexer.On("Submit", mock.MatchedBy(func(doc *content.Document) bool {
		return doc.SourceID == "notes-1" && doc.OwnerID == "user-1"
	})).Return(nil)

	rec := h.do(http.MethodPost, "/v1/documents", map[string]any{
		"source_id": "notes-1",
		"title":     "Notes",
		"text":      "study material",
	}, asUser("user-1"))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	h.indexer.AssertExpectations(t)
}

func TestRouter_SubmitDocument_MissingFields(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/documents", map[string]any{"title": "Notes"}, asUser("user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Search(t *testing.T) {
	h := newHarness(t)

	h.service.On("Embed", []string{"mitosis"}).Return(&ai.EmbeddingResponse{
		Vectors: [][]float32{{1, 0}},
	}, nil)

	// Seed the store directly; search only sees the caller's scope.
	require.NoError(t, h.store.Upsert(context.Background(), []content.Chunk{
		{SourceID: "src-1", OwnerID: "user-1", Ordinal: 0, Text: "mitosis notes", Embedding: []float32{1, 0}},
		{SourceID: "src-2", OwnerID: "other", Ordinal: 0, Text: "private notes", Embedding: []float32{1, 0}},
	}))

	rec := h.do(http.MethodPost, "/v1/search", map[string]any{"query": "mitosis"}, asUser("user-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []searchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "src-1", body.Results[0].SourceID)
}

func TestRouter_Plan(t *testing.T) {
	h := newHarness(t)

	h.plans.On("Plan", mock.MatchedBy(func(uc planner.UserContext) bool {
		return uc.UserID == "user-1" && uc.Goal == "pass the exam"
	})).Return(&planner.StudyPlan{
		FocusAreas: []string{"mitosis"},
		Sessions:   []planner.StudySession{{Topic: "mitosis", DurationMinutes: 30, Activity: "review"}},
		Grounded:   true,
	}, nil)

	rec := h.do(http.MethodPost, "/v1/plan", map[string]any{"goal": "pass the exam"}, asUser("user-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var plan planner.StudyPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.True(t, plan.Grounded)
	assert.Len(t, plan.Sessions, 1)
}

func TestRouter_Budget(t *testing.T) {
	h := newHarness(t)

	h.service.On("CurrentSpend").Return(1.25)
	h.service.On("PeriodStart").Return(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	rec := h.do(http.MethodGet, "/v1/budget", nil, asUser("user-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5.0, body["daily_budget"])
	assert.Equal(t, 1.25, body["current_spend"])
	assert.Equal(t, "2025-03-01T00:00:00Z", body["period_start"])
}

func TestRouter_DeleteDocument(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.store.Upsert(context.Background(), []content.Chunk{
		{SourceID: "src-1", OwnerID: "user-1", Ordinal: 0, Text: "notes", Embedding: []float32{1, 0}},
	}))

	rec := h.do(http.MethodDelete, "/v1/documents/src-1", nil, asUser("user-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRouter_DeleteDocument_OnlyOwnContent(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.store.Upsert(context.Background(), []content.Chunk{
		{SourceID: "notes", OwnerID: "user-1", Ordinal: 0, Text: "user-1 notes", Embedding: []float32{1, 0}},
	}))

	// Another identity deleting the same source id must not touch it.
	rec := h.do(http.MethodDelete, "/v1/documents/notes", nil, asUser("user-2"))
	assert.Equal(t, http.StatusOK, rec.Code)

	results, err := h.store.Query(context.Background(), []float32{1, 0}, 10, vector.Scope{OwnerID: "user-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "user-1 notes", results[0].Chunk.Text)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
