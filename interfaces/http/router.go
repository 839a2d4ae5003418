package httpiface

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/application/planner"
	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
	"github.com/renatodap/studysharper-sub001/infrastructure/indexing"
)

// AIService is the routed model surface exposed over HTTP.
type AIService interface {
	Chat(ctx context.Context, req *ai.Request) (*ai.Response, error)
	Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error)
	CurrentSpend() float64
	PeriodStart() time.Time
}

// AnswerService answers questions grounded in indexed material.
type AnswerService interface {
	Answer(ctx context.Context, query string, scope vector.Scope) (*ai.Response, error)
}

// PlanService produces structured study plans.
type PlanService interface {
	Plan(ctx context.Context, uc planner.UserContext) (*planner.StudyPlan, error)
}

// DocumentIndexer is the async ingestion surface.
type DocumentIndexer interface {
	Submit(doc *content.Document) error
	Health() indexing.Health
}

// DatabaseHealth reports storage liveness when persistence is enabled.
type DatabaseHealth interface {
	Health(ctx context.Context) error
}

type Router struct {
	service     AIService
	answers     AnswerService
	plans       PlanService
	indexer     DocumentIndexer
	store       vector.Store
	dailyBudget float64
	corsOrigins []string
	dbManager   DatabaseHealth
}

func NewRouter(
	service AIService,
	answers AnswerService,
	plans PlanService,
	indexer DocumentIndexer,
	store vector.Store,
	dailyBudget float64,
	corsOrigins []string,
	dbManager DatabaseHealth,
) *Router {
	return &Router{
		service:     service,
		answers:     answers,
		plans:       plans,
		indexer:     indexer,
		store:       store,
		dailyBudget: dailyBudget,
		corsOrigins: corsOrigins,
		dbManager:   dbManager,
	}
}

func (r *Router) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(r.corsMiddleware())

	// Health endpoints - no identity required for monitoring tools
	router.GET("/live", r.liveness)
	router.GET("/ready", r.readiness)
	router.GET("/health", r.healthCheck)

	api := router.Group("/v1")
	api.Use(r.requestIDMiddleware())
	api.Use(r.identityMiddleware())
	api.POST("/chat", r.chat)
	api.POST("/embed", r.embed)
	api.POST("/documents", r.submitDocument)
	api.DELETE("/documents/:source-id", r.deleteDocument)
	api.POST("/search", r.search)
	api.POST("/answer", r.answer)
	api.POST("/plan", r.plan)
	api.GET("/budget", r.budget)

	return router
}

func (r *Router) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqOrigin := c.GetHeader("Origin")
		if reqOrigin == "" {
			c.Header("Access-Control-Allow-Origin", strings.Join(r.corsOrigins, ", "))
		} else {
			allowOrigin := ""
			if len(r.corsOrigins) == 1 && r.corsOrigins[0] == "*" {
				allowOrigin = "*"
			} else {
				for _, allowed := range r.corsOrigins {
					if allowed == reqOrigin {
						allowOrigin = reqOrigin
						break
					}
				}
			}
			if allowOrigin != "" {
				c.Header("Access-Control-Allow-Origin", allowOrigin)
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware echoes a client-supplied X-Request-ID or mints one.
func (r *Router) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// identityMiddleware requires the user identity resolved by the upstream
// auth proxy. The core trusts the header; it never sees credentials.
func (r *Router) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing required header: X-User-ID",
			})
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func (r *Router) healthCheck(c *gin.Context) {
	checks := gin.H{
		"api": "ok",
	}

	overallOK := true

	if r.dbManager != nil {
		if err := r.dbManager.Health(c.Request.Context()); err != nil {
			checks["db"] = gin.H{"ok": false, "error": err.Error()}
			overallOK = false
		} else {
			checks["db"] = gin.H{"ok": true}
		}
	}

	if r.indexer != nil {
		ih := r.indexer.Health()
		checks["indexer"] = ih
		if !ih.IsRunning {
			overallOK = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "studysharper-ai-core",
		"version":   "1.0.0",
		"checks":    checks,
	})
}

// liveness probe: process is up and serving HTTP
func (r *Router) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// readiness probe: dependencies healthy and ready to serve traffic
func (r *Router) readiness(c *gin.Context) {
	checks := gin.H{}
	ready := true

	if r.dbManager != nil {
		if err := r.dbManager.Health(c.Request.Context()); err != nil {
			checks["db"] = gin.H{"ok": false, "error": err.Error()}
			ready = false
		} else {
			checks["db"] = gin.H{"ok": true}
		}
	}

	if r.indexer != nil {
		ih := r.indexer.Health()
		checks["indexer"] = ih
		if !ih.IsRunning {
			ready = false
		}
	}

	code := http.StatusOK
	status := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		status = "not_ready"
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (r *Router) chat(c *gin.Context) {
	var req ai.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Error("Failed to bind chat request")
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Invalid request format"})
		return
	}

	resp, err := r.service.Chat(c.Request.Context(), &req)
	if err != nil {
		r.writeError(c, err, "Failed to process chat request")
		return
	}

	fields := logrus.Fields{
		"request_id": c.GetString("request_id"),
		"model":      resp.Model,
	}
	if resp.Usage != nil {
		fields["prompt_tokens"] = resp.Usage.PromptTokens
		fields["total_tokens"] = resp.Usage.TotalTokens
	}
	logrus.WithFields(fields).Info("Chat completed")

	c.JSON(http.StatusOK, resp)
}

type embedRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

func (r *Router) embed(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Invalid request format"})
		return
	}

	resp, err := r.service.Embed(c.Request.Context(), req.Texts)
	if err != nil {
		r.writeError(c, err, "Failed to process embed request")
		return
	}

	c.JSON(http.StatusOK, resp)
}

type documentRequest struct {
	SourceID string `json:"source_id" binding:"required"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Text     string `json:"text" binding:"required"`
}

// submitDocument enqueues the document for asynchronous indexing.
func (r *Router) submitDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Invalid request format"})
		return
	}

	doc := &content.Document{
		SourceID: req.SourceID,
		OwnerID:  c.GetString("user_id"),
		CourseID: req.CourseID,
		Title:    req.Title,
		Text:     req.Text,
	}

	if err := r.indexer.Submit(doc); err != nil {
		r.writeError(c, err, "Failed to enqueue document")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":   "Document accepted for indexing",
		"source_id": req.SourceID,
	})
}

func (r *Router) deleteDocument(c *gin.Context) {
	sourceID := c.Param("source-id")
	if sourceID == "" {
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Missing source id"})
		return
	}

	if err := r.store.Delete(c.Request.Context(), c.GetString("user_id"), sourceID); err != nil {
		r.writeError(c, err, "Failed to delete document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "source_id": sourceID})
}

type searchRequest struct {
	Query    string `json:"query" binding:"required"`
	CourseID string `json:"course_id"`
	K        int    `json:"k"`
}

type searchResult struct {
	SourceID   string  `json:"source_id"`
	Ordinal    int     `json:"ordinal"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

func (r *Router) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Invalid request format"})
		return
	}
	if req.K <= 0 {
		req.K = 5
	}

	embedResp, err := r.service.Embed(c.Request.Context(), []string{req.Query})
	if err != nil {
		r.writeError(c, err, "Failed to embed search query")
		return
	}

	scope := vector.Scope{OwnerID: c.GetString("user_id"), CourseID: req.CourseID}
	results, err := r.store.Query(c.Request.Context(), embedResp.Vectors[0], req.K, scope)
	if err != nil {
		r.writeError(c, err, "Failed to search")
		return
	}

	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			SourceID:   res.Chunk.SourceID,
			Ordinal:    res.Chunk.Ordinal,
			Text:       res.Chunk.Text,
			Similarity: res.Similarity,
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": out})
}

type answerRequest struct {
	Query    string `json:"query" binding:"required"`
	CourseID string `json:"course_id"`
}

func (r *Router) answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Invalid request format"})
		return
	}

	scope := vector.Scope{OwnerID: c.GetString("user_id"), CourseID: req.CourseID}
	resp, err := r.answers.Answer(c.Request.Context(), req.Query, scope)
	if err != nil {
		r.writeError(c, err, "Failed to answer question")
		return
	}

	c.JSON(http.StatusOK, resp)
}

type planRequest struct {
	CourseID       string   `json:"course_id"`
	Goal           string   `json:"goal" binding:"required"`
	HoursPerWeek   int      `json:"hours_per_week"`
	UpcomingTopics []string `json:"upcoming_topics"`
}

func (r *Router) plan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: "Invalid request format"})
		return
	}

	uc := planner.UserContext{
		UserID:         c.GetString("user_id"),
		CourseID:       req.CourseID,
		Goal:           req.Goal,
		HoursPerWeek:   req.HoursPerWeek,
		UpcomingTopics: req.UpcomingTopics,
	}

	plan, err := r.plans.Plan(c.Request.Context(), uc)
	if err != nil {
		r.writeError(c, err, "Failed to generate plan")
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (r *Router) budget(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"daily_budget":  r.dailyBudget,
		"current_spend": r.service.CurrentSpend(),
		"period_start":  r.service.PeriodStart().UTC().Format(time.RFC3339),
	})
}

// writeError maps domain errors to HTTP status codes. Upstream detail stays
// in the log; the response carries only the category.
func (r *Router) writeError(c *gin.Context, err error, msg string) {
	logrus.WithError(err).WithField("request_id", c.GetString("request_id")).Error(msg)

	switch {
	case errors.Is(err, ai.ErrInvalidArgument), errors.Is(err, ai.ErrDimensionMismatch):
		c.JSON(http.StatusBadRequest, ai.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ai.ErrBudgetExceeded):
		c.JSON(http.StatusPaymentRequired, ai.ErrorResponse{Error: "Daily budget exceeded"})
	case errors.Is(err, ai.ErrNoContentAvailable):
		c.JSON(http.StatusNotFound, ai.ErrorResponse{Error: "No study material indexed for this scope"})
	case errors.Is(err, ai.ErrAllProvidersExhausted),
		errors.Is(err, ai.ErrProviderUnavailable),
		errors.Is(err, ai.ErrProviderTimeout):
		c.JSON(http.StatusServiceUnavailable, ai.ErrorResponse{Error: "AI providers unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, ai.ErrorResponse{Error: "Failed to process request"})
	}
}
