package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/application/planner"
	"github.com/renatodap/studysharper-sub001/application/rag"
	approuter "github.com/renatodap/studysharper-sub001/application/router"
	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/vector"
	"github.com/renatodap/studysharper-sub001/infrastructure/breaker"
	infrabudget "github.com/renatodap/studysharper-sub001/infrastructure/budget"
	"github.com/renatodap/studysharper-sub001/infrastructure/contentproc"
	"github.com/renatodap/studysharper-sub001/infrastructure/indexing"
	"github.com/renatodap/studysharper-sub001/infrastructure/ollama"
	"github.com/renatodap/studysharper-sub001/infrastructure/openai"
	infrapersistence "github.com/renatodap/studysharper-sub001/infrastructure/persistence"
	"github.com/renatodap/studysharper-sub001/infrastructure/vectorstore"
	httpiface "github.com/renatodap/studysharper-sub001/interfaces/http"
	"github.com/renatodap/studysharper-sub001/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadYAML("")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Configure logging level
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Configure logging formatter per environment
	switch cfg.Logging.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.SetReportCaller(cfg.Logging.ReportCaller)

	logrus.WithFields(logrus.Fields{
		"port":               cfg.Server.Port,
		"host":               cfg.Server.Host,
		"primary_provider":   cfg.AI.PrimaryProvider,
		"fallback_provider":  cfg.AI.FallbackProvider,
		"daily_budget":       cfg.AI.DailyBudget,
		"enable_persistence": cfg.Database.EnablePersistence,
	}).Info("Starting StudySharper AI core")

	breakerConfig := breaker.Config{
		Enabled:          cfg.CircuitBreaker.Enabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout,
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
	}

	primary, err := buildProvider(cfg.AI.PrimaryProvider, cfg, breakerConfig)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build primary provider")
	}

	var fallback ai.Provider
	if cfg.AI.FallbackProvider != "" {
		fallback, err = buildProvider(cfg.AI.FallbackProvider, cfg, breakerConfig)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to build fallback provider")
		}
	}

	// Storage: pgvector-backed when persistence is on, in-memory otherwise.
	var store vector.Store
	var dbManager *infrapersistence.DatabaseManager
	ledgerOpts := []infrabudget.Option{}

	if cfg.Database.EnablePersistence {
		dbManager = infrapersistence.NewDatabaseManager(cfg.Retrieval.Dimensions)

		if err := dbManager.Connect(ctx, cfg.GetDatabaseDSN()); err != nil {
			logrus.WithError(err).Fatal("Failed to connect to database")
		}
		if err := dbManager.Migrate(); err != nil {
			logrus.WithError(err).Fatal("Failed to run database migrations")
		}

		store = infrapersistence.NewChunkStore(dbManager.GetDB(), dbManager.Dimensions())
		ledgerOpts = append(ledgerOpts, infrabudget.WithStore(infrapersistence.NewBudgetStore(dbManager.GetDB())))

		logrus.Info("Persistence layer initialized successfully")
	} else {
		store = vectorstore.NewMemoryStore(cfg.Retrieval.Dimensions)
		logrus.Info("Running with in-memory vector store")
	}

	ledger := infrabudget.NewLedger(cfg.AI.DailyBudget, ledgerOpts...)

	aiRouter, err := approuter.NewRouter(primary, fallback, ledger, approuter.Config{
		RequestTimeout:     cfg.AI.RequestTimeout,
		MeteredEmbeddings:  cfg.AI.MeteredEmbeddingsEnabled(),
		EmbeddingCacheSize: cfg.AI.EmbeddingCacheSize,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build AI router")
	}

	processor := contentproc.NewProcessor(cfg.Content.ChunkSize, cfg.Content.ChunkOverlap)

	indexer := indexing.NewIndexer(processor, aiRouter, store, cfg.Indexing.Workers, cfg.Indexing.BufferSize)
	if err := indexer.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to start indexer")
	}

	pipeline := rag.NewPipeline(aiRouter, store, cfg.Retrieval.TopK, cfg.Retrieval.ContextTokenBudget)
	plans := planner.NewPlanner(pipeline, aiRouter)

	var dbHealth httpiface.DatabaseHealth
	if dbManager != nil {
		dbHealth = dbManager
	}
	router := httpiface.NewRouter(aiRouter, pipeline, plans, indexer, store, cfg.AI.DailyBudget, cfg.Server.CorsOrigins, dbHealth)
	ginRouter := router.SetupRoutes()

	address := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           ginRouter,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to listen for interrupt signal to trigger shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		logrus.WithField("address", address).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-c
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	} else {
		logrus.Info("Server shutdown complete")
	}

	if err := indexer.Stop(); err != nil {
		logrus.WithError(err).Error("Failed to stop indexer")
	}

	if dbManager != nil {
		if err := dbManager.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close database connection")
		}
	}
}

// buildProvider constructs a named provider adapter wrapped in a circuit
// breaker. API keys arrive via configuration and are passed straight to the
// adapter, never logged.
func buildProvider(name string, cfg *config.Config, breakerConfig breaker.Config) (ai.Provider, error) {
	switch name {
	case "openai":
		prices := make(map[string]openai.Prices, len(cfg.OpenAI.Prices))
		for model, p := range cfg.OpenAI.Prices {
			prices[model] = openai.Prices{Input: p.Input, Output: p.Output, Embedding: p.Embedding}
		}
		inner := openai.NewProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.AI.Models.Chat, cfg.AI.Models.Embedding, prices)
		return breaker.Wrap(inner, breakerConfig), nil
	case "ollama":
		inner := ollama.NewProvider(cfg.Ollama.BaseURL, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel)
		return breaker.Wrap(inner, breakerConfig), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
