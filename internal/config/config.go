package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	AI             AIConfig             `yaml:"ai"`
	OpenAI         OpenAIConfig         `yaml:"openai"`
	Ollama         OllamaConfig         `yaml:"ollama"`
	Content        ContentConfig        `yaml:"content"`
	Retrieval      RetrievalConfig      `yaml:"retrieval"`
	Indexing       IndexingConfig       `yaml:"indexing"`
	Database       DatabaseConfig       `yaml:"database"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        string   `yaml:"port"`
	CorsOrigins []string `yaml:"cors_origins"`
}

// AIConfig fixes the routing policy for the router's lifetime. Construct a
// new router to change it.
type AIConfig struct {
	PrimaryProvider    string        `yaml:"primary_provider"`
	FallbackProvider   string        `yaml:"fallback_provider"`
	DailyBudget        float64       `yaml:"daily_budget"`
	MeteredEmbeddings  *bool         `yaml:"metered_embeddings"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	Models             ModelsConfig  `yaml:"models"`
	EmbeddingCacheSize int           `yaml:"embedding_cache_size"`
}

type ModelsConfig struct {
	Chat      string `yaml:"chat"`
	Embedding string `yaml:"embedding"`
}

// ModelPrices are USD per 1K tokens.
type ModelPrices struct {
	Input     float64 `yaml:"input"`
	Output    float64 `yaml:"output"`
	Embedding float64 `yaml:"embedding"`
}

type OpenAIConfig struct {
	APIKey  string                 `yaml:"api_key"`
	BaseURL string                 `yaml:"base_url"`
	Prices  map[string]ModelPrices `yaml:"prices"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

type ContentConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK               int `yaml:"top_k"`
	Dimensions         int `yaml:"dimensions"`
	ContextTokenBudget int `yaml:"context_token_budget"`
}

type IndexingConfig struct {
	Workers    int `yaml:"workers"`
	BufferSize int `yaml:"buffer_size"`
}

type DatabaseConfig struct {
	EnablePersistence bool   `yaml:"enable_persistence"`
	URL               string `yaml:"url"`
	Host              string `yaml:"host"`
	Port              string `yaml:"port"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	Name              string `yaml:"name"`
	SSLMode           string `yaml:"ssl_mode"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ReportCaller bool   `yaml:"report_caller"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRequests      uint32        `yaml:"max_requests"`
}

// MeteredEmbeddingsEnabled reports whether embedding calls are admitted
// against the same budget as chat calls. Default: metered.
func (a AIConfig) MeteredEmbeddingsEnabled() bool {
	if a.MeteredEmbeddings == nil {
		return true
	}
	return *a.MeteredEmbeddings
}

// LoadYAML loads configuration from YAML file with environment variable overrides
func LoadYAML(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	config := &Config{}

	if _, err := os.Stat(configPath); err == nil {
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in YAML content
		expandedYAML := os.ExpandEnv(string(yamlFile))

		if err := yaml.Unmarshal([]byte(expandedYAML), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		logrus.WithField("config_file", configPath).Info("Loaded configuration from YAML file")
	} else {
		logrus.WithField("config_file", configPath).Warn("Config file not found, using defaults and environment variables")
		config = getDefaultConfig()
	}

	config = applyEnvironmentOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with sensible defaults
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8080",
			CorsOrigins: []string{"*"},
		},
		AI: AIConfig{
			PrimaryProvider:    "openai",
			FallbackProvider:   "ollama",
			DailyBudget:        5.0,
			RequestTimeout:     60 * time.Second,
			EmbeddingCacheSize: 1000,
			Models: ModelsConfig{
				Chat:      "gpt-4o-mini",
				Embedding: "text-embedding-3-small",
			},
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Prices: map[string]ModelPrices{
				"gpt-4o-mini":            {Input: 0.00015, Output: 0.0006},
				"gpt-4o":                 {Input: 0.0025, Output: 0.01},
				"text-embedding-3-small": {Embedding: 0.00002},
			},
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Content: ContentConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK:               5,
			Dimensions:         1536,
			ContextTokenBudget: 3000,
		},
		Indexing: IndexingConfig{
			Workers:    3,
			BufferSize: 100,
		},
		Database: DatabaseConfig{
			EnablePersistence: false,
			Host:              "localhost",
			Port:              "5432",
			User:              "studysharper",
			Name:              "studysharper",
			SSLMode:           "disable",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "auto",
			ReportCaller: false,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
			MaxRequests:      3,
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(config *Config) *Config {
	if val := os.Getenv("HOST"); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		config.Server.Port = val
	}
	if val := os.Getenv("CORS_ORIGINS"); val != "" {
		config.Server.CorsOrigins = strings.Split(val, ",")
		for i := range config.Server.CorsOrigins {
			config.Server.CorsOrigins[i] = strings.TrimSpace(config.Server.CorsOrigins[i])
		}
	}

	// Routing policy overrides
	if val := os.Getenv("AI_PRIMARY_PROVIDER"); val != "" {
		config.AI.PrimaryProvider = val
	}
	if val := os.Getenv("AI_FALLBACK_PROVIDER"); val != "" {
		config.AI.FallbackProvider = val
	}
	if val := os.Getenv("AI_DAILY_BUDGET"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			config.AI.DailyBudget = f
		}
	}
	if val := os.Getenv("AI_METERED_EMBEDDINGS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.AI.MeteredEmbeddings = &b
		}
	}
	if val := os.Getenv("AI_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.AI.RequestTimeout = d
		}
	}
	if val := os.Getenv("AI_CHAT_MODEL"); val != "" {
		config.AI.Models.Chat = val
	}
	if val := os.Getenv("AI_EMBEDDING_MODEL"); val != "" {
		config.AI.Models.Embedding = val
	}
	if val := os.Getenv("AI_EMBEDDING_CACHE_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.AI.EmbeddingCacheSize = i
		}
	}

	// Provider overrides
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		config.OpenAI.APIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		config.OpenAI.BaseURL = val
	}
	if val := os.Getenv("OLLAMA_BASE_URL"); val != "" {
		config.Ollama.BaseURL = val
	}
	if val := os.Getenv("OLLAMA_CHAT_MODEL"); val != "" {
		config.Ollama.ChatModel = val
	}
	if val := os.Getenv("OLLAMA_EMBED_MODEL"); val != "" {
		config.Ollama.EmbedModel = val
	}

	// Content processing overrides
	if val := os.Getenv("CHUNK_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Content.ChunkSize = i
		}
	}
	if val := os.Getenv("CHUNK_OVERLAP"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Content.ChunkOverlap = i
		}
	}

	// Retrieval overrides
	if val := os.Getenv("RETRIEVAL_TOP_K"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Retrieval.TopK = i
		}
	}
	if val := os.Getenv("EMBEDDING_DIMENSIONS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Retrieval.Dimensions = i
		}
	}
	if val := os.Getenv("CONTEXT_TOKEN_BUDGET"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Retrieval.ContextTokenBudget = i
		}
	}

	// Indexing overrides
	if val := os.Getenv("INDEXING_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Indexing.Workers = i
		}
	}
	if val := os.Getenv("INDEXING_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Indexing.BufferSize = i
		}
	}

	// Database overrides
	if val := os.Getenv("ENABLE_PERSISTENCE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Database.EnablePersistence = b
		}
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Database.URL = val
	}
	if val := os.Getenv("DATABASE_HOST"); val != "" {
		config.Database.Host = val
	}
	if val := os.Getenv("DATABASE_PORT"); val != "" {
		config.Database.Port = val
	}
	if val := os.Getenv("DATABASE_USER"); val != "" {
		config.Database.User = val
	}
	if val := os.Getenv("DATABASE_PASSWORD"); val != "" {
		config.Database.Password = val
	}
	if val := os.Getenv("DATABASE_NAME"); val != "" {
		config.Database.Name = val
	}
	if val := os.Getenv("DATABASE_SSL_MODE"); val != "" {
		config.Database.SSLMode = val
	}

	// Logging overrides
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_REPORT_CALLER"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Logging.ReportCaller = b
		}
	}

	// Circuit breaker overrides
	if val := os.Getenv("CIRCUIT_BREAKER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.CircuitBreaker.Enabled = b
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.FailureThreshold = uint32(i)
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_SUCCESS_THRESHOLD"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.SuccessThreshold = uint32(i)
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.CircuitBreaker.Timeout = d
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.MaxRequests = uint32(i)
		}
	}

	return config
}

// validateConfig validates the configuration and returns errors for invalid values
func validateConfig(config *Config) error {
	var errors []string

	if config.AI.PrimaryProvider == "" {
		errors = append(errors, "ai.primary_provider is required")
	}
	if config.AI.PrimaryProvider != "" && config.AI.PrimaryProvider == config.AI.FallbackProvider {
		errors = append(errors, "ai.fallback_provider must differ from ai.primary_provider")
	}
	if config.AI.DailyBudget < 0 {
		errors = append(errors, fmt.Sprintf("ai.daily_budget must not be negative (current: %.4f)", config.AI.DailyBudget))
	}
	if config.AI.RequestTimeout <= 0 {
		errors = append(errors, "ai.request_timeout must be positive")
	}
	if config.AI.Models.Chat == "" {
		errors = append(errors, "ai.models.chat is required")
	}
	if config.AI.Models.Embedding == "" {
		errors = append(errors, "ai.models.embedding is required")
	}

	if config.Content.ChunkSize <= 0 {
		errors = append(errors, fmt.Sprintf("content.chunk_size must be positive (current: %d)", config.Content.ChunkSize))
	}
	if config.Content.ChunkOverlap < 0 || config.Content.ChunkOverlap >= config.Content.ChunkSize {
		errors = append(errors, fmt.Sprintf("content.chunk_overlap must be in [0, chunk_size) (current: %d)", config.Content.ChunkOverlap))
	}

	if config.Retrieval.TopK <= 0 {
		errors = append(errors, fmt.Sprintf("retrieval.top_k must be positive (current: %d)", config.Retrieval.TopK))
	}
	if config.Retrieval.Dimensions <= 0 {
		errors = append(errors, fmt.Sprintf("retrieval.dimensions must be positive (current: %d)", config.Retrieval.Dimensions))
	}
	if config.Retrieval.ContextTokenBudget <= 0 {
		errors = append(errors, fmt.Sprintf("retrieval.context_token_budget must be positive (current: %d)", config.Retrieval.ContextTokenBudget))
	}

	if config.AI.PrimaryProvider == "openai" && config.OpenAI.APIKey == "" {
		logrus.Warn("OPENAI_API_KEY is not set - the hosted provider will report unavailable and requests will fall back")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// GetDatabaseDSN constructs the database connection string
func (c *Config) GetDatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadYAML("")
}
