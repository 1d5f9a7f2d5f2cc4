// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	CORSAllowedOrigins string
	DBPath             string
	Business           BusinessConfig
	LLM                LLMConfig
	Retrieval          RetrievalConfig
	Workflow           WorkflowConfig
	Session            SessionConfig
	RateLimit          RateLimitConfig
	MaxRequestBodySize int64
	ConversationLog    ConversationLogConfig
}

// BusinessConfig selects the business data store queried by tool calls.
type BusinessConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// LLMConfig configures the routing classifier. An empty APIKey disables
// it and routing uses the keyword heuristic only.
type LLMConfig struct {
	Provider string // "openai" or "gemini"
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// RetrievalConfig configures the semantic retrieval service.
type RetrievalConfig struct {
	URL     string
	Timeout time.Duration
}

// WorkflowConfig configures the workflow engine.
type WorkflowConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RoutesFile string
}

// SessionConfig controls conversation memory.
type SessionConfig struct {
	HistoryLimit int
	RedisURL     string
	LockTTL      time.Duration
	Retention    time.Duration // 0 keeps sessions forever
}

// RateLimitConfig bounds chat requests per caller.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Providers accepted in LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	dbPath := getEnv("DB_PATH", "./data/animalcare.db")
	provider := strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ProviderOpenAI)))

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		DBPath:             dbPath,
		Business: BusinessConfig{
			Driver: strings.ToLower(getEnv("BUSINESS_DB_DRIVER", "sqlite")),
			DSN:    getEnv("BUSINESS_DB_DSN", dbPath),
		},
		LLM: LLMConfig{
			Provider: provider,
			APIKey:   getEnv("LLM_API_KEY", ""),
			Model:    getEnv("LLM_MODEL", defaultModel(provider)),
			Endpoint: getEnv("LLM_ENDPOINT", ""),
			Timeout:  getEnvDuration("LLM_TIMEOUT", 20*time.Second),
		},
		Retrieval: RetrievalConfig{
			URL:     getEnv("SEMANTIC_RETRIEVAL_URL", ""),
			Timeout: getEnvDuration("SEMANTIC_RETRIEVAL_TIMEOUT", 30*time.Second),
		},
		Workflow: WorkflowConfig{
			BaseURL:    strings.TrimRight(getEnv("WORKFLOW_BASE_URL", "http://localhost:5678/webhook"), "/"),
			Timeout:    getEnvDuration("WORKFLOW_TIMEOUT", 60*time.Second),
			RoutesFile: getEnv("WORKFLOW_ROUTES_FILE", ""),
		},
		Session: SessionConfig{
			HistoryLimit: getEnvInt("HISTORY_LIMIT", 20),
			RedisURL:     getEnv("REDIS_URL", ""),
			LockTTL:      getEnvDuration("SESSION_LOCK_TTL", 90*time.Second),
			Retention:    getEnvDuration("SESSION_RETENTION", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultModel(provider string) string {
	if provider == ProviderGemini {
		return "gemini-2.0-flash"
	}
	return "gpt-4o-mini"
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // One flat check per setting reads better than a table.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Business.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("BUSINESS_DB_DRIVER must be sqlite or postgres, got %q", c.Business.Driver)
	}
	if c.Business.DSN == "" {
		return fmt.Errorf("BUSINESS_DB_DSN cannot be empty")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.Workflow.BaseURL == "" {
		return fmt.Errorf("WORKFLOW_BASE_URL cannot be empty")
	}
	if c.Workflow.Timeout <= 0 {
		return fmt.Errorf("WORKFLOW_TIMEOUT must be > 0")
	}
	if c.Retrieval.Timeout <= 0 {
		return fmt.Errorf("SEMANTIC_RETRIEVAL_TIMEOUT must be > 0")
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Session.LockTTL <= 0 {
		return fmt.Errorf("SESSION_LOCK_TTL must be > 0")
	}
	if c.Session.Retention < 0 {
		return fmt.Errorf("SESSION_RETENTION cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
