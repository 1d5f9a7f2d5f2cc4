// Animal care conversational orchestration server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/animalcare/internal/agent"
	"github.com/ashureev/animalcare/internal/api"
	"github.com/ashureev/animalcare/internal/config"
	"github.com/ashureev/animalcare/internal/conversation"
	"github.com/ashureev/animalcare/internal/fallback"
	"github.com/ashureev/animalcare/internal/identity"
	"github.com/ashureev/animalcare/internal/metrics"
	"github.com/ashureev/animalcare/internal/middleware"
	"github.com/ashureev/animalcare/internal/retrieval"
	"github.com/ashureev/animalcare/internal/router"
	"github.com/ashureev/animalcare/internal/store"
	"github.com/ashureev/animalcare/internal/tools"
	"github.com/ashureev/animalcare/internal/workflow"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Conversation store.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Business store. In development it shares the conversation SQLite file.
	var business *store.BusinessStore
	if cfg.Business.Driver == "sqlite" && cfg.Business.DSN == cfg.DBPath {
		business = store.NewBusinessStore(repo.DB())
	} else {
		business, err = store.OpenBusiness(cfg.Business.Driver, cfg.Business.DSN)
		if err != nil {
			slog.Error("Failed to open business database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := business.Close(); closeErr != nil {
				slog.Error("Failed to close business database", "error", closeErr)
			}
		}()
	}
	slog.Info("Business database configured", "driver", cfg.Business.Driver)

	// Session locking.
	var locker conversation.Locker = conversation.NewKeyedLocker()
	var redisClient *redis.Client
	if cfg.Session.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Session.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		locker = conversation.NewRedisLocker(redisClient, cfg.Session.LockTTL)
		slog.Info("Using redis session locks", "ttl", cfg.Session.LockTTL)
	}

	// Collaborators.
	m := metrics.New()
	retriever := retrieval.NewClient(cfg.Retrieval.URL, cfg.Retrieval.Timeout, logger)
	if !retriever.Enabled() {
		slog.Info("Semantic retrieval disabled (SEMANTIC_RETRIEVAL_URL not set)")
	}

	classifier, err := newClassifier(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize classifier", "error", err)
		os.Exit(1)
	}
	if classifier == nil {
		slog.Info("LLM classifier disabled (LLM_API_KEY not set), routing by keywords only")
	} else {
		slog.Info("LLM classifier enabled", "classifier", classifier.Name())
	}

	routes, err := workflow.LoadRoutes(cfg.Workflow.RoutesFile)
	if err != nil {
		slog.Error("Failed to load workflow routes", "error", err)
		os.Exit(1)
	}
	workflows := workflow.NewExecutor(cfg.Workflow.BaseURL, routes, cfg.Workflow.Timeout, logger)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	service, err := agent.NewService(agent.Dependencies{
		Contexts:  conversation.NewStore(repo, cfg.Session.HistoryLimit, logger),
		Locker:    locker,
		Retriever: retriever,
		Router:    router.New(classifier, logger),
		Workflows: workflows,
		Tools:     tools.NewExecutor(business, retriever, workflows, m, logger),
		Fallback:  fallback.NewEngine(business, logger),
		Recorder: agent.MultiRecorder{
			agent.NewSQLRecorder(repo),
			agent.NewLogRecorder(conversationLogger),
		},
		Metrics:  m,
		Logger:   logger,
		LockWait: cfg.Session.LockTTL,
	})
	if err != nil {
		slog.Error("Failed to initialize agent service", "error", err)
		os.Exit(1)
	}

	// Handlers.
	origins := middleware.ParseOrigins(cfg.CORSAllowedOrigins)
	agentHandler := agent.NewHandler(service, agent.HandlerConfig{
		RateLimitRequests:  cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:    cfg.RateLimit.WindowDuration,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, logger)
	defer agentHandler.Close()
	wsHandler := agent.NewWebSocketHandler(agentHandler, origins)

	healthHandler := api.NewHealthHandler(5*time.Second).
		Require("database", repo.Ping).
		Optional("business_database", business.Ping)
	if redisClient != nil {
		healthHandler.Optional("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))
	r.Use(identity.Middleware())

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())
	agentHandler.RegisterRoutes(r)
	r.Get("/ws/agent", wsHandler.ServeHTTP)

	// WriteTimeout stays above the workflow timeout so slow workflows still
	// get their fallback reply written.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Workflow.Timeout + cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	conversation.StartRetentionWorker(ctx, repo, cfg.Session.Retention)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newClassifier builds the configured classifier, or nil when no API key is set.
func newClassifier(ctx context.Context, cfg config.LLMConfig) (router.Classifier, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		return router.NewGeminiClassifier(ctx, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		var opts []router.OpenAIOption
		if cfg.Endpoint != "" {
			opts = append(opts, router.WithOpenAIEndpoint(cfg.Endpoint))
		}
		return router.NewOpenAIClassifier(cfg.APIKey, cfg.Model, cfg.Timeout, opts...), nil
	}
}
