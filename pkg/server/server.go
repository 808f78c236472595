// Package server provides the public entry point for initializing the
// data agent engine.
//
// It lives in pkg/ (not internal/) so embedders can compose the server
// with their own middleware or register extra tools before serving.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentoven/agentoven/data-agent/internal/api"
	"github.com/agentoven/agentoven/data-agent/internal/api/handlers"
	"github.com/agentoven/agentoven/data-agent/internal/api/middleware"
	"github.com/agentoven/agentoven/data-agent/internal/audit"
	"github.com/agentoven/agentoven/data-agent/internal/auth"
	"github.com/agentoven/agentoven/data-agent/internal/config"
	"github.com/agentoven/agentoven/data-agent/internal/costgate"
	"github.com/agentoven/agentoven/data-agent/internal/dataaccess"
	"github.com/agentoven/agentoven/data-agent/internal/orchestrator"
	"github.com/agentoven/agentoven/data-agent/internal/ratelimit"
	modelrouter "github.com/agentoven/agentoven/data-agent/internal/router"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/telemetry"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
	"github.com/agentoven/agentoven/data-agent/internal/workflow"
	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	"github.com/agentoven/agentoven/data-agent/pkg/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the public configuration override for the server. Zero
// fields keep the environment configuration.
type Config struct {
	Port    int
	Version string
}

// Server holds the initialized engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (memory or PostgreSQL).
	Store store.Store

	// Chat runs chat turns; exposed for embedders that skip HTTP.
	Chat contracts.ChatService

	// Tools is the governed tool registry. Tools registered after New
	// are visible to agents that allow them.
	Tools *tools.Registry

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, &Config{})
}

// NewWithConfig initializes the engine with explicit overrides.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}
	if pubCfg.Version != "" {
		cfg.Version = pubCfg.Version
		cfg.Telemetry.Version = pubCfg.Version
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, source, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if cfg.SeedFile != "" {
		if err := Seed(ctx, dataStore, cfg.SeedFile); err != nil {
			dataStore.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	schema := dataaccess.DefaultSchema()
	if cfg.SchemaFile != "" {
		if schema, err = dataaccess.LoadSchema(cfg.SchemaFile); err != nil {
			dataStore.Close()
			return nil, err
		}
		log.Info().Str("file", cfg.SchemaFile).Msg("📚 Collection schema loaded")
	}

	// Audit trail, secure data access and governed tools
	auditLog := audit.New(dataStore, dataStore)
	layer := dataaccess.NewLayer(dataStore, dataStore, auditLog, schema, dataaccess.WithSource(source))
	registry := tools.NewRegistry(auditLog)
	if err := tools.RegisterDataTools(registry, layer); err != nil {
		dataStore.Close()
		return nil, fmt.Errorf("register data tools: %w", err)
	}
	if cfg.ToolsFile != "" {
		remote, err := tools.LoadRemoteTools(cfg.ToolsFile)
		if err != nil {
			dataStore.Close()
			return nil, err
		}
		if err := tools.NewRemoteExecutor(cfg.Chat.RemoteToolTimeout).Register(registry, remote); err != nil {
			dataStore.Close()
			return nil, fmt.Errorf("register remote tools: %w", err)
		}
	}
	log.Info().Msg("✅ Tool registry initialized")

	// Model routing and the chat pipeline
	mr := modelrouter.NewModelRouter(cfg.Providers, cfg.Chat.ProviderTimeout)
	if len(cfg.Providers) == 0 {
		log.Warn().Msg("⚠️  No model providers configured; chat turns needing a model will fail")
	} else {
		log.Info().Int("providers", len(cfg.Providers)).Msg("✅ Model Router initialized")
	}

	chat := orchestrator.New(orchestrator.Deps{
		Agents:        dataStore,
		Conversations: dataStore,
		Model:         mr,
		Tools:         registry,
		Gate:          costgate.New(costgate.NewModelClassifier(mr, cfg.Chat.LightweightModel)),
		Workflows: workflow.NewExecutor(registry, workflow.Options{
			MaxLoopIterations: cfg.Workflow.MaxIterations,
			Timeout:           cfg.Workflow.Timeout,
		}),
	}, orchestrator.Options{
		ChatTimeout:     cfg.Chat.Timeout,
		ToolConcurrency: cfg.Chat.ToolConcurrency,
	})
	log.Info().Msg("✅ Chat orchestrator initialized")

	// Auth chain and HTTP surface
	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewServiceAccountProvider(cfg.Auth.ServiceSecret))
	chain.RegisterProvider(auth.NewAPIKeyProvider(cfg.Auth.APIKeys, ""))
	if cfg.Auth.RequireAuth && cfg.Auth.APIKeys == "" && cfg.Auth.ServiceSecret == "" {
		log.Warn().Msg("⚠️  Authentication required but no API keys or service secret configured; every API call will be rejected")
	}

	h := handlers.New(dataStore, dataStore, auditLog, chat, registry, mr)
	router := api.NewRouter(cfg.Version, h,
		middleware.NewAuthMiddleware(chain, cfg.Auth.RequireAuth),
		ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window),
	)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Chat:         chat,
		Tools:        registry,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// openStore opens the configured backend and reports the audit source its
// document queries are recorded under.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, models.AuditSource, error) {
	switch cfg.Kind {
	case "postgres", "postgresql":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.MaxConnections)
		if err != nil {
			return nil, "", fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, "", fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL store initialized")
		return pg, models.SourcePostgreSQL, nil
	case "", "memory":
		log.Info().Msg("✅ In-memory store initialized")
		return store.NewMemoryStore(), models.SourceAPI, nil
	default:
		return nil, "", fmt.Errorf("unknown store %q (want memory or postgres)", cfg.Kind)
	}
}
