package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/agentoven/data-agent/internal/api/handlers"
	"github.com/agentoven/agentoven/data-agent/internal/api/middleware"
	"github.com/agentoven/agentoven/data-agent/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "agentoven-data-agent"

// NewRouter creates the HTTP router with all API routes. The chat route
// is rate limited per caller.
func NewRouter(version string, h *handlers.Handlers, authn *middleware.AuthMiddleware, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Service-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(authn.Handler)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(version))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(limiter)).Post("/chat", h.PostChat)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Route("/{agentId}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Put("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.Get("/audit", h.ListAuditEntries)
				r.Get("/stats", h.GetAgentStats)
				r.Get("/tools", h.ListAgentTools)
				r.Get("/conversations", h.ListConversations)
				r.Put("/workflow", h.SaveWorkflow)
				r.Delete("/workflow", h.DeleteWorkflow)
			})
		})

		r.Post("/workflows/validate", h.ValidateWorkflow)
		r.Get("/conversations/{conversationId}/messages", h.ListMessages)

		// Model Router
		r.Route("/models", func(r chi.Router) {
			r.Get("/providers", h.ListProviders)
			r.Get("/costs", h.GetCostSummary)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func versionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": version,
			"service": serviceName,
		})
	}
}
