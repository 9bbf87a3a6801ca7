package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nestboard/messaging/internal/api/middleware"
	"github.com/nestboard/messaging/internal/config"
	"github.com/nestboard/messaging/internal/handlers"
	"github.com/nestboard/messaging/internal/realtime"
	"github.com/nestboard/messaging/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, logger zerolog.Logger, chatStore store.ChatStore, redisStore *store.RedisStore, registry *realtime.Registry) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting requires Redis; without it the limiter is skipped
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	// CORS: browser clients live on the marketplace origin and carry the
	// session cookie
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	relay := realtime.NewRelay(registry, logger)
	h := handlers.NewHandler(chatStore, redisStore, registry, relay, logger, cfg.AllowedOrigins)
	auth := middleware.NewAuthMiddleware([]byte(cfg.JWTSecret))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Authenticated routes (require session token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.StartConversation)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Put("/conversations/{id}/read", h.MarkConversationRead)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Post("/conversations/{id}/messages", h.CreateMessage)
		r.Get("/users/{id}", h.GetUser)

		r.Get("/ws", h.ServeWS)
	})

	return r
}
