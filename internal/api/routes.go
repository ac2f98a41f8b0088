package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/voice-commander/internal/config"
	"github.com/yegors/voice-commander/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, config *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:    handler,
		middleware: NewMiddleware(log),
		config:     config,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		// Command transactions
		router.Post("/commands", r.handler.StartCommand)
		router.Get("/commands/active", r.handler.GetActiveCommand)
		router.Get("/commands/history", r.handler.GetCommandHistory)
		router.Delete("/commands/{id}", r.handler.CancelCommand)

		// Delivery settings
		router.Get("/settings", r.handler.GetSettings)
		router.Put("/settings", r.handler.UpdateSettings)

		// Live pipeline events
		router.Get("/events", r.handler.HandleEvents)

		router.Get("/health", r.handler.GetHealth)
	})

	return router
}
