package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Vir-8/callrelay/internal/call"
	"github.com/Vir-8/callrelay/internal/config"
	"github.com/Vir-8/callrelay/internal/relay"
	"github.com/Vir-8/callrelay/internal/storage/sqlite"
	"github.com/Vir-8/callrelay/internal/websocket"
	"github.com/Vir-8/callrelay/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(callService *call.Service, manager *relay.Manager, wsServer *websocket.Server, callStorage *sqlite.CallStorage, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(callService, manager, wsServer, callStorage, config, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Call origination
		router.Post("/call", r.handler.StartCall)
		router.Get("/calls", r.handler.GetCalls)

		// Inbound media stream from the telephony provider
		router.Get("/twilio-stream/{sessionID}", r.handler.HandleMediaStream)

		// Observer WebSocket route
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Configuration
		router.Get("/config", r.handler.GetConfig)
	})

	// Serve static files from the configured directory
	staticHandler := NewStaticFileHandler(r.config.Server.StaticFilesDir, r.logger)
	router.Handle("/*", staticHandler)

	return router
}
