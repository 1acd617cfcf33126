package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicsync/platform/internal/http/handlers"
	httpmiddleware "github.com/clinicsync/platform/internal/http/middleware"
	"github.com/clinicsync/platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	SyncHandler        *handlers.SyncHandler
	SettingsHandler    *handlers.SettingsHandler
	SyncLogsHandler    *handlers.SyncLogsHandler
	MetricsHandler     http.Handler
	AuthJWTSecret      string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Tenant-scoped API routes
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.UserJWT(cfg.AuthJWTSecret))

		if cfg.SyncHandler != nil {
			api.Post("/sync", cfg.SyncHandler.Run)
			api.Post("/pms/test-connection", cfg.SyncHandler.TestConnection)
		}
		if cfg.SyncLogsHandler != nil {
			api.Get("/sync/logs", cfg.SyncLogsHandler.List)
		}
		if cfg.SettingsHandler != nil {
			api.Put("/settings/funding-tags", cfg.SettingsHandler.UpdateFundingTags)
		}
	})

	return r
}
