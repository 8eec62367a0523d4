package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/papersync/papersync/internal/api"
)

// buildRouter assembles the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimitMiddleware(map[string]RateLimitConfig{
		"/api/relay":       {RequestsPerMinute: 120, Burst: 30},
		"/api/papers":      {RequestsPerMinute: 60, Burst: 20},
		"/api/sync/detect": {RequestsPerMinute: 30, Burst: 10},
	}))

	r.Get("/api/healthz", api.HealthHandler)
	r.Get("/api/proxy-status", s.deps.Relay.HandleStatus)

	r.Post("/api/relay/webdav", s.deps.Relay.HandleWebDAV)
	r.Post("/api/relay/llm", s.deps.Relay.HandleLLM)

	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/backup", s.handleSyncBackup)
		r.Post("/restore", s.handleSyncRestore)
		r.Get("/backups", s.handleSyncBackups)
		r.Post("/test", s.handleSyncTest)
		r.Post("/detect", s.handleSyncDetect)
		r.Get("/stats", s.handleSyncStats)
		r.Get("/export", s.handleSyncExport)
		r.Post("/import", s.handleSyncImport)
		r.Post("/reset", s.handleSyncReset)
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
		r.Get("/connectivity", s.handleGetConnectivity)
		r.Put("/connectivity", s.handlePutConnectivity)
	})

	r.Route("/api/favorites", func(r chi.Router) {
		r.Get("/categories", s.handleGetFavoriteCategories)
		r.Put("/categories", s.handlePutFavoriteCategories)
		r.Get("/papers", s.handleGetFavoritePapers)
		r.Put("/papers", s.handlePutFavoritePapers)
	})

	r.Get("/api/papers/search", s.handlePaperSearch)
	r.Post("/api/papers/analyze", s.handlePaperAnalyze)

	r.Post("/api/admin/proxy-refresh", s.requireAdmin(s.handleProxyRefresh))

	return r
}
