package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storybook-service/internal/handlers"
	"storybook-service/internal/metrics"
	"storybook-service/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, storyHandler *handlers.StoryHandler, adminHandler *handlers.AdminHandler, assetsDir string) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())                   // panic recovery
	r.Use(middleware.Timeout(5 * time.Minute))      // generation calls are slow
	r.Use(middleware.MaxBodySize(20 * 1024 * 1024)) // reference photo uploads

	// routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/stories", storyHandler.CreateStory)
		r.Get("/stories/{sessionID}", storyHandler.GetStory)
		r.Post("/stories/{sessionID}/illustrations", storyHandler.GenerateIllustrations)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminHandler.RequireKey)
		r.Get("/sessions", adminHandler.ListSessions)
		r.Post("/cache/sweep", adminHandler.SweepCache)
		r.Get("/cache/stats", adminHandler.CacheStats)
		r.Get("/usage", adminHandler.UsageTotals)
	})

	// generated images
	r.Handle("/static/images/*", http.StripPrefix("/static/images/", http.FileServer(http.Dir(assetsDir))))

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
