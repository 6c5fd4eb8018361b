package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/corvida/tunevault/internal/api"
	apimiddleware "github.com/corvida/tunevault/internal/api/middleware"
	"github.com/corvida/tunevault/internal/api/shared"
)

// setupRouter configures the application router with all routes and
// middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.taskService, app.assetClient, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", taskHandler.Generate)
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", taskHandler.GetTask)
			r.Get("/download", taskHandler.DownloadAsset)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{
			"status":         "ok",
			"tracked_tasks":  app.registry.Len(),
			"active_pollers": app.scheduler.ActiveCount(),
		})
	})

	return r
}
