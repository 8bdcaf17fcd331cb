package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.opts.Health.HandleHealth)
	r.Get("/health/live", s.opts.Health.HandleLiveness)
	r.Get("/health/ready", s.opts.Health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleModels)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteSession)
				r.Post("/invoke", s.handleInvoke)
				r.Get("/history", s.handleHistory)
				r.Put("/model", s.handleSetModel)
				r.Post("/refresh", s.handleRefresh)
				r.Get("/charts", s.handleCharts)
				r.Post("/queries/{index}/publish", s.handlePublish)
			})
		})

		r.Post("/segmentation/jobs", s.handleEnqueueSegmentation)
	})

	return r
}
