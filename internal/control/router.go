package control

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the control API. /healthz is always open; everything
// else sits behind the token check.
func NewRouter(h *Handler, token string, metrics bool) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(requireToken(token))
		if metrics {
			r.Handle("/metrics", promhttp.Handler())
		}
		r.Route("/v1", func(r chi.Router) {
			r.Route("/groups", func(r chi.Router) {
				r.Get("/", h.GetGroups)
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", h.GetStatus)
					r.Get("/status", h.GetStatus)
					r.Post("/runs", h.StartRun)
					r.Delete("/runs", h.CancelRun)
				})
			})
			r.Route("/templates", func(r chi.Router) {
				r.Get("/", h.GetTemplates)
				r.Post("/", h.PutTemplate)
				r.Get("/{name}", h.GetTemplate)
				r.Delete("/{name}", h.DeleteTemplate)
			})
			r.Get("/runs", h.GetRuns)
			r.Get("/schedules", h.GetSchedules)
		})
	})
	return r
}
