package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/state", h.HandleState)
	r.Get("/events", h.HandleListEvents)
	r.Get("/health/services", h.HandleServiceHealth)

	r.Route("/turn", func(r chi.Router) {
		r.Post("/stop", h.HandleStop)
		r.Post("/resume", h.HandleResume)
		r.Post("/say", h.HandleSay)
	})

	return r
}
