package server

import (
	"net/http"

	"github.com/curatorhq/curator/internal/api"
	"github.com/curatorhq/curator/internal/api/handlers"
	"github.com/curatorhq/curator/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	QueryHandler *handlers.QueryHandler
	EventHandler *handlers.EventHandler
	ItemHandler  *handlers.ItemHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/query", cfg.QueryHandler.Query)
	r.Get("/query", cfg.QueryHandler.QueryGet)

	r.Post("/events", cfg.EventHandler.Submit)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", cfg.ItemHandler.List)
		r.Get("/{id}", cfg.ItemHandler.Get)
	})

	return r
}
