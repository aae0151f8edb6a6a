package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/casacultural/livechat/internal/metrics"
)

// PushEndpoint serves the WebSocket side of the API. *ws.Server satisfies it.
type PushEndpoint interface {
	HandleSubscribe(w http.ResponseWriter, r *http.Request)
	HandleHealth(w http.ResponseWriter, r *http.Request)
}

// NewRouter mounts every chat endpoint. push may be nil when the process
// serves only the HTTP API.
func NewRouter(h *Handler, push PushEndpoint) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	if push != nil {
		router.Get("/health", push.HandleHealth)
		// Upgrades hijack the connection, so they bypass the request logger.
		router.Get("/chat/subscribe", push.HandleSubscribe)
	} else {
		router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
		})
	}
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(requestLogger)

		r.Post("/chat/message", h.SendMessage)
		r.Get("/chat/messages", h.ListMessages)
		r.Post("/chat/clear", h.ClearMessages)
		r.Post("/chat/promote", h.Promote)
		r.Post("/chat/demote", h.Demote)
		r.Post("/chat/owner", h.SetOwner)
		r.Get("/chat/moderators", h.Moderators)
		r.Get("/chat/role", h.Role)
		r.Get("/chat/presence", h.Presence)
	})

	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Printf("[api] %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}
