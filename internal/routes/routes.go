package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AnshRaj112/studycrew-backend/internal/handlers"
	"github.com/AnshRaj112/studycrew-backend/internal/middleware"
)

// Deps carries what the route table needs from main.
type Deps struct {
	Chat           *handlers.ChatHandler
	HistoryLimiter *middleware.HistoryLimiter
	// ConnectLimit guards the socket endpoint; nil disables it.
	ConnectLimit func(http.Handler) http.Handler
}

func SetupRoutes(r chi.Router, d Deps) {
	// Health check and metrics (no auth)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint for realtime group chat; authenticates during the handshake
	r.Group(func(r chi.Router) {
		if d.ConnectLimit != nil {
			r.Use(d.ConnectLimit)
		}
		r.Get("/ws/chat", d.Chat.ServeWS)
	})

	requireAuth := middleware.RequireAuth(d.Chat.Identify)

	// Chat history and REST fallback
	r.Route("/api/messages", func(r chi.Router) {
		r.Use(requireAuth)

		r.Route("/groups/{groupID}/messages", func(r chi.Router) {
			if d.HistoryLimiter != nil {
				r.With(d.HistoryLimiter.Middleware).Get("/", d.Chat.GetMessages)
			} else {
				r.Get("/", d.Chat.GetMessages)
			}
			r.Post("/", d.Chat.SendMessage)
			r.Get("/{messageID}", d.Chat.GetMessage)
		})

		r.Put("/messages/{messageID}", d.Chat.EditMessage)
		r.Delete("/messages/{messageID}", d.Chat.DeleteMessage)
	})

	// Attachments
	r.With(requireAuth).Post("/api/chat/upload", d.Chat.UploadFile)
}
