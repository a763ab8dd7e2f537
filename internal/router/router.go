package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/messagely/messagely-server/internal/api/auth"
	"github.com/messagely/messagely-server/internal/api/message"
	"github.com/messagely/messagely-server/internal/api/user"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AuthHandler            *auth.AuthHandler
	UserHandler            *user.UserHandler
	MessageHandler         *message.MessageHandler
	AuthenticateMiddleware func(http.Handler) http.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected to be
// applied before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// Public auth routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.Refresh)
		})

		// Everything below requires a verified caller identity
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Post("/auth/logout", cfg.AuthHandler.Logout)

			r.Get("/users", cfg.UserHandler.ListUsers)
			r.Get("/users/{username}", cfg.UserHandler.GetUser)

			r.Post("/messages", cfg.MessageHandler.SendMessage)
			r.Get("/messages/inbox", cfg.MessageHandler.Inbox)
			r.Get("/messages/outbox", cfg.MessageHandler.Outbox)
			r.Get("/messages/{id}", cfg.MessageHandler.GetMessage)
			r.Post("/messages/{id}/read", cfg.MessageHandler.MarkRead)
		})
	})

	return r
}
