// Package api exposes the durable path over REST and mounts the websocket
// and metrics endpoints.
package api

import (
	"log/slog"
	"net/http"

	"lets-chat/auth"
	"lets-chat/contract"
	"lets-chat/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Dependencies struct {
	Auth           services.IAuthService
	Chat           services.IChatService
	Users          services.IUserService
	Verifier       contract.IVerifier
	Websocket      http.Handler
	Metrics        http.Handler
	AllowedOrigins []string
}

func NewRouter(log *slog.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors(deps.AllowedOrigins))

	authHandler := &authHandler{log: log, auth: deps.Auth}
	userHandler := &userHandler{log: log, users: deps.Users}
	messageHandler := &messageHandler{log: log, chat: deps.Chat}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.Websocket != nil {
		r.Handle("/ws", deps.Websocket)
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/signup", authHandler.signup)
		api.Post("/auth/login", authHandler.login)

		api.Group(func(private chi.Router) {
			private.Use(auth.Authenticate(deps.Verifier, log))

			private.Get("/users", userHandler.get)
			private.Patch("/users", userHandler.touch)
			private.Get("/users/online", userHandler.online)

			private.Get("/messages", messageHandler.history)
			private.Post("/messages", messageHandler.send)
			private.Patch("/messages", messageHandler.markRead)
			private.Get("/messages/search", messageHandler.search)
		})
	})
	return r
}
