package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/openaip/budget-chat/cmd/budget-chat-api/handlers"
	"github.com/openaip/budget-chat/cmd/budget-chat-api/middleware"
	"github.com/openaip/budget-chat/internal/observability"
)

// RouterDeps are the services exposed over HTTP.
type RouterDeps struct {
	Chat           handlers.ChatService
	DB             handlers.Pinger
	Auth           middleware.AuthConfig
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, deps RouterDeps) http.Handler {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 45 * time.Second
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.AllowedOrigins))
	r.Use(chimiddleware.Timeout(deps.RequestTimeout))

	health := handlers.NewHealthHandler(deps.DB, "budget-chat")
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	chatHandler := handlers.NewChatHandler(logger, deps.Chat)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth))

		r.Route("/chat", func(r chi.Router) {
			r.Post("/messages", chatHandler.SendMessage)
			r.Get("/sessions/{sessionId}/messages", chatHandler.ListMessages)
		})
	})

	return r
}

func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimiddleware.GetReqID(r.Context())
			r = r.WithContext(observability.ContextWithTraceID(r.Context(), reqID))
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
