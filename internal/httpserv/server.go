// Package httpserv exposes the SQL agent over HTTP: a chat endpoint that
// streams the orchestrator's semantic events as server-sent events, and a
// health check. Routing, CORS, and graceful shutdown follow the teacher's
// serv.go/routes.go shape.
package httpserv

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/convstore"
	"github.com/dosco/nlsqld/internal/orchestrator"
)

// Server wires the chat and health handlers behind one http.Server.
type Server struct {
	cfg config.Serv
	srv *http.Server
	log *zap.Logger
}

// New builds a Server. version is surfaced verbatim on /health.
func New(cfg config.Config, orch *orchestrator.Orchestrator, store *convstore.Store, log *zap.Logger, version string) *Server {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	ch := newChatHandler(orch, store, cfg.Conversation, log)

	r.Use(c.Handler)
	r.Use(requestIDMiddleware)
	r.Get("/health", healthHandler(cfg.AppName, version))
	r.Post("/internal/chat/stream", ch.ServeHTTP)

	return &Server{
		cfg: cfg.Serv,
		log: log,
		srv: &http.Server{
			Addr:              cfg.HostPort(),
			Handler:           r,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			// WriteTimeout is intentionally unset: the chat endpoint is a
			// long-lived SSE stream, not a bounded request/response.
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Start blocks serving HTTP until the server is shut down or fails to
// bind. It always returns a non-nil error, http.ErrServerClosed on a
// clean Shutdown.
func (s *Server) Start() error {
	s.log.Info("starting http server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests, including open SSE
// streams, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
