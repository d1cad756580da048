// Package server exposes rlm sessions over an OpenAI-compatible HTTP API.
//
// A chat completion request starts a run over the request's context; when the
// model calls caller-defined tools the response carries finish_reason
// "tool_calls" and the caller resumes by sending the tool messages back. The
// paused session is found by the tool call ids or by the X-RLM-Session-ID
// header.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/internal/config"
	"github.com/martinemde/rlm/rlm"
)

// SessionHeader names the session a request continues. Responses always
// carry it.
const SessionHeader = "X-RLM-Session-ID"

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front end. Engines come from the registry and sessions
// live in the store between requests.
type Server struct {
	registry *rlm.Registry
	store    *rlm.SessionStore
	cfg      config.ServerConfig
	logger   *zap.Logger
	started  time.Time
	router   *gin.Engine
}

// New builds the router.
func New(registry *rlm.Registry, store *rlm.SessionStore, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		started:  time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(s.logger), LoggingMiddleware(s.logger))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", SessionHeader},
		ExposeHeaders: []string{"Content-Length", SessionHeader},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/", s.root)
	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", s.chatCompletions)
		v1.GET("/models", s.listModels)
		v1.GET("/sessions/:id", s.getSession)
		v1.DELETE("/sessions/:id", s.deleteSession)
	}

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("rlm server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("rlm server stopped")
	return nil
}
