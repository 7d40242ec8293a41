// Package api implements the read-only Status/Health surface (SPEC_FULL
// §2): a minimal HTTP+WebSocket view over the engine's sessions and event
// bus. It is explicitly not a control plane — there is no endpoint here
// that mutates a session; spawn/send/kill/restore/cleanup remain the
// (out-of-scope) CLI's job, calling the Session Manager's Go API directly.
//
// Grounded on the teacher's gin-based sibling stack (security-header
// middleware, graceful http.Server shutdown) rather than the teacher's own
// echo-based API — gin is the framework the rest of the retrieval corpus
// reaches for.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/manager"
	"github.com/codeready-toolchain/tarsy/pkg/store"
	"github.com/codeready-toolchain/tarsy/pkg/version"
)

// Server is the HTTP+WebSocket status server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg      *config.Config
	sessions *manager.Manager
	store    *store.Store
	conns    *events.ConnectionManager
}

// NewServer builds the status server's route table. It does not start
// listening until Start is called.
func NewServer(cfg *config.Config, sessions *manager.Manager, st *store.Store, conns *events.ConnectionManager) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{cfg: cfg, sessions: sessions, store: st, conns: conns, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/sessions", s.handleListSessions)
	s.engine.GET("/sessions/:id", s.handleGetSession)
	s.engine.GET("/events/ws", s.handleWebSocket)
}

// Start begins serving on addr. It blocks until Shutdown is called or the
// server errors out.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("status api listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger emits one structured log line per request, fields matching
// the engine-wide session_id/project_id/component convention where those
// apply.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("status api request",
			"component", "api",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// securityHeaders sets the standard defensive headers for a plain
// read-only JSON/WebSocket API with no cookie-based auth surface.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// versionString identifies this build in the health response.
func versionString() string {
	return version.Full()
}
