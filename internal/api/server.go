package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/auth"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/dashboard"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/database"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/report"
)

// Server wires the HTTP surface: ingestion for scanner agents, the
// session-gated reporting routes, and admin user management.
type Server struct {
	cfg      config.ServerConfig
	logger   *logger.Logger
	pool     *database.Pool
	findings core.FindingStore
	engine   *dashboard.Engine
	gate     *auth.Gate
	sessions *SessionRegistry

	csv  report.CSVExporter
	xlsx report.XLSXExporter

	http *http.Server
}

func NewServer(
	cfg *config.Config,
	pool *database.Pool,
	findings core.FindingStore,
	engine *dashboard.Engine,
	gate *auth.Gate,
	log *logger.Logger,
) *Server {
	return &Server{
		cfg:      cfg.Server,
		logger:   log.WithComponent("api"),
		pool:     pool,
		findings: findings,
		engine:   engine,
		gate:     gate,
		sessions: NewSessionRegistry(0),
	}
}

// Router builds the gin engine with the full middleware chain and routes.
func (s *Server) Router(rateCfg config.RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(s.logger))
	if s.cfg.EnableCORS {
		router.Use(CORSMiddleware())
	}

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		// Scanner agents authenticate per request with the shared key, so
		// the ingestion route also carries the per-IP rate limit.
		v1.POST("/findings", RateLimitMiddleware(rateCfg), s.handleIngest)

		v1.POST("/login", s.handleLogin)
		v1.POST("/logout", s.handleLogout)

		authed := v1.Group("", s.requireSession())
		{
			authed.GET("/dashboard", s.handleDashboard)
			authed.GET("/export/csv", s.handleExport(s.csv))
			authed.GET("/export/xlsx", s.handleExport(s.xlsx))
			authed.POST("/reset-password", s.handleSelfReset)

			admin := authed.Group("", s.requireAdmin())
			{
				admin.GET("/users", s.handleListUsers)
				admin.POST("/users", s.handleCreateUser)
				admin.DELETE("/users/:username", s.handleDeleteUser)
				admin.POST("/users/:username/reset", s.handleAdminReset)
			}
		}
	}

	return router
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(rateCfg config.RateLimitConfig) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(rateCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requireSession resolves the bearer token into an identity, aborting with
// 401 when absent, unknown or expired. The identity is stored on the context
// for the handler.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c)
			return
		}
		username, role, ok := s.sessions.Lookup(token)
		if !ok {
			unauthorized(c)
			return
		}
		c.Set("session_token", token)
		c.Set("session_username", username)
		c.Set("session_role", string(role))
		c.Next()
	}
}

// requireAdmin runs after requireSession and rejects non-admin identities.
// The role is re-checked against the store so a demotion takes effect
// without waiting for the session to expire.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetString("session_username")
		isAdmin, err := s.gate.IsAdmin(c.Request.Context(), username)
		if err != nil {
			s.respondError(c, err)
			c.Abort()
			return
		}
		if !isAdmin {
			unauthorized(c)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	c.Abort()
}

// respondError translates the error taxonomy to HTTP. Validation detail is
// safe to echo; everything else gets a generic message with the full error
// kept in the logs.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, core.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, core.ErrStorageUnavailable):
		s.logger.LogError(c.Request.Context(), err, "api.storage",
			"path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		s.logger.LogError(c.Request.Context(), err, "api.internal",
			"path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
