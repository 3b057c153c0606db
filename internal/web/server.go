// Package web exposes the fleet controller over HTTP: tenant-scoped instance
// operations plus an admin surface. Authentication is expected to be handled
// by the platform fronting this API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/openshapes/fleet/pkg/api"
)

// Server is the HTTP front end of the fleet controller.
type Server struct {
	port    uint16
	router  *gin.Engine
	fleet   FleetManager
	credits CreditManager
	logger  *logrus.Logger
	server  *http.Server
	mu      sync.Mutex

	// onLimitChange persists an admin limit change; nil disables persistence.
	onLimitChange func(maxInstances int) error
}

// NewServer builds the router and wires the handlers. credits may be nil when
// the ledger is disabled.
func NewServer(fleet FleetManager, credits CreditManager, logger *logrus.Logger, port uint16) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		port:    port,
		router:  router,
		fleet:   fleet,
		credits: credits,
		logger:  logger,
	}

	router.Use(RecoveryHandler(logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))

	s.setupRoutes()
	return s
}

// OnLimitChange registers a callback invoked after an admin changes the
// per-tenant instance limit, so the new value can be persisted.
func (s *Server) OnLimitChange(fn func(maxInstances int) error) {
	s.onLimitChange = fn
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)

	tenants := s.router.Group("/api/tenants/:tenant")
	{
		tenants.POST("/instances", s.createInstanceHandler)
		tenants.GET("/instances", s.listInstancesHandler)
		tenants.POST("/instances/:name/start", s.startInstanceHandler)
		tenants.POST("/instances/:name/stop", s.stopInstanceHandler)
		tenants.POST("/instances/:name/restart", s.restartInstanceHandler)
		tenants.DELETE("/instances/:name", s.deleteInstanceHandler)
		tenants.GET("/instances/:name/logs", s.instanceLogsHandler)
		tenants.GET("/instances/:name/stats", s.instanceStatsHandler)
		tenants.GET("/credits", s.creditsHandler)
	}

	admin := s.router.Group("/api/admin", s.requireAdmin)
	{
		admin.GET("/instances", s.adminInstancesHandler)
		admin.DELETE("/tenants/:tenant/instances/:name", s.deleteInstanceHandler)
		admin.GET("/tenants/:tenant/instances/:name/logs", s.instanceLogsHandler)
		admin.POST("/limit", s.adminLimitHandler)
		admin.POST("/credits", s.adminCreditsHandler)
		admin.POST("/image/pull", s.adminPullImageHandler)
	}
}

// requireAdmin gates the admin group on the caller identifying as a
// configured admin tenant.
func (s *Server) requireAdmin(c *gin.Context) {
	caller := c.GetHeader("X-Admin-Tenant")
	if caller == "" || !s.fleet.IsAdmin(caller) {
		c.AbortWithStatusJSON(http.StatusForbidden, api.ErrorResponse{
			Error: "admin access required",
		})
		return
	}
	c.Next()
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := fmt.Sprintf("0.0.0.0:%d", s.port)
	s.logger.Infof("Starting API server on %s", addr)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("API server failed: %v", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}
