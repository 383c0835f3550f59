// Package api provides the HTTP admin/control surface and the worker
// callback surface of the relayd controller.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/relaymesh/relayd/pkg/config"
	"github.com/relaymesh/relayd/pkg/events"
	"github.com/relaymesh/relayd/pkg/forward"
	"github.com/relaymesh/relayd/pkg/notify"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/ruleengine"
	"github.com/relaymesh/relayd/pkg/scheduler"
	"github.com/relaymesh/relayd/pkg/stats"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/version"
	"github.com/relaymesh/relayd/pkg/worker"
	"github.com/relaymesh/relayd/pkg/workerregistry"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	store      *store.Store
	quota      *quota.Manager
	registry   *workerregistry.Registry
	scheduler  *scheduler.Scheduler

	engine      *forward.Engine           // nil until set
	policies    *ruleengine.Cache         // nil until set
	statsSvc    *stats.Service            // nil until set
	connManager *events.ConnectionManager // nil until set (ws endpoint)
	notifier    *notify.Service           // nil when Slack is not configured
	pool        *worker.Pool              // nil until set
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	cfg *config.Config,
	st *store.Store,
	qm *quota.Manager,
	registry *workerregistry.Registry,
	sched *scheduler.Scheduler,
) *Server {
	e := echo.New()

	s := &Server{
		echo:      e,
		cfg:       cfg,
		store:     st,
		quota:     qm,
		registry:  registry,
		scheduler: sched,
	}
	s.setupRoutes()
	return s
}

// SetEngine sets the forwarding engine for the worker event surface.
func (s *Server) SetEngine(e *forward.Engine) { s.engine = e }

// SetPolicyCache sets the rule-engine cache so rule mutations invalidate it.
func (s *Server) SetPolicyCache(c *ruleengine.Cache) { s.policies = c }

// SetStatsService sets the statistics aggregation service.
func (s *Server) SetStatsService(svc *stats.Service) { s.statsSvc = svc }

// SetConnectionManager sets the WebSocket connection manager.
func (s *Server) SetConnectionManager(m *events.ConnectionManager) { s.connManager = m }

// SetNotifier sets the Slack notification service; may be nil.
func (s *Server) SetNotifier(n *notify.Service) { s.notifier = n }

// SetWorkerPool sets the platform-client pool, so worker deletion drops the
// deleted worker's cached client.
func (s *Server) SetWorkerPool(p *worker.Pool) { s.pool = p }

// ValidateWiring checks that every required service has been wired via its
// Set* method, so wiring gaps fail at startup rather than as 500s at request
// time. The notifier is legitimately optional.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.engine == nil {
		errs = append(errs, fmt.Errorf("engine not set (call SetEngine)"))
	}
	if s.policies == nil {
		errs = append(errs, fmt.Errorf("policies not set (call SetPolicyCache)"))
	}
	if s.statsSvc == nil {
		errs = append(errs, fmt.Errorf("statsSvc not set (call SetStatsService)"))
	}
	if s.connManager == nil {
		errs = append(errs, fmt.Errorf("connManager not set (call SetConnectionManager)"))
	}
	if s.pool == nil {
		errs = append(errs, fmt.Errorf("pool not set (call SetWorkerPool)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	// Users.
	v1.GET("/users", s.listUsersHandler)
	v1.POST("/users", s.createUserHandler)
	v1.PATCH("/users/:id", s.updateUserHandler)
	v1.DELETE("/users/:id", s.deleteUserHandler)

	// Sessions and scheduler ops.
	v1.GET("/sessions", s.listSessionsHandler)
	v1.POST("/sessions", s.createSessionHandler)
	v1.PATCH("/sessions/:id/status", s.updateSessionStatusHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
	v1.POST("/sessions/:id/assign", s.assignSessionHandler)
	v1.POST("/sessions/:id/reassign/:worker", s.reassignSessionHandler)

	// Worker fleet admin (static paths before :id param).
	v1.GET("/workers", s.listWorkersHandler)
	v1.POST("/workers", s.registerWorkerHandler)
	v1.GET("/workers/available", s.availableWorkersHandler)
	v1.GET("/workers/system/status", s.systemStatusHandler)
	v1.POST("/workers/:id/drain", s.drainWorkerHandler)
	v1.DELETE("/workers/:id", s.deleteWorkerHandler)

	// Worker callback surface, authenticated by per-worker token.
	v1.POST("/workers/:id/heartbeat", s.workerAuth(s.heartbeatHandler))
	v1.POST("/workers/:id/events", s.workerAuth(s.workerEventHandler))
	v1.POST("/workers/:id/failures", s.workerAuth(s.sessionFailureHandler))
	v1.GET("/workers/:id/controls", s.workerAuth(s.pollControlsHandler))
	v1.POST("/workers/:id/controls/:control_id/ack", s.workerAuth(s.ackControlHandler))

	// Sources and destinations.
	v1.GET("/sources", s.listSourcesHandler)
	v1.POST("/sources", s.createSourceHandler)
	v1.DELETE("/sources/:id", s.deleteSourceHandler)
	v1.GET("/destinations", s.listDestinationsHandler)
	v1.POST("/destinations", s.createDestinationHandler)
	v1.DELETE("/destinations/:id", s.deleteDestinationHandler)

	// Mappings.
	v1.GET("/mappings", s.listMappingsHandler)
	v1.POST("/mappings", s.createMappingHandler)
	v1.PATCH("/mappings/:id", s.updateMappingHandler)
	v1.DELETE("/mappings/:id", s.deleteMappingHandler)
	v1.POST("/mappings/:id/toggle", s.toggleMappingHandler)
	v1.GET("/mappings/:id/rules", s.getMappingRulesHandler)
	v1.PUT("/mappings/:id/rules", s.updateMappingRulesHandler)

	// Regex rules.
	v1.GET("/regex-rules", s.listRegexRulesHandler)
	v1.POST("/regex-rules", s.createRegexRuleHandler)
	v1.PATCH("/regex-rules/:id", s.updateRegexRuleHandler)
	v1.DELETE("/regex-rules/:id", s.deleteRegexRuleHandler)
	v1.POST("/regex-rules/test", s.testRegexRuleHandler)

	// Pending approvals.
	v1.GET("/pending-messages", s.listPendingHandler)
	v1.POST("/pending-messages/:id/approve", s.approvePendingHandler)
	v1.POST("/pending-messages/:id/reject", s.rejectPendingHandler)

	// Observability.
	v1.GET("/statistics", s.statisticsHandler)
	v1.GET("/forwarding-logs", s.listLogsHandler)

	// WebSocket endpoint for real-time event streaming.
	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, used by tests to bind
// a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.store.DB().PingContext(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unhealthy"})
	}
	resp := &HealthResponse{
		Status:  "healthy",
		Version: version.Full(),
	}
	if s.connManager != nil {
		resp.Connections = s.connManager.ConnectionCount()
	}
	return c.JSON(http.StatusOK, resp)
}
