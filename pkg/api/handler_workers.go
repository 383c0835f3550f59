package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/worker"
	"github.com/relaymesh/relayd/pkg/workerregistry"
)

// listWorkersHandler handles GET /api/v1/workers.
func (s *Server) listWorkersHandler(c *echo.Context) error {
	workers, err := s.store.ListWorkers(c.Request().Context(), s.store.Q())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, workers)
}

// registerWorkerHandler handles POST /api/v1/workers: one-time fleet-node
// registration. The node starts offline and flips online with its first
// heartbeat.
func (s *Server) registerWorkerHandler(c *echo.Context) error {
	var req RegisterWorkerRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	w, err := s.store.PutWorker(c.Request().Context(), s.store.Q(), model.Worker{
		WorkerID:     req.WorkerID,
		Address:      req.Address,
		Status:       model.WorkerOffline,
		TotalRAM:     req.TotalRAM,
		MaxSessions:  req.MaxSessions,
		RAMThreshold: req.RAMThreshold,
		Priority:     req.Priority,
		AuthToken:    req.AuthToken,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

// availableWorkersHandler handles GET /api/v1/workers/available: online
// workers with capacity, least-loaded first.
func (s *Server) availableWorkersHandler(c *echo.Context) error {
	workers, err := s.registry.AvailableWorkers(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, workers)
}

// systemStatusHandler handles GET /api/v1/workers/system/status.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	workers, err := s.store.ListWorkers(ctx, s.store.Q())
	if err != nil {
		return mapServiceError(err)
	}
	sessions, err := s.store.ListSessions(ctx, s.store.Q())
	if err != nil {
		return mapServiceError(err)
	}
	queued, err := s.store.ListQueueByStatus(ctx, s.store.Q(), model.QueueQueued)
	if err != nil {
		return mapServiceError(err)
	}
	util, err := s.registry.SystemUtilisation(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &SystemStatusResponse{
		TotalWorkers:   len(workers),
		TotalSessions:  len(sessions),
		QueuedSessions: len(queued),
		Utilisation:    util,
		GeneratedAt:    time.Now().UTC(),
	}
	for _, w := range workers {
		switch w.Status {
		case model.WorkerOnline:
			resp.OnlineWorkers++
		case model.WorkerDraining:
			resp.DrainingWorkers++
		}
	}
	if last, ok, err := s.store.LastScalingEvent(ctx, s.store.Q()); err == nil && ok {
		resp.LastScalingEvent = &last
	}
	if s.connManager != nil {
		resp.Connections = s.connManager.ConnectionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// drainWorkerHandler handles POST /api/v1/workers/:id/drain: blocks new
// assignments and migrates the existing ones away.
func (s *Server) drainWorkerHandler(c *echo.Context) error {
	id := c.Param("id")
	w, err := s.registry.SetDraining(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, w)
}

// deleteWorkerHandler handles DELETE /api/v1/workers/:id.
func (s *Server) deleteWorkerHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.store.DeleteWorker(c.Request().Context(), s.store.Q(), id); err != nil {
		return mapServiceError(err)
	}
	s.pool.Forget(id)
	return c.NoContent(http.StatusNoContent)
}

// workerHandler is a callback-surface handler that receives the
// authenticated worker alongside the request context.
type workerHandler func(c *echo.Context, w model.Worker) error

// workerAuth wraps the worker callback surface: the :id param names the
// worker row (by fleet label) and the bearer token must match its
// auth_token. The matched worker row is handed to the wrapped handler.
func (s *Server) workerAuth(next workerHandler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		w, err := s.store.GetWorkerByWorkerID(c.Request().Context(), s.store.Q(), c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Kind: "InputInvalid", Message: "unknown worker"})
		}
		token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(w.AuthToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{Kind: "InputInvalid", Message: "bad worker token"})
		}
		return next(c, w)
	}
}

// heartbeatHandler handles POST /api/v1/workers/:id/heartbeat: metrics
// intake, load-score recompute, and the rolling analytics sample.
func (s *Server) heartbeatHandler(c *echo.Context, w model.Worker) error {
	var req HeartbeatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	updated, err := s.registry.Ingest(ctx, workerregistry.Heartbeat{
		WorkerID:       w.WorkerID,
		UsedRAM:        req.UsedRAM,
		CPUPercent:     req.CPUPercent,
		ActiveSessions: req.ActiveSessions,
		PingMs:         req.PingMs,
		Version:        req.Version,
	})
	if err != nil {
		return mapServiceError(err)
	}

	if _, err := s.store.PutWorkerAnalytics(ctx, s.store.Q(), model.WorkerAnalytics{
		WorkerID:       w.ID,
		MessagesPerMin: req.MessagesPerMin,
		AvgProcMs:      req.AvgProcMs,
		ErrorRate:      req.ErrorRate,
	}); err != nil {
		// Analytics are best-effort; the heartbeat itself succeeded.
		slog.Warn("recording worker analytics failed", "worker_id", w.WorkerID, "error", err)
	}

	return c.JSON(http.StatusOK, updated)
}

// workerEventHandler handles POST /api/v1/workers/:id/events: one inbound
// platform update, forwarded into the pipeline.
func (s *Server) workerEventHandler(c *echo.Context, _ model.Worker) error {
	var ev worker.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: err.Error()})
	}
	if ev.SessionID == "" || ev.ChatID == 0 || ev.MsgID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "session_id, chat_id and msg_id are required"})
	}
	if err := s.engine.HandleEvent(c.Request().Context(), ev); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// sessionFailureHandler handles POST /api/v1/workers/:id/failures: the
// worker reporting an auth or connection failure for one of its sessions.
func (s *Server) sessionFailureHandler(c *echo.Context, _ model.Worker) error {
	var req SessionFailureRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Kind == "auth" {
		// Auth failures invalidate the platform session: crash it and tear
		// down the assignment; the user must re-authenticate.
		if err := s.scheduler.SessionCrashed(ctx, req.SessionID, req.Details); err != nil {
			return mapServiceError(err)
		}
		s.engine.CancelSession(req.SessionID)
		return c.NoContent(http.StatusAccepted)
	}

	// Connection failures are transient from the controller's viewpoint; the
	// worker keeps retrying and the liveness scan migrates if it dies.
	slog.Warn("worker reported session connection failure",
		"session_id", req.SessionID, "details", req.Details)
	return c.NoContent(http.StatusAccepted)
}

// pollControlsHandler handles GET /api/v1/workers/:id/controls: the worker
// polling for admin-issued commands (stop_session, drain, reload_config).
func (s *Server) pollControlsHandler(c *echo.Context, w model.Worker) error {
	controls, err := s.store.ClaimPendingControls(c.Request().Context(), s.store.Q(), w.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ControlsResponse{Controls: controls})
}

// ackControlHandler handles POST /api/v1/workers/:id/controls/:control_id/ack.
func (s *Server) ackControlHandler(c *echo.Context, _ model.Worker) error {
	if err := s.store.AckWorkerControl(c.Request().Context(), s.store.Q(), c.Param("control_id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
