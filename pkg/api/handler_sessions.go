package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/scheduler"
)

// listSessionsHandler handles GET /api/v1/sessions, optionally scoped by
// ?user_id=.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	if userID := c.QueryParam("user_id"); userID != "" {
		sessions, err := s.store.ListSessionsByUser(ctx, s.store.Q(), userID)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, sessions)
	}
	sessions, err := s.store.ListSessions(ctx, s.store.Q())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// createSessionHandler handles POST /api/v1/sessions. Creation is idle-only;
// admission to a worker happens via the assign op so quota enforcement has
// one chokepoint.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	user, err := s.store.GetUser(ctx, s.store.Q(), req.UserID)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.quota.Allow(ctx, user.ID, user.Role, "session_create"); err != nil {
		return mapServiceError(err)
	}

	sess, err := s.store.PutSession(ctx, s.store.Q(), model.Session{
		UserID:      req.UserID,
		SessionName: req.SessionName,
		Phone:       req.Phone,
		AuthBlob:    req.AuthBlob,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// updateSessionStatusHandler handles PATCH /api/v1/sessions/:id/status,
// driving the pause/resume/terminate transitions of the assignment state
// machine.
func (s *Server) updateSessionStatusHandler(c *echo.Context) error {
	id := c.Param("id")
	var req UpdateSessionStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	var err error
	switch model.SessionStatus(req.Status) {
	case model.SessionPaused:
		err = s.scheduler.Pause(ctx, id)
	case model.SessionActive:
		err = s.scheduler.Resume(ctx, id)
	case model.SessionStopped:
		err = s.scheduler.Terminate(ctx, id)
		s.engine.CancelSession(id)
	default:
		return mapServiceError(relayerr.Newf(relayerr.KindInputInvalid, "status %q is not reachable from the API", req.Status))
	}
	if err != nil {
		return mapServiceError(err)
	}

	sess, err := s.store.GetSession(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id, tearing down any
// live assignment first.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if err := s.scheduler.Terminate(ctx, id); err != nil && !relayerr.Is(err, relayerr.KindNotFound) {
		return mapServiceError(err)
	}
	s.engine.CancelSession(id)

	if err := s.store.DeleteSession(ctx, s.store.Q(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// assignSessionHandler handles POST /api/v1/sessions/:id/assign, the main
// scheduler entry point.
func (s *Server) assignSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	sess, err := s.store.GetSession(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	user, err := s.store.GetUser(ctx, s.store.Q(), sess.UserID)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.quota.Allow(ctx, user.ID, user.Role, "assign"); err != nil {
		return mapServiceError(err)
	}

	outcome, err := s.scheduler.Assign(ctx, id, sess.UserID)
	if err != nil {
		return mapServiceError(err)
	}

	if outcome.Kind == scheduler.OutcomeQueued {
		return c.JSON(http.StatusAccepted, &AssignResponse{
			Status:   "queued",
			Position: outcome.Position,
			EstWaitS: outcome.EstWaitS,
		})
	}

	s.startOnWorker(c, sess, outcome.WorkerID)
	return c.JSON(http.StatusOK, &AssignResponse{Status: "assigned", WorkerID: outcome.WorkerID})
}

// reassignSessionHandler handles POST /api/v1/sessions/:id/reassign/:worker.
func (s *Server) reassignSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	workerID := c.Param("worker")
	ctx := c.Request().Context()

	if err := s.scheduler.Reassign(ctx, id, workerID); err != nil {
		return mapServiceError(err)
	}

	sess, err := s.store.GetSession(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	s.startOnWorker(c, sess, workerID)
	return c.JSON(http.StatusOK, &AssignResponse{Status: "assigned", WorkerID: workerID})
}

// startOnWorker asks the assigned worker to open the platform session.
// Failures are recorded as a session failure rather than unwinding the
// assignment: the liveness/migration machinery owns recovery.
func (s *Server) startOnWorker(c *echo.Context, sess model.Session, workerID string) {
	ctx := c.Request().Context()
	w, err := s.store.GetWorker(ctx, s.store.Q(), workerID)
	if err != nil {
		return
	}
	client := s.pool.ClientFor(w)
	if err := client.StartSession(ctx, sess.ID, sess.AuthBlob); err != nil {
		if relayerr.Is(err, relayerr.KindPlatformPermanent) {
			_ = s.scheduler.SessionCrashed(ctx, sess.ID, err.Error())
		}
	}
}
