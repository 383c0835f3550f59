package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/store"
)

// listUsersHandler handles GET /api/v1/users.
func (s *Server) listUsersHandler(c *echo.Context) error {
	users, err := s.store.ListUsers(c.Request().Context(), s.store.Q())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, users)
}

// createUserHandler handles POST /api/v1/users: the user row and its plan
// row (at the requested role's tier, or the configured default tier when no
// role is given) are created in one transaction.
func (s *Server) createUserHandler(c *echo.Context) error {
	var req CreateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	role := s.cfg.DefaultPlan
	if req.Role != "" {
		role = model.Role(req.Role)
	}
	limits := s.quota.LimitsFor(role)

	var created model.User
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Querier) error {
		u, err := s.store.PutUser(ctx, q, model.User{
			Username: req.Username,
			Email:    req.Email,
			Role:     role,
			Active:   true,
		})
		if err != nil {
			return err
		}
		if _, err := s.store.PutPlan(ctx, q, model.Plan{
			UserID:      u.ID,
			Tier:        role,
			Status:      model.PlanStatusActive,
			MaxSessions: limits.MaxSessions,
			MaxPairs:    limits.MaxPairs,
			Priority:    limits.Priority,
			Start:       time.Now(),
		}); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// updateUserHandler handles PATCH /api/v1/users/:id. A role change runs the
// quota manager's plan change, which may report a downgrade overage; the
// overage is notified, never auto-resolved.
func (s *Server) updateUserHandler(c *echo.Context) error {
	id := c.Param("id")
	var req UpdateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Active != nil {
		if err := s.store.SetUserActive(ctx, s.store.Q(), id, *req.Active); err != nil {
			return mapServiceError(err)
		}
	}
	if req.Role != nil {
		overage, err := s.quota.ChangePlan(ctx, id, model.Role(*req.Role))
		if err != nil {
			return mapServiceError(err)
		}
		if _, err := s.store.DB().ExecContext(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, *req.Role); err != nil {
			return mapServiceError(err)
		}
		if overage != nil {
			s.notifier.NotifyPlanDowngrade(ctx, *overage)
		}
	}

	u, err := s.store.GetUser(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// deleteUserHandler handles DELETE /api/v1/users/:id. Every assignment the
// user holds is terminated first, so worker slots and queue positions are
// reclaimed before the cascade wipes the owned rows.
func (s *Server) deleteUserHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	sessions, err := s.store.ListSessionsByUser(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	for _, sess := range sessions {
		if sess.WorkerID == nil {
			continue
		}
		if err := s.scheduler.Terminate(ctx, sess.ID); err != nil {
			slog.Error("terminating session during user delete failed", "session_id", sess.ID, "error", err)
		}
		s.engine.CancelSession(sess.ID)
	}

	if err := s.store.DeleteUser(ctx, s.store.Q(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
