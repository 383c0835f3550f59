package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/stats"
)

// listPendingHandler handles GET /api/v1/pending-messages?user_id=.
func (s *Server) listPendingHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "user_id query parameter is required"})
	}
	pending, err := s.store.ListPendingByUser(c.Request().Context(), s.store.Q(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, pending)
}

// approvePendingHandler handles POST /api/v1/pending-messages/:id/approve.
// The syncer's activation poll picks the message up once scheduled_for
// passes; approval alone never dispatches.
func (s *Server) approvePendingHandler(c *echo.Context) error {
	return s.decidePending(c, model.PendingApproved)
}

// rejectPendingHandler handles POST /api/v1/pending-messages/:id/reject.
func (s *Server) rejectPendingHandler(c *echo.Context) error {
	return s.decidePending(c, model.PendingRejected)
}

func (s *Server) decidePending(c *echo.Context, status model.PendingStatus) error {
	id := c.Param("id")
	var req DecidePendingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	pm, err := s.store.GetPending(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if pm.Status != model.PendingPending {
		return mapServiceError(relayerr.Newf(relayerr.KindConflict, "message is %s, not pending", pm.Status))
	}

	if err := s.store.DecidePending(ctx, s.store.Q(), id, status, req.DecidedBy); err != nil {
		return mapServiceError(err)
	}
	pm, err = s.store.GetPending(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, pm)
}

// statisticsHandler handles GET /api/v1/statistics?aggregation=hourly|daily|total.
func (s *Server) statisticsHandler(c *echo.Context) error {
	agg := stats.Aggregation(c.QueryParam("aggregation"))
	if agg == "" {
		agg = stats.Total
	}
	summary, err := s.statsSvc.Get(c.Request().Context(), agg)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// listLogsHandler handles GET /api/v1/forwarding-logs with status filter and
// (limit, offset) paging.
func (s *Server) listLogsHandler(c *echo.Context) error {
	limit := intQueryParam(c, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	offset := intQueryParam(c, "offset", 0)

	var status *model.LogStatus
	if raw := c.QueryParam("status"); raw != "" {
		st := model.LogStatus(raw)
		switch st {
		case model.LogSuccess, model.LogFiltered, model.LogError, model.LogTest:
			status = &st
		default:
			return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "unknown status filter"})
		}
	}

	logs, err := s.store.ListForwardingLogs(c.Request().Context(), s.store.Q(), status, limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, logs)
}
