package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

// listMappingsHandler handles GET /api/v1/mappings?user_id=.
func (s *Server) listMappingsHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "user_id query parameter is required"})
	}
	mappings, err := s.store.ListMappingsByUser(c.Request().Context(), s.store.Q(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mappings)
}

// createMappingHandler handles POST /api/v1/mappings. Pair quota is reserved
// first and rolled back if the insert fails.
func (s *Server) createMappingHandler(c *echo.Context) error {
	var req CreateMappingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if err := s.quota.Reserve(ctx, req.UserID, quota.KindPair); err != nil {
		return mapServiceError(err)
	}

	m, err := s.store.PutMapping(ctx, s.store.Q(), model.Mapping{
		UserID:        req.UserID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		PairName:      req.PairName,
		PairType:      req.PairType,
		Priority:      req.Priority,
		Active:        true,
		Filters:       req.Filters,
		Editing:       req.Editing,
		Sync:          req.Sync,
		Delay:         req.Delay,
	})
	if err != nil {
		_ = s.quota.Release(ctx, req.UserID, quota.KindPair)
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

// updateMappingHandler handles PATCH /api/v1/mappings/:id (name, priority).
func (s *Server) updateMappingHandler(c *echo.Context) error {
	id := c.Param("id")
	var req UpdateMappingRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	m, err := s.store.UpdateMappingWith(c.Request().Context(), s.store.Q(), id, func(m *model.Mapping) error {
		if req.PairName != nil {
			m.PairName = *req.PairName
		}
		if req.Priority != nil {
			m.Priority = *req.Priority
		}
		return nil
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.policies.Invalidate(id)
	return c.JSON(http.StatusOK, m)
}

// deleteMappingHandler handles DELETE /api/v1/mappings/:id, releasing the
// pair quota.
func (s *Server) deleteMappingHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	m, err := s.store.GetMapping(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.store.DeleteMapping(ctx, s.store.Q(), id); err != nil {
		return mapServiceError(err)
	}
	if err := s.quota.Release(ctx, m.UserID, quota.KindPair); err != nil {
		return mapServiceError(err)
	}
	s.policies.Invalidate(id)
	return c.NoContent(http.StatusNoContent)
}

// toggleMappingHandler handles POST /api/v1/mappings/:id/toggle.
func (s *Server) toggleMappingHandler(c *echo.Context) error {
	id := c.Param("id")
	m, err := s.store.UpdateMappingWith(c.Request().Context(), s.store.Q(), id, func(m *model.Mapping) error {
		m.Active = !m.Active
		return nil
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.policies.Invalidate(id)
	return c.JSON(http.StatusOK, m)
}

// mappingRules is the GET/PUT /api/v1/mappings/:id/rules shape: the four
// embedded policy blocks of a mapping.
type mappingRules struct {
	Filters model.Filters `json:"filters"`
	Editing model.Editing `json:"editing"`
	Sync    model.Sync    `json:"sync"`
	Delay   model.Delay   `json:"delay"`
}

// getMappingRulesHandler handles GET /api/v1/mappings/:id/rules.
func (s *Server) getMappingRulesHandler(c *echo.Context) error {
	m, err := s.store.GetMapping(c.Request().Context(), s.store.Q(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &mappingRules{Filters: m.Filters, Editing: m.Editing, Sync: m.Sync, Delay: m.Delay})
}

// updateMappingRulesHandler handles PUT /api/v1/mappings/:id/rules. Only the
// blocks present in the body are replaced.
func (s *Server) updateMappingRulesHandler(c *echo.Context) error {
	id := c.Param("id")
	var req UpdateMappingRulesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Filters == nil && req.Editing == nil && req.Sync == nil && req.Delay == nil {
		return mapServiceError(relayerr.New(relayerr.KindInputInvalid, "at least one rule block is required"))
	}

	m, err := s.store.UpdateMappingWith(c.Request().Context(), s.store.Q(), id, func(m *model.Mapping) error {
		if req.Filters != nil {
			m.Filters = *req.Filters
		}
		if req.Editing != nil {
			m.Editing = *req.Editing
		}
		if req.Sync != nil {
			m.Sync = *req.Sync
		}
		if req.Delay != nil {
			m.Delay = *req.Delay
		}
		return nil
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.policies.Invalidate(id)
	return c.JSON(http.StatusOK, m)
}
