package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/ruleengine"
)

// listRegexRulesHandler handles GET /api/v1/regex-rules, scoped by
// ?mapping_id= or ?user_id=.
func (s *Server) listRegexRulesHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	if mappingID := c.QueryParam("mapping_id"); mappingID != "" {
		rules, err := s.store.ListRegexRulesByMapping(ctx, s.store.Q(), mappingID)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, rules)
	}
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "user_id or mapping_id query parameter is required"})
	}
	rules, err := s.store.ListRegexRulesByUser(ctx, s.store.Q(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rules)
}

// createRegexRuleHandler handles POST /api/v1/regex-rules. The pattern is
// compiled once here so a broken rule is rejected at creation instead of
// silently skipped by every pipeline evaluation.
func (s *Server) createRegexRuleHandler(c *echo.Context) error {
	var req CreateRegexRuleRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	probe := model.RegexRule{
		Pattern:       req.Pattern,
		Replacement:   req.Replacement,
		Kind:          model.RegexRuleKind(req.Kind),
		CaseSensitive: req.CaseSensitive,
	}
	if _, err := ruleengine.TestRule(probe, ""); err != nil {
		return mapServiceError(err)
	}

	r, err := s.store.PutRegexRule(c.Request().Context(), s.store.Q(), model.RegexRule{
		UserID:        req.UserID,
		MappingID:     req.MappingID,
		Name:          req.Name,
		Pattern:       req.Pattern,
		Replacement:   req.Replacement,
		Kind:          model.RegexRuleKind(req.Kind),
		OrderIndex:    req.OrderIndex,
		CaseSensitive: req.CaseSensitive,
		Active:        true,
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.invalidateRuleScope(r)
	return c.JSON(http.StatusCreated, r)
}

// updateRegexRuleHandler handles PATCH /api/v1/regex-rules/:id. A pattern
// change is compile-checked the same way creation is.
func (s *Server) updateRegexRuleHandler(c *echo.Context) error {
	id := c.Param("id")
	var req UpdateRegexRuleRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	r, err := s.store.UpdateRegexRuleWith(c.Request().Context(), s.store.Q(), id, func(r *model.RegexRule) error {
		if req.Name != nil {
			r.Name = *req.Name
		}
		if req.Pattern != nil {
			r.Pattern = *req.Pattern
		}
		if req.Replacement != nil {
			r.Replacement = req.Replacement
		}
		if req.OrderIndex != nil {
			r.OrderIndex = *req.OrderIndex
		}
		if req.CaseSensitive != nil {
			r.CaseSensitive = *req.CaseSensitive
		}
		if req.Active != nil {
			r.Active = *req.Active
		}
		if _, err := ruleengine.TestRule(*r, ""); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.invalidateRuleScope(r)
	return c.JSON(http.StatusOK, r)
}

// deleteRegexRuleHandler handles DELETE /api/v1/regex-rules/:id.
func (s *Server) deleteRegexRuleHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	// Load first so the right policy-cache scope can be invalidated.
	target, err := s.store.GetRegexRule(ctx, s.store.Q(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.store.DeleteRegexRule(ctx, s.store.Q(), id); err != nil {
		return mapServiceError(err)
	}
	s.invalidateRuleScope(target)
	return c.NoContent(http.StatusNoContent)
}

// testRegexRuleHandler handles POST /api/v1/regex-rules/test: a dry run of a
// rule against sample text, never persisted.
func (s *Server) testRegexRuleHandler(c *echo.Context) error {
	var req TestRegexRuleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := ruleengine.TestRule(model.RegexRule{
		Pattern:       req.Pattern,
		Replacement:   req.Replacement,
		Kind:          model.RegexRuleKind(req.Kind),
		CaseSensitive: req.CaseSensitive,
	}, req.Text)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// invalidateRuleScope drops the compiled policies a rule change affects: one
// mapping for a scoped rule, all of the user's mappings for a global one.
func (s *Server) invalidateRuleScope(r model.RegexRule) {
	if r.MappingID != nil {
		s.policies.Invalidate(*r.MappingID)
		return
	}
	s.policies.InvalidateUser(r.UserID)
}
