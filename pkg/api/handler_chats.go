package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/relaymesh/relayd/pkg/model"
)

// Source and destination chats share one request shape and near-identical
// handlers; they stay separate resources because mappings reference them
// directionally.

func (s *Server) listSourcesHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "user_id query parameter is required"})
	}
	sources, err := s.store.ListSourcesByUser(c.Request().Context(), s.store.Q(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) createSourceHandler(c *echo.Context) error {
	var req CreateChatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	src, err := s.store.PutSource(c.Request().Context(), s.store.Q(), model.Source{
		UserID:       req.UserID,
		ChatID:       req.ChatID,
		ChatTitle:    req.ChatTitle,
		ChatType:     model.ChatType(req.ChatType),
		ChatUsername: req.ChatUsername,
		Active:       true,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, src)
}

func (s *Server) deleteSourceHandler(c *echo.Context) error {
	if err := s.store.DeleteSource(c.Request().Context(), s.store.Q(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listDestinationsHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: "user_id query parameter is required"})
	}
	destinations, err := s.store.ListDestinationsByUser(c.Request().Context(), s.store.Q(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, destinations)
}

func (s *Server) createDestinationHandler(c *echo.Context) error {
	var req CreateChatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	dst, err := s.store.PutDestination(c.Request().Context(), s.store.Q(), model.Destination{
		UserID:       req.UserID,
		ChatID:       req.ChatID,
		ChatTitle:    req.ChatTitle,
		ChatType:     model.ChatType(req.ChatType),
		ChatUsername: req.ChatUsername,
		Active:       true,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, dst)
}

func (s *Server) deleteDestinationHandler(c *echo.Context) error {
	if err := s.store.DeleteDestination(c.Request().Context(), s.store.Q(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
