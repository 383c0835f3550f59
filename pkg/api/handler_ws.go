package api

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /api/v1/ws: upgrades to WebSocket and hands the
// connection to the connection manager, which owns its lifecycle.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The admin surface sits behind the deployment's auth proxy, which
		// also enforces origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Kind: "InputInvalid", Message: err.Error()})
	}

	s.connManager.HandleConnection(c.Request().Context(), conn)
	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

// intQueryParam parses an integer query parameter with a fallback.
func intQueryParam(c *echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
