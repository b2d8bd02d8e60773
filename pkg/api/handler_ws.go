package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /api/v1/ws and hands the connection to the
// ConnectionManager, which owns it until the client disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.conns == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket is not available")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedWSOrigins
	} else {
		// No allowlist configured: accept any origin. Deployments that face
		// browsers directly should set server.allowed_ws_origins.
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.conns.HandleConnection(c.Request().Context(), conn)
	return nil
}
