package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/orchestrator"
)

// chatRouteHandler handles POST /api/v1/chat/route.
// Request-shape problems and unknown itineraries surface as envelope errors;
// everything the orchestrator decides downstream (unknown intent, ambiguity,
// agent failure) stays inside the 200 response body.
func (s *Server) chatRouteHandler(c *echo.Context) error {
	// 1. Bind the message
	var req orchestrator.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if s.orch == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat is not available")
	}

	// 2. Stamp the caller identity when the client did not
	if req.UserID == "" {
		req.UserID = identity(c)
	}

	// 3. Ownership gate; the orchestrator itself does not check callers
	if _, err := s.loadOwned(c, req.ItineraryID); err != nil {
		return err
	}

	// 4. Route
	resp, err := s.orch.Route(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
