package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// agentStatusHandler handles GET /api/v1/agents/:itineraryId/status.
// Polling fallback for clients without a WebSocket; the snapshot merges
// persisted agent statuses with runs still in the queue.
func (s *Server) agentStatusHandler(c *echo.Context) error {
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent runner is not available")
	}
	doc, err := s.loadOwned(c, c.Param("itineraryId"))
	if err != nil {
		return err
	}
	snapshot, err := s.runner.Snapshot(c.Request().Context(), doc.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}

// cancelRunsHandler handles POST /api/v1/agents/:itineraryId/cancel.
func (s *Server) cancelRunsHandler(c *echo.Context) error {
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent runner is not available")
	}
	doc, err := s.loadOwned(c, c.Param("itineraryId"))
	if err != nil {
		return err
	}
	n := s.runner.CancelForItinerary(doc.ID)
	return c.JSON(http.StatusOK, &CancelRunsResponse{
		ItineraryID: doc.ID,
		Cancelled:   n,
	})
}
