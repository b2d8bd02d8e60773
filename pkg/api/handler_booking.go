package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/store"
)

// bookHandler handles POST /api/v1/book.
// Booking stamps the provider reference onto the node and adds the Booked
// label; it never locks the node.
func (s *Server) bookHandler(c *echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if s.booking == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking is not available")
	}
	if _, err := s.loadOwned(c, req.ItineraryID); err != nil {
		return err
	}
	res, err := s.booking.Book(c.Request().Context(), req.ItineraryID, req.NodeID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// getBookingHandler handles GET /api/v1/bookings/:ref.
// Records outlive their itinerary, so the reference alone grants access.
func (s *Server) getBookingHandler(c *echo.Context) error {
	if s.booking == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking is not available")
	}
	rec, err := s.booking.Lookup(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// listBookingsHandler handles GET /api/v1/itineraries/:id/bookings.
func (s *Server) listBookingsHandler(c *echo.Context) error {
	if s.booking == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking is not available")
	}
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	recs, err := s.booking.ListForItinerary(c.Request().Context(), doc.ID)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []*store.BookingRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}
