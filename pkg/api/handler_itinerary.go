package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/runner"
)

// estimatePerDay is the advertised generation time per travel day. Purely
// informational; clients watch agent.<id> for real progress.
const estimatePerDay = 15 * time.Second

// createItineraryHandler handles POST /api/v1/itineraries.
// The document is persisted at version 1 in planning state and the planner
// run is queued; generation progress arrives on agent.<id>.
func (s *Server) createItineraryHandler(c *echo.Context) error {
	// 1. Bind and validate the trip brief
	var req CreateItineraryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.CreateRequest.Validate(); err != nil {
		return err
	}
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent runner is not available")
	}

	// 2. Persist the version-1 planning document
	created, err := s.engine.Create(c.Request().Context(), planningDocument(&req, identity(c)), itinerary.ActorUser)
	if err != nil {
		return err
	}

	// 3. Queue the planner generation run
	runID, err := s.runner.Submit(c.Request().Context(), runner.Job{
		ItineraryID: created.ID,
		Kind:        agents.KindPlanner,
		Request:     &req.CreateRequest,
	})
	if err != nil {
		// Create-and-generate is one action; a document whose generation
		// was never queued must not linger.
		if delErr := s.engine.Delete(context.WithoutCancel(c.Request().Context()), created.ID); delErr != nil {
			slog.Warn("Failed to roll back itinerary after queue rejection",
				"itinerary_id", created.ID, "error", delErr)
		}
		return err
	}

	// 4. Return the document plus run tracking info
	return c.JSON(http.StatusCreated, &CreateItineraryResponse{
		Itinerary:           created,
		ExecutionID:         runID,
		EstimatedCompletion: time.Now().Add(time.Duration(req.Days()) * estimatePerDay).UTC().Format(time.RFC3339),
		Status:              created.Status,
		Stages: []StageInfo{
			{Name: string(agents.KindPlanner), Status: events.AgentStatusQueued},
			{Name: string(agents.KindEnrichment), Status: "pending"},
		},
	})
}

// planningDocument projects the trip brief onto an empty version-1 document.
func planningDocument(req *CreateItineraryRequest, owner string) *itinerary.Itinerary {
	doc := &itinerary.Itinerary{
		OwnerID: owner,
		Summary: fmt.Sprintf("Trip to %s", req.Destination),
		Themes:  req.Interests,
		Status:  itinerary.StatusPlanning,
	}
	if req.Settings != nil {
		doc.Settings = *req.Settings
	} else {
		doc.Settings = itinerary.Settings{RespectLocks: true}
	}
	return doc
}

// listItinerariesHandler handles GET /api/v1/itineraries.
func (s *Server) listItinerariesHandler(c *echo.Context) error {
	items, err := s.engine.List(c.Request().Context(), identity(c))
	if err != nil {
		return err
	}
	if items == nil {
		items = []itinerary.Summary{}
	}
	return c.JSON(http.StatusOK, items)
}

// getItineraryHandler handles GET /api/v1/itineraries/:id/json.
func (s *Server) getItineraryHandler(c *echo.Context) error {
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

// deleteItineraryHandler handles DELETE /api/v1/itineraries/:id.
// Active agent runs are cancelled first so they stop writing into a
// document that is about to vanish.
func (s *Server) deleteItineraryHandler(c *echo.Context) error {
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	if s.runner != nil {
		if n := s.runner.CancelForItinerary(doc.ID); n > 0 {
			slog.Info("Cancelled runs for deleted itinerary", "itinerary_id", doc.ID, "count", n)
		}
	}
	if err := s.engine.Delete(c.Request().Context(), doc.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
