// Package api is the HTTP and WebSocket surface of the itinerary service.
// Handlers stay thin: bind, resolve identity, gate ownership, delegate to
// the engine/runner/orchestrator/booking collaborators, and let the error
// envelope middleware translate domain errors into transport responses.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/booking"
	"github.com/wayplan/wayplan/pkg/config"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/orchestrator"
	"github.com/wayplan/wayplan/pkg/runner"
	"github.com/wayplan/wayplan/pkg/store"
)

// Server owns the echo instance and the wrapped http.Server.
type Server struct {
	echo *echo.Echo
	srv  *http.Server
	cfg  config.ServerConfig

	engine  *engine.Engine
	store   store.Store
	runner  *runner.Runner
	orch    *orchestrator.Orchestrator
	booking *booking.Service
	conns   *events.ConnectionManager
}

// NewServer wires middleware and routes. engine and store must be set; the
// remaining collaborators may be nil and their endpoints answer 503.
func NewServer(
	cfg config.ServerConfig,
	eng *engine.Engine,
	st store.Store,
	run *runner.Runner,
	orch *orchestrator.Orchestrator,
	book *booking.Service,
	conns *events.ConnectionManager,
) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		store:   st,
		runner:  run,
		orch:    orch,
		booking: book,
		conns:   conns,
	}

	e := echo.New()
	e.Use(requestLogger())
	e.Use(securityHeaders())
	e.Use(corsOrigins(cfg.CORSOrigins))
	e.Use(errorEnvelope())
	s.echo = e
	s.registerRoutes()

	s.srv = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	// Probes stay reachable without identity.
	s.echo.GET("/api/v1/healthz", s.healthzHandler)
	s.echo.GET("/api/v1/version", s.versionHandler)

	api := s.echo.Group("/api/v1")
	if s.cfg.AuthRequired {
		api.Use(requireIdentity())
	}

	api.POST("/itineraries", s.createItineraryHandler)
	api.GET("/itineraries", s.listItinerariesHandler)
	api.GET("/itineraries/:id/json", s.getItineraryHandler)
	api.DELETE("/itineraries/:id", s.deleteItineraryHandler)

	api.POST("/itineraries/:id/propose", s.proposeHandler)
	api.POST("/itineraries/:id/apply", s.applyHandler)
	api.POST("/itineraries/:id/undo", s.undoHandler)
	api.PUT("/itineraries/:id/nodes/:nodeId/lock", s.lockHandler)
	api.GET("/itineraries/:id/revisions", s.listRevisionsHandler)
	api.POST("/itineraries/:id/revisions/:version/rollback", s.rollbackHandler)

	api.POST("/chat/route", s.chatRouteHandler)

	api.POST("/book", s.bookHandler)
	api.GET("/bookings/:ref", s.getBookingHandler)
	api.GET("/itineraries/:id/bookings", s.listBookingsHandler)

	api.GET("/agents/:itineraryId/status", s.agentStatusHandler)
	api.POST("/agents/:itineraryId/cancel", s.cancelRunsHandler)

	api.GET("/ws", s.wsHandler)
}

// Start serves on addr and blocks until Shutdown or listener failure.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	return s.srv.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests bind :0 themselves
// and pass the listener in to learn the port before the first request.
func (s *Server) StartWithListener(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// loadOwned fetches an itinerary and hides documents owned by someone else:
// a foreign document reads as missing, so enumeration attempts learn nothing.
func (s *Server) loadOwned(c *echo.Context, id string) (*itinerary.Itinerary, error) {
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "itinerary id is required")
	}
	doc, err := s.engine.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != identity(c) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return doc, nil
}
