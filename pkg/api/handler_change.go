package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// proposeHandler handles POST /api/v1/itineraries/:id/propose.
// The body is a bare ChangeSet; nothing is persisted.
func (s *Server) proposeHandler(c *echo.Context) error {
	if _, err := s.loadOwned(c, c.Param("id")); err != nil {
		return err
	}
	var cs itinerary.ChangeSet
	if err := c.Bind(&cs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := s.engine.Propose(c.Request().Context(), c.Param("id"), &cs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// applyHandler handles POST /api/v1/itineraries/:id/apply.
// It accepts the {"changeSet": ...} envelope and a bare change set, so the
// exact body a client previewed through propose commits unchanged.
func (s *Server) applyHandler(c *echo.Context) error {
	if _, err := s.loadOwned(c, c.Param("id")); err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := decodeChangeSet(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := s.engine.Apply(c.Request().Context(), c.Param("id"), cs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// decodeChangeSet tries the envelope form first, then the bare form. A body
// carrying neither is rejected.
func decodeChangeSet(body []byte) (*itinerary.ChangeSet, error) {
	var req ApplyRequest
	if err := json.Unmarshal(body, &req); err == nil && req.ChangeSet != nil {
		return req.ChangeSet, nil
	}
	var cs itinerary.ChangeSet
	if err := json.Unmarshal(body, &cs); err != nil || len(cs.Ops) == 0 {
		return nil, errors.New("changeSet is required")
	}
	return &cs, nil
}

// undoHandler handles POST /api/v1/itineraries/:id/undo.
// An absent or zero toVersion restores the previous version.
func (s *Server) undoHandler(c *echo.Context) error {
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	var req UndoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ToVersion == 0 {
		req.ToVersion = doc.Version - 1
	}
	res, err := s.engine.Undo(c.Request().Context(), doc.ID, req.ToVersion)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// lockHandler handles PUT /api/v1/itineraries/:id/nodes/:nodeId/lock.
// Locking is a user action routed through the engine like any other change,
// so it lands in the revision history.
func (s *Server) lockHandler(c *echo.Context) error {
	// 1. Load the document and the target node
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	nodeID := c.Param("nodeId")
	node := doc.FindNode(nodeID)
	if node == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("node %s not found", nodeID))
	}

	// 2. Bind the desired state
	var req LockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// 3. Flip the flag through the engine. Releasing a lock is only possible
	// with lock enforcement off; AutoApply also keeps the preferences
	// non-zero so engine defaults do not overwrite them.
	desc := fmt.Sprintf("Locked %s", node.Title)
	if !req.Locked {
		desc = fmt.Sprintf("Unlocked %s", node.Title)
	}
	cs := &itinerary.ChangeSet{
		Scope: itinerary.ScopeTrip,
		Ops: []itinerary.Operation{
			{Op: itinerary.OpUpdate, ID: nodeID, Patch: []byte(fmt.Sprintf(`{"locked":%t}`, req.Locked))},
		},
		Preferences: itinerary.Preferences{AutoApply: true, UserFirst: false, RespectLocks: false},
		Author:      itinerary.ActorUser,
		Description: desc,
	}
	if _, err := s.engine.Apply(c.Request().Context(), doc.ID, cs); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &LockResponse{
		Success: true,
		NodeID:  nodeID,
		Locked:  req.Locked,
	})
}

// listRevisionsHandler handles GET /api/v1/itineraries/:id/revisions.
func (s *Server) listRevisionsHandler(c *echo.Context) error {
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	revs, err := s.engine.ListRevisions(c.Request().Context(), doc.ID)
	if err != nil {
		return err
	}
	if revs == nil {
		revs = []*itinerary.Revision{}
	}
	return c.JSON(http.StatusOK, revs)
}

// rollbackHandler handles POST /api/v1/itineraries/:id/revisions/:version/rollback.
// Rolling back is a forward write: the chosen revision's snapshot becomes
// the next version.
func (s *Server) rollbackHandler(c *echo.Context) error {
	doc, err := s.loadOwned(c, c.Param("id"))
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "version must be an integer")
	}
	res, err := s.engine.Undo(c.Request().Context(), doc.ID, version)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res.Itinerary)
}
