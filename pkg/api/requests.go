package api

import (
	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// CreateItineraryRequest is the body of POST /api/v1/itineraries: the trip
// brief, plus optional per-trip settings the planner carries forward.
type CreateItineraryRequest struct {
	agents.CreateRequest
	Settings *itinerary.Settings `json:"settings,omitempty"`
}

// ApplyRequest wraps the change set to commit.
type ApplyRequest struct {
	ChangeSet *itinerary.ChangeSet `json:"changeSet"`
}

// UndoRequest picks the version to restore. Zero means the previous one.
type UndoRequest struct {
	ToVersion int `json:"toVersion"`
}

// LockRequest is the desired lock state of a node.
type LockRequest struct {
	Locked bool `json:"locked"`
}

// BookRequest identifies the node to book.
type BookRequest struct {
	ItineraryID string `json:"itineraryId"`
	NodeID      string `json:"nodeId"`
}
