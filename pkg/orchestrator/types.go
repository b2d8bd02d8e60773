package orchestrator

import (
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// Intent classifies what a chat message asks for.
type Intent string

const (
	IntentMoveTime Intent = "MOVE_TIME"
	IntentInsert   Intent = "INSERT"
	IntentDelete   Intent = "DELETE"
	IntentReplace  Intent = "REPLACE"
	IntentUpdate   Intent = "UPDATE"
	IntentExplain  Intent = "EXPLAIN"
	IntentBooking  Intent = "BOOKING"
	IntentUnknown  Intent = "UNKNOWN"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentMoveTime, IntentInsert, IntentDelete, IntentReplace,
		IntentUpdate, IntentExplain, IntentBooking, IntentUnknown:
		return true
	}
	return false
}

// Mutating reports whether the intent changes the document.
func (i Intent) Mutating() bool {
	switch i {
	case IntentMoveTime, IntentInsert, IntentDelete, IntentReplace, IntentUpdate:
		return true
	}
	return false
}

// targetsNode reports whether the intent refers to an existing node that
// must be resolved before dispatch.
func (i Intent) targetsNode() bool {
	switch i {
	case IntentMoveTime, IntentDelete, IntentReplace, IntentUpdate, IntentBooking:
		return true
	}
	return false
}

// maxChatTextLen bounds the accepted message size.
const maxChatTextLen = 1000

// ChatRequest is the orchestrator entry payload.
type ChatRequest struct {
	ItineraryID    string `json:"itineraryId"`
	Scope          string `json:"scope,omitempty"`
	Day            int    `json:"day,omitempty"`
	SelectedNodeID string `json:"selectedNodeId,omitempty"`
	Text           string `json:"text"`
	AutoApply      bool   `json:"autoApply,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// Validate checks the structural rules of the request.
func (r *ChatRequest) Validate() error {
	if r.ItineraryID == "" {
		return itinerary.NewValidationError("itineraryId", "required")
	}
	if r.Text == "" {
		return itinerary.NewValidationError("text", "required")
	}
	if len(r.Text) > maxChatTextLen {
		return itinerary.NewValidationError("text", "must be at most 1000 characters")
	}
	switch r.Scope {
	case "", itinerary.ScopeTrip:
	case itinerary.ScopeDay:
		if r.Day < 1 {
			return itinerary.NewValidationError("day", "day scope requires a 1-based day number")
		}
	default:
		return itinerary.NewValidationError("scope", "scope must be 'trip' or 'day'")
	}
	return nil
}

// NodeCandidate is one possible referent for a chat message. Confidence is a
// relative match score, not a probability; values above 1 mean several
// signals agreed on the same node.
type NodeCandidate struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Day        int                `json:"day"`
	Type       itinerary.NodeType `json:"type"`
	Location   string             `json:"location,omitempty"`
	Confidence float64            `json:"confidence"`
}

// ChatResponse is the assembled outcome of one routed message.
type ChatResponse struct {
	Intent              Intent               `json:"intent"`
	Message             string               `json:"message"`
	ChangeSet           *itinerary.ChangeSet `json:"changeSet,omitempty"`
	Diff                *itinerary.Diff      `json:"diff,omitempty"`
	Applied             bool                 `json:"applied"`
	ToVersion           int                  `json:"toVersion,omitempty"`
	Warnings            []string             `json:"warnings,omitempty"`
	NeedsDisambiguation bool                 `json:"needsDisambiguation"`
	Candidates          []NodeCandidate      `json:"candidates,omitempty"`
	Errors              []string             `json:"errors,omitempty"`
}
