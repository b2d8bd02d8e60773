package itinerary

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Normalize prepares a document that arrived from an ingest boundary (HTTP
// or an AI agent): days are ordered by number, nodes get ids and a default
// status, and bare clock times are anchored to day dates. Must run before
// Validate.
func (it *Itinerary) Normalize() error {
	sort.SliceStable(it.Days, func(i, j int) bool {
		return it.Days[i].DayNumber < it.Days[j].DayNumber
	})
	for d := range it.Days {
		day := &it.Days[d]
		for n := range day.Nodes {
			node := &day.Nodes[n]
			if node.ID == "" {
				node.ID = uuid.New().String()
			}
			if node.Status == "" {
				node.Status = NodePlanned
			}
			if node.Timing != nil {
				if err := node.Timing.resolveClocks(day.Date); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Validate checks every structural invariant of the document. It assumes
// Normalize already ran; unresolved clock values are reported as errors.
func (it *Itinerary) Validate() error {
	if it.ID == "" {
		return NewValidationError("itineraryId", "must not be empty")
	}
	if it.Version < 1 {
		return NewValidationError("version", "must be at least 1")
	}
	if !it.Status.Valid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", it.Status))
	}
	if it.OwnerID == "" {
		return NewValidationError("ownerId", "must not be empty")
	}
	if len(it.Days) == 0 && it.Status != StatusPlanning {
		return NewValidationError("days", "must not be empty once planning is done")
	}
	switch it.Settings.DefaultScope {
	case "", ScopeTrip, ScopeDay:
	default:
		return NewValidationError("settings.defaultScope", "must be 'trip' or 'day'")
	}

	seen := make(map[string]bool)
	for d := range it.Days {
		day := &it.Days[d]
		if day.DayNumber != d+1 {
			return NewValidationError("days.dayNumber", fmt.Sprintf("day numbers must be contiguous from 1, got %d at position %d", day.DayNumber, d+1))
		}
		if day.Date != "" {
			if _, err := time.Parse("2006-01-02", day.Date); err != nil {
				return NewValidationError("days.date", fmt.Sprintf("day %d has invalid date %q", day.DayNumber, day.Date))
			}
		}
		for n := range day.Nodes {
			if err := validateNode(&day.Nodes[n], day.DayNumber, seen); err != nil {
				return err
			}
		}
		for _, e := range day.Edges {
			if e.From == e.To {
				return NewValidationError("edges", fmt.Sprintf("day %d has a self edge on %q", day.DayNumber, e.From))
			}
			if !day.HasNode(e.From) || !day.HasNode(e.To) {
				return NewValidationError("edges", fmt.Sprintf("day %d edge %s->%s references a node not on that day", day.DayNumber, e.From, e.To))
			}
		}
	}
	return nil
}

func validateNode(n *Node, dayNumber int, seen map[string]bool) error {
	if n.ID == "" {
		return NewValidationError("nodes.id", fmt.Sprintf("day %d has a node without an id", dayNumber))
	}
	if seen[n.ID] {
		return NewValidationError("nodes.id", fmt.Sprintf("duplicate node id %q", n.ID))
	}
	seen[n.ID] = true
	if !n.Type.Valid() {
		return NewValidationError("nodes.type", fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
	}
	if n.Title == "" {
		return NewValidationError("nodes.title", fmt.Sprintf("node %q has no title", n.ID))
	}
	if !n.Status.Valid() {
		return NewValidationError("nodes.status", fmt.Sprintf("node %q has unknown status %q", n.ID, n.Status))
	}
	if n.Location != nil {
		if n.Location.Lat != nil && (*n.Location.Lat < -90 || *n.Location.Lat > 90) {
			return NewValidationError("nodes.location.lat", fmt.Sprintf("node %q latitude out of range", n.ID))
		}
		if n.Location.Lng != nil && (*n.Location.Lng < -180 || *n.Location.Lng > 180) {
			return NewValidationError("nodes.location.lng", fmt.Sprintf("node %q longitude out of range", n.ID))
		}
	}
	if n.Timing != nil {
		if n.Timing.pending() {
			return NewValidationError("nodes.timing", fmt.Sprintf("node %q has an unanchored clock time", n.ID))
		}
		if n.Timing.DurationMin < 0 {
			return NewValidationError("nodes.timing.durationMin", fmt.Sprintf("node %q duration must not be negative", n.ID))
		}
		if n.Timing.StartTime != nil && n.Timing.EndTime != nil && *n.Timing.EndTime < *n.Timing.StartTime {
			return NewValidationError("nodes.timing", fmt.Sprintf("node %q ends before it starts", n.ID))
		}
	}
	if n.Cost != nil {
		if n.Cost.Amount < 0 {
			return NewValidationError("nodes.cost.amount", fmt.Sprintf("node %q cost must not be negative", n.ID))
		}
		switch n.Cost.Per {
		case "", "person", "group":
		default:
			return NewValidationError("nodes.cost.per", fmt.Sprintf("node %q cost.per must be 'person' or 'group'", n.ID))
		}
	}
	return nil
}
