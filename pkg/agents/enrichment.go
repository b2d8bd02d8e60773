package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

const (
	// Meals starting before this UTC hour get an opening-hours warning.
	earlyMealHour = 9

	// Gaps shorter than this between consecutive timed nodes get a
	// travel note.
	tightGapMin = 15

	// Straight-line estimate parameters: one degree is ~111 km, assumed
	// ground speed in km/h.
	kmPerDegree     = 111.0
	assumedSpeedKmh = 30.0
)

// Enrichment is the rule-based pass that runs after generation: it attaches
// advisory tips and transit estimates through update and update_edge ops,
// never structural changes and never status.
type Enrichment struct {
	engine *engine.Engine
}

// NewEnrichment creates the agent.
func NewEnrichment(eng *engine.Engine) *Enrichment {
	return &Enrichment{engine: eng}
}

func (e *Enrichment) Kind() Kind { return KindEnrichment }

// Run scans the itinerary and applies whatever advisories are missing. The
// rules only emit ops when something would actually change, so repeated
// runs settle into a no-op.
func (e *Enrichment) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	in.report(20, "scan", "scanning itinerary")
	doc, err := e.engine.Get(ctx, in.ItineraryID)
	if err != nil {
		return nil, err
	}
	if doc.Status != itinerary.StatusCompleted {
		return &RunResult{Message: "Itinerary is not ready for enrichment."}, nil
	}

	var ops []itinerary.Operation
	for d := range doc.Days {
		day := &doc.Days[d]
		ops = append(ops, tipOps(day)...)
		ops = append(ops, transitOps(day)...)
	}
	if len(ops) == 0 {
		return &RunResult{Message: "Nothing to enrich."}, nil
	}

	cs := &itinerary.ChangeSet{
		Scope:       itinerary.ScopeTrip,
		Ops:         ops,
		Preferences: itinerary.DefaultPreferences(),
		Author:      itinerary.ActorAgent,
		Description: "Enrichment pass",
	}
	in.report(80, "apply", "applying enrichment")
	res, err := e.engine.Apply(ctx, in.ItineraryID, cs)
	if err != nil {
		return nil, fmt.Errorf("apply enrichment: %w", err)
	}
	return &RunResult{
		ChangeSet: cs,
		Applied:   true,
		ToVersion: res.ToVersion,
		Diff:      res.Diff,
		Warnings:  res.Diff.Warnings,
		Message:   fmt.Sprintf("Enriched itinerary with %d annotations.", len(ops)),
	}, nil
}

// tipOps emits one update per node whose tips need an opening-hours warning
// or a tight-transit note. Locked nodes are left alone.
func tipOps(day *itinerary.Day) []itinerary.Operation {
	var ops []itinerary.Operation
	for n := range day.Nodes {
		node := &day.Nodes[n]
		if node.Locked {
			continue
		}

		tips := itinerary.Tips{}
		if node.Tips != nil {
			tips = *node.Tips
			tips.Warnings = append([]string(nil), node.Tips.Warnings...)
		}
		changed := false

		if node.Type == itinerary.NodeMeal && node.Timing != nil && node.Timing.StartTime != nil {
			if time.UnixMilli(*node.Timing.StartTime).UTC().Hour() < earlyMealHour {
				const w = "restaurant may not be open this early"
				if !containsString(tips.Warnings, w) {
					tips.Warnings = append(tips.Warnings, w)
					changed = true
				}
			}
		}

		if n > 0 {
			prev := &day.Nodes[n-1]
			if prev.Timing != nil && prev.Timing.EndTime != nil &&
				node.Timing != nil && node.Timing.StartTime != nil {
				gap := (*node.Timing.StartTime - *prev.Timing.EndTime) / 60_000
				if gap >= 0 && gap < tightGapMin {
					note := fmt.Sprintf("only %d minutes between activities", gap)
					if tips.Travel != note {
						tips.Travel = note
						changed = true
					}
				}
			}
		}

		if changed {
			patch, err := json.Marshal(map[string]any{"tips": tips})
			if err != nil {
				continue
			}
			ops = append(ops, itinerary.Operation{
				Op:    itinerary.OpUpdate,
				ID:    node.ID,
				Patch: patch,
			})
		}
	}
	return ops
}

// transitOps fills missing edge durations from a straight-line estimate
// when both endpoints have coordinates.
func transitOps(day *itinerary.Day) []itinerary.Operation {
	var ops []itinerary.Operation
	for i := range day.Edges {
		edge := &day.Edges[i]
		if edge.TransitInfo != nil && edge.TransitInfo.DurationMin > 0 {
			continue
		}
		est := transitEstimate(findInDay(day, edge.From), findInDay(day, edge.To))
		if est <= 0 {
			continue
		}
		info := itinerary.TransitInfo{Mode: "walk", DurationMin: est, Note: "estimated from straight-line distance"}
		if edge.TransitInfo != nil {
			if edge.TransitInfo.Mode != "" {
				info.Mode = edge.TransitInfo.Mode
			}
			if edge.TransitInfo.Note != "" {
				info.Note = edge.TransitInfo.Note
			}
		}
		ops = append(ops, itinerary.Operation{
			Op:          itinerary.OpUpdateEdge,
			Day:         day.DayNumber,
			From:        edge.From,
			To:          edge.To,
			TransitInfo: &info,
		})
	}
	return ops
}

// transitEstimate converts the coordinate delta between two nodes into
// minutes at the assumed speed. Zero means no estimate is possible.
func transitEstimate(from, to *itinerary.Node) int {
	if from == nil || to == nil || from.Location == nil || to.Location == nil {
		return 0
	}
	a, b := from.Location, to.Location
	if a.Lat == nil || a.Lng == nil || b.Lat == nil || b.Lng == nil {
		return 0
	}
	dLat := *a.Lat - *b.Lat
	dLng := *a.Lng - *b.Lng
	km := math.Sqrt(dLat*dLat+dLng*dLng) * kmPerDegree
	min := int(math.Ceil(km / assumedSpeedKmh * 60))
	if min < 1 {
		min = 1
	}
	return min
}

func findInDay(day *itinerary.Day, id string) *itinerary.Node {
	for i := range day.Nodes {
		if day.Nodes[i].ID == id {
			return &day.Nodes[i]
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
