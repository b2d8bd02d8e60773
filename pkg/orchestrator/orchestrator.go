// Package orchestrator routes natural-language chat messages: it classifies
// intent, resolves which node the user means, dispatches to the planner for
// mutations or answers directly for questions, and assembles the chat
// response. Responses are also published on the chat topic so other open
// tabs stay in sync.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/ai"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// Orchestrator is the chat entry point.
type Orchestrator struct {
	engine  *engine.Engine
	planner agents.Agent
	gen     ai.Generator
	bus     *events.Bus
}

// New wires the orchestrator. planner must be the planner agent; gen is
// used directly for intent classification.
func New(eng *engine.Engine, planner agents.Agent, gen ai.Generator, bus *events.Bus) *Orchestrator {
	return &Orchestrator{engine: eng, planner: planner, gen: gen, bus: bus}
}

// Route runs the chat pipeline. Request-shape problems and an unknown
// itinerary return an error for the transport to map; everything downstream
// (unclear intent, agent failures, lock rejections) lands in the response
// body with applied=false.
func (o *Orchestrator) Route(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	doc, err := o.engine.Get(ctx, req.ItineraryID)
	if err != nil {
		return nil, err
	}

	resp := o.dispatch(ctx, doc, req)
	o.publish(req.ItineraryID, resp)
	return resp, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, doc *itinerary.Itinerary, req ChatRequest) *ChatResponse {
	intent := o.classify(ctx, req.Text)
	resp := &ChatResponse{Intent: intent}

	switch {
	case intent == IntentUnknown:
		resp.Message = "I couldn't work out what to change. Try describing one edit at a time, like \"move the museum visit to 3pm\"."
		return resp

	case intent == IntentExplain:
		resp.Message = explain(doc, req.Text)
		return resp
	}

	var target *itinerary.Node
	if intent.targetsNode() {
		node, candidates, ambiguous := resolveTarget(doc, req)
		if ambiguous {
			resp.NeedsDisambiguation = true
			resp.Candidates = candidates
			resp.Message = fmt.Sprintf("I found %d stops that could match. Which one do you mean?", len(candidates))
			return resp
		}
		if node == nil {
			resp.Errors = append(resp.Errors, "no matching node for the request")
			resp.Message = "I couldn't find a stop matching that description. Try the exact title from your itinerary."
			return resp
		}
		target = node
	}

	if intent == IntentBooking {
		resp.Message = fmt.Sprintf("I can't complete bookings from chat. Use the booking action on %q to reserve it.", target.Title)
		return resp
	}

	out, err := o.planner.Run(ctx, agents.RunInput{
		ItineraryID: req.ItineraryID,
		Instruction: instructionFor(req, target),
		Scope:       req.Scope,
		Day:         req.Day,
		AutoApply:   req.AutoApply,
	})
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
		resp.Message = "I couldn't turn that into itinerary changes. Please try rephrasing."
		return resp
	}

	resp.ChangeSet = out.ChangeSet
	resp.Diff = out.Diff
	resp.Applied = out.Applied
	resp.ToVersion = out.ToVersion
	resp.Warnings = out.Warnings
	resp.Message = out.Message
	if !out.Applied && out.ChangeSet != nil && !out.ChangeSet.Empty() {
		resp.Message = "Here is what I would change. Confirm to apply."
	}
	return resp
}

// instructionFor grounds the planner prompt on the resolved node so the
// model does not have to repeat the reference resolution.
func instructionFor(req ChatRequest, target *itinerary.Node) string {
	if target == nil {
		return req.Text
	}
	return fmt.Sprintf("%s\n\nThe user is referring to node %s (%q).", req.Text, target.ID, target.Title)
}

// publish mirrors the response onto the chat topic. Delivery problems are
// logged, never surfaced: the HTTP response is the source of truth.
func (o *Orchestrator) publish(itineraryID string, resp *ChatResponse) {
	payload := events.ChatResponsePayload{
		Type:        events.EventTypeChatResponse,
		ItineraryID: itineraryID,
		Response:    resp,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal chat response event", "error", err)
		return
	}
	if err := o.bus.Publish(events.ChatTopic(itineraryID), data); err != nil {
		slog.Warn("Failed to publish chat response event", "itinerary_id", itineraryID, "error", err)
	}
}
