package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/store"
)

// routeHarness wires an orchestrator over a real engine with separate
// canned generators for the planner and for intent classification.
type routeHarness struct {
	orch       *Orchestrator
	eng        *engine.Engine
	bus        *events.Bus
	plannerGen *stubGen
	intentGen  *stubGen
}

func newRouteHarness(t *testing.T) *routeHarness {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	eng := engine.New(st, bus, engine.DefaultOptions())

	plannerGen := &stubGen{}
	intentGen := &stubGen{}
	return &routeHarness{
		orch:       New(eng, agents.NewPlanner(eng, plannerGen), intentGen, bus),
		eng:        eng,
		bus:        bus,
		plannerGen: plannerGen,
		intentGen:  intentGen,
	}
}

func at(date string, hour, min int) *int64 {
	ts, _ := time.Parse("2006-01-02", date)
	v := ts.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute).UnixMilli()
	return &v
}

// seedBarcelona creates a two-day trip with unique titles so reference
// resolution lands on exactly one node.
func seedBarcelona(t *testing.T, eng *engine.Engine) {
	t.Helper()
	_, err := eng.Create(context.Background(), &itinerary.Itinerary{
		ID:      "trip-chat",
		OwnerID: "u-1",
		Summary: "Barcelona weekend",
		Days: []itinerary.Day{
			{
				DayNumber: 1,
				Date:      "2025-10-04",
				Nodes: []itinerary.Node{
					{ID: "sagrada", Type: itinerary.NodeAttraction, Title: "Sagrada Familia", Status: itinerary.NodePlanned},
					{ID: "tapas", Type: itinerary.NodeMeal, Title: "Tapas crawl", Status: itinerary.NodePlanned,
						Timing: &itinerary.Timing{StartTime: at("2025-10-04", 20, 0), EndTime: at("2025-10-04", 22, 0)}},
				},
			},
			{
				DayNumber: 2,
				Date:      "2025-10-05",
				Nodes: []itinerary.Node{
					{ID: "beach", Type: itinerary.NodeAttraction, Title: "Barceloneta Beach", Status: itinerary.NodePlanned},
				},
			},
		},
	}, itinerary.ActorUser)
	require.NoError(t, err)
}

func TestRouteValidation(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)

	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"missing itinerary id", ChatRequest{Text: "hello"}},
		{"missing text", ChatRequest{ItineraryID: "trip-chat"}},
		{"text too long", ChatRequest{ItineraryID: "trip-chat", Text: strings.Repeat("a", maxChatTextLen+1)}},
		{"day scope without day", ChatRequest{ItineraryID: "trip-chat", Text: "move lunch", Scope: itinerary.ScopeDay}},
		{"bad scope", ChatRequest{ItineraryID: "trip-chat", Text: "move lunch", Scope: "week"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.orch.Route(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, itinerary.IsValidationError(err))
			assert.Nil(t, resp)
		})
	}
}

func TestRouteUnknownItinerary(t *testing.T) {
	h := newRouteHarness(t)

	resp, err := h.orch.Route(context.Background(), ChatRequest{ItineraryID: "ghost", Text: "move lunch to noon"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, resp)
}

func TestRouteExplainTrip(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "What is planned for this trip?",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentExplain, resp.Intent)
	assert.False(t, resp.Applied)
	assert.Contains(t, resp.Message, "Barcelona weekend: 2 days, 3 stops, at version 1.")
	assert.Contains(t, resp.Message, "Day 2 (2025-10-05): Barceloneta Beach.")
	assert.Zero(t, h.plannerGen.calls)
}

func TestRouteExplainNode(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "when does the Tapas crawl start",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentExplain, resp.Intent)
	assert.Contains(t, resp.Message, "Tapas crawl is a meal on day 1 (2025-10-04)")
	assert.Contains(t, resp.Message, "starting at 20:00 until 22:00")
}

func TestRouteMoveApplies(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)
	h.plannerGen.out = json.RawMessage(`{"scope":"trip","ops":[{"op":"move","id":"sagrada","startTime":"15:00"}]}`)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "Move Sagrada Familia to 3pm",
		AutoApply:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, IntentMoveTime, resp.Intent)
	assert.True(t, resp.Applied)
	assert.Equal(t, 2, resp.ToVersion)
	require.NotNil(t, resp.Diff)
	require.Len(t, resp.Diff.Updated, 1)
	assert.Equal(t, "sagrada", resp.Diff.Updated[0].NodeRef.NodeID)
	assert.Contains(t, resp.Diff.Updated[0].ChangedFields, "timing")
	assert.Equal(t, "Applied changes: 0 added, 0 removed, 1 updated.", resp.Message)

	// resolved reference is handed to the planner, not re-derived by the model
	assert.Contains(t, h.plannerGen.lastReq.Prompt, `The user is referring to node sagrada ("Sagrada Familia")`)
	assert.Contains(t, h.plannerGen.lastReq.Prompt, "User request: Move Sagrada Familia to 3pm")

	doc, err := h.eng.Get(context.Background(), "trip-chat")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	node := doc.FindNode("sagrada")
	require.NotNil(t, node)
	require.NotNil(t, node.Timing)
	require.NotNil(t, node.Timing.StartTime)
	assert.Equal(t, *at("2025-10-04", 15, 0), *node.Timing.StartTime)
}

func TestRoutePreviewWithoutAutoApply(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)
	h.plannerGen.out = json.RawMessage(`{"scope":"trip","ops":[{"op":"move","id":"sagrada","startTime":"15:00"}]}`)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "Move Sagrada Familia to 3pm",
	})
	require.NoError(t, err)
	assert.False(t, resp.Applied)
	assert.Equal(t, 2, resp.ToVersion)
	require.NotNil(t, resp.ChangeSet)
	assert.Len(t, resp.ChangeSet.Ops, 1)
	require.NotNil(t, resp.Diff)
	assert.Len(t, resp.Diff.Updated, 1)
	assert.Equal(t, "Here is what I would change. Confirm to apply.", resp.Message)

	// nothing was written
	doc, err := h.eng.Get(context.Background(), "trip-chat")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
}

func TestRouteDisambiguation(t *testing.T) {
	h := newRouteHarness(t)
	_, err := h.eng.Create(context.Background(), twoDayDoc(), itinerary.ActorUser)
	require.NoError(t, err)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-1",
		Text:        "Move Sagrada Familia to 3pm",
		AutoApply:   true,
	})
	require.NoError(t, err)
	assert.True(t, resp.NeedsDisambiguation)
	assert.False(t, resp.Applied)
	require.Len(t, resp.Candidates, 2)
	assert.Contains(t, resp.Message, "Which one do you mean?")
	assert.Zero(t, h.plannerGen.calls, "planner must not run while the target is ambiguous")

	// picking a candidate resolves the stall
	h.plannerGen.out = json.RawMessage(`{"scope":"trip","ops":[{"op":"move","id":"sagrada-pm","startTime":"15:00"}]}`)
	resp, err = h.orch.Route(context.Background(), ChatRequest{
		ItineraryID:    "trip-1",
		Text:           "Move Sagrada Familia to 3pm",
		SelectedNodeID: "sagrada-pm",
		AutoApply:      true,
	})
	require.NoError(t, err)
	assert.False(t, resp.NeedsDisambiguation)
	assert.True(t, resp.Applied)
	assert.Equal(t, 2, resp.ToVersion)

	doc, err := h.eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	node := doc.FindNode("sagrada-pm")
	require.NotNil(t, node)
	require.NotNil(t, node.Timing)
	assert.Equal(t, *at("2025-10-05", 15, 0), *node.Timing.StartTime)
	assert.Nil(t, doc.FindNode("sagrada-am").Timing, "the other candidate stays untouched")
}

func TestRouteNoMatch(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "Move the opera house to 4pm",
		AutoApply:   true,
	})
	require.NoError(t, err)
	assert.False(t, resp.Applied)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0], "no matching node")
	assert.Contains(t, resp.Message, "couldn't find a stop")
	assert.Zero(t, h.plannerGen.calls)
}

func TestRouteUnknownIntent(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)
	h.intentGen.out = json.RawMessage(`{"intent":"UNKNOWN"}`)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "mmm barcelona",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, resp.Intent)
	assert.False(t, resp.Applied)
	assert.Contains(t, resp.Message, "one edit at a time")
	assert.Equal(t, 1, h.intentGen.calls)
	assert.Zero(t, h.plannerGen.calls)
}

func TestRouteBookingIsInformational(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "book the Tapas crawl",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentBooking, resp.Intent)
	assert.False(t, resp.Applied)
	assert.Contains(t, resp.Message, `the booking action on "Tapas crawl"`)
	assert.Zero(t, h.plannerGen.calls)
}

func TestRouteAgentFailure(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)
	h.plannerGen.err = errors.New("all providers failed")

	resp, err := h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "Move Sagrada Familia to 3pm",
		AutoApply:   true,
	})
	require.NoError(t, err, "agent failures are reported in the body, not as transport errors")
	assert.False(t, resp.Applied)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0], "all providers failed")
	assert.Contains(t, resp.Message, "try rephrasing")

	doc, err := h.eng.Get(context.Background(), "trip-chat")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
}

func TestRoutePublishesChatEvent(t *testing.T) {
	h := newRouteHarness(t)
	seedBarcelona(t, h.eng)

	sub, err := h.bus.Subscribe(events.ChatTopic("trip-chat"))
	require.NoError(t, err)
	defer sub.Close()

	_, err = h.orch.Route(context.Background(), ChatRequest{
		ItineraryID: "trip-chat",
		Text:        "What is planned for this trip?",
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.C:
		var payload struct {
			Type        string       `json:"type"`
			ItineraryID string       `json:"itineraryId"`
			Response    ChatResponse `json:"response"`
			Timestamp   string       `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, events.EventTypeChatResponse, payload.Type)
		assert.Equal(t, "trip-chat", payload.ItineraryID)
		assert.Equal(t, IntentExplain, payload.Response.Intent)
		assert.NotEmpty(t, payload.Response.Message)
		assert.NotEmpty(t, payload.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat event")
	}
}
