package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/ai"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/store"
)

// stubGenerator returns canned JSON and records the last request.
type stubGenerator struct {
	out     json.RawMessage
	err     error
	lastReq ai.StructuredRequest
}

func (s *stubGenerator) Generate(_ context.Context, req ai.StructuredRequest) (json.RawMessage, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return engine.New(st, bus, engine.DefaultOptions())
}

func createPlanningDoc(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	_, err := eng.Create(context.Background(), &itinerary.Itinerary{
		ID:      id,
		OwnerID: "u-1",
	}, itinerary.ActorUser)
	require.NoError(t, err)
}

var barcelonaRequest = CreateRequest{
	Destination: "Barcelona",
	StartDate:   "2025-10-04",
	EndDate:     "2025-10-06",
	Party:       Party{Adults: 2},
	BudgetTier:  "mid-range",
	Interests:   []string{"culture"},
}

func TestPlannerGenerate(t *testing.T) {
	eng := newTestEngine(t)
	createPlanningDoc(t, eng, "trip-1")

	gen := &stubGenerator{out: json.RawMessage(`{
		"summary": "Gaudi and tapas",
		"days": [
			{"dayNumber": 1, "nodes": [
				{"type": "attraction", "title": "Sagrada Familia", "timing": {"startTime": "09:00", "endTime": "11:00"}},
				{"type": "meal", "title": "Tapas crawl"}
			]},
			{"dayNumber": 2, "nodes": [{"type": "attraction", "title": "Park Guell"}]},
			{"dayNumber": 3, "nodes": [{"type": "attraction", "title": "Gothic Quarter"}]}
		]
	}`)}
	planner := NewPlanner(eng, gen)

	var steps []string
	req := barcelonaRequest
	res, err := planner.Run(context.Background(), RunInput{
		ItineraryID: "trip-1",
		Request:     &req,
		Progress:    func(_ int, step, _ string) { steps = append(steps, step) },
	})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.ToVersion)
	assert.Equal(t, 3, res.GeneratedDays)
	assert.Contains(t, steps, "prompt")
	assert.Contains(t, steps, "apply")

	doc, err := eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, itinerary.StatusCompleted, doc.Status)
	assert.Equal(t, "Gaudi and tapas", doc.Summary)
	require.Len(t, doc.Days, 3)
	assert.Equal(t, "2025-10-04", doc.Days[0].Date)
	assert.Equal(t, "2025-10-06", doc.Days[2].Date)
	assert.Equal(t, "Barcelona", doc.Days[1].Location)
	assert.Equal(t, "u-1", doc.OwnerID)

	// clock values anchored to the day date during apply
	first := doc.Days[0].Nodes[0]
	require.NotNil(t, first.Timing)
	require.NotNil(t, first.Timing.StartTime)

	// prompt carries the trip brief
	assert.Contains(t, gen.lastReq.Prompt, "Destination: Barcelona")
	assert.Contains(t, gen.lastReq.Prompt, "2025-10-04 to 2025-10-06")
	assert.Contains(t, gen.lastReq.Prompt, "3 day trip")
	assert.Contains(t, string(gen.lastReq.Schema), `"days"`)
}

func TestPlannerGenerateAlignsDays(t *testing.T) {
	eng := newTestEngine(t)
	createPlanningDoc(t, eng, "trip-1")

	// model returned five days for a three day request, with gaps in numbering
	gen := &stubGenerator{out: json.RawMessage(`{
		"days": [
			{"dayNumber": 2, "nodes": [{"type": "attraction", "title": "A"}]},
			{"dayNumber": 4, "nodes": [{"type": "attraction", "title": "B"}]},
			{"dayNumber": 6, "nodes": [{"type": "attraction", "title": "C"}]},
			{"dayNumber": 8, "nodes": [{"type": "attraction", "title": "D"}]},
			{"dayNumber": 9, "nodes": [{"type": "attraction", "title": "E"}]}
		]
	}`)}
	planner := NewPlanner(eng, gen)

	req := barcelonaRequest
	res, err := planner.Run(context.Background(), RunInput{ItineraryID: "trip-1", Request: &req})
	require.NoError(t, err)
	assert.Equal(t, 3, res.GeneratedDays)

	doc, err := eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	require.Len(t, doc.Days, 3)
	for i, day := range doc.Days {
		assert.Equal(t, i+1, day.DayNumber)
		assert.NotEmpty(t, day.Date)
	}
}

func TestPlannerGeneratePadsMissingDays(t *testing.T) {
	eng := newTestEngine(t)
	createPlanningDoc(t, eng, "trip-1")

	gen := &stubGenerator{out: json.RawMessage(`{
		"days": [{"dayNumber": 1, "nodes": [{"type": "attraction", "title": "Only day"}]}]
	}`)}
	planner := NewPlanner(eng, gen)

	req := barcelonaRequest
	_, err := planner.Run(context.Background(), RunInput{ItineraryID: "trip-1", Request: &req})
	require.NoError(t, err)

	doc, err := eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	require.Len(t, doc.Days, 3)
	require.NotEmpty(t, doc.Days[2].Nodes)
	assert.Equal(t, "Free time in Barcelona", doc.Days[2].Nodes[0].Title)
}

func TestPlannerGenerateFailures(t *testing.T) {
	eng := newTestEngine(t)
	createPlanningDoc(t, eng, "trip-1")

	t.Run("invalid request", func(t *testing.T) {
		planner := NewPlanner(eng, &stubGenerator{})
		req := barcelonaRequest
		req.Destination = ""
		_, err := planner.Run(context.Background(), RunInput{ItineraryID: "trip-1", Request: &req})
		require.Error(t, err)
		assert.True(t, itinerary.IsValidationError(err))
	})

	t.Run("provider failure", func(t *testing.T) {
		planner := NewPlanner(eng, &stubGenerator{err: errors.New("all providers failed")})
		req := barcelonaRequest
		_, err := planner.Run(context.Background(), RunInput{ItineraryID: "trip-1", Request: &req})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generate itinerary")
	})

	t.Run("document still at version one", func(t *testing.T) {
		doc, err := eng.Get(context.Background(), "trip-1")
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Version)
	})

	t.Run("neither request nor instruction", func(t *testing.T) {
		planner := NewPlanner(eng, &stubGenerator{})
		_, err := planner.Run(context.Background(), RunInput{ItineraryID: "trip-1"})
		require.Error(t, err)
		assert.True(t, itinerary.IsValidationError(err))
	})
}

// seedGenerated creates an itinerary and runs a scripted generation so the
// modification tests start from a realistic completed document.
func seedGenerated(t *testing.T, eng *engine.Engine, id string) *itinerary.Itinerary {
	t.Helper()
	createPlanningDoc(t, eng, id)
	gen := &stubGenerator{out: json.RawMessage(`{
		"days": [
			{"dayNumber": 1, "nodes": [
				{"id": "louvre", "type": "attraction", "title": "Louvre Museum"},
				{"id": "lunch", "type": "meal", "title": "Cafe Marly"}
			]},
			{"dayNumber": 2, "nodes": [
				{"id": "orsay", "type": "attraction", "title": "Musee d'Orsay"}
			]},
			{"dayNumber": 3, "nodes": [
				{"id": "walk", "type": "attraction", "title": "Seine walk"}
			]}
		]
	}`)}
	req := barcelonaRequest
	_, err := NewPlanner(eng, gen).Run(context.Background(), RunInput{ItineraryID: id, Request: &req})
	require.NoError(t, err)
	doc, err := eng.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func TestPlannerModifyProposes(t *testing.T) {
	eng := newTestEngine(t)
	seedGenerated(t, eng, "trip-1")

	gen := &stubGenerator{out: json.RawMessage(`{
		"scope": "trip",
		"ops": [{"op": "update", "id": "lunch", "patch": {"title": "Bistro lunch"}}]
	}`)}
	planner := NewPlanner(eng, gen)

	res, err := planner.Run(context.Background(), RunInput{
		ItineraryID: "trip-1",
		Instruction: "rename the lunch stop to Bistro lunch",
	})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Equal(t, 3, res.ToVersion) // preview of the next version
	require.NotNil(t, res.ChangeSet)
	assert.Equal(t, itinerary.ActorAgent, res.ChangeSet.Author)
	require.Len(t, res.Diff.Updated, 1)

	// prompt included the live document and the change set schema
	assert.Contains(t, gen.lastReq.Prompt, "Louvre Museum")
	assert.Contains(t, gen.lastReq.Prompt, "rename the lunch stop")
	assert.Contains(t, string(gen.lastReq.Schema), `"ops"`)

	// store untouched
	doc, err := eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, "Cafe Marly", doc.FindNode("lunch").Title)
}

func TestPlannerModifyAutoApplies(t *testing.T) {
	eng := newTestEngine(t)
	seedGenerated(t, eng, "trip-1")

	gen := &stubGenerator{out: json.RawMessage(`{
		"scope": "trip",
		"ops": [{"op": "delete", "id": "walk"}]
	}`)}
	planner := NewPlanner(eng, gen)

	res, err := planner.Run(context.Background(), RunInput{
		ItineraryID: "trip-1",
		Instruction: "drop the Seine walk",
		AutoApply:   true,
	})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, 3, res.ToVersion)
	require.Len(t, res.Diff.Removed, 1)

	doc, err := eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Version)
	assert.Nil(t, doc.FindNode("walk"))
}

func TestPlannerModifyPolicesLockedNodes(t *testing.T) {
	eng := newTestEngine(t)
	seedGenerated(t, eng, "trip-1")

	// lock the lunch node first
	lockPatch := json.RawMessage(`{"locked": true}`)
	_, err := eng.Apply(context.Background(), "trip-1", &itinerary.ChangeSet{
		Ops:         []itinerary.Operation{{Op: itinerary.OpUpdate, ID: "lunch", Patch: lockPatch}},
		Preferences: itinerary.DefaultPreferences(),
	})
	require.NoError(t, err)

	gen := &stubGenerator{out: json.RawMessage(`{
		"scope": "trip",
		"ops": [
			{"op": "delete", "id": "lunch"},
			{"op": "update", "id": "orsay", "patch": {"title": "Orsay at dusk"}}
		]
	}`)}
	planner := NewPlanner(eng, gen)

	res, err := planner.Run(context.Background(), RunInput{
		ItineraryID: "trip-1",
		Instruction: "remove lunch and retitle the Orsay visit",
		AutoApply:   true,
	})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	require.Len(t, res.ChangeSet.Ops, 1) // locked delete was dropped before apply
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "locked")

	// prompt told the model what is off limits
	assert.Contains(t, gen.lastReq.Prompt, "locked")
	assert.Contains(t, gen.lastReq.Prompt, "lunch")

	doc, err := eng.Get(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.NotNil(t, doc.FindNode("lunch"))
	assert.Equal(t, "Orsay at dusk", doc.FindNode("orsay").Title)
}

func TestPlannerModifyDropsDocumentReplacement(t *testing.T) {
	eng := newTestEngine(t)
	seedGenerated(t, eng, "trip-1")

	gen := &stubGenerator{out: json.RawMessage(`{
		"scope": "trip",
		"ops": [{"op": "replace_document", "document": {"itineraryId": "trip-1", "days": []}}]
	}`)}
	planner := NewPlanner(eng, gen)

	res, err := planner.Run(context.Background(), RunInput{
		ItineraryID: "trip-1",
		Instruction: "start over",
		AutoApply:   true,
	})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Empty(t, res.ChangeSet.Ops)
	assert.Contains(t, res.Warnings[0], "replace_document")
	assert.Equal(t, "No applicable changes were produced.", res.Message)
}

func TestPlannerModifyDayScope(t *testing.T) {
	eng := newTestEngine(t)
	seedGenerated(t, eng, "trip-1")

	gen := &stubGenerator{out: json.RawMessage(`{
		"scope": "trip",
		"ops": [{"op": "update", "id": "louvre", "patch": {"title": "Louvre, early entry"}}]
	}`)}
	planner := NewPlanner(eng, gen)

	res, err := planner.Run(context.Background(), RunInput{
		ItineraryID: "trip-1",
		Instruction: "make the Louvre an early-entry visit",
		Scope:       itinerary.ScopeDay,
		Day:         1,
		AutoApply:   true,
	})
	require.NoError(t, err)
	require.True(t, res.Applied)

	// the input scope overrode whatever the model answered
	assert.Equal(t, itinerary.ScopeDay, res.ChangeSet.Scope)
	assert.Equal(t, 1, res.ChangeSet.Day)
}
