package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

func twoDayDoc() *itinerary.Itinerary {
	return &itinerary.Itinerary{
		ID:      "trip-1",
		Version: 2,
		Days: []itinerary.Day{
			{
				DayNumber: 1,
				Date:      "2025-10-04",
				Nodes: []itinerary.Node{
					{ID: "sagrada-am", Type: itinerary.NodeAttraction, Title: "Sagrada Familia", Status: itinerary.NodePlanned},
					{ID: "tapas", Type: itinerary.NodeMeal, Title: "Tapas crawl", Status: itinerary.NodePlanned},
				},
			},
			{
				DayNumber: 2,
				Date:      "2025-10-05",
				Nodes: []itinerary.Node{
					{ID: "sagrada-pm", Type: itinerary.NodeAttraction, Title: "Sagrada Familia", Status: itinerary.NodePlanned},
					{ID: "beach", Type: itinerary.NodeAttraction, Title: "Barceloneta Beach", Status: itinerary.NodePlanned},
				},
			},
		},
	}
}

func TestResolveTargetUniqueTitle(t *testing.T) {
	doc := twoDayDoc()
	node, candidates, ambiguous := resolveTarget(doc, ChatRequest{Text: "Move the Tapas crawl to 9pm"})
	require.False(t, ambiguous)
	require.NotNil(t, node)
	assert.Equal(t, "tapas", node.ID)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "tapas", candidates[0].ID)
}

func TestResolveTargetAmbiguousTitles(t *testing.T) {
	doc := twoDayDoc()
	node, candidates, ambiguous := resolveTarget(doc, ChatRequest{Text: "Move Sagrada Familia to 3pm"})
	assert.True(t, ambiguous)
	assert.Nil(t, node)
	require.Len(t, candidates, 2)
	ids := []string{candidates[0].ID, candidates[1].ID}
	assert.ElementsMatch(t, []string{"sagrada-am", "sagrada-pm"}, ids)
	for _, c := range candidates {
		assert.Equal(t, "Sagrada Familia", c.Title)
		assert.NotZero(t, c.Day)
		assert.GreaterOrEqual(t, c.Confidence, scoreThreshold)
	}
}

func TestResolveTargetDayHintBreaksTie(t *testing.T) {
	doc := twoDayDoc()
	node, _, ambiguous := resolveTarget(doc, ChatRequest{Text: "Move the day 2 Sagrada Familia to 3pm"})
	require.False(t, ambiguous)
	require.NotNil(t, node)
	assert.Equal(t, "sagrada-pm", node.ID)
}

func TestResolveTargetDayScopeActsAsHint(t *testing.T) {
	doc := twoDayDoc()
	node, _, ambiguous := resolveTarget(doc, ChatRequest{
		Text:  "Move Sagrada Familia to 3pm",
		Scope: itinerary.ScopeDay,
		Day:   1,
	})
	require.False(t, ambiguous)
	require.NotNil(t, node)
	assert.Equal(t, "sagrada-am", node.ID)
}

func TestResolveTargetSelectedNodeShortCircuits(t *testing.T) {
	doc := twoDayDoc()
	node, candidates, ambiguous := resolveTarget(doc, ChatRequest{
		Text:           "Move Sagrada Familia to 3pm",
		SelectedNodeID: "sagrada-pm",
	})
	require.False(t, ambiguous)
	require.NotNil(t, node)
	assert.Equal(t, "sagrada-pm", node.ID)
	assert.Empty(t, candidates)

	// unknown selected id resolves to nothing rather than guessing
	node, _, ambiguous = resolveTarget(doc, ChatRequest{
		Text:           "Move Sagrada Familia to 3pm",
		SelectedNodeID: "ghost",
	})
	assert.False(t, ambiguous)
	assert.Nil(t, node)
}

func TestResolveTargetNoMatch(t *testing.T) {
	doc := twoDayDoc()
	node, candidates, ambiguous := resolveTarget(doc, ChatRequest{Text: "Move the opera house visit"})
	assert.False(t, ambiguous)
	assert.Nil(t, node)
	assert.Empty(t, candidates)
}

func TestScoreCandidatesOrdering(t *testing.T) {
	doc := twoDayDoc()
	candidates := scoreCandidates(doc, "move the day 2 sagrada familia visit", 2)
	require.Len(t, candidates, 2)
	assert.Equal(t, "sagrada-pm", candidates[0].ID)
	assert.Greater(t, candidates[0].Confidence, candidates[1].Confidence)
}

func TestScoreTitleVerbatimBonus(t *testing.T) {
	tokens := map[string]bool{"visit": true, "barceloneta": true, "beach": true}
	full := scoreTitle("Barceloneta Beach", "visit barceloneta beach", tokens)
	partial := scoreTitle("Barceloneta Beach Bar", "visit barceloneta beach", tokens)
	assert.Greater(t, full, partial)
	assert.Greater(t, full, 1.0) // overlap plus verbatim bonus
}
