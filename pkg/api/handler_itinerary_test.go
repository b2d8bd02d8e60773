package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/config"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

func TestCreateItineraryGeneratesTrip(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	body := `{
		"destination": "Barcelona",
		"startDate": "2025-10-04",
		"endDate": "2025-10-06",
		"party": {"adults": 2},
		"budgetTier": "mid-range",
		"interests": ["culture"],
		"language": "en"
	}`
	rec := doJSON(s, http.MethodPost, "/api/v1/itineraries", body, map[string]string{identityHeader: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var resp CreateItineraryResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Itinerary)
	assert.Equal(t, 1, resp.Itinerary.Version)
	assert.Equal(t, itinerary.StatusPlanning, resp.Status)
	assert.NotEmpty(t, resp.ExecutionID)
	assert.NotEmpty(t, resp.EstimatedCompletion)
	require.Len(t, resp.Stages, 2)
	assert.Equal(t, "planner", resp.Stages[0].Name)
	assert.Equal(t, "queued", resp.Stages[0].Status)

	// The stub provider answers immediately; wait for the planner run to land.
	id := resp.Itinerary.ID
	require.Eventually(t, func() bool {
		doc, err := s.engine.Get(context.Background(), id)
		return err == nil && doc.Status == itinerary.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond, "generation never completed")

	rec = doJSON(s, http.MethodGet, "/api/v1/itineraries/"+id+"/json", "", map[string]string{identityHeader: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var doc itinerary.Itinerary
	decodeBody(t, rec, &doc)
	assert.GreaterOrEqual(t, doc.Version, 2)
	require.Len(t, doc.Days, 3, "one day per date in the requested span")
	for _, day := range doc.Days {
		assert.NotEmpty(t, day.Nodes, "day %d has no nodes", day.DayNumber)
	}
}

func TestCreateItineraryValidation(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	body := `{"startDate": "2025-10-04", "endDate": "2025-10-06", "party": {"adults": 2}}`
	rec := doJSON(s, http.MethodPost, "/api/v1/itineraries", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env ErrorEnvelope
	decodeBody(t, rec, &env)
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "destination")
}

func TestListScopedToOwner(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	seedTrip(t, s, "trip-alice", "alice")
	seedTrip(t, s, "trip-bob", "bob")

	rec := doJSON(s, http.MethodGet, "/api/v1/itineraries", "", map[string]string{identityHeader: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var items []itinerary.Summary
	decodeBody(t, rec, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "trip-alice", items[0].ID)

	rec = doJSON(s, http.MethodGet, "/api/v1/itineraries", "", map[string]string{identityHeader: "carol"})
	require.Equal(t, http.StatusOK, rec.Code)

	var empty []itinerary.Summary
	decodeBody(t, rec, &empty)
	assert.NotNil(t, empty, "empty list must serialize as [], not null")
	assert.Empty(t, empty)
}

func TestDeleteItinerary(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	seedTrip(t, s, "trip-del", "alice")

	rec := doJSON(s, http.MethodDelete, "/api/v1/itineraries/trip-del", "", map[string]string{identityHeader: "alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(s, http.MethodGet, "/api/v1/itineraries/trip-del/json", "", map[string]string{identityHeader: "alice"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
