package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// ────────────────────────────────────────────────────────────
// Scripted AI responses
// ────────────────────────────────────────────────────────────

// barcelonaDocument is the scripted planner output for the Barcelona brief:
// three days, chronological nodes, no coordinates, meals after opening
// hours and generous gaps, so the enrichment pass settles with zero ops and
// the document stays at the version the generation apply minted.
const barcelonaDocument = `{
	"summary": "Three days of Gaudi, tapas and the old town",
	"currency": "EUR",
	"themes": ["culture"],
	"days": [
		{
			"dayNumber": 1,
			"location": "Barcelona",
			"nodes": [
				{"id": "n_sagrada", "type": "attraction", "title": "Sagrada Familia",
				 "timing": {"startTime": "10:00", "endTime": "12:00"},
				 "cost": {"amount": 26, "currency": "EUR", "per": "person"}},
				{"id": "n_hotel_checkin", "type": "accommodation", "title": "Hotel Check-in",
				 "timing": {"startTime": "15:00", "endTime": "16:00"}},
				{"id": "n_tapas", "type": "meal", "title": "Tapas Crawl",
				 "timing": {"startTime": "19:00", "endTime": "20:30"},
				 "cost": {"amount": 35, "currency": "EUR", "per": "person"}}
			]
		},
		{
			"dayNumber": 2,
			"location": "Barcelona",
			"nodes": [
				{"id": "n_sagrada_towers", "type": "attraction", "title": "Sagrada Towers",
				 "timing": {"startTime": "10:00", "endTime": "11:30"}},
				{"id": "n_lunch_gothic", "type": "meal", "title": "Gothic Quarter Lunch",
				 "timing": {"startTime": "13:00", "endTime": "14:00"}}
			]
		},
		{
			"dayNumber": 3,
			"location": "Barcelona",
			"nodes": [
				{"id": "n_beach_walk", "type": "attraction", "title": "Barceloneta Beach Walk",
				 "timing": {"startTime": "10:00", "endTime": "12:00"}},
				{"id": "n_dinner_farewell", "type": "meal", "title": "Farewell Dinner",
				 "timing": {"startTime": "20:00", "endTime": "21:30"}}
			]
		}
	]
}`

// barcelonaBrief is the S-scenario trip request.
func barcelonaBrief() map[string]interface{} {
	return map[string]interface{}{
		"destination": "Barcelona",
		"startDate":   "2025-10-04",
		"endDate":     "2025-10-06",
		"party":       map[string]interface{}{"adults": 2},
		"budgetTier":  "mid-range",
		"interests":   []string{"culture"},
		"language":    "en",
	}
}

// moveChangeSet is a scripted modification: retime one node in place.
func moveChangeSet(nodeID, start, end string) string {
	return fmt.Sprintf(`{"scope": "trip", "ops": [{"op": "move", "id": %q, "startTime": %q, "endTime": %q}]}`,
		nodeID, start, end)
}

// insertParkChangeSet is the S2 body: a new stop directly after hotel
// check-in on day 1.
const insertParkChangeSet = `{
	"scope": "day",
	"day": 1,
	"ops": [{"op": "insert", "after": "n_hotel_checkin", "node": {"id": "n_park", "type": "attraction", "title": "Park Güell"}}],
	"preferences": {"respectLocks": true, "userFirst": true}
}`

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// CreateItinerary posts a trip brief and returns the parsed 201 response.
func (app *TestApp) CreateItinerary(t *testing.T, brief map[string]interface{}) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/itineraries", brief, http.StatusCreated)
}

// GetItineraryJSON fetches the full document.
func (app *TestApp) GetItineraryJSON(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/itineraries/"+id+"/json", http.StatusOK)
}

// Propose previews a change set without persisting it.
func (app *TestApp) Propose(t *testing.T, id, changeSet string) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/itineraries/"+id+"/propose", json.RawMessage(changeSet), http.StatusOK)
}

// Apply commits a change set. The body is the same bare change set propose
// takes.
func (app *TestApp) Apply(t *testing.T, id, changeSet string) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/itineraries/"+id+"/apply", json.RawMessage(changeSet), http.StatusOK)
}

// Undo restores the given version as a new forward version.
func (app *TestApp) Undo(t *testing.T, id string, toVersion int) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/itineraries/"+id+"/undo",
		map[string]interface{}{"toVersion": toVersion}, http.StatusOK)
}

// LockNode flips a node's lock flag.
func (app *TestApp) LockNode(t *testing.T, id, nodeID string, locked bool) map[string]interface{} {
	t.Helper()
	return app.putJSON(t, "/api/v1/itineraries/"+id+"/nodes/"+nodeID+"/lock",
		map[string]interface{}{"locked": locked}, http.StatusOK)
}

// Book reserves a node through the mock provider.
func (app *TestApp) Book(t *testing.T, itineraryID, nodeID string) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/book",
		map[string]interface{}{"itineraryId": itineraryID, "nodeId": nodeID}, http.StatusOK)
}

// ChatRoute sends a chat message through the orchestrator.
func (app *TestApp) ChatRoute(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/chat/route", body, http.StatusOK)
}

// Revisions lists the change history.
func (app *TestApp) Revisions(t *testing.T, id string) []interface{} {
	t.Helper()
	return app.getJSONArray(t, "/api/v1/itineraries/"+id+"/revisions", http.StatusOK)
}

// AgentStatuses returns the per-kind run snapshot.
func (app *TestApp) AgentStatuses(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/agents/"+id+"/status", http.StatusOK)
}

// CancelRuns cancels every queued and running run for the itinerary.
func (app *TestApp) CancelRuns(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/agents/"+id+"/cancel", nil, http.StatusOK)
}

// GetHealth calls the liveness endpoint.
func (app *TestApp) GetHealth(t *testing.T) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/healthz", http.StatusOK)
}

func (app *TestApp) postJSON(t *testing.T, path string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	return app.doJSON(t, http.MethodPost, path, body, expectedStatus)
}

func (app *TestApp) putJSON(t *testing.T, path string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	return app.doJSON(t, http.MethodPut, path, body, expectedStatus)
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]interface{} {
	t.Helper()
	return app.doJSON(t, http.MethodGet, path, nil, expectedStatus)
}

func (app *TestApp) doJSON(t *testing.T, method, path string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: unexpected status, body: %s", method, path, raw)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result), "%s %s: body: %s", method, path, raw)
	return result
}

func (app *TestApp) getJSONArray(t *testing.T, path string, expectedStatus int) []interface{} {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result []interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// WaitForDocumentStatus polls the store until the document reaches one of
// the expected lifecycle statuses.
func (app *TestApp) WaitForDocumentStatus(t *testing.T, id string, expected ...itinerary.Status) itinerary.Status {
	t.Helper()
	var actual itinerary.Status
	require.Eventually(t, func() bool {
		doc, err := app.Engine.Get(context.Background(), id)
		if err != nil {
			return false
		}
		actual = doc.Status
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"itinerary %s did not reach status %v (last: %s)", id, expected, actual)
	return actual
}

// WaitForAgentRecord polls until the document's durable bookkeeping for the
// agent kind shows one of the expected run statuses, and returns the record.
func (app *TestApp) WaitForAgentRecord(t *testing.T, id, kind string, expected ...string) itinerary.AgentStatus {
	t.Helper()
	var actual itinerary.AgentStatus
	require.Eventually(t, func() bool {
		doc, err := app.Engine.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec, ok := doc.Agents[kind]
		if !ok {
			return false
		}
		actual = rec
		for _, exp := range expected {
			if rec.Status == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"agent %s on %s did not reach %v (last: %+v)", kind, id, expected, actual)
	return actual
}

// WaitForGeneration waits until the initial generation pipeline has fully
// settled: the document is completed and the chained enrichment run has
// recorded a terminal status. Returns the settled document.
func (app *TestApp) WaitForGeneration(t *testing.T, id string) *itinerary.Itinerary {
	t.Helper()
	var doc *itinerary.Itinerary
	require.Eventually(t, func() bool {
		d, err := app.Engine.Get(context.Background(), id)
		if err != nil || d.Status != itinerary.StatusCompleted {
			return false
		}
		enr, ok := d.Agents["enrichment"]
		if !ok || !terminalRunStatus(enr.Status) {
			return false
		}
		doc = d
		return true
	}, 30*time.Second, 100*time.Millisecond,
		"generation pipeline for %s did not settle", id)
	return doc
}

func terminalRunStatus(status string) bool {
	switch status {
	case events.AgentStatusSucceeded, events.AgentStatusFailed, events.AgentStatusCancelled:
		return true
	}
	return false
}

// ────────────────────────────────────────────────────────────
// Response Field Helpers
// ────────────────────────────────────────────────────────────

// toInt converts a JSON-decoded numeric value (typically float64) to int.
// Returns 0 if the value is nil or not a recognized numeric type.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case float32:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

// subMap digs one object level into a JSON-decoded map. Fails the test if
// the key is absent or not an object.
func subMap(t *testing.T, m map[string]interface{}, key string) map[string]interface{} {
	t.Helper()
	sub, ok := m[key].(map[string]interface{})
	require.Truef(t, ok, "field %q missing or not an object: %v", key, m[key])
	return sub
}

// subSlice digs a JSON array out of a decoded map. An absent or null field
// is an empty slice.
func subSlice(t *testing.T, m map[string]interface{}, key string) []interface{} {
	t.Helper()
	if m[key] == nil {
		return nil
	}
	sub, ok := m[key].([]interface{})
	require.Truef(t, ok, "field %q is not an array: %v", key, m[key])
	return sub
}

// nodeByID scans a decoded document for a node, returning nil when absent.
func nodeByID(doc map[string]interface{}, nodeID string) map[string]interface{} {
	days, _ := doc["days"].([]interface{})
	for _, rawDay := range days {
		day, _ := rawDay.(map[string]interface{})
		nodes, _ := day["nodes"].([]interface{})
		for _, rawNode := range nodes {
			node, _ := rawNode.(map[string]interface{})
			if node["id"] == nodeID {
				return node
			}
		}
	}
	return nil
}

// dayNodeIDs returns the node id sequence of one day, 1-based.
func dayNodeIDs(t *testing.T, doc map[string]interface{}, dayNumber int) []string {
	t.Helper()
	days, ok := doc["days"].([]interface{})
	require.True(t, ok, "document has no days array")
	require.GreaterOrEqual(t, len(days), dayNumber, "document has no day %d", dayNumber)
	day, ok := days[dayNumber-1].(map[string]interface{})
	require.True(t, ok)
	nodes, _ := day["nodes"].([]interface{})
	ids := make([]string, 0, len(nodes))
	for _, rawNode := range nodes {
		node, _ := rawNode.(map[string]interface{})
		id, _ := node["id"].(string)
		ids = append(ids, id)
	}
	return ids
}
