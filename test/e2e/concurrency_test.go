package e2e

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// ────────────────────────────────────────────────────────────
// Scenario: concurrent applies serialize per itinerary
//
// Two clients commit change sets at the same moment. The per-itinerary
// write lock must serialize them: both succeed, each mints its own
// version, and no revision is lost.
// ────────────────────────────────────────────────────────────

func TestE2E_ConcurrentAppliesSerialize(t *testing.T) {
	gen := NewScriptedGenerator()
	gen.AddRouted(SchemaDocument, ScriptEntry{JSON: barcelonaDocument})

	app := NewTestApp(t, WithGenerator(gen))
	id := app.createAndGenerate(t)

	type outcome struct {
		status    int
		toVersion int
		err       error
	}

	bodies := []string{
		moveChangeSet("n_tapas", "18:00", "19:30"),
		moveChangeSet("n_lunch_gothic", "12:30", "13:30"),
	}
	results := make(chan outcome, len(bodies))
	var wg sync.WaitGroup
	for _, body := range bodies {
		wg.Add(1)
		go func(cs string) {
			defer wg.Done()
			resp, err := http.Post(app.BaseURL+"/api/v1/itineraries/"+id+"/apply",
				"application/json", strings.NewReader(cs))
			if err != nil {
				results <- outcome{err: err}
				return
			}
			defer func() { _ = resp.Body.Close() }()
			var parsed struct {
				ToVersion int `json:"toVersion"`
			}
			err = json.NewDecoder(resp.Body).Decode(&parsed)
			results <- outcome{status: resp.StatusCode, toVersion: parsed.ToVersion, err: err}
		}(body)
	}
	wg.Wait()
	close(results)

	versions := make([]int, 0, len(bodies))
	for out := range results {
		require.NoError(t, out.err)
		require.Equal(t, http.StatusOK, out.status)
		versions = append(versions, out.toVersion)
	}
	assert.ElementsMatch(t, []int{3, 4}, versions, "each apply minted its own version")

	final := app.GetItineraryJSON(t, id)
	assert.Equal(t, 4, toInt(final["version"]))
	assert.Len(t, app.Revisions(t, id), 4)

	// Both edits landed.
	tapas := nodeByID(final, "n_tapas")
	require.NotNil(t, tapas)
	tapasStart := time.UnixMilli(int64(toInt(tapas["timing"].(map[string]interface{})["startTime"]))).UTC()
	assert.Equal(t, 18, tapasStart.Hour())

	lunch := nodeByID(final, "n_lunch_gothic")
	require.NotNil(t, lunch)
	lunchStart := time.UnixMilli(int64(toInt(lunch["timing"].(map[string]interface{})["startTime"]))).UTC()
	assert.Equal(t, 12, lunchStart.Hour())
	assert.Equal(t, 30, lunchStart.Minute())
}

// ────────────────────────────────────────────────────────────
// Scenario: queue backpressure
//
// One worker, one queue slot. With a run executing and another queued,
// the next create is rejected with 503 and its half-created document is
// rolled back.
// ────────────────────────────────────────────────────────────

func TestE2E_QueueBackpressure(t *testing.T) {
	blocked := make(chan struct{}, 1)
	gen := NewScriptedGenerator()
	gen.AddRouted(SchemaDocument, ScriptEntry{JSON: barcelonaDocument, BlockUntilCancelled: true, OnBlock: blocked})

	app := NewTestApp(t, WithGenerator(gen), WithWorkers(1), WithQueueSize(1))

	first := app.CreateItinerary(t, barcelonaBrief())
	firstID := subMap(t, first, "itinerary")["itineraryId"].(string)
	select {
	case <-blocked:
	case <-time.After(10 * time.Second):
		t.Fatal("first generation never reached the model")
	}

	second := app.CreateItinerary(t, barcelonaBrief())
	secondID := subMap(t, second, "itinerary")["itineraryId"].(string)

	// Worker busy, queue full: the third brief bounces.
	rejected := app.postJSON(t, "/api/v1/itineraries", barcelonaBrief(), http.StatusServiceUnavailable)
	assert.Contains(t, rejected["message"], "run queue is full")
	assert.NotEmpty(t, rejected["hint"])

	// The rejected document did not linger.
	assert.Len(t, app.getJSONArray(t, "/api/v1/itineraries", http.StatusOK), 2)

	// Unblock the pool: drop the queued run first so the worker's next
	// dequeue hits the cancellation gate instead of the script.
	cancelQueued := app.CancelRuns(t, secondID)
	assert.Equal(t, 1, toInt(cancelQueued["cancelled"]))
	cancelRunning := app.CancelRuns(t, firstID)
	assert.Equal(t, 1, toInt(cancelRunning["cancelled"]))

	queuedRec := app.WaitForAgentRecord(t, secondID, "planner", "cancelled")
	assert.Equal(t, "cancelled before start", queuedRec.Message)
	app.WaitForAgentRecord(t, firstID, "planner", "cancelled")

	// A run cancelled before start leaves its document untouched; an
	// interrupted generation marks the document failed.
	assert.Equal(t, "planning", app.GetItineraryJSON(t, secondID)["status"])
	app.WaitForDocumentStatus(t, firstID, itinerary.StatusFailed)
}
