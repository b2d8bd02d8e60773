package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// ────────────────────────────────────────────────────────────
// Scenario: cancelling a running generation
// ────────────────────────────────────────────────────────────

func TestE2E_CancelRunningGeneration(t *testing.T) {
	blocked := make(chan struct{}, 1)
	gen := NewScriptedGenerator()
	gen.AddRouted(SchemaDocument, ScriptEntry{JSON: barcelonaDocument, BlockUntilCancelled: true, OnBlock: blocked})

	app := NewTestApp(t, WithGenerator(gen))

	created := app.CreateItinerary(t, barcelonaBrief())
	id := subMap(t, created, "itinerary")["itineraryId"].(string)
	select {
	case <-blocked:
	case <-time.After(10 * time.Second):
		t.Fatal("generation never reached the model")
	}

	cancelled := app.CancelRuns(t, id)
	assert.Equal(t, id, cancelled["itineraryId"])
	assert.Equal(t, 1, toInt(cancelled["cancelled"]))

	rec := app.WaitForAgentRecord(t, id, "planner", "cancelled")
	assert.Equal(t, "run cancelled", rec.Message)
	assert.NotZero(t, rec.FinishedAt)

	// An interrupted generation cannot leave the document half-planned.
	app.WaitForDocumentStatus(t, id, itinerary.StatusFailed)
	doc := app.GetItineraryJSON(t, id)
	assert.Equal(t, 1, toInt(doc["version"]), "no version was minted for the aborted run")
	assert.Empty(t, subSlice(t, doc, "days"))

	// Enrichment never chains off a run that did not succeed.
	statuses := app.AgentStatuses(t, id)
	assert.NotContains(t, statuses, "enrichment")
	assert.Equal(t, 1, app.Generator.CallCount())
}

// ────────────────────────────────────────────────────────────
// Scenario: run timeout
// ────────────────────────────────────────────────────────────

func TestE2E_RunTimeout(t *testing.T) {
	// The script never releases the entry, so the run can only end when
	// its deadline fires.
	gen := NewScriptedGenerator()
	gen.AddRouted(SchemaDocument, ScriptEntry{JSON: barcelonaDocument, WaitCh: make(chan struct{})})

	app := NewTestApp(t, WithGenerator(gen), WithRunTimeout(300*time.Millisecond))

	created := app.CreateItinerary(t, barcelonaBrief())
	id := subMap(t, created, "itinerary")["itineraryId"].(string)

	rec := app.WaitForAgentRecord(t, id, "planner", "failed")
	assert.Contains(t, rec.Error, "run timed out after")

	app.WaitForDocumentStatus(t, id, itinerary.StatusFailed)
	assert.Equal(t, 1, app.Generator.CallCount())
}
