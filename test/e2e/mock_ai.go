package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wayplan/wayplan/pkg/ai"
)

// Schema kinds a request can carry, recovered by sniffing the schema bytes.
// Used as routing keys for scripted responses.
const (
	SchemaDocument  = "document"
	SchemaChangeSet = "changeset"
	SchemaIntent    = "intent"
)

// ScriptEntry defines a single scripted generator response.
type ScriptEntry struct {
	// Response content (exactly one must be set)
	JSON  string // raw JSON to return
	Error error  // return error from Generate()

	// Test control
	BlockUntilCancelled bool            // block Generate() until ctx is cancelled
	WaitCh              <-chan struct{} // block Generate() until closed, then return normally
	OnBlock             chan<- struct{} // notified when Generate() enters its blocking path
}

// ScriptedGenerator implements ai.Generator with a dual-dispatch mock:
// sequential fallback for simple flows, plus per-schema-kind routing so one
// script can serve document generation, change sets, and intent
// classification without depending on call order.
type ScriptedGenerator struct {
	mu             sync.Mutex
	sequential     []ScriptEntry // consumed in order for non-routed calls
	seqIndex       int
	routes         map[string][]ScriptEntry // schema kind → per-kind script
	routeIndex     map[string]int           // schema kind → current index
	capturedInputs []ai.StructuredRequest
}

// NewScriptedGenerator creates a new ScriptedGenerator.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential adds an entry consumed in order for non-routed calls.
func (g *ScriptedGenerator) AddSequential(entry ScriptEntry) {
	g.sequential = append(g.sequential, entry)
}

// AddRouted adds an entry for a specific schema kind (SchemaDocument,
// SchemaChangeSet, SchemaIntent). Routed entries win over sequential ones.
func (g *ScriptedGenerator) AddRouted(kind string, entry ScriptEntry) {
	g.routes[kind] = append(g.routes[kind], entry)
}

// Generate implements ai.Generator.
func (g *ScriptedGenerator) Generate(ctx context.Context, req ai.StructuredRequest) (json.RawMessage, error) {
	g.mu.Lock()
	g.capturedInputs = append(g.capturedInputs, req)
	entry, err := g.nextEntry(req)
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}

	// Handle BlockUntilCancelled: wait for context cancellation.
	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	// Handle WaitCh: block until released, then continue normally.
	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
			// Released; fall through.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if entry.Error != nil {
		return nil, entry.Error
	}
	return json.RawMessage(entry.JSON), nil
}

// CallCount returns the total number of Generate() calls made.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.capturedInputs)
}

// Captured returns a snapshot of every request seen so far.
func (g *ScriptedGenerator) Captured() []ai.StructuredRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ai.StructuredRequest, len(g.capturedInputs))
	copy(out, g.capturedInputs)
	return out
}

// nextEntry selects the next script entry using dual dispatch.
// Must be called with g.mu held.
func (g *ScriptedGenerator) nextEntry(req ai.StructuredRequest) (*ScriptEntry, error) {
	kind := schemaKind(req.Schema)

	// Try routed dispatch first.
	if kind != "" {
		if entries, ok := g.routes[kind]; ok {
			idx := g.routeIndex[kind]
			if idx < len(entries) {
				g.routeIndex[kind] = idx + 1
				return &entries[idx], nil
			}
		}
	}

	// Fall back to sequential dispatch.
	if g.seqIndex < len(g.sequential) {
		entry := &g.sequential[g.seqIndex]
		g.seqIndex++
		return entry, nil
	}

	return nil, fmt.Errorf("ScriptedGenerator: no more entries (kind=%q, sequential=%d/%d)",
		kind, g.seqIndex, len(g.sequential))
}

// schemaKind classifies a request schema the same way the noop provider
// does: documents carry "days", change sets carry "ops", intent
// classification carries "intent".
func schemaKind(schema []byte) string {
	switch {
	case bytes.Contains(schema, []byte(`"days"`)):
		return SchemaDocument
	case bytes.Contains(schema, []byte(`"ops"`)):
		return SchemaChangeSet
	case bytes.Contains(schema, []byte(`"intent"`)):
		return SchemaIntent
	default:
		return ""
	}
}
