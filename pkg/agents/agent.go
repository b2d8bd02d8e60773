// Package agents implements the workers that build and refine itineraries:
// the planner (AI-backed generation and modification) and the enrichment
// pass (rule-based tips and transit estimates). Agents never touch the
// store; every write goes through the change engine as a change set.
package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// Kind identifies an agent implementation.
type Kind string

const (
	KindPlanner    Kind = "planner"
	KindEnrichment Kind = "enrichment"
)

// Valid reports whether k is a known agent kind.
func (k Kind) Valid() bool {
	return k == KindPlanner || k == KindEnrichment
}

// ProgressFunc receives checkpoint updates during a run. progress is a
// percentage in [0,100]; step is a short machine-readable stage name.
type ProgressFunc func(progress int, step, message string)

// RunInput carries everything an agent needs for one run. Exactly one of
// Request (planner initial generation) or Instruction (planner
// modification) is set for planner runs; enrichment ignores both.
type RunInput struct {
	ItineraryID string

	// Request seeds initial generation.
	Request *CreateRequest

	// Instruction is the natural-language modification ask.
	Instruction string

	// Scope and Day restrict modification change sets.
	Scope string
	Day   int

	// AutoApply commits modification change sets instead of returning
	// them for preview. Generation and enrichment always apply.
	AutoApply bool

	// Progress, when set, receives checkpoint updates.
	Progress ProgressFunc
}

// report invokes the progress callback when one is set.
func (in *RunInput) report(progress int, step, message string) {
	if in.Progress != nil {
		in.Progress(progress, step, message)
	}
}

// RunResult is what an agent produced. A nil error with Applied=false
// means the change set is waiting for user confirmation.
type RunResult struct {
	ChangeSet     *itinerary.ChangeSet `json:"changeSet,omitempty"`
	Applied       bool                 `json:"applied"`
	ToVersion     int                  `json:"toVersion,omitempty"`
	Diff          *itinerary.Diff      `json:"diff,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
	Message       string               `json:"message,omitempty"`
	GeneratedDays int                  `json:"generatedDays,omitempty"`
}

// Agent is one worker kind. Run returns (*RunResult, nil) on completion
// even when individual operations were skipped; (nil, error) means the run
// failed and produced nothing usable.
type Agent interface {
	Kind() Kind
	Run(ctx context.Context, in RunInput) (*RunResult, error)
}

// Registry resolves agents by kind.
type Registry struct {
	agents map[Kind]Agent
}

// NewRegistry builds a registry from the given agents. Later entries of
// the same kind win.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[Kind]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.Kind()] = a
	}
	return r
}

// Get returns the agent for the given kind.
func (r *Registry) Get(kind Kind) (Agent, error) {
	a, ok := r.agents[kind]
	if !ok {
		return nil, fmt.Errorf("no agent registered for kind %q", kind)
	}
	return a, nil
}

// Kinds lists the registered kinds in stable order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// maxTripDays caps the span a single generation request may cover.
const maxTripDays = 30

const dateLayout = "2006-01-02"

// Party sizes the traveling group.
type Party struct {
	Adults   int `json:"adults"`
	Children int `json:"children,omitempty"`
}

// CreateRequest is the trip brief that seeds planner initial generation.
type CreateRequest struct {
	Destination string   `json:"destination"`
	StartDate   string   `json:"startDate"` // YYYY-MM-DD
	EndDate     string   `json:"endDate"`
	Party       Party    `json:"party"`
	BudgetTier  string   `json:"budgetTier,omitempty"` // budget, mid-range, luxury
	Interests   []string `json:"interests,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// Validate checks the request is complete enough to plan from.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Destination) == "" {
		return itinerary.NewValidationError("destination", "destination is required")
	}
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return itinerary.NewValidationError("startDate", "startDate must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return itinerary.NewValidationError("endDate", "endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return itinerary.NewValidationError("endDate", "endDate must not precede startDate")
	}
	if days := spanDays(start, end); days > maxTripDays {
		return itinerary.NewValidationError("endDate", fmt.Sprintf("trips are limited to %d days", maxTripDays))
	}
	if r.Party.Adults < 1 {
		return itinerary.NewValidationError("party.adults", "at least one adult is required")
	}
	return nil
}

// Days returns the inclusive day count of the requested span. Zero when the
// dates do not parse; call Validate first.
func (r *CreateRequest) Days() int {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return 0
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return 0
	}
	return spanDays(start, end)
}

func spanDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}
