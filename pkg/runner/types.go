// Package runner queues and executes agent runs. It owns the run
// lifecycle: a bounded in-process queue, a fixed worker pool, per-run
// timeouts, cancellation by run or by itinerary, and publication of every
// lifecycle transition on the itinerary's agent topic. Agents themselves
// only report progress through a callback; all bookkeeping lives here.
package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// Sentinel errors for run submission.
var (
	// ErrQueueFull indicates the pending-run queue is at capacity.
	ErrQueueFull = errors.New("run queue is full")

	// ErrStopped indicates the runner no longer accepts work.
	ErrStopped = errors.New("runner is stopped")
)

// Job describes one agent run. For planner jobs exactly one of Request
// (initial generation) or Instruction (modification) must be set;
// enrichment jobs need only the itinerary id.
type Job struct {
	ItineraryID string
	Kind        agents.Kind

	Request     *agents.CreateRequest
	Instruction string
	Scope       string
	Day         int
	AutoApply   bool
}

// generation reports whether the job is a planner initial generation,
// which drives the itinerary's lifecycle phase and the post-run
// enrichment chain.
func (j Job) generation() bool {
	return j.Kind == agents.KindPlanner && j.Request != nil
}

func (j Job) validate() error {
	if j.ItineraryID == "" {
		return itinerary.NewValidationError("itineraryId", "must not be empty")
	}
	if !j.Kind.Valid() {
		return itinerary.NewValidationError("kind", fmt.Sprintf("unknown agent kind %q", j.Kind))
	}
	if j.Kind == agents.KindPlanner && j.Request == nil && strings.TrimSpace(j.Instruction) == "" {
		return itinerary.NewValidationError("job", "planner run needs a creation request or an instruction")
	}
	if j.Request != nil {
		return j.Request.Validate()
	}
	return nil
}

// Options tune the runner.
type Options struct {
	// Workers is the number of concurrent run executors.
	Workers int

	// QueueSize bounds the number of accepted-but-unstarted runs.
	QueueSize int

	// RunTimeout caps a single run end to end, AI calls included.
	RunTimeout time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Workers:    2,
		QueueSize:  16,
		RunTimeout: 2 * time.Minute,
	}
}

// Health is a point-in-time view of the runner for the health endpoint.
type Health struct {
	Workers       []WorkerHealth `json:"workers"`
	ActiveRuns    int            `json:"activeRuns"`
	QueueDepth    int            `json:"queueDepth"`
	QueueCapacity int            `json:"queueCapacity"`
}

// WorkerHealth is the state of a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentRunID  string    `json:"currentRunId,omitempty"`
	RunsProcessed int       `json:"runsProcessed"`
	LastActivity  time.Time `json:"lastActivity"`
}
