package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// run is the mutable in-flight state of one submitted job.
type run struct {
	id  string
	job Job

	mu         sync.Mutex
	cancel     context.CancelFunc
	cancelled  bool
	status     string
	progress   int
	step       string
	message    string
	startedAt  int64
	finishedAt int64
}

// setCancel registers the cancel function once the run executes. A
// cancellation flagged while the run was still queued fires immediately.
func (r *run) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	cancelled := r.cancelled
	r.mu.Unlock()
	if cancelled {
		cancel()
	}
}

// markCancelled flags the run and interrupts it when already executing.
func (r *run) markCancelled() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = events.AgentStatusRunning
	r.startedAt = time.Now().UnixMilli()
}

func (r *run) setProgress(progress int, step, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progress
	r.step = step
	r.message = message
}

func (r *run) finish(status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	if message != "" {
		r.message = message
	}
	r.finishedAt = time.Now().UnixMilli()
}

func (r *run) currentStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *run) currentStep() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// agentStatus projects the run into the document's agent bookkeeping form.
func (r *run) agentStatus() itinerary.AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return itinerary.AgentStatus{
		RunID:      r.id,
		Status:     r.status,
		Progress:   r.progress,
		Message:    r.message,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
}

// Runner executes agent runs from a bounded queue.
type Runner struct {
	engine   *engine.Engine
	registry *agents.Registry
	bus      *events.Bus
	opts     Options

	jobs     chan *run
	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	runs    map[string]*run // runID -> run, queued and executing only
	queued  int
	started bool
	stopped bool
}

// New creates a runner. Out-of-range options fall back to defaults.
func New(eng *engine.Engine, registry *agents.Registry, bus *events.Bus, opts Options) *Runner {
	def := DefaultOptions()
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = def.QueueSize
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = def.RunTimeout
	}
	return &Runner{
		engine:   eng,
		registry: registry,
		bus:      bus,
		opts:     opts,
		jobs:     make(chan *run, opts.QueueSize),
		stopCh:   make(chan struct{}),
		runs:     make(map[string]*run),
	}
}

// Start spawns the worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		slog.Warn("Runner already started, ignoring duplicate Start call")
		return nil
	}
	r.started = true
	r.mu.Unlock()

	slog.Info("Starting runner",
		"workers", r.opts.Workers,
		"queue_size", r.opts.QueueSize,
		"run_timeout", r.opts.RunTimeout)

	for i := 0; i < r.opts.Workers; i++ {
		w := newWorker(fmt.Sprintf("runner-worker-%d", i), r)
		r.workers = append(r.workers, w)
		w.start(ctx)
	}
	return nil
}

// Stop stops accepting work, waits for in-flight runs to finish, and marks
// everything still queued as cancelled so no itinerary is left showing a
// run that will never happen.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	slog.Info("Stopping runner")
	r.stopOnce.Do(func() { close(r.stopCh) })
	for _, w := range r.workers {
		w.stop()
	}

	for {
		select {
		case rn := <-r.jobs:
			r.finishDequeue()
			r.terminal(context.Background(), rn, events.AgentStatusCancelled, "runner shutting down", "", "")
		default:
			slog.Info("Runner stopped")
			return
		}
	}
}

// Submit validates and enqueues a run, returning its id. The itinerary
// must exist and the job's agent kind must be registered.
func (r *Runner) Submit(ctx context.Context, job Job) (string, error) {
	if err := job.validate(); err != nil {
		return "", err
	}
	if _, err := r.registry.Get(job.Kind); err != nil {
		return "", err
	}
	if _, err := r.engine.Get(ctx, job.ItineraryID); err != nil {
		return "", err
	}

	rn := &run{id: uuid.New().String(), job: job, status: events.AgentStatusQueued}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", ErrStopped
	}
	if r.queued >= r.opts.QueueSize {
		pending := r.queued
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %d runs pending", ErrQueueFull, pending)
	}
	r.queued++
	r.runs[rn.id] = rn
	r.mu.Unlock()

	// Queued state is durable and published before a worker can observe
	// the run, so clients never see "running" without a preceding "queued".
	r.recordStatus(ctx, rn, "", "")
	r.publishStatus(rn, "")
	r.jobs <- rn

	slog.Info("Run queued", "run_id", rn.id, "itinerary_id", job.ItineraryID, "kind", job.Kind)
	return rn.id, nil
}

// CancelRun cancels a queued or running run. Queued runs are dropped when
// a worker picks them up; running runs have their context cancelled.
func (r *Runner) CancelRun(runID string) bool {
	r.mu.Lock()
	rn, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rn.markCancelled()
	slog.Info("Run cancellation requested", "run_id", runID, "itinerary_id", rn.job.ItineraryID)
	return true
}

// CancelForItinerary cancels every queued and running run for the
// itinerary and reports how many were flagged.
func (r *Runner) CancelForItinerary(itineraryID string) int {
	r.mu.Lock()
	var flagged []*run
	for _, rn := range r.runs {
		if rn.job.ItineraryID == itineraryID {
			flagged = append(flagged, rn)
		}
	}
	r.mu.Unlock()

	for _, rn := range flagged {
		rn.markCancelled()
	}
	if len(flagged) > 0 {
		slog.Info("Cancelled runs for itinerary", "itinerary_id", itineraryID, "count", len(flagged))
	}
	return len(flagged)
}

// Snapshot returns the latest status per agent kind: the document's
// durable records overlaid with live progress for runs still in flight.
func (r *Runner) Snapshot(ctx context.Context, itineraryID string) (map[string]itinerary.AgentStatus, error) {
	doc, err := r.engine.Get(ctx, itineraryID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]itinerary.AgentStatus, len(doc.Agents))
	for kind, status := range doc.Agents {
		out[kind] = status
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rn := range r.runs {
		if rn.job.ItineraryID == itineraryID {
			out[string(rn.job.Kind)] = rn.agentStatus()
		}
	}
	return out, nil
}

// Health returns the current pool state.
func (r *Runner) Health() Health {
	r.mu.Lock()
	depth := r.queued
	active := 0
	for _, rn := range r.runs {
		if rn.currentStatus() == events.AgentStatusRunning {
			active++
		}
	}
	r.mu.Unlock()

	workers := make([]WorkerHealth, len(r.workers))
	for i, w := range r.workers {
		workers[i] = w.health()
	}
	return Health{
		Workers:       workers,
		ActiveRuns:    active,
		QueueDepth:    depth,
		QueueCapacity: r.opts.QueueSize,
	}
}

func (r *Runner) finishDequeue() {
	r.mu.Lock()
	r.queued--
	r.mu.Unlock()
}

// terminal records a run's final state: document bookkeeping first, then
// the event, then registry removal.
func (r *Runner) terminal(ctx context.Context, rn *run, status, message, errMsg string, phase itinerary.Status) {
	rn.finish(status, message)
	r.recordStatus(ctx, rn, phase, errMsg)
	r.publishStatus(rn, errMsg)

	r.mu.Lock()
	delete(r.runs, rn.id)
	r.mu.Unlock()
}

// recordStatus writes the run's current state onto the document. Failures
// are logged, never surfaced: events still flow and the run proceeds.
func (r *Runner) recordStatus(ctx context.Context, rn *run, phase itinerary.Status, errMsg string) {
	status := rn.agentStatus()
	status.Error = errMsg
	if err := r.engine.SetAgentStatus(ctx, rn.job.ItineraryID, string(rn.job.Kind), status, phase); err != nil {
		slog.Warn("Failed to record agent status",
			"run_id", rn.id, "itinerary_id", rn.job.ItineraryID, "error", err)
	}
}

// publishStatus emits the run's current state on the agent topic.
func (r *Runner) publishStatus(rn *run, errMsg string) {
	status := rn.agentStatus()
	r.publishTopic(events.AgentTopic(rn.job.ItineraryID), events.AgentStatusPayload{
		Type:        events.EventTypeAgentStatus,
		ItineraryID: rn.job.ItineraryID,
		RunID:       rn.id,
		Kind:        string(rn.job.Kind),
		Status:      status.Status,
		Progress:    status.Progress,
		Message:     status.Message,
		Step:        rn.currentStep(),
		Error:       errMsg,
		Timestamp:   stamp(),
	})
}

// publishGeneration emits the per-day completion trail and the final
// generation_complete marker after a successful initial generation.
func (r *Runner) publishGeneration(itineraryID string, out *agents.RunResult) {
	for day := 1; day <= out.GeneratedDays; day++ {
		r.publishTopic(events.ItineraryTopic(itineraryID), events.DayCompletedPayload{
			Type:        events.EventTypeDayCompleted,
			ItineraryID: itineraryID,
			Day:         day,
			TotalDays:   out.GeneratedDays,
			Timestamp:   stamp(),
		})
	}

	summary := ""
	if doc, err := r.engine.Get(context.Background(), itineraryID); err == nil {
		summary = doc.Summary
	}
	r.publishTopic(events.ItineraryTopic(itineraryID), events.GenerationCompletePayload{
		Type:        events.EventTypeGenerationComplete,
		ItineraryID: itineraryID,
		ToVersion:   out.ToVersion,
		Summary:     summary,
		Timestamp:   stamp(),
	})
}

func (r *Runner) publishTopic(topic string, payload any) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := r.bus.Publish(topic, data); err != nil {
		slog.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
