package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// Worker status values for health reporting.
const (
	workerIdle    = "idle"
	workerWorking = "working"
)

// worker pulls runs off the queue and executes them one at a time.
type worker struct {
	id       string
	runner   *Runner
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.Mutex
	status        string
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, r *Runner) *worker {
	return &worker{
		id:           id,
		runner:       r,
		stopCh:       make(chan struct{}),
		status:       workerIdle,
		lastActivity: time.Now(),
	}
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// stop signals the worker and waits for its current run to finish. Safe to
// call multiple times.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *worker) setStatus(status, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}

func (w *worker) loop(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		// Stop takes priority over queued work so shutdown is not delayed
		// by a backlog.
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
		}

		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case rn := <-w.runner.jobs:
			w.process(ctx, rn)
		}
	}
}

// process executes one run end to end: cancellation gate, running
// transition, agent execution, terminal bookkeeping, and the generation
// follow-ups.
func (w *worker) process(ctx context.Context, rn *run) {
	w.runner.finishDequeue()

	log := slog.With(
		"run_id", rn.id,
		"itinerary_id", rn.job.ItineraryID,
		"kind", rn.job.Kind,
		"worker_id", w.id)

	runCtx, cancel := context.WithTimeout(ctx, w.runner.opts.RunTimeout)
	defer cancel()
	rn.setCancel(cancel)

	if rn.isCancelled() {
		w.runner.terminal(context.Background(), rn, events.AgentStatusCancelled, "cancelled before start", "", "")
		log.Info("Run cancelled before start")
		return
	}

	agent, err := w.runner.registry.Get(rn.job.Kind)
	if err != nil {
		w.runner.terminal(context.Background(), rn, events.AgentStatusFailed, "", err.Error(), "")
		log.Error("No agent for run", "error", err)
		return
	}

	w.setStatus(workerWorking, rn.id)
	defer w.setStatus(workerIdle, "")

	rn.start()
	startPhase := itinerary.Status("")
	if rn.job.generation() {
		startPhase = itinerary.StatusGenerating
	}
	w.runner.recordStatus(runCtx, rn, startPhase, "")
	w.runner.publishStatus(rn, "")
	log.Info("Run started")

	out, err := agent.Run(runCtx, agents.RunInput{
		ItineraryID: rn.job.ItineraryID,
		Request:     rn.job.Request,
		Instruction: rn.job.Instruction,
		Scope:       rn.job.Scope,
		Day:         rn.job.Day,
		AutoApply:   rn.job.AutoApply,
		Progress: func(progress int, step, message string) {
			rn.setProgress(progress, step, message)
			w.runner.publishStatus(rn, "")
		},
	})

	// Terminal writes use a fresh context; the run context may already be
	// cancelled or expired.
	failPhase := itinerary.Status("")
	if rn.job.generation() {
		failPhase = itinerary.StatusFailed
	}

	switch {
	case err == nil:
		rn.setProgress(100, "done", out.Message)
		w.runner.terminal(context.Background(), rn, events.AgentStatusSucceeded, out.Message, "", "")
		log.Info("Run succeeded", "to_version", out.ToVersion, "applied", out.Applied)
		if rn.job.generation() {
			w.runner.publishGeneration(rn.job.ItineraryID, out)
			w.chainEnrichment(rn.job.ItineraryID)
		}

	case rn.isCancelled() || errors.Is(runCtx.Err(), context.Canceled):
		w.runner.terminal(context.Background(), rn, events.AgentStatusCancelled, "run cancelled", "", failPhase)
		log.Info("Run cancelled")

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		msg := fmt.Sprintf("run timed out after %v", w.runner.opts.RunTimeout)
		w.runner.terminal(context.Background(), rn, events.AgentStatusFailed, "", msg, failPhase)
		log.Warn("Run timed out", "timeout", w.runner.opts.RunTimeout)

	default:
		w.runner.terminal(context.Background(), rn, events.AgentStatusFailed, "", err.Error(), failPhase)
		log.Error("Run failed", "error", err)
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()
}

// chainEnrichment queues the enrichment pass that follows every
// successful initial generation.
func (w *worker) chainEnrichment(itineraryID string) {
	if _, err := w.runner.Submit(context.Background(), Job{
		ItineraryID: itineraryID,
		Kind:        agents.KindEnrichment,
	}); err != nil {
		slog.Warn("Failed to chain enrichment run", "itinerary_id", itineraryID, "error", err)
	}
}
