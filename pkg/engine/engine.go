// Package engine is the single write path for itinerary documents. Every
// mutation, whether typed by a user, produced by an agent, or generated by
// the booking flow, arrives as a change set; the engine validates it,
// applies it under a per-itinerary lock, bumps the version by exactly one,
// persists document and revision atomically, and only then publishes the
// update event. Reads never take the write lock.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/store"
)

// ErrAlreadyExists is returned by Create when the id is taken. Callers map
// it to HTTP 409.
var ErrAlreadyExists = errors.New("itinerary already exists")

// Options tune engine behavior.
type Options struct {
	// DefaultRespectLocks fills the lock preference for change sets that
	// arrive with zero-valued preferences.
	DefaultRespectLocks bool

	// MaxRevisions caps stored history per itinerary. Oldest revisions are
	// pruned after each apply; 0 keeps everything.
	MaxRevisions int
}

// DefaultOptions returns the documented defaults: locks honored, unbounded
// history.
func DefaultOptions() Options {
	return Options{DefaultRespectLocks: true}
}

// Engine applies change sets against stored itineraries.
type Engine struct {
	store store.Store
	bus   *events.Bus
	locks *keyedLocks
	opts  Options
}

// New creates an engine over the given store and event bus.
func New(st store.Store, bus *events.Bus, opts Options) *Engine {
	return &Engine{
		store: st,
		bus:   bus,
		locks: newKeyedLocks(),
		opts:  opts,
	}
}

// ProposeResult is a dry-run apply: the would-be document and diff, with
// nothing persisted.
type ProposeResult struct {
	Proposed       *itinerary.Itinerary `json:"proposed"`
	Diff           *itinerary.Diff      `json:"diff"`
	PreviewVersion int                  `json:"previewVersion"`
}

// ApplyResult reports a committed change set.
type ApplyResult struct {
	Itinerary *itinerary.Itinerary `json:"itinerary"`
	Diff      *itinerary.Diff      `json:"diff"`
	ToVersion int                  `json:"toVersion"`
}

// Create persists a brand new itinerary at version 1 together with its
// first revision, so the history invariant holds from the start.
func (e *Engine) Create(ctx context.Context, it *itinerary.Itinerary, author itinerary.Actor) (*itinerary.Itinerary, error) {
	if it == nil {
		return nil, itinerary.NewValidationError("itinerary", "missing document")
	}
	doc := it.Clone()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.OwnerID == "" {
		doc.OwnerID = itinerary.AnonymousOwner
	}
	if doc.Status == "" {
		doc.Status = itinerary.StatusPlanning
	}
	if doc.Days == nil {
		doc.Days = []itinerary.Day{}
	}
	now := time.Now().UnixMilli()
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := doc.Normalize(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(doc.ID)
	defer unlock()

	if _, err := e.store.Get(ctx, doc.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	diff := itinerary.DiffDocuments(nil, doc)
	diff.ToVersion = 1
	rev := &itinerary.Revision{
		ItineraryID: doc.ID,
		Version:     1,
		Timestamp:   now,
		Description: "Created",
		Author:      author,
		Diff:        diff,
		Snapshot:    doc.Clone(),
	}
	if err := e.store.SaveWithRevision(ctx, doc, rev); err != nil {
		return nil, fmt.Errorf("create itinerary: %w", err)
	}
	slog.Info("Itinerary created", "itinerary_id", doc.ID, "owner", doc.OwnerID)
	return doc, nil
}

// Get loads the current document. Reads are lock free.
func (e *Engine) Get(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	return e.store.Get(ctx, id)
}

// List returns itinerary summaries, filtered to an owner when set.
func (e *Engine) List(ctx context.Context, ownerID string) ([]itinerary.Summary, error) {
	return e.store.List(ctx, ownerID)
}

// ListRevisions returns the stored history in ascending version order.
func (e *Engine) ListRevisions(ctx context.Context, id string) ([]*itinerary.Revision, error) {
	return e.store.ListRevisions(ctx, id)
}

// GetRevision returns one revision by version.
func (e *Engine) GetRevision(ctx context.Context, id string, version int) (*itinerary.Revision, error) {
	return e.store.GetRevision(ctx, id, version)
}

// Delete removes the document and its history.
func (e *Engine) Delete(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.locks.forget(id)
	slog.Info("Itinerary deleted", "itinerary_id", id)
	return nil
}

// Propose evaluates a change set against the current document without
// persisting anything: same validation, same diff, same preview of the next
// version an identical Apply would produce.
func (e *Engine) Propose(ctx context.Context, id string, cs *itinerary.ChangeSet) (*ProposeResult, error) {
	if cs == nil {
		return nil, itinerary.NewValidationError("changeSet", "missing change set")
	}
	e.normalizePreferences(cs)
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, diff, err := applyOps(cur.Clone(), cs)
	if err != nil {
		return nil, err
	}
	if diff.Empty() {
		diff.ToVersion = cur.Version
		return &ProposeResult{Proposed: cur, Diff: diff, PreviewVersion: cur.Version}, nil
	}
	next.Version = cur.Version + 1
	next.Touch()
	diff.ToVersion = next.Version
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &ProposeResult{Proposed: next, Diff: diff, PreviewVersion: next.Version}, nil
}

// Apply commits a change set: ops run left to right against a working copy
// under the per-itinerary lock, the version bumps by one, document and
// revision land atomically, and the update event goes out only after the
// write is durable. A set whose every op was skipped leaves the version
// untouched and publishes nothing.
func (e *Engine) Apply(ctx context.Context, id string, cs *itinerary.ChangeSet) (*ApplyResult, error) {
	if cs == nil {
		return nil, itinerary.NewValidationError("changeSet", "missing change set")
	}
	e.normalizePreferences(cs)
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, diff, err := applyOps(cur.Clone(), cs)
	if err != nil {
		return nil, err
	}
	if diff.Empty() {
		diff.ToVersion = cur.Version
		slog.Debug("Change set was a no-op", "itinerary_id", id, "version", cur.Version, "warnings", len(diff.Warnings))
		return &ApplyResult{Itinerary: cur, Diff: diff, ToVersion: cur.Version}, nil
	}

	next.Version = cur.Version + 1
	next.Touch()
	diff.ToVersion = next.Version
	if err := next.Validate(); err != nil {
		return nil, err
	}

	rev := &itinerary.Revision{
		ItineraryID: id,
		Version:     next.Version,
		Timestamp:   time.Now().UnixMilli(),
		Description: describeChangeSet(cs, diff),
		Author:      deriveAuthor(cs),
		Diff:        diff,
		Snapshot:    next.Clone(),
	}
	if err := e.store.SaveWithRevision(ctx, next, rev); err != nil {
		return nil, fmt.Errorf("save version %d: %w", next.Version, err)
	}
	e.prune(ctx, id)

	e.publishUpdated(next, rev)
	if cur.Status != next.Status {
		e.publishPhase(id, cur.Status, next.Status)
	}
	slog.Info("Change set applied",
		"itinerary_id", id,
		"to_version", next.Version,
		"ops", len(cs.Ops),
		"warnings", len(diff.Warnings))
	return &ApplyResult{Itinerary: next, Diff: diff, ToVersion: next.Version}, nil
}

// Undo restores the snapshot of an earlier version as a new forward
// version. toVersion 0 targets the previous version. The restored state is
// byte-equal to the snapshot except for version and audit timestamps.
func (e *Engine) Undo(ctx context.Context, id string, toVersion int) (*ApplyResult, error) {
	if toVersion < 0 {
		return nil, itinerary.NewValidationError("toVersion", "must not be negative")
	}

	unlock := e.locks.lock(id)
	defer unlock()

	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target := toVersion
	if target == 0 {
		target = cur.Version - 1
	}
	if target < 1 {
		return nil, fmt.Errorf("%w: version 1 has nothing before it", store.ErrRevisionNotFound)
	}
	if target >= cur.Version {
		return nil, itinerary.NewValidationError("toVersion", fmt.Sprintf("target version %d is not before current version %d", target, cur.Version))
	}

	rev, err := e.store.GetRevision(ctx, id, target)
	if err != nil {
		return nil, err
	}
	if rev.Snapshot == nil {
		return nil, fmt.Errorf("%w: version %d has no snapshot", store.ErrRevisionNotFound, target)
	}

	next := rev.Snapshot.Clone()
	next.ID = cur.ID
	next.OwnerID = cur.OwnerID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.Touch()

	diff := itinerary.DiffDocuments(cur, next)
	diff.ToVersion = next.Version

	undoRev := &itinerary.Revision{
		ItineraryID: id,
		Version:     next.Version,
		Timestamp:   time.Now().UnixMilli(),
		Description: fmt.Sprintf("Undo to version %d", target),
		Author:      itinerary.ActorSystem,
		Diff:        diff,
		Snapshot:    next.Clone(),
	}
	if err := e.store.SaveWithRevision(ctx, next, undoRev); err != nil {
		return nil, fmt.Errorf("save undo to version %d: %w", target, err)
	}
	e.prune(ctx, id)

	e.publishUpdated(next, undoRev)
	if cur.Status != next.Status {
		e.publishPhase(id, cur.Status, next.Status)
	}
	slog.Info("Undo applied", "itinerary_id", id, "target_version", target, "to_version", next.Version)
	return &ApplyResult{Itinerary: next, Diff: diff, ToVersion: next.Version}, nil
}

// SetAgentStatus records an agent run's latest state on the document and
// optionally moves the itinerary lifecycle phase. The write happens under
// the same per-itinerary lock as applies but does not bump the version:
// agent bookkeeping is operational metadata, not trip content.
func (e *Engine) SetAgentStatus(ctx context.Context, id, kind string, status itinerary.AgentStatus, phase itinerary.Status) error {
	unlock := e.locks.lock(id)
	defer unlock()

	it, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if it.Agents == nil {
		it.Agents = make(map[string]itinerary.AgentStatus)
	}
	it.Agents[kind] = status
	prev := it.Status
	if phase != "" {
		if !phase.Valid() {
			return itinerary.NewValidationError("status", fmt.Sprintf("unknown status %q", phase))
		}
		it.Status = phase
	}
	it.Touch()
	if err := e.store.Save(ctx, it); err != nil {
		return fmt.Errorf("save agent status: %w", err)
	}
	if phase != "" && prev != phase {
		e.publishPhase(id, prev, phase)
	}
	return nil
}

// normalizePreferences fills engine defaults into a zero-valued preferences
// struct. Sets decoded from JSON already carry defaults; this covers
// programmatic callers that left the field empty.
func (e *Engine) normalizePreferences(cs *itinerary.ChangeSet) {
	if cs.Preferences == (itinerary.Preferences{}) {
		cs.Preferences = itinerary.Preferences{
			UserFirst:    true,
			RespectLocks: e.opts.DefaultRespectLocks,
		}
	}
}

// prune drops history beyond the configured cap. Pruning failures are
// logged, never surfaced: the apply already committed.
func (e *Engine) prune(ctx context.Context, id string) {
	if e.opts.MaxRevisions <= 0 {
		return
	}
	removed, err := e.store.PruneRevisions(ctx, id, e.opts.MaxRevisions)
	if err != nil {
		slog.Warn("Failed to prune revisions", "itinerary_id", id, "error", err)
		return
	}
	if removed > 0 {
		slog.Debug("Pruned revisions", "itinerary_id", id, "removed", removed)
	}
}

func (e *Engine) publishUpdated(it *itinerary.Itinerary, rev *itinerary.Revision) {
	if e.bus == nil {
		return
	}
	payload := events.ItineraryUpdatedPayload{
		Type:        events.EventTypeItineraryUpdated,
		ItineraryID: it.ID,
		ToVersion:   it.Version,
		Author:      rev.Author,
		Description: rev.Description,
		Diff:        rev.Diff,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal update event", "itinerary_id", it.ID, "error", err)
		return
	}
	if err := e.bus.Publish(events.ItineraryTopic(it.ID), data); err != nil {
		slog.Warn("Failed to publish update event", "itinerary_id", it.ID, "error", err)
	}
}

func (e *Engine) publishPhase(id string, from, to itinerary.Status) {
	if e.bus == nil {
		return
	}
	payload := events.PhaseTransitionPayload{
		Type:        events.EventTypePhaseTransition,
		ItineraryID: id,
		From:        from,
		To:          to,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal phase event", "itinerary_id", id, "error", err)
		return
	}
	if err := e.bus.Publish(events.ItineraryTopic(id), data); err != nil {
		slog.Warn("Failed to publish phase event", "itinerary_id", id, "error", err)
	}
}

// deriveAuthor resolves the revision author from the set: an explicit
// set-level author wins, then user presence, then agent, then system.
func deriveAuthor(cs *itinerary.ChangeSet) itinerary.Actor {
	if cs.Author != "" {
		return cs.Author
	}
	sawAgent := false
	sawSystem := false
	for i := range cs.Ops {
		switch cs.OpAuthor(&cs.Ops[i]) {
		case itinerary.ActorUser:
			return itinerary.ActorUser
		case itinerary.ActorAgent:
			sawAgent = true
		case itinerary.ActorSystem:
			sawSystem = true
		}
	}
	if sawAgent {
		return itinerary.ActorAgent
	}
	if sawSystem {
		return itinerary.ActorSystem
	}
	return itinerary.ActorUser
}

func describeChangeSet(cs *itinerary.ChangeSet, diff *itinerary.Diff) string {
	if cs.Description != "" {
		return cs.Description
	}
	return fmt.Sprintf("%d added, %d removed, %d updated", len(diff.Added), len(diff.Removed), len(diff.Updated))
}
