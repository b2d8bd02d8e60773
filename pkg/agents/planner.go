package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wayplan/wayplan/pkg/ai"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/itinerary"
)

const plannerSystem = "You are a travel planning assistant. You produce " +
	"itinerary data as a single JSON document matching the provided schema. " +
	"Respond with JSON only, no prose."

const plannerModifySystem = "You are a travel planning assistant editing an " +
	"existing itinerary. Respond with a single JSON change set matching the " +
	"provided schema. Use the smallest set of operations that fulfills the " +
	"request. Respond with JSON only, no prose."

// Planner generates whole itineraries from a creation request and turns
// natural-language asks into change sets. All writes go through the engine.
type Planner struct {
	engine *engine.Engine
	gen    ai.Generator
}

// NewPlanner creates the agent.
func NewPlanner(eng *engine.Engine, gen ai.Generator) *Planner {
	return &Planner{engine: eng, gen: gen}
}

func (p *Planner) Kind() Kind { return KindPlanner }

// Run dispatches on the input: a creation request triggers initial
// generation, an instruction triggers modification mode.
func (p *Planner) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	switch {
	case in.Request != nil:
		return p.generate(ctx, in)
	case strings.TrimSpace(in.Instruction) != "":
		return p.modify(ctx, in)
	}
	return nil, itinerary.NewValidationError("input", "planner needs a creation request or an instruction")
}

// generate asks the provider chain for a full document and commits it as a
// single replace-document change set authored by the agent.
func (p *Planner) generate(ctx context.Context, in RunInput) (*RunResult, error) {
	req := in.Request
	if err := req.Validate(); err != nil {
		return nil, err
	}

	in.report(10, "prompt", "building generation prompt")
	raw, err := p.gen.Generate(ctx, ai.StructuredRequest{
		System:      plannerSystem,
		Prompt:      generationPrompt(req),
		Schema:      []byte(documentSchema),
		MaxTokens:   8192,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generate itinerary: %w", err)
	}

	in.report(60, "parse", "parsing generated document")
	var doc itinerary.Itinerary
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse generated document: %w", err)
	}
	alignDays(&doc, req)
	doc.ID = in.ItineraryID
	doc.Status = itinerary.StatusCompleted
	if doc.Summary == "" {
		doc.Summary = fmt.Sprintf("A %d-day trip to %s", req.Days(), req.Destination)
	}

	in.report(85, "apply", "writing generated itinerary")
	cs := &itinerary.ChangeSet{
		Scope:       itinerary.ScopeTrip,
		Ops:         []itinerary.Operation{{Op: itinerary.OpReplaceDocument, Document: &doc}},
		Preferences: itinerary.DefaultPreferences(),
		Author:      itinerary.ActorAgent,
		Description: fmt.Sprintf("Generated %d-day itinerary for %s", req.Days(), req.Destination),
	}
	res, err := p.engine.Apply(ctx, in.ItineraryID, cs)
	if err != nil {
		return nil, fmt.Errorf("apply generated itinerary: %w", err)
	}

	return &RunResult{
		ChangeSet:     cs,
		Applied:       true,
		ToVersion:     res.ToVersion,
		Diff:          res.Diff,
		Warnings:      res.Diff.Warnings,
		Message:       fmt.Sprintf("Planned %d days in %s.", len(res.Itinerary.Days), req.Destination),
		GeneratedDays: len(res.Itinerary.Days),
	}, nil
}

// modify loads the current document, asks the provider chain for a change
// set, drops anything that targets locked nodes, and applies or proposes it
// per AutoApply.
func (p *Planner) modify(ctx context.Context, in RunInput) (*RunResult, error) {
	in.report(10, "load", "loading itinerary")
	doc, err := p.engine.Get(ctx, in.ItineraryID)
	if err != nil {
		return nil, err
	}

	in.report(30, "generate", "asking for a change set")
	raw, err := p.gen.Generate(ctx, ai.StructuredRequest{
		System:      plannerModifySystem,
		Prompt:      modificationPrompt(doc, in),
		Schema:      []byte(changeSetSchema),
		MaxTokens:   4096,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("generate change set: %w", err)
	}

	var cs itinerary.ChangeSet
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("parse change set: %w", err)
	}
	cs.Author = itinerary.ActorAgent
	cs.Preferences = itinerary.DefaultPreferences()
	if in.Scope == itinerary.ScopeDay && in.Day > 0 {
		cs.Scope = itinerary.ScopeDay
		cs.Day = in.Day
	}

	in.report(70, "review", "validating proposed changes")
	warnings := p.police(doc, &cs)
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if cs.Empty() {
		return &RunResult{
			ChangeSet: &cs,
			Message:   "No applicable changes were produced.",
			Warnings:  warnings,
		}, nil
	}

	if !in.AutoApply {
		prop, err := p.engine.Propose(ctx, in.ItineraryID, &cs)
		if err != nil {
			return nil, err
		}
		return &RunResult{
			ChangeSet: &cs,
			Applied:   false,
			ToVersion: prop.PreviewVersion,
			Diff:      prop.Diff,
			Warnings:  append(warnings, prop.Diff.Warnings...),
			Message:   fmt.Sprintf("Proposed %d operations for preview.", len(cs.Ops)),
		}, nil
	}

	res, err := p.engine.Apply(ctx, in.ItineraryID, &cs)
	if err != nil {
		return nil, err
	}
	in.report(95, "apply", "changes applied")
	return &RunResult{
		ChangeSet: &cs,
		Applied:   true,
		ToVersion: res.ToVersion,
		Diff:      res.Diff,
		Warnings:  append(warnings, res.Diff.Warnings...),
		Message:   describeDiff(res.Diff),
	}, nil
}

// police strips operations the agent must not emit: whole-document
// replacements and anything targeting a locked node. The engine re-enforces
// the lock gate, but a well-behaved agent never submits such ops.
func (p *Planner) police(doc *itinerary.Itinerary, cs *itinerary.ChangeSet) []string {
	var warnings []string
	kept := cs.Ops[:0]
	for _, op := range cs.Ops {
		if op.Op == itinerary.OpReplaceDocument {
			warnings = append(warnings, "replace_document is not allowed in modification mode")
			continue
		}
		if id := lockTargetID(&op); id != "" {
			if n := doc.FindNode(id); n != nil && n.Locked {
				warnings = append(warnings, fmt.Sprintf("node %s is locked; %s dropped", id, op.Op))
				continue
			}
		}
		op.Author = "" // ops inherit the set author; never trust provider attribution
		kept = append(kept, op)
	}
	cs.Ops = kept
	return warnings
}

// lockTargetID returns the node id an operation mutates, for the op kinds
// the lock gate covers.
func lockTargetID(op *itinerary.Operation) string {
	switch op.Op {
	case itinerary.OpDelete, itinerary.OpMove, itinerary.OpUpdate, itinerary.OpReplace:
		return op.ID
	}
	return ""
}

func generationPrompt(req *CreateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a %d day trip.\n\n", req.Days())
	fmt.Fprintf(&b, "Destination: %s\n", req.Destination)
	fmt.Fprintf(&b, "Travel dates: %s to %s\n", req.StartDate, req.EndDate)
	fmt.Fprintf(&b, "Party: %d adults", req.Party.Adults)
	if req.Party.Children > 0 {
		fmt.Fprintf(&b, " and %d children", req.Party.Children)
	}
	b.WriteString("\n")
	if req.BudgetTier != "" {
		fmt.Fprintf(&b, "Budget: %s\n", req.BudgetTier)
	}
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(req.Interests, ", "))
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	b.WriteString("\nProduce one day entry per travel date with dayNumber starting at 1. ")
	b.WriteString("Give every day at least one activity and a meal, times as \"HH:MM\" clock values, ")
	b.WriteString("and costs where known. Order nodes chronologically.")
	return b.String()
}

func modificationPrompt(doc *itinerary.Itinerary, in RunInput) string {
	current, _ := json.Marshal(doc)
	var b strings.Builder
	b.WriteString("Current itinerary document:\n")
	b.Write(current)
	b.WriteString("\n\nUser request: ")
	b.WriteString(in.Instruction)
	b.WriteString("\n")
	if in.Scope == itinerary.ScopeDay && in.Day > 0 {
		fmt.Fprintf(&b, "Restrict all changes to day %d.\n", in.Day)
	}
	if ids := lockedNodeIDs(doc); len(ids) > 0 {
		fmt.Fprintf(&b, "These nodes are locked and must not be modified, moved or deleted: %s.\n",
			strings.Join(ids, ", "))
	}
	b.WriteString("\nReference existing nodes by their id. Times may be \"HH:MM\" clock values.")
	return b.String()
}

func lockedNodeIDs(doc *itinerary.Itinerary) []string {
	var ids []string
	for d := range doc.Days {
		for n := range doc.Days[d].Nodes {
			if doc.Days[d].Nodes[n].Locked {
				ids = append(ids, doc.Days[d].Nodes[n].ID)
			}
		}
	}
	return ids
}

// alignDays forces the generated document onto the requested date span:
// exactly one day per date, contiguous numbering, dates filled in. Surplus
// days are cut, missing ones padded with a free-time placeholder.
func alignDays(doc *itinerary.Itinerary, req *CreateRequest) {
	want := req.Days()
	if want < 1 {
		return
	}
	if len(doc.Days) > want {
		doc.Days = doc.Days[:want]
	}
	for len(doc.Days) < want {
		doc.Days = append(doc.Days, itinerary.Day{
			Nodes: []itinerary.Node{{
				Type:   itinerary.NodeAttraction,
				Title:  "Free time in " + req.Destination,
				Status: itinerary.NodePlanned,
			}},
		})
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	for i := range doc.Days {
		doc.Days[i].DayNumber = i + 1
		if err == nil {
			doc.Days[i].Date = start.AddDate(0, 0, i).Format(dateLayout)
		}
		if doc.Days[i].Location == "" {
			doc.Days[i].Location = req.Destination
		}
	}
}

func describeDiff(diff *itinerary.Diff) string {
	return fmt.Sprintf("Applied changes: %d added, %d removed, %d updated.",
		len(diff.Added), len(diff.Removed), len(diff.Updated))
}
