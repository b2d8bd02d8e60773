package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// applier evaluates one change set against a working copy of the document.
// Hard failures (ValidationError) abort the whole set; soft failures (lock
// rejections, deletes of missing nodes, user-first skips) become diff
// warnings and the op is dropped.
type applier struct {
	doc  *itinerary.Itinerary
	cs   *itinerary.ChangeSet
	diff *itinerary.Diff

	// node ids targeted by user-authored ops in this set, for the
	// user-first tie-break against agent ops.
	userTargets map[string]bool

	// update_edge ops run after the node pass so they can reference nodes
	// inserted earlier in the same set.
	edgeOps []*itinerary.Operation

	touched map[int]bool
}

// applyOps runs the set and returns the (possibly replaced) document and
// the accumulated diff. The input document is mutated; callers pass a
// clone.
func applyOps(doc *itinerary.Itinerary, cs *itinerary.ChangeSet) (*itinerary.Itinerary, *itinerary.Diff, error) {
	a := &applier{
		doc:         doc,
		cs:          cs,
		diff:        itinerary.NewDiff(),
		userTargets: make(map[string]bool),
		touched:     make(map[int]bool),
	}
	for i := range cs.Ops {
		op := &cs.Ops[i]
		if cs.OpAuthor(op) == itinerary.ActorUser {
			if id := opTarget(op); id != "" {
				a.userTargets[id] = true
			}
		}
	}

	for i := range cs.Ops {
		op := &cs.Ops[i]
		var err error
		switch op.Op {
		case itinerary.OpInsert:
			err = a.insert(op)
		case itinerary.OpDelete:
			err = a.delete(op)
		case itinerary.OpMove:
			err = a.move(op)
		case itinerary.OpUpdate:
			err = a.update(op)
		case itinerary.OpReplace:
			err = a.replace(op)
		case itinerary.OpUpdateEdge:
			a.edgeOps = append(a.edgeOps, op)
		case itinerary.OpReplaceDocument:
			err = a.replaceDocument(op)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	for _, op := range a.edgeOps {
		if err := a.updateEdge(op); err != nil {
			return nil, nil, err
		}
	}

	for d := range a.doc.Days {
		day := &a.doc.Days[d]
		day.ReconcileEdges()
		if a.touched[day.DayNumber] {
			day.RecomputeTotals()
		}
	}
	return a.doc, a.diff, nil
}

// opTarget returns the node id an op acts on, or "" for document-level ops.
func opTarget(op *itinerary.Operation) string {
	switch op.Op {
	case itinerary.OpInsert:
		if op.Node != nil {
			return op.Node.ID
		}
	case itinerary.OpDelete, itinerary.OpMove, itinerary.OpUpdate, itinerary.OpReplace:
		return op.ID
	}
	return ""
}

// lockRejected applies the respect-locks gate to an op against an existing
// node.
func (a *applier) lockRejected(op *itinerary.Operation, node *itinerary.Node) bool {
	if !a.cs.Preferences.RespectLocks || !node.Locked {
		return false
	}
	a.diff.AddWarning(fmt.Sprintf("node %s is locked; %s skipped", node.ID, op.Op))
	return true
}

// userFirstRejected applies the user-first tie-break: an agent op on a node
// a user op in the same set targets yields to the user.
func (a *applier) userFirstRejected(op *itinerary.Operation, id string) bool {
	if !a.cs.Preferences.UserFirst {
		return false
	}
	if a.cs.OpAuthor(op) != itinerary.ActorAgent || !a.userTargets[id] {
		return false
	}
	a.diff.AddWarning(fmt.Sprintf("agent %s on node %s skipped; a user edit in this set takes precedence", op.Op, id))
	return true
}

// checkScope enforces day scoping: a day-scoped set may only touch the
// named day.
func (a *applier) checkScope(dayNumber int) error {
	if a.cs.Scope == itinerary.ScopeDay && dayNumber != a.cs.Day {
		return itinerary.NewValidationError("scope", fmt.Sprintf("op touches day %d but the set is scoped to day %d", dayNumber, a.cs.Day))
	}
	return nil
}

func (a *applier) markTouched(dayNumber int) {
	a.touched[dayNumber] = true
}

func (a *applier) insert(op *itinerary.Operation) error {
	node := op.Node.Clone()
	if node.ID != "" && a.doc.FindNode(node.ID) != nil {
		return itinerary.NewValidationError("ops.node.id", fmt.Sprintf("insert collides with existing node %s", node.ID))
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if node.Status == "" {
		node.Status = itinerary.NodePlanned
	}

	var day *itinerary.Day
	at := 0
	if op.After != "" {
		dIdx, nIdx, ok := a.doc.NodePosition(op.After)
		if !ok {
			return itinerary.NewValidationError("ops.after", fmt.Sprintf("insert after unknown node %s", op.After))
		}
		day = &a.doc.Days[dIdx]
		at = nIdx + 1
	} else {
		if a.cs.Scope != itinerary.ScopeDay {
			return itinerary.NewValidationError("ops.after", "insert without an anchor requires day scope")
		}
		day = a.doc.Day(a.cs.Day)
		if day == nil {
			return itinerary.NewValidationError("day", fmt.Sprintf("itinerary has no day %d", a.cs.Day))
		}
	}
	if err := a.checkScope(day.DayNumber); err != nil {
		return err
	}
	if err := node.AnchorTimes(day.Date); err != nil {
		return err
	}
	node.Stamp(a.cs.OpAuthor(op))

	rest := append([]itinerary.Node{*node}, day.Nodes[at:]...)
	day.Nodes = append(day.Nodes[:at], rest...)
	a.markTouched(day.DayNumber)
	a.diff.Added = append(a.diff.Added, itinerary.NodeRef{NodeID: node.ID, Day: day.DayNumber})
	return nil
}

func (a *applier) delete(op *itinerary.Operation) error {
	dIdx, nIdx, ok := a.doc.NodePosition(op.ID)
	if !ok {
		a.diff.AddWarning(fmt.Sprintf("delete of unknown node %s skipped", op.ID))
		return nil
	}
	day := &a.doc.Days[dIdx]
	if err := a.checkScope(day.DayNumber); err != nil {
		return err
	}
	node := &day.Nodes[nIdx]
	if a.lockRejected(op, node) || a.userFirstRejected(op, op.ID) {
		return nil
	}

	day.Nodes = append(day.Nodes[:nIdx], day.Nodes[nIdx+1:]...)
	a.markTouched(day.DayNumber)
	a.diff.Removed = append(a.diff.Removed, itinerary.NodeRef{NodeID: op.ID, Day: day.DayNumber})
	return nil
}

func (a *applier) move(op *itinerary.Operation) error {
	srcDayIdx, srcNodeIdx, ok := a.doc.NodePosition(op.ID)
	if !ok {
		return itinerary.NewValidationError("ops.id", fmt.Sprintf("move references unknown node %s", op.ID))
	}
	srcDay := &a.doc.Days[srcDayIdx]
	if err := a.checkScope(srcDay.DayNumber); err != nil {
		return err
	}
	node := &srcDay.Nodes[srcNodeIdx]
	if a.lockRejected(op, node) || a.userFirstRejected(op, op.ID) {
		return nil
	}

	var fields []string
	destDay := srcDay

	if op.After != "" {
		if op.After == op.ID {
			return itinerary.NewValidationError("ops.after", "node cannot anchor to itself")
		}
		if _, _, ok := a.doc.NodePosition(op.After); !ok {
			return itinerary.NewValidationError("ops.after", fmt.Sprintf("move after unknown node %s", op.After))
		}
		moved := *node.Clone()
		srcDay.Nodes = append(srcDay.Nodes[:srcNodeIdx], srcDay.Nodes[srcNodeIdx+1:]...)
		a.markTouched(srcDay.DayNumber)

		// Anchor position is recomputed after removal; the removal may have
		// shifted it.
		dIdx, nIdx, _ := a.doc.NodePosition(op.After)
		destDay = &a.doc.Days[dIdx]
		if err := a.checkScope(destDay.DayNumber); err != nil {
			return err
		}
		at := nIdx + 1
		rest := append([]itinerary.Node{moved}, destDay.Nodes[at:]...)
		destDay.Nodes = append(destDay.Nodes[:at], rest...)
		a.markTouched(destDay.DayNumber)
		node = &destDay.Nodes[at]
		fields = append(fields, "position")
	}

	if op.StartTime != nil || op.EndTime != nil {
		if node.Timing == nil {
			node.Timing = &itinerary.Timing{}
		}
		if op.StartTime != nil {
			ms, err := op.StartTime.Resolve(destDay.Date)
			if err != nil {
				return err
			}
			node.Timing.StartTime = &ms
		}
		if op.EndTime != nil {
			ms, err := op.EndTime.Resolve(destDay.Date)
			if err != nil {
				return err
			}
			node.Timing.EndTime = &ms
		}
		if node.Timing.StartTime != nil && node.Timing.EndTime != nil && *node.Timing.EndTime < *node.Timing.StartTime {
			return itinerary.NewValidationError("ops", fmt.Sprintf("move leaves node %s ending before it starts", op.ID))
		}
		fields = append(fields, "timing")
		a.markTouched(destDay.DayNumber)
	}

	if len(fields) == 0 {
		a.diff.AddWarning(fmt.Sprintf("move of node %s changed nothing", op.ID))
		return nil
	}
	node.Stamp(a.cs.OpAuthor(op))
	a.diff.Updated = append(a.diff.Updated, itinerary.UpdatedNode{
		NodeRef:       itinerary.NodeRef{NodeID: op.ID, Day: destDay.DayNumber},
		ChangedFields: fields,
	})
	return nil
}

func (a *applier) update(op *itinerary.Operation) error {
	dIdx, nIdx, ok := a.doc.NodePosition(op.ID)
	if !ok {
		return itinerary.NewValidationError("ops.id", fmt.Sprintf("update references unknown node %s", op.ID))
	}
	day := &a.doc.Days[dIdx]
	if err := a.checkScope(day.DayNumber); err != nil {
		return err
	}
	node := &day.Nodes[nIdx]
	if a.lockRejected(op, node) || a.userFirstRejected(op, op.ID) {
		return nil
	}

	merged, fields, err := patchNode(node, op.Patch)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	merged.ID = node.ID
	if merged.Status != node.Status && !node.Status.CanTransitionTo(merged.Status) {
		return itinerary.NewValidationError("ops.patch.status", fmt.Sprintf("node %s cannot move from %s to %s", op.ID, node.Status, merged.Status))
	}
	if err := merged.AnchorTimes(day.Date); err != nil {
		return err
	}
	merged.Stamp(a.cs.OpAuthor(op))
	day.Nodes[nIdx] = *merged
	a.markTouched(day.DayNumber)
	a.diff.Updated = append(a.diff.Updated, itinerary.UpdatedNode{
		NodeRef:       itinerary.NodeRef{NodeID: op.ID, Day: day.DayNumber},
		ChangedFields: fields,
	})
	return nil
}

func (a *applier) replace(op *itinerary.Operation) error {
	dIdx, nIdx, ok := a.doc.NodePosition(op.ID)
	if !ok {
		return itinerary.NewValidationError("ops.id", fmt.Sprintf("replace references unknown node %s", op.ID))
	}
	day := &a.doc.Days[dIdx]
	if err := a.checkScope(day.DayNumber); err != nil {
		return err
	}
	node := &day.Nodes[nIdx]
	if a.lockRejected(op, node) || a.userFirstRejected(op, op.ID) {
		return nil
	}

	repl := op.Node.Clone()
	repl.ID = node.ID
	if repl.Status == "" {
		repl.Status = node.Status
	}
	if repl.Status != node.Status && !node.Status.CanTransitionTo(repl.Status) {
		return itinerary.NewValidationError("ops.node.status", fmt.Sprintf("node %s cannot move from %s to %s", op.ID, node.Status, repl.Status))
	}
	if err := repl.AnchorTimes(day.Date); err != nil {
		return err
	}
	fields := itinerary.ChangedNodeFields(node, repl)
	if len(fields) == 0 {
		return nil
	}
	repl.Stamp(a.cs.OpAuthor(op))
	day.Nodes[nIdx] = *repl
	a.markTouched(day.DayNumber)
	a.diff.Updated = append(a.diff.Updated, itinerary.UpdatedNode{
		NodeRef:       itinerary.NodeRef{NodeID: op.ID, Day: day.DayNumber},
		ChangedFields: fields,
	})
	return nil
}

func (a *applier) updateEdge(op *itinerary.Operation) error {
	day := a.doc.Day(op.Day)
	if day == nil {
		return itinerary.NewValidationError("ops.day", fmt.Sprintf("update_edge references unknown day %d", op.Day))
	}
	if err := a.checkScope(day.DayNumber); err != nil {
		return err
	}
	if op.From == op.To {
		return itinerary.NewValidationError("ops", "update_edge cannot connect a node to itself")
	}
	if !day.HasNode(op.From) || !day.HasNode(op.To) {
		return itinerary.NewValidationError("ops", fmt.Sprintf("update_edge %s->%s references a node not on day %d", op.From, op.To, op.Day))
	}

	var info *itinerary.TransitInfo
	if op.TransitInfo != nil {
		v := *op.TransitInfo
		info = &v
	}
	found := false
	for i := range day.Edges {
		if day.Edges[i].From == op.From && day.Edges[i].To == op.To {
			day.Edges[i].TransitInfo = info
			found = true
			break
		}
	}
	if !found {
		day.Edges = append(day.Edges, itinerary.Edge{From: op.From, To: op.To, TransitInfo: info})
	}
	a.markTouched(day.DayNumber)
	a.diff.Updated = append(a.diff.Updated, itinerary.UpdatedNode{
		NodeRef:       itinerary.NodeRef{NodeID: op.From, Day: day.DayNumber},
		ChangedFields: []string{"edges"},
	})
	return nil
}

// replaceDocument swaps the whole day structure while preserving document
// identity and operational metadata. Initial generation and full-document
// imports come through here.
func (a *applier) replaceDocument(op *itinerary.Operation) error {
	if len(a.cs.Ops) > 1 {
		return itinerary.NewValidationError("ops", "replace_document must be the only op in the set")
	}
	if a.cs.Scope == itinerary.ScopeDay {
		return itinerary.NewValidationError("scope", "replace_document requires trip scope")
	}

	next := op.Document.Clone()
	next.ID = a.doc.ID
	next.OwnerID = a.doc.OwnerID
	next.CreatedAt = a.doc.CreatedAt
	next.Version = a.doc.Version
	if next.Status == "" {
		next.Status = a.doc.Status
	}
	if next.Settings == (itinerary.Settings{}) {
		next.Settings = a.doc.Settings
	}
	if a.doc.Agents != nil {
		next.Agents = make(map[string]itinerary.AgentStatus, len(a.doc.Agents))
		for k, v := range a.doc.Agents {
			next.Agents[k] = v
		}
	}
	if err := next.Normalize(); err != nil {
		return err
	}

	if a.cs.Preferences.RespectLocks {
		for d := range a.doc.Days {
			for n := range a.doc.Days[d].Nodes {
				old := &a.doc.Days[d].Nodes[n]
				if !old.Locked {
					continue
				}
				repl := next.FindNode(old.ID)
				if repl == nil || len(itinerary.ChangedNodeFields(old, repl)) > 0 {
					a.diff.AddWarning(fmt.Sprintf("locked node %s would be changed or removed; replace_document skipped", old.ID))
					return nil
				}
			}
		}
	}

	author := a.cs.OpAuthor(op)
	delta := itinerary.DiffDocuments(a.doc, next)
	for _, ref := range delta.Added {
		if node := next.FindNode(ref.NodeID); node != nil {
			node.Stamp(author)
		}
	}
	for _, upd := range delta.Updated {
		if node := next.FindNode(upd.NodeRef.NodeID); node != nil {
			node.Stamp(author)
		}
	}
	a.diff.Added = append(a.diff.Added, delta.Added...)
	a.diff.Removed = append(a.diff.Removed, delta.Removed...)
	a.diff.Updated = append(a.diff.Updated, delta.Updated...)

	a.doc = next
	for d := range next.Days {
		a.markTouched(next.Days[d].DayNumber)
	}
	return nil
}

// patchNode shallow-merges a JSON patch over the node's top-level fields.
// A null value clears the field; "id" is not patchable. Returns the merged
// node and the sorted field names the patch named.
func patchNode(node *itinerary.Node, patch json.RawMessage) (*itinerary.Node, []string, error) {
	var patchFields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchFields); err != nil {
		return nil, nil, itinerary.NewValidationError("ops.patch", "patch must be a JSON object")
	}
	delete(patchFields, "id")
	if len(patchFields) == 0 {
		return node, nil, nil
	}

	base, err := json.Marshal(node)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal node %s: %w", node.ID, err)
	}
	var baseFields map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseFields); err != nil {
		return nil, nil, fmt.Errorf("remarshal node %s: %w", node.ID, err)
	}
	for k, v := range patchFields {
		if string(v) == "null" {
			delete(baseFields, k)
			continue
		}
		baseFields[k] = v
	}
	mergedRaw, err := json.Marshal(baseFields)
	if err != nil {
		return nil, nil, fmt.Errorf("merge patch for node %s: %w", node.ID, err)
	}
	var merged itinerary.Node
	if err := json.Unmarshal(mergedRaw, &merged); err != nil {
		return nil, nil, itinerary.NewValidationError("ops.patch", err.Error())
	}

	fields := make([]string, 0, len(patchFields))
	for k := range patchFields {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return &merged, fields, nil
}
