package itinerary

import (
	"bytes"
	"encoding/json"
	"sort"
)

// NodeRef points at a node by id plus the 1-based day it lives on.
type NodeRef struct {
	NodeID string `json:"nodeId"`
	Day    int    `json:"day"`
}

// UpdatedNode names a changed node and which of its fields changed.
type UpdatedNode struct {
	NodeRef       NodeRef  `json:"nodeRef"`
	ChangedFields []string `json:"changedFields"`
}

// Diff summarizes what one applied (or proposed) change set did. Warnings
// carry per-operation soft failures such as lock rejections and no-op
// deletes; they never abort the apply.
type Diff struct {
	Added     []NodeRef     `json:"added"`
	Removed   []NodeRef     `json:"removed"`
	Updated   []UpdatedNode `json:"updated"`
	Warnings  []string      `json:"warnings,omitempty"`
	ToVersion int           `json:"toVersion"`
}

// NewDiff returns a diff with allocated slices so JSON renders arrays, not
// nulls.
func NewDiff() *Diff {
	return &Diff{
		Added:   []NodeRef{},
		Removed: []NodeRef{},
		Updated: []UpdatedNode{},
	}
}

// Empty reports whether the diff records no document changes. Warnings do
// not count; a set whose every op was skipped is still a no-op.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// AddWarning appends a soft failure note.
func (d *Diff) AddWarning(msg string) {
	d.Warnings = append(d.Warnings, msg)
}

// Revision is one entry in an itinerary's append-only history: the diff
// that produced a version together with a full snapshot for undo.
type Revision struct {
	ItineraryID string     `json:"itineraryId"`
	Version     int        `json:"version"`
	Timestamp   int64      `json:"timestamp"`
	Description string     `json:"description"`
	Author      Actor      `json:"author"`
	Diff        *Diff      `json:"diff,omitempty"`
	Snapshot    *Itinerary `json:"snapshot,omitempty"`
}

// DiffDocuments computes the node-level difference between two documents:
// nodes only in next are added, nodes only in prev are removed, nodes in
// both whose content differs are updated. Used for whole-document changes
// (undo restores, document replacement) where no per-op accounting exists.
func DiffDocuments(prev, next *Itinerary) *Diff {
	diff := NewDiff()

	prevNodes := indexNodes(prev)
	nextNodes := indexNodes(next)

	var nextDays []Day
	if next != nil {
		nextDays = next.Days
	}
	var prevDays []Day
	if prev != nil {
		prevDays = prev.Days
	}
	for _, day := range nextDays {
		for i := range day.Nodes {
			node := &day.Nodes[i]
			old, existed := prevNodes[node.ID]
			if !existed {
				diff.Added = append(diff.Added, NodeRef{NodeID: node.ID, Day: day.DayNumber})
				continue
			}
			if fields := ChangedNodeFields(old.node, node); len(fields) > 0 {
				diff.Updated = append(diff.Updated, UpdatedNode{
					NodeRef:       NodeRef{NodeID: node.ID, Day: day.DayNumber},
					ChangedFields: fields,
				})
			}
		}
	}
	for _, day := range prevDays {
		for i := range day.Nodes {
			if _, still := nextNodes[day.Nodes[i].ID]; !still {
				diff.Removed = append(diff.Removed, NodeRef{NodeID: day.Nodes[i].ID, Day: day.DayNumber})
			}
		}
	}
	return diff
}

type indexedNode struct {
	node *Node
	day  int
}

func indexNodes(it *Itinerary) map[string]indexedNode {
	out := make(map[string]indexedNode)
	if it == nil {
		return out
	}
	for d := range it.Days {
		for n := range it.Days[d].Nodes {
			node := &it.Days[d].Nodes[n]
			out[node.ID] = indexedNode{node: node, day: it.Days[d].DayNumber}
		}
	}
	return out
}

// ChangedNodeFields returns the sorted top-level JSON field names on which
// the two nodes differ. Audit fields (updatedAt, updatedBy) are excluded:
// they change on every mutation and would drown out the real delta.
func ChangedNodeFields(a, b *Node) []string {
	am := nodeFieldMap(a)
	bm := nodeFieldMap(b)
	changed := make(map[string]bool)
	for k, av := range am {
		if !bytes.Equal(av, bm[k]) {
			changed[k] = true
		}
	}
	for k := range bm {
		if _, ok := am[k]; !ok {
			changed[k] = true
		}
	}
	delete(changed, "updatedAt")
	delete(changed, "updatedBy")
	out := make([]string, 0, len(changed))
	for k := range changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nodeFieldMap(n *Node) map[string]json.RawMessage {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}
