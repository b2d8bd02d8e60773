package itinerary

import "encoding/json"

// Change set scopes.
const (
	ScopeTrip = "trip"
	ScopeDay  = "day"
)

// Change operation kinds.
const (
	OpInsert          = "insert"
	OpDelete          = "delete"
	OpMove            = "move"
	OpUpdate          = "update"
	OpReplace         = "replace"
	OpUpdateEdge      = "update_edge"
	OpReplaceDocument = "replace_document"
)

// ChangeSet is the only mutation currency in the system: users, agents and
// the booking flow all express edits as a set of operations applied
// atomically against one itinerary version.
type ChangeSet struct {
	Scope       string      `json:"scope,omitempty"`
	Day         int         `json:"day,omitempty"` // required when scope is "day"
	Ops         []Operation `json:"ops"`
	Preferences Preferences `json:"preferences"`
	Author      Actor       `json:"author,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Operation is one edit inside a change set, a tagged union keyed by Op.
// Fields not used by a given kind stay empty.
type Operation struct {
	Op string `json:"op"`

	// insert and move positioning: an anchor node id, or "" for day start
	After string `json:"after,omitempty"`
	Node  *Node  `json:"node,omitempty"` // insert and replace payload

	// delete, move, update, replace
	ID string `json:"id,omitempty"`

	// move
	StartTime *FlexTime `json:"startTime,omitempty"`
	EndTime   *FlexTime `json:"endTime,omitempty"`

	// update
	Patch json.RawMessage `json:"patch,omitempty"`

	// update_edge
	Day         int          `json:"day,omitempty"`
	From        string       `json:"from,omitempty"`
	To          string       `json:"to,omitempty"`
	TransitInfo *TransitInfo `json:"transitInfo,omitempty"`

	// replace_document
	Document *Itinerary `json:"document,omitempty"`

	// Author overrides the set-level author for mixed-origin sets, which
	// is what the user-first tie-break arbitrates on.
	Author Actor `json:"author,omitempty"`
}

// Preferences tune how a change set is applied.
type Preferences struct {
	UserFirst    bool `json:"userFirst"`
	AutoApply    bool `json:"autoApply"`
	RespectLocks bool `json:"respectLocks"`
}

// DefaultPreferences returns the documented defaults: user edits win ties
// and locks are honored.
func DefaultPreferences() Preferences {
	return Preferences{UserFirst: true, RespectLocks: true}
}

// UnmarshalJSON applies defaults for omitted preference fields.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	type alias Preferences
	a := alias(DefaultPreferences())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Preferences(a)
	return nil
}

// UnmarshalJSON decodes a change set, filling preference defaults when the
// preferences object is absent entirely.
func (cs *ChangeSet) UnmarshalJSON(data []byte) error {
	type alias ChangeSet
	a := alias{Preferences: DefaultPreferences()}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*cs = ChangeSet(a)
	return nil
}

// OpAuthor resolves the author of one operation: the op-level author wins,
// then the set-level author, then user.
func (cs *ChangeSet) OpAuthor(op *Operation) Actor {
	if op.Author != "" {
		return op.Author
	}
	if cs.Author != "" {
		return cs.Author
	}
	return ActorUser
}

// Empty reports whether the set carries no operations.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Ops) == 0
}

// Validate checks the structural rules that do not need the target
// document: known scope and op kinds, day presence for day scope, and
// per-kind required fields.
func (cs *ChangeSet) Validate() error {
	switch cs.Scope {
	case "", ScopeTrip:
	case ScopeDay:
		if cs.Day < 1 {
			return NewValidationError("day", "day scope requires a 1-based day number")
		}
	default:
		return NewValidationError("scope", "scope must be 'trip' or 'day'")
	}
	for i := range cs.Ops {
		op := &cs.Ops[i]
		switch op.Op {
		case OpInsert:
			if op.Node == nil {
				return NewValidationError("ops.node", "insert requires a node")
			}
		case OpDelete, OpMove:
			if op.ID == "" {
				return NewValidationError("ops.id", op.Op+" requires a node id")
			}
		case OpUpdate:
			if op.ID == "" {
				return NewValidationError("ops.id", "update requires a node id")
			}
			if len(op.Patch) == 0 {
				return NewValidationError("ops.patch", "update requires a patch")
			}
		case OpReplace:
			if op.ID == "" || op.Node == nil {
				return NewValidationError("ops", "replace requires a node id and a node")
			}
		case OpUpdateEdge:
			if op.Day < 1 || op.From == "" || op.To == "" {
				return NewValidationError("ops", "update_edge requires day, from and to")
			}
		case OpReplaceDocument:
			if op.Document == nil {
				return NewValidationError("ops.document", "replace_document requires a document")
			}
		default:
			return NewValidationError("ops.op", "unknown operation "+op.Op)
		}
	}
	return nil
}
