// Package itinerary contains the normalized travel itinerary document model:
// the itinerary/day/node/edge hierarchy, change sets and diffs, revisions,
// validation, and time normalization. The package is pure data; persistence
// and mutation rules live in pkg/store and pkg/engine.
package itinerary

import "time"

// Status is the lifecycle state of an itinerary document.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known itinerary status.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusGenerating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Actor identifies who authored a change.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAgent  Actor = "agent"
	ActorSystem Actor = "system"
)

// AnonymousOwner is the owner id used when no identity is presented.
const AnonymousOwner = "anonymous"

// Itinerary is the root document. Version starts at 1 and increases by
// exactly one per applied change set; every version has a matching revision.
type Itinerary struct {
	ID        string                 `json:"itineraryId"`
	Version   int                    `json:"version"`
	OwnerID   string                 `json:"ownerId"`
	CreatedAt int64                  `json:"createdAt"`
	UpdatedAt int64                  `json:"updatedAt"`
	Summary   string                 `json:"summary,omitempty"`
	Currency  string                 `json:"currency,omitempty"`
	Themes    []string               `json:"themes,omitempty"`
	Days      []Day                  `json:"days"`
	Settings  Settings               `json:"settings"`
	Agents    map[string]AgentStatus `json:"agents,omitempty"`
	Status    Status                 `json:"status"`
}

// Settings are per-trip behavior preferences.
type Settings struct {
	AutoApply    bool   `json:"autoApply"`
	DefaultScope string `json:"defaultScope,omitempty"` // "trip" or "day"
	RespectLocks bool   `json:"respectLocks"`
}

// AgentStatus records the most recent run of one agent kind against this
// itinerary. It is written by the run scheduler, never by agents themselves.
type AgentStatus struct {
	RunID      string `json:"runId"`
	Status     string `json:"status"` // queued, running, succeeded, failed
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	StartedAt  int64  `json:"startedAt,omitempty"`
	FinishedAt int64  `json:"finishedAt,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary is the listing projection of an itinerary.
type Summary struct {
	ID        string `json:"itineraryId"`
	OwnerID   string `json:"ownerId"`
	Summary   string `json:"summary,omitempty"`
	Status    Status `json:"status"`
	Version   int    `json:"version"`
	Days      int    `json:"days"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Summarize projects the itinerary into its listing form.
func (it *Itinerary) Summarize() Summary {
	return Summary{
		ID:        it.ID,
		OwnerID:   it.OwnerID,
		Summary:   it.Summary,
		Status:    it.Status,
		Version:   it.Version,
		Days:      len(it.Days),
		UpdatedAt: it.UpdatedAt,
	}
}

// FindNode returns the node with the given id, or nil. The pointer aliases
// the document and is invalidated by structural edits.
func (it *Itinerary) FindNode(id string) *Node {
	for d := range it.Days {
		for n := range it.Days[d].Nodes {
			if it.Days[d].Nodes[n].ID == id {
				return &it.Days[d].Nodes[n]
			}
		}
	}
	return nil
}

// NodePosition returns the day and node indexes of the node with the given
// id. ok is false when the id is not present.
func (it *Itinerary) NodePosition(id string) (dayIdx, nodeIdx int, ok bool) {
	for d := range it.Days {
		for n := range it.Days[d].Nodes {
			if it.Days[d].Nodes[n].ID == id {
				return d, n, true
			}
		}
	}
	return 0, 0, false
}

// Day returns the day with the given 1-based number, or nil.
func (it *Itinerary) Day(number int) *Day {
	for d := range it.Days {
		if it.Days[d].DayNumber == number {
			return &it.Days[d]
		}
	}
	return nil
}

// Touch stamps the document-level update time.
func (it *Itinerary) Touch() {
	it.UpdatedAt = time.Now().UnixMilli()
}

// Clone returns a deep copy. The copy shares nothing with the receiver.
func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	out := *it
	out.Themes = cloneStrings(it.Themes)
	if it.Agents != nil {
		out.Agents = make(map[string]AgentStatus, len(it.Agents))
		for k, v := range it.Agents {
			out.Agents[k] = v
		}
	}
	out.Days = make([]Day, len(it.Days))
	for i := range it.Days {
		out.Days[i] = *it.Days[i].Clone()
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
