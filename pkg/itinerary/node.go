package itinerary

import "time"

// NodeType tags what kind of stop a node represents.
type NodeType string

const (
	NodeAttraction    NodeType = "attraction"
	NodeMeal          NodeType = "meal"
	NodeAccommodation NodeType = "accommodation"
	NodeTransport     NodeType = "transport"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeAttraction, NodeMeal, NodeAccommodation, NodeTransport:
		return true
	}
	return false
}

// NodeStatus is the progress state of a single node.
type NodeStatus string

const (
	NodePlanned    NodeStatus = "planned"
	NodeInProgress NodeStatus = "in_progress"
	NodeCompleted  NodeStatus = "completed"
	NodeSkipped    NodeStatus = "skipped"
	NodeCancelled  NodeStatus = "cancelled"
)

// nodeTransitions is the allowed status graph. Any transition not listed
// here is rejected; cancelled is terminal.
var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodePlanned:    {NodeInProgress, NodeSkipped, NodeCancelled},
	NodeInProgress: {NodeCompleted, NodeSkipped, NodeCancelled},
	NodeCompleted:  {NodePlanned, NodeInProgress},
	NodeSkipped:    {NodePlanned, NodeInProgress},
}

// Valid reports whether s is a known node status.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodePlanned, NodeInProgress, NodeCompleted, NodeSkipped, NodeCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status graph allows moving from s to
// next. Self transitions are not moves and return false.
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LabelBooked is attached to a node when a booking completes.
const LabelBooked = "Booked"

// Node is one schedulable item on a day: an attraction, meal, accommodation
// or transport leg. IDs are unique across the whole itinerary.
type Node struct {
	ID         string     `json:"id"`
	Type       NodeType   `json:"type"`
	Title      string     `json:"title"`
	Location   *Location  `json:"location,omitempty"`
	Timing     *Timing    `json:"timing,omitempty"`
	Cost       *Cost      `json:"cost,omitempty"`
	Details    *Details   `json:"details,omitempty"`
	Labels     []string   `json:"labels,omitempty"`
	Tips       *Tips      `json:"tips,omitempty"`
	Links      *Links     `json:"links,omitempty"`
	Locked     bool       `json:"locked"`
	BookingRef string     `json:"bookingRef,omitempty"`
	Status     NodeStatus `json:"status"`
	UpdatedBy  Actor      `json:"updatedBy,omitempty"`
	UpdatedAt  int64      `json:"updatedAt,omitempty"`
}

// Location places a node on the map. Coordinates are optional; when present
// they must be in range.
type Location struct {
	Name    string   `json:"name,omitempty"`
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Cost is the expected spend for a node.
type Cost struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Per      string  `json:"per,omitempty"` // "person" or "group"
}

// Details carries descriptive metadata that the engine never interprets.
type Details struct {
	Category string         `json:"category,omitempty"`
	Rating   float64        `json:"rating,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Tips are advisory strings surfaced to travelers, mostly written by the
// enrichment agent.
type Tips struct {
	BestTime string   `json:"bestTime,omitempty"`
	Travel   string   `json:"travel,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Links are outbound references for a node.
type Links struct {
	BookingURL string `json:"bookingUrl,omitempty"`
	Website    string `json:"website,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// IsBooked reports whether a booking reference is attached. Booked is not
// the same as locked; bookings never lock a node by themselves.
func (n *Node) IsBooked() bool {
	return n.BookingRef != ""
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AddLabel appends the label if not already present.
func (n *Node) AddLabel(label string) {
	if !n.HasLabel(label) {
		n.Labels = append(n.Labels, label)
	}
}

// Stamp records who touched the node and when.
func (n *Node) Stamp(by Actor) {
	n.UpdatedBy = by
	n.UpdatedAt = time.Now().UnixMilli()
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Labels = cloneStrings(n.Labels)
	if n.Location != nil {
		loc := *n.Location
		if n.Location.Lat != nil {
			v := *n.Location.Lat
			loc.Lat = &v
		}
		if n.Location.Lng != nil {
			v := *n.Location.Lng
			loc.Lng = &v
		}
		out.Location = &loc
	}
	if n.Timing != nil {
		out.Timing = n.Timing.clone()
	}
	if n.Cost != nil {
		c := *n.Cost
		out.Cost = &c
	}
	if n.Details != nil {
		det := *n.Details
		det.Tags = cloneStrings(n.Details.Tags)
		if n.Details.Extra != nil {
			det.Extra = make(map[string]any, len(n.Details.Extra))
			for k, v := range n.Details.Extra {
				det.Extra[k] = v
			}
		}
		out.Details = &det
	}
	if n.Tips != nil {
		tips := *n.Tips
		tips.Warnings = cloneStrings(n.Tips.Warnings)
		out.Tips = &tips
	}
	if n.Links != nil {
		links := *n.Links
		out.Links = &links
	}
	return &out
}
