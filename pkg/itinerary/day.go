package itinerary

// Day groups the nodes and transitions for one trip day. DayNumber is
// 1-based and contiguous across the itinerary; Date, when set, anchors bare
// clock times during normalization.
type Day struct {
	DayNumber  int         `json:"dayNumber"`
	Date       string      `json:"date,omitempty"` // YYYY-MM-DD
	Location   string      `json:"location,omitempty"`
	Nodes      []Node      `json:"nodes"`
	Edges      []Edge      `json:"edges,omitempty"`
	Pacing     string      `json:"pacing,omitempty"`
	TimeWindow *TimeWindow `json:"timeWindow,omitempty"`
	Totals     *DayTotals  `json:"totals,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// TimeWindow bounds the active hours of a day, both ends "HH:MM".
type TimeWindow struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// DayTotals caches per-day aggregates. Recomputed after every mutation of
// the day, never authoritative.
type DayTotals struct {
	Cost        float64 `json:"cost"`
	DurationMin int     `json:"durationMin"`
}

// Edge is a directed transition between two nodes of the same day.
type Edge struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	TransitInfo *TransitInfo `json:"transitInfo,omitempty"`
}

// TransitInfo annotates an edge with how to get from one node to the next.
type TransitInfo struct {
	Mode        string `json:"mode,omitempty"`
	DurationMin int    `json:"durationMin,omitempty"`
	Note        string `json:"note,omitempty"`
}

// HasNode reports whether the day contains a node with the given id.
func (d *Day) HasNode(id string) bool {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return true
		}
	}
	return false
}

// RecomputeTotals refreshes the cached cost and duration aggregates from
// the day's current nodes.
func (d *Day) RecomputeTotals() {
	totals := DayTotals{}
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Cost != nil {
			totals.Cost += n.Cost.Amount
		}
		if n.Timing != nil {
			totals.DurationMin += n.Timing.DurationMin
		}
	}
	d.Totals = &totals
}

// ReconcileEdges drops edges that reference nodes no longer present on the
// day. Runs after node operations so the edge closure invariant holds.
func (d *Day) ReconcileEdges() {
	if len(d.Edges) == 0 {
		return
	}
	kept := d.Edges[:0]
	for _, e := range d.Edges {
		if d.HasNode(e.From) && d.HasNode(e.To) {
			kept = append(kept, e)
		}
	}
	d.Edges = kept
}

// Clone returns a deep copy of the day.
func (d *Day) Clone() *Day {
	if d == nil {
		return nil
	}
	out := *d
	out.Warnings = cloneStrings(d.Warnings)
	if d.TimeWindow != nil {
		tw := *d.TimeWindow
		out.TimeWindow = &tw
	}
	if d.Totals != nil {
		t := *d.Totals
		out.Totals = &t
	}
	out.Nodes = make([]Node, len(d.Nodes))
	for i := range d.Nodes {
		out.Nodes[i] = *d.Nodes[i].Clone()
	}
	if d.Edges != nil {
		out.Edges = make([]Edge, len(d.Edges))
		for i, e := range d.Edges {
			out.Edges[i] = e
			if e.TransitInfo != nil {
				ti := *e.TransitInfo
				out.Edges[i].TransitInfo = &ti
			}
		}
	}
	return &out
}
