package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// explain synthesizes a textual answer from the document alone. When the
// message clearly points at one node the answer focuses on it; otherwise it
// summarizes the trip.
func explain(doc *itinerary.Itinerary, text string) string {
	candidates := scoreCandidates(doc, text, 0)
	if len(candidates) > 0 {
		if node := doc.FindNode(candidates[0].ID); node != nil {
			return describeNode(doc, node, candidates[0].Day)
		}
	}
	return describeTrip(doc)
}

func describeNode(doc *itinerary.Itinerary, node *itinerary.Node, dayNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is a %s on day %d", node.Title, node.Type, dayNumber)
	if day := doc.Day(dayNumber); day != nil && day.Date != "" {
		fmt.Fprintf(&b, " (%s)", day.Date)
	}
	if node.Timing != nil && node.Timing.StartTime != nil {
		fmt.Fprintf(&b, ", starting at %s", clock(*node.Timing.StartTime))
		if node.Timing.EndTime != nil {
			fmt.Fprintf(&b, " until %s", clock(*node.Timing.EndTime))
		}
	}
	if node.Cost != nil && node.Cost.Amount > 0 {
		currency := node.Cost.Currency
		if currency == "" {
			currency = doc.Currency
		}
		fmt.Fprintf(&b, ", expected cost %.0f %s", node.Cost.Amount, currency)
	}
	b.WriteString(".")
	if node.IsBooked() {
		fmt.Fprintf(&b, " It is booked under reference %s.", node.BookingRef)
	}
	if node.Locked {
		b.WriteString(" It is locked against changes.")
	}
	if node.Tips != nil {
		for _, w := range node.Tips.Warnings {
			fmt.Fprintf(&b, " Note: %s.", w)
		}
	}
	return b.String()
}

func describeTrip(doc *itinerary.Itinerary) string {
	var b strings.Builder
	if doc.Summary != "" {
		b.WriteString(strings.TrimSuffix(doc.Summary, "."))
	} else {
		fmt.Fprintf(&b, "A %d-day itinerary", len(doc.Days))
	}
	stops := 0
	for d := range doc.Days {
		stops += len(doc.Days[d].Nodes)
	}
	fmt.Fprintf(&b, ": %d days, %d stops, at version %d.", len(doc.Days), stops, doc.Version)
	for d := range doc.Days {
		day := &doc.Days[d]
		titles := make([]string, 0, len(day.Nodes))
		for n := range day.Nodes {
			titles = append(titles, day.Nodes[n].Title)
		}
		fmt.Fprintf(&b, " Day %d", day.DayNumber)
		if day.Date != "" {
			fmt.Fprintf(&b, " (%s)", day.Date)
		}
		fmt.Fprintf(&b, ": %s.", strings.Join(titles, ", "))
	}
	return b.String()
}

func clock(millis int64) string {
	return time.UnixMilli(millis).UTC().Format("15:04")
}
