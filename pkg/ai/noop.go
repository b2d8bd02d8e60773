package ai

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Noop is the terminal chain provider: it answers every request with a
// deterministic minimal document so the pipeline keeps functioning when no
// real provider is configured or reachable. The output shape is picked from
// the request schema; trip parameters are recovered from the prompt text.
type Noop struct{}

// NewNoop creates the provider.
func NewNoop() *Noop { return &Noop{} }

func (c *Noop) Name() string { return "noop" }

var (
	dayCountPattern = regexp.MustCompile(`(\d+)\s+day`)
	datePattern     = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	destPattern     = regexp.MustCompile(`(?i)destination:\s*([^\n|,]+)`)
)

// GenerateStructured never fails.
func (c *Noop) GenerateStructured(_ context.Context, req StructuredRequest) (string, error) {
	switch {
	case bytes.Contains(req.Schema, []byte(`"days"`)):
		return c.minimalDocument(req.Prompt), nil
	case bytes.Contains(req.Schema, []byte(`"ops"`)):
		return `{"scope":"trip","ops":[]}`, nil
	case bytes.Contains(req.Schema, []byte(`"intent"`)):
		return `{"intent":"UNKNOWN"}`, nil
	default:
		return "{}", nil
	}
}

// minimalDocument builds a one-node-per-day itinerary from whatever trip
// parameters the prompt mentions.
func (c *Noop) minimalDocument(prompt string) string {
	destination := "your destination"
	if m := destPattern.FindStringSubmatch(prompt); len(m) > 1 {
		destination = strings.TrimSpace(m[1])
	}
	days := 1
	if m := dayCountPattern.FindStringSubmatch(prompt); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n <= 60 {
			days = n
		}
	}
	var startDate time.Time
	if m := datePattern.FindString(prompt); m != "" {
		if ts, err := time.Parse("2006-01-02", m); err == nil {
			startDate = ts
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`{"summary":"A %d-day trip to %s","status":"completed","days":[`, days, destination))
	for i := 0; i < days; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		date := ""
		if !startDate.IsZero() {
			date = fmt.Sprintf(`"date":%q,`, startDate.AddDate(0, 0, i).Format("2006-01-02"))
		}
		sb.WriteString(fmt.Sprintf(
			`{"dayNumber":%d,%s"location":%q,"nodes":[{"id":"d%d-n1","type":"attraction","title":"Explore %s","status":"planned"}]}`,
			i+1, date, destination, i+1, destination))
	}
	sb.WriteString("]}")
	return sb.String()
}
