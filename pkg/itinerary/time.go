package itinerary

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Timings are stored as UTC epoch milliseconds. Input may arrive as epoch
// millis, RFC3339 strings, or bare "HH:MM" clock values; clocks stay pending
// inside the struct until Normalize anchors them to the owning day's date.
type Timing struct {
	StartTime   *int64 `json:"startTime,omitempty"`
	EndTime     *int64 `json:"endTime,omitempty"`
	DurationMin int    `json:"durationMin,omitempty"`

	startClock string
	endClock   string
}

var clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// UnmarshalJSON accepts the three wire forms for start and end times.
func (t *Timing) UnmarshalJSON(data []byte) error {
	var raw struct {
		StartTime   json.RawMessage `json:"startTime"`
		EndTime     json.RawMessage `json:"endTime"`
		DurationMin int             `json:"durationMin"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.DurationMin = raw.DurationMin
	var err error
	if t.StartTime, t.startClock, err = parseInstant(raw.StartTime); err != nil {
		return NewValidationError("timing.startTime", err.Error())
	}
	if t.EndTime, t.endClock, err = parseInstant(raw.EndTime); err != nil {
		return NewValidationError("timing.endTime", err.Error())
	}
	return nil
}

// parseInstant decodes one time value: epoch millis pass through, RFC3339
// converts, a bare clock is returned unresolved for Normalize to anchor.
func parseInstant(raw json.RawMessage) (*int64, string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "", nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return &ms, "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, "", fmt.Errorf("expected epoch millis or time string, got %s", string(raw))
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		v := ts.UnixMilli()
		return &v, "", nil
	}
	if clockPattern.MatchString(s) {
		return nil, s, nil
	}
	return nil, "", fmt.Errorf("unrecognized time value %q", s)
}

// resolveClocks anchors any pending clock values to the given day date.
func (t *Timing) resolveClocks(date string) error {
	if t.startClock != "" {
		ms, err := clockToMillis(date, t.startClock)
		if err != nil {
			return err
		}
		t.StartTime = &ms
		t.startClock = ""
	}
	if t.endClock != "" {
		ms, err := clockToMillis(date, t.endClock)
		if err != nil {
			return err
		}
		t.EndTime = &ms
		t.endClock = ""
	}
	return nil
}

// pending reports whether unresolved clock values remain.
func (t *Timing) pending() bool {
	return t.startClock != "" || t.endClock != ""
}

// clockToMillis interprets "HH:MM" on the given YYYY-MM-DD date as a UTC
// instant. A clock value without a date cannot be anchored and is rejected.
func clockToMillis(date, clock string) (int64, error) {
	if date == "" {
		return 0, NewValidationError("timing", fmt.Sprintf("clock time %q requires the day to have a date", clock))
	}
	ts, err := time.Parse("2006-01-02 15:04", date+" "+clock)
	if err != nil {
		return 0, NewValidationError("timing", fmt.Sprintf("invalid clock time %q on date %q", clock, date))
	}
	return ts.UTC().UnixMilli(), nil
}

// AnchorTimes resolves any pending clock values in the node's timing against
// the given day date. Nodes without timing are left alone.
func (n *Node) AnchorTimes(date string) error {
	if n.Timing == nil {
		return nil
	}
	return n.Timing.resolveClocks(date)
}

func (t *Timing) clone() *Timing {
	if t == nil {
		return nil
	}
	out := *t
	if t.StartTime != nil {
		v := *t.StartTime
		out.StartTime = &v
	}
	if t.EndTime != nil {
		v := *t.EndTime
		out.EndTime = &v
	}
	return &out
}

// FlexTime is a single time value in a change operation, accepted in the
// same three wire forms as Timing fields.
type FlexTime struct {
	Millis *int64
	Clock  string
}

// UnmarshalJSON decodes the flexible wire form.
func (f *FlexTime) UnmarshalJSON(data []byte) error {
	ms, clock, err := parseInstant(data)
	if err != nil {
		return NewValidationError("time", err.Error())
	}
	f.Millis = ms
	f.Clock = clock
	return nil
}

// MarshalJSON emits epoch millis when resolved, the raw clock otherwise.
func (f FlexTime) MarshalJSON() ([]byte, error) {
	if f.Millis != nil {
		return json.Marshal(*f.Millis)
	}
	if f.Clock != "" {
		return json.Marshal(f.Clock)
	}
	return []byte("null"), nil
}

// Resolve returns the instant in epoch millis, anchoring a pending clock to
// the given day date when needed.
func (f FlexTime) Resolve(date string) (int64, error) {
	if f.Millis != nil {
		return *f.Millis, nil
	}
	if f.Clock != "" {
		return clockToMillis(date, f.Clock)
	}
	return 0, NewValidationError("time", "empty time value")
}
