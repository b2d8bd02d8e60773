package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/wayplan/wayplan/pkg/ai"
)

// intentRules maps keyword groups to intents. A message that matches rules
// for more than one intent is ambiguous and goes to the AI classifier.
var intentRules = []struct {
	intent Intent
	words  []string
}{
	{IntentMoveTime, []string{"move", "reschedule", "shift", "postpone", "earlier", "later"}},
	{IntentDelete, []string{"delete", "remove", "drop", "cancel", "skip"}},
	{IntentInsert, []string{"add", "insert", "include", "squeeze in", "fit in"}},
	{IntentReplace, []string{"replace", "swap", "substitute", "instead of"}},
	{IntentBooking, []string{"book", "reserve", "reservation"}},
	{IntentUpdate, []string{"change", "update", "rename", "edit", "retitle"}},
	{IntentExplain, []string{"what", "why", "when", "how", "which", "explain", "describe", "tell me", "?"}},
}

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

// intentSchema pins the AI fallback to a single enum token.
const intentSchema = `{
	"type": "object",
	"properties": {
		"intent": {
			"type": "string",
			"enum": ["MOVE_TIME", "INSERT", "DELETE", "REPLACE", "UPDATE", "EXPLAIN", "BOOKING", "UNKNOWN"]
		}
	},
	"required": ["intent"]
}`

// classify resolves the message intent: rule set first, AI when the rules
// are ambiguous or silent, UNKNOWN when both fail.
func (o *Orchestrator) classify(ctx context.Context, text string) Intent {
	if intent, decided := classifyByRules(text); decided {
		return intent
	}
	return o.classifyByAI(ctx, text)
}

// classifyByRules returns the single intent the keyword table selects.
// decided is false when zero or multiple intents matched.
func classifyByRules(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(lower, -1) {
		tokens[w] = true
	}

	var matched []Intent
	for _, rule := range intentRules {
		for _, kw := range rule.words {
			hit := false
			if strings.ContainsAny(kw, " ?") {
				hit = strings.Contains(lower, kw)
			} else {
				hit = tokens[kw]
			}
			if hit {
				matched = append(matched, rule.intent)
				break
			}
		}
	}
	if len(matched) == 1 {
		return matched[0], true
	}
	return IntentUnknown, false
}

// classifyByAI asks the provider chain for a single intent token.
func (o *Orchestrator) classifyByAI(ctx context.Context, text string) Intent {
	prompt := fmt.Sprintf(`Classify the user's travel itinerary request into exactly one intent.

User request: %s

Intents:
- MOVE_TIME: change when an existing stop happens
- INSERT: add a new stop
- DELETE: remove a stop
- REPLACE: swap one stop for another
- UPDATE: change details of a stop such as title, notes or cost
- EXPLAIN: answer a question without changing anything
- BOOKING: book or reserve a stop
- UNKNOWN: anything else, or unclear

Respond with JSON: {"intent": "<INTENT>"}`, text)

	raw, err := o.gen.Generate(ctx, ai.StructuredRequest{
		Prompt:      prompt,
		Schema:      []byte(intentSchema),
		MaxTokens:   16,
		Temperature: 0.1,
	})
	if err != nil {
		slog.Warn("Intent classification failed", "error", err)
		return IntentUnknown
	}
	var out struct {
		Intent Intent `json:"intent"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || !out.Intent.Valid() {
		return IntentUnknown
	}
	return out.Intent
}
