package events

import (
	"github.com/wayplan/wayplan/pkg/itinerary"
)

// ItineraryUpdatedPayload is the payload for itinerary_updated events.
// Published exactly once per applied change set, after the revision is
// durable.
type ItineraryUpdatedPayload struct {
	Type        string          `json:"type"` // always EventTypeItineraryUpdated
	ItineraryID string          `json:"itineraryId"`
	ToVersion   int             `json:"toVersion"`
	Author      itinerary.Actor `json:"author"`
	Description string          `json:"description,omitempty"`
	Diff        *itinerary.Diff `json:"diff,omitempty"`
	Timestamp   string          `json:"timestamp"` // RFC3339Nano
}

// PhaseTransitionPayload is the payload for phase_transition events.
// Published when the itinerary lifecycle status changes (planning →
// generating → completed / failed).
type PhaseTransitionPayload struct {
	Type        string           `json:"type"` // always EventTypePhaseTransition
	ItineraryID string           `json:"itineraryId"`
	From        itinerary.Status `json:"from"`
	To          itinerary.Status `json:"to"`
	Timestamp   string           `json:"timestamp"` // RFC3339Nano
}

// DayCompletedPayload is the payload for day_completed events, published as
// initial generation finishes each day.
type DayCompletedPayload struct {
	Type        string `json:"type"` // always EventTypeDayCompleted
	ItineraryID string `json:"itineraryId"`
	Day         int    `json:"day"` // 1-based
	TotalDays   int    `json:"totalDays"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// GenerationCompletePayload is the payload for generation_complete events.
type GenerationCompletePayload struct {
	Type        string `json:"type"` // always EventTypeGenerationComplete
	ItineraryID string `json:"itineraryId"`
	ToVersion   int    `json:"toVersion"`
	Summary     string `json:"summary,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// AgentStatusPayload is the payload for agent_status events. One event per
// lifecycle transition and per progress checkpoint of an agent run.
type AgentStatusPayload struct {
	Type        string `json:"type"` // always EventTypeAgentStatus
	ItineraryID string `json:"itineraryId"`
	RunID       string `json:"runId"`
	Kind        string `json:"kind"`   // planner, enrichment
	Status      string `json:"status"` // queued, running, succeeded, failed, cancelled
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	Step        string `json:"step,omitempty"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// ChatResponsePayload is the payload for chat_response events, mirroring
// orchestrator answers to every open tab of the conversation.
type ChatResponsePayload struct {
	Type        string `json:"type"` // always EventTypeChatResponse
	ItineraryID string `json:"itineraryId"`
	Response    any    `json:"response"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}
