// Package events provides the in-process event bus and real-time delivery
// to WebSocket clients.
//
// Topology: one topic per itinerary for document changes
// ("itinerary.<id>"), one per itinerary for agent progress ("agent.<id>"),
// and one per itinerary for chat responses ("chat.<id>"). Delivery is
// at-most-once with per-topic ordering; clients that miss events resync by
// re-reading the document over REST. There is no catch-up replay.
//
// The change engine is the only publisher of itinerary_updated events, and
// it publishes only after the revision that produced the new version is
// durable, so subscribers never observe a version that could not be read
// back.
package events

// Event types carried in the "type" field of every payload.
const (
	// Document change, published once per applied change set.
	EventTypeItineraryUpdated = "itinerary_updated"

	// Generation lifecycle on the itinerary topic.
	EventTypePhaseTransition    = "phase_transition"
	EventTypeDayCompleted       = "day_completed"
	EventTypeGenerationComplete = "generation_complete"

	// Agent run lifecycle and progress on the agent topic.
	EventTypeAgentStatus = "agent_status"

	// Orchestrator answers mirrored to other tabs on the chat topic.
	EventTypeChatResponse = "chat_response"
)

// Agent run status values (used in AgentStatusPayload.Status).
const (
	AgentStatusQueued    = "queued"
	AgentStatusRunning   = "running"
	AgentStatusSucceeded = "succeeded"
	AgentStatusFailed    = "failed"
	AgentStatusCancelled = "cancelled"
)

// Topic prefixes.
const (
	topicItineraryPrefix = "itinerary."
	topicAgentPrefix     = "agent."
	topicChatPrefix      = "chat."
)

// ItineraryTopic returns the document-change topic for an itinerary.
func ItineraryTopic(itineraryID string) string {
	return topicItineraryPrefix + itineraryID
}

// AgentTopic returns the agent-progress topic for an itinerary.
func AgentTopic(itineraryID string) string {
	return topicAgentPrefix + itineraryID
}

// ChatTopic returns the chat-response topic for an itinerary.
func ChatTopic(itineraryID string) string {
	return topicChatPrefix + itineraryID
}

// ValidTopic reports whether clients may subscribe to the given topic name.
func ValidTopic(topic string) bool {
	for _, prefix := range []string{topicItineraryPrefix, topicAgentPrefix, topicChatPrefix} {
		if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action string `json:"action"`          // "subscribe", "unsubscribe", "ping"
	Topic  string `json:"topic,omitempty"` // topic name (e.g. "itinerary.abc-123")
}
