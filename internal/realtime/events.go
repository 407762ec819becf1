package realtime

import "encoding/json"

// Event types pushed to subscribers.
const (
	EventMessage    = "message"
	EventReply      = "reply"
	EventVoteUpdate = "vote_update"
	EventDMMessage  = "dm_message"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
)

// Event is a JSON payload fanned out to the connections of a topic.
// Fields are flattened next to "type" when encoded.
type Event struct {
	Type   string
	Fields map[string]any
}

// NewEvent builds an event of the given type.
func NewEvent(eventType string, fields map[string]any) Event {
	return Event{Type: eventType, Fields: fields}
}

// MarshalJSON encodes the event as {"type": ..., <fields>}.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(e.Fields)+1)
	for key, value := range e.Fields {
		payload[key] = value
	}
	payload["type"] = e.Type
	return json.Marshal(payload)
}

// DMTopic returns the broadcast topic of a direct-message conversation.
func DMTopic(conversationID string) string {
	return "dm-" + conversationID
}
