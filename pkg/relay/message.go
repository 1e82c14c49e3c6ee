package relay

import (
	"encoding/json"
	"fmt"
)

// MessageIDLength is the fixed width of a message identifier. Identifiers
// are UUIDv4 strings; anything longer is truncated defensively rather than
// rejected.
const MessageIDLength = 36

// Message is one decoded channel payload. Fields carries every payload
// field verbatim so the published record can pass them through.
type Message struct {
	ID     string
	Fields map[string]json.RawMessage
}

// DecodeMessage parses a payload as JSON and extracts the required
// message_id string. A payload that is not a JSON object, or whose
// message_id is missing or not a string, is undecodable; the caller drops
// the frame without mutating any state.
func DecodeMessage(payload []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse message payload: %w", err)
	}

	raw, ok := fields["message_id"]
	if !ok {
		return nil, fmt.Errorf("message payload is missing message_id")
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("message_id is not a string: %w", err)
	}
	if len(id) > MessageIDLength {
		id = id[:MessageIDLength]
	}

	return &Message{ID: id, Fields: fields}, nil
}

// Record builds the stream record attributing this message to a consumer.
func (m *Message) Record(consumerID int) Record {
	return Record{MessageID: m.ID, ConsumerID: consumerID, Fields: m.Fields}
}

// Record is the unit appended to the durable stream: the message identifier,
// the id of the consumer that forwarded it, and the pass-through fields of
// the original payload.
type Record struct {
	MessageID  string
	ConsumerID int
	Fields     map[string]json.RawMessage
}

// MarshalPayload serializes the record compactly, preserving pass-through
// fields and overwriting message_id and consumer_id with the attributed
// values.
func (r Record) MarshalPayload() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	id, err := json.Marshal(r.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message_id: %w", err)
	}
	out["message_id"] = id
	out["consumer_id"] = json.RawMessage(fmt.Sprintf("%d", r.ConsumerID))

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record for message %s: %w", r.MessageID, err)
	}
	return data, nil
}
