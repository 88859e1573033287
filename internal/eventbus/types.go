package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the payload variant of an event. Payloads are decoded into their
// typed variant once, at the bus boundary; handlers never see raw maps.
type Kind string

const (
	KindMessage  Kind = "message"
	KindSSE      Kind = "sse"
	KindTool     Kind = "tool"
	KindActivity Kind = "activity"
	KindSystem   Kind = "system"
	KindLog      Kind = "log"
)

// Payload is the closed set of event payload variants.
type Payload interface {
	Kind() Kind
}

// MessagePayload is a chat message delivered to every agent in the world.
// Sender is a human identifier, "world", "system", or a member agent id.
type MessagePayload struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

func (MessagePayload) Kind() Kind { return KindMessage }

// SSEPayload carries incremental completion output for streaming consumers.
// Phase is one of start, chunk, end, error.
type SSEPayload struct {
	AgentID   string `json:"agent_id"`
	MessageID string `json:"message_id,omitempty"`
	Phase     string `json:"phase"`
	Content   string `json:"content,omitempty"`
}

func (SSEPayload) Kind() Kind { return KindSSE }

// ToolPayload reports a tool invocation by an agent.
type ToolPayload struct {
	AgentID string          `json:"agent_id"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input,omitempty"`
}

func (ToolPayload) Kind() Kind { return KindTool }

// ActivityPayload signals agent activity state changes (thinking, idle).
type ActivityPayload struct {
	AgentID string `json:"agent_id"`
	State   string `json:"state"`
}

func (ActivityPayload) Kind() Kind { return KindActivity }

// SystemPayload is an operational notice, e.g. a turn-limit warning. System
// notices never solicit agent replies.
type SystemPayload struct {
	Content string `json:"content"`
}

func (SystemPayload) Kind() Kind { return KindSystem }

// LogPayload surfaces a log line on the bus for UI consoles.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (LogPayload) Kind() Kind { return KindLog }

// Event is one bus entry, journaled and broadcast.
type Event struct {
	ID        string    `json:"id"`
	WorldID   string    `json:"world_id"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON flattens the kind tag next to the payload.
func (e Event) MarshalJSON() ([]byte, error) {
	kind := Kind("")
	if e.Payload != nil {
		kind = e.Payload.Kind()
	}
	return json.Marshal(struct {
		ID        string    `json:"id"`
		WorldID   string    `json:"world_id"`
		Kind      Kind      `json:"kind"`
		Payload   Payload   `json:"payload"`
		CreatedAt time.Time `json:"created_at"`
	}{e.ID, e.WorldID, kind, e.Payload, e.CreatedAt})
}

func decodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindMessage:
		var p MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		return p, nil
	case KindSSE:
		var p SSEPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode sse payload: %w", err)
		}
		return p, nil
	case KindTool:
		var p ToolPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode tool payload: %w", err)
		}
		return p, nil
	case KindActivity:
		var p ActivityPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode activity payload: %w", err)
		}
		return p, nil
	case KindSystem:
		var p SystemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode system payload: %w", err)
		}
		return p, nil
	case KindLog:
		var p LogPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode log payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
