package session

import (
	"encoding/json"
	"fmt"
)

// Event is the interface implemented by all events received from the
// backend over the chat WebSocket. Use a type switch to handle events:
//
//	switch e := event.(type) {
//	case *StreamChunkEvent:
//	    fmt.Print(e.Content)
//	case *DoneEvent:
//	    // turn complete
//	}
type Event interface {
	// EventType returns the wire type tag for this event.
	EventType() string
}

// StreamChunkEvent carries an incremental piece of a streamed reply.
// Content and Thinking are deltas, not cumulative text.
type StreamChunkEvent struct {
	EventID        string `json:"event_id,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Content        string `json:"content"`
	Thinking       string `json:"thinking,omitempty"`
	Role           string `json:"role"`
	AgentID        *int   `json:"agent_id,omitempty"`
	Name           string `json:"name,omitempty"`
	VoiceReference string `json:"voice_reference,omitempty"`
	ConversationID int    `json:"conversation_id"`
	FrameID        int    `json:"frame_id"`
}

func (e *StreamChunkEvent) EventType() string { return "stream_chunk" }

// AgentSwitchEvent signals that the backend handed the conversation to a
// different agent mid-stream.
type AgentSwitchEvent struct {
	EventID       string `json:"event_id,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	FromAgentID   *int   `json:"from_agent_id,omitempty"`
	FromAgentName string `json:"from_agent_name,omitempty"`
	ToAgentID     *int   `json:"to_agent_id,omitempty"`
	ToAgentName   string `json:"to_agent_name,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (e *AgentSwitchEvent) EventType() string { return "agent_switch" }

// DoneEvent marks the end of a streamed reply.
type DoneEvent struct {
	EventID        string `json:"event_id,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	ConversationID int    `json:"conversation_id"`
	FrameID        int    `json:"frame_id"`
}

func (e *DoneEvent) EventType() string { return "done" }

// ErrorEvent reports a backend or transport error. Events with
// Code == ErrorCodeConnectionLost are synthesized locally when the
// connection drops unexpectedly.
type ErrorEvent struct {
	EventID   string `json:"event_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// ErrorCodeConnectionLost marks locally synthesized errors emitted when
// the transport closes without an intentional disconnect.
const ErrorCodeConnectionLost = "CONNECTION_LOST"

// ToolApprovalRequestEvent asks the client to approve or deny a tool
// invocation before the backend executes it.
type ToolApprovalRequestEvent struct {
	EventID     string          `json:"event_id,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	ApprovalID  string          `json:"approval_id"`
	ToolName    string          `json:"tool_name"`
	ToolArgs    json.RawMessage `json:"tool_args,omitempty"`
	AgentID     *int            `json:"agent_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	RiskLevel   string          `json:"risk_level,omitempty"`
}

func (e *ToolApprovalRequestEvent) EventType() string { return "tool_approval_request" }

// VisionResultEvent carries detection results for a streamed camera
// frame. Payloads are passed through opaquely.
type VisionResultEvent struct {
	EventID   string          `json:"event_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	FrameID   int             `json:"frame_id,omitempty"`
	Faces     json.RawMessage `json:"faces,omitempty"`
	Gestures  json.RawMessage `json:"gestures,omitempty"`
}

func (e *VisionResultEvent) EventType() string { return "vision_result" }

// MediaStateEvent reports playback state for server-driven media.
type MediaStateEvent struct {
	EventID   string          `json:"event_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	State     string          `json:"state"`
	Volume    float64         `json:"volume,omitempty"`
	Track     json.RawMessage `json:"track,omitempty"`
}

func (e *MediaStateEvent) EventType() string { return "media_state" }

// MediaChunkEvent carries a piece of server-streamed audio. Data is
// base64-encoded and handed to consumers as-is.
type MediaChunkEvent struct {
	EventID    string `json:"event_id,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Data       string `json:"data"`
	ChunkIndex int    `json:"chunk_index"`
	IsLast     bool   `json:"is_last"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

func (e *MediaChunkEvent) EventType() string { return "media_chunk" }

// MediaErrorEvent reports a failure in server-side media handling.
type MediaErrorEvent struct {
	EventID   string `json:"event_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error"`
}

func (e *MediaErrorEvent) EventType() string { return "media_error" }

// ReconnectedEvent is synthesized locally after an automatic reconnect
// succeeds, so subscribers can refresh state they may have missed.
type ReconnectedEvent struct {
	Timestamp string `json:"timestamp,omitempty"`
}

func (e *ReconnectedEvent) EventType() string { return "reconnected" }

// UnknownEvent wraps a frame whose type tag is not recognized. The
// manager logs and drops these rather than delivering them.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e *UnknownEvent) EventType() string { return e.Type }

// eventEnvelope is the minimal frame shape used to dispatch decoding.
type eventEnvelope struct {
	Type string `json:"type"`
}

// decodeEvent parses a single text frame into a typed event. Frames
// with an unrecognized type tag decode to *UnknownEvent; malformed JSON
// for a known type is an error.
func decodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var event Event
	switch env.Type {
	case "stream_chunk":
		event = &StreamChunkEvent{}
	case "agent_switch":
		event = &AgentSwitchEvent{}
	case "done":
		event = &DoneEvent{}
	case "error":
		event = &ErrorEvent{}
	case "tool_approval_request":
		event = &ToolApprovalRequestEvent{}
	case "vision_result":
		event = &VisionResultEvent{}
	case "media_state":
		event = &MediaStateEvent{}
	case "media_chunk":
		event = &MediaChunkEvent{}
	case "media_error":
		event = &MediaErrorEvent{}
	case "reconnected":
		event = &ReconnectedEvent{}
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &UnknownEvent{Type: env.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return event, nil
}
