package session

import (
	"time"

	"github.com/google/uuid"
)

// Command is implemented by all client-to-server payloads. Each command
// carries a unique event ID and an RFC 3339 timestamp assigned at send
// time.
type Command interface {
	// CommandType returns the wire type tag for this command.
	CommandType() string
	stamp(typ, id, ts string)
}

type commandHeader struct {
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
}

func (h *commandHeader) stamp(typ, id, ts string) {
	h.Type = typ
	h.EventID = id
	h.Timestamp = ts
}

func stampCommand(c Command) {
	c.stamp(c.CommandType(), uuid.NewString(), time.Now().UTC().Format(time.RFC3339Nano))
}

// ChatRequest asks the backend to run one user turn through the agent.
type ChatRequest struct {
	commandHeader
	Text           string   `json:"text"`
	ModelName      string   `json:"model_name,omitempty"`
	ConversationID *int     `json:"conversation_id,omitempty"`
	AgentID        *int     `json:"agent_id,omitempty"`
	Images         []string `json:"images,omitempty"`
}

func (c *ChatRequest) CommandType() string { return "chat_request" }

// CancelRequest aborts the in-flight streamed reply, if any.
type CancelRequest struct {
	commandHeader
}

func (c *CancelRequest) CommandType() string { return "cancel" }

// ToolApprovalResponse answers a pending tool approval request.
type ToolApprovalResponse struct {
	commandHeader
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
}

func (c *ToolApprovalResponse) CommandType() string { return "tool_approval_response" }

// VisionStart opens a vision analysis stream for camera frames.
type VisionStart struct {
	commandHeader
}

func (c *VisionStart) CommandType() string { return "vision_start" }

// VisionFrame submits one base64-encoded camera frame for analysis.
type VisionFrame struct {
	commandHeader
	FrameID int    `json:"frame_id"`
	Data    string `json:"data"`
	Format  string `json:"format,omitempty"`
}

func (c *VisionFrame) CommandType() string { return "vision_frame" }

// VisionStop closes the vision analysis stream.
type VisionStop struct {
	commandHeader
}

func (c *VisionStop) CommandType() string { return "vision_stop" }
