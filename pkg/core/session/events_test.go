package session

import (
	"encoding/json"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "stream chunk",
			data: `{"type":"stream_chunk","content":"Hel","role":"assistant","conversation_id":7,"frame_id":3}`,
			want: "stream_chunk",
		},
		{
			name: "agent switch",
			data: `{"type":"agent_switch","from_agent_name":"Kurisu","to_agent_name":"Mayuri"}`,
			want: "agent_switch",
		},
		{
			name: "done",
			data: `{"type":"done","conversation_id":7,"frame_id":3}`,
			want: "done",
		},
		{
			name: "error",
			data: `{"type":"error","error":"model unavailable"}`,
			want: "error",
		},
		{
			name: "tool approval request",
			data: `{"type":"tool_approval_request","approval_id":"a1","tool_name":"shell","tool_args":{"cmd":"ls"}}`,
			want: "tool_approval_request",
		},
		{
			name: "media chunk",
			data: `{"type":"media_chunk","data":"AAAA","chunk_index":0,"is_last":false}`,
			want: "media_chunk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeEvent([]byte(tt.data))
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}
			if event.EventType() != tt.want {
				t.Errorf("EventType() = %q, want %q", event.EventType(), tt.want)
			}
		})
	}
}

func TestDecodeEventFields(t *testing.T) {
	data := `{"type":"stream_chunk","content":"Hi","thinking":"...","role":"assistant","agent_id":2,"name":"Kurisu","voice_reference":"kurisu-v1","conversation_id":12,"frame_id":4}`
	event, err := decodeEvent([]byte(data))
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	chunk, ok := event.(*StreamChunkEvent)
	if !ok {
		t.Fatalf("decoded %T, want *StreamChunkEvent", event)
	}
	if chunk.Content != "Hi" || chunk.Role != "assistant" || chunk.Name != "Kurisu" {
		t.Errorf("unexpected chunk: %+v", chunk)
	}
	if chunk.AgentID == nil || *chunk.AgentID != 2 {
		t.Errorf("AgentID = %v, want 2", chunk.AgentID)
	}
	if chunk.ConversationID != 12 || chunk.FrameID != 4 {
		t.Errorf("ids = (%d, %d), want (12, 4)", chunk.ConversationID, chunk.FrameID)
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	event, err := decodeEvent([]byte(`{"type":"hologram_update","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	unk, ok := event.(*UnknownEvent)
	if !ok {
		t.Fatalf("decoded %T, want *UnknownEvent", event)
	}
	if unk.Type != "hologram_update" {
		t.Errorf("Type = %q, want %q", unk.Type, "hologram_update")
	}
	if len(unk.Raw) == 0 {
		t.Error("Raw payload not preserved")
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	if _, err := decodeEvent([]byte(`{"type":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if _, err := decodeEvent([]byte(`{"type":"done","conversation_id":"nope"}`)); err == nil {
		t.Error("expected error for mistyped field")
	}
}

func TestStampCommand(t *testing.T) {
	req := &ChatRequest{Text: "hello"}
	stampCommand(req)
	if req.Type != "chat_request" {
		t.Errorf("Type = %q, want chat_request", req.Type)
	}
	if req.EventID == "" || req.Timestamp == "" {
		t.Errorf("missing stamp: id=%q ts=%q", req.EventID, req.Timestamp)
	}

	other := &ChatRequest{Text: "hello"}
	stampCommand(other)
	if other.EventID == req.EventID {
		t.Error("event IDs should be unique per command")
	}
}

func TestCommandWireShape(t *testing.T) {
	conv := 9
	req := &ChatRequest{Text: "hi", ModelName: "qwen3", ConversationID: &conv}
	stampCommand(req)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "event_id", "timestamp", "text", "model_name", "conversation_id"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing wire field %q in %s", key, data)
		}
	}
	if m["type"] != "chat_request" {
		t.Errorf("type = %v, want chat_request", m["type"])
	}
}
