package httpapi

import "encoding/json"

// LoginResponse carries the bearer token issued by the backend.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Agent describes a configured conversational persona.
type Agent struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	SystemPrompt   string          `json:"system_prompt"`
	VoiceReference string          `json:"voice_reference,omitempty"`
	AvatarUUID     string          `json:"avatar_uuid,omitempty"`
	ModelName      string          `json:"model_name,omitempty"`
	Tools          []string        `json:"tools,omitempty"`
	Think          bool            `json:"think,omitempty"`
	CharacterCfg   json.RawMessage `json:"character_config,omitempty"`
	Memory         string          `json:"memory,omitempty"`
	TriggerWord    string          `json:"trigger_word,omitempty"`
}

// Conversation is a summary row in the conversation list.
type Conversation struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	FrameCount int    `json:"frame_count"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// MessageAgent identifies the agent that produced a message.
type MessageAgent struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	AvatarUUID     string `json:"avatar_uuid,omitempty"`
	VoiceReference string `json:"voice_reference,omitempty"`
}

// Message is one persisted turn of a conversation.
type Message struct {
	ID             *int          `json:"id,omitempty"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Thinking       string        `json:"thinking,omitempty"`
	Images         []string      `json:"images,omitempty"`
	FrameID        *int          `json:"frame_id,omitempty"`
	CreatedAt      string        `json:"created_at,omitempty"`
	AgentID        *int          `json:"agent_id,omitempty"`
	Name           string        `json:"name,omitempty"`
	Agent          *MessageAgent `json:"agent,omitempty"`
	VoiceReference string        `json:"voice_reference,omitempty"`
}

// ConversationDetail is a paginated slice of conversation history.
type ConversationDetail struct {
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     string    `json:"created_at"`
	Messages      []Message `json:"messages"`
	TotalMessages int       `json:"total_messages"`
	Offset        int       `json:"offset"`
	Limit         int       `json:"limit"`
	HasMore       bool      `json:"has_more"`
}

// TTSRequest asks the backend to synthesize speech.
type TTSRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Transcription is the result of speech recognition.
type Transcription struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// VoicesResponse lists the available synthesis voices.
type VoicesResponse struct {
	Voices []string `json:"voices"`
}

// BackendsResponse lists the available synthesis backends.
type BackendsResponse struct {
	Backends []string `json:"backends"`
}

// ModelsResponse lists the models the backend can run.
type ModelsResponse struct {
	Models []string `json:"models"`
}
