package types

import "time"

type EventType string

const (
	EventTextChunk  EventType = "TEXT_CHUNK"
	EventToolCall   EventType = "TOOL_CALL"
	EventToolResult EventType = "TOOL_RESULT"
	EventInterrupt  EventType = "INTERRUPT"
	EventMetadata   EventType = "METADATA"
	EventError      EventType = "ERROR"
)

type ToolCallStatus string

const (
	ToolCallInProgress ToolCallStatus = "IN_PROGRESS"
	ToolCallCompleted  ToolCallStatus = "COMPLETED"
)

// AgentEvent is one unit of the ordered output stream for a turn.
// Type discriminates which payload pointer is set; exactly one is
// non-nil per event. Sequence is zero-based and gap-free within one
// streamed call. Exactly one event per turn carries IsFinal.
type AgentEvent struct {
	Type     EventType `json:"type"`
	Sequence int       `json:"sequence"`
	IsFinal  bool      `json:"isFinal"`

	Text       *TextChunkData  `json:"text,omitempty"`
	ToolCall   *ToolCallData   `json:"toolCall,omitempty"`
	ToolResult *ToolResultData `json:"toolResult,omitempty"`
	Interrupt  *InterruptData  `json:"interrupt,omitempty"`
	Metadata   *MetadataData   `json:"metadata,omitempty"`
	Error      *ErrorData      `json:"error,omitempty"`
}

type TextChunkData struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

type ToolCallData struct {
	ToolID    string         `json:"toolId"`
	ToolName  string         `json:"toolName"`
	Arguments string         `json:"arguments,omitempty"` // JSON-encoded.
	Status    ToolCallStatus `json:"status"`
}

type ToolResultData struct {
	ToolID   string `json:"toolId"`
	ToolName string `json:"toolName"`
	Result   string `json:"result"`
	Success  bool   `json:"success"`
}

type InterruptData struct {
	InterruptID   string `json:"interruptId"`
	ArtifactID    string `json:"artifactId"`
	ArtifactTitle string `json:"artifactTitle"`
	ItemCount     int    `json:"itemCount"`
}

type MetadataData struct {
	ConversationID string    `json:"conversationId"`
	MessageCount   int       `json:"messageCount"`
	HasToolCalls   bool      `json:"hasToolCalls"`
	Usage          Usage     `json:"usage"`
	Timestamp      time.Time `json:"timestamp"`
	Model          string    `json:"model,omitempty"`
}

type ErrorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"` // JSON-encoded.
	Retryable bool   `json:"retryable"`
}
