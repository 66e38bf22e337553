package types

import (
	"encoding/json"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's append-only conversation log.
// Role is the discriminant, set at construction and preserved through
// (de)serialization, so consumers never probe concrete types.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"` // Tool name for tool role messages.
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// Key returns the identity used for duplicate suppression in the
// event stream: the message id, falling back to the tool call
// correlation id.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ToolCallID
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	JSONSchema  map[string]any `json:"jsonSchema,omitempty"`
}

// ToolChoice controls whether the model must call a tool this turn.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
)

type Request struct {
	Model           string           `json:"model,omitempty"`
	SystemPrompt    string           `json:"systemPrompt,omitempty"`
	Messages        []Message        `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      ToolChoice       `json:"toolChoice,omitempty"`
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Message Message `json:"message"`
	Usage   *Usage  `json:"usage,omitempty"`
}

// InterruptRecord is captured when the review node suspends a turn.
// It is consumed exactly once by a matching ResumeDecision.
type InterruptRecord struct {
	InterruptID   string `json:"interruptId"`
	ArtifactID    string `json:"artifactId"`
	ArtifactTitle string `json:"artifactTitle"`
	ItemCount     int    `json:"itemCount"`
}

// ResumeAction is the reviewer's verdict on a pending artifact.
type ResumeAction string

const (
	ResumeApprove ResumeAction = "approve"
	ResumeRefine  ResumeAction = "refine"
	ResumeReject  ResumeAction = "reject"
)

// ResumeDecision is supplied by the caller to continue a suspended
// turn. A decision whose InterruptID does not match the pending
// interrupt is ignored.
type ResumeDecision struct {
	InterruptID string       `json:"interruptId"`
	Action      ResumeAction `json:"action"`
	Notes       string       `json:"notes,omitempty"`
}
