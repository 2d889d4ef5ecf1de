// Package llm is the typed wrapper over an OpenAI/OpenRouter-compatible
// HTTP+SSE chat completions endpoint. It is the
// only place in the module that speaks the upstream wire format; everything
// above it deals in Message, StreamEvent and Capability.
package llm

import (
	"encoding/json"

	"github.com/pinkfuwa/llumen-go/chat/entity"
)

// Role is the message role sent upstream.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a model-issued tool invocation, carried on an assistant
// Message and later paired with a ToolResult Message in history.
type ToolCallRequest struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Attachment is an inline or file-backed multimodal part of a user message.
// Exactly one of URL or Data should be set; Data is base64-encoded inline.
type Attachment struct {
	MimeType string
	URL      string
	Data     []byte
}

// Message is one entry in the conversation sent upstream. Only the fields
// relevant to Role are populated.
type Message struct {
	Role Role

	Content     string
	Attachments []Attachment

	// Assistant-only.
	ToolCalls       []ToolCallRequest
	ReasoningDetails json.RawMessage // opaque, round-tripped to the provider unmodified
	Annotations      json.RawMessage

	// Tool-only.
	ToolCallID string
}

// EnsureTrailingUser appends an empty user message if msgs does not already
// end in one, working around providers that reject an assistant-prefill
// final turn.
func EnsureTrailingUser(msgs []Message) []Message {
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleUser {
		return append(msgs, Message{Role: RoleUser, Content: ""})
	}
	return msgs
}

// ToolDefinition is a tool's JSON schema as sent to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// GenerationParams carries the per-request sampling knobs, derived from
// entity.ModelParameter plus any caller overrides.
type GenerationParams struct {
	Temperature   *float32
	TopP          *float32
	TopK          *int32
	RepeatPenalty *float32
	MaxTokens     *int
}

// ResponseSchema constrains a structured completion to a named JSON schema.
type ResponseSchema struct {
	Name   string
	Schema json.RawMessage
}

// StopReason classifies why a completion ended.
type StopReason int

const (
	StopUnspecified StopReason = iota
	StopNormal
	StopLength
	StopError
	StopToolCalls
)

// Usage reports token/cost accounting for one completion.
type Usage struct {
	InputTokens  int32
	OutputTokens int32
	CachedTokens int32
	Cost         float32
}

// ChatCompletion is the aggregated result of a Complete call, or of a Stream
// once its stream ends.
type ChatCompletion struct {
	Content          string
	ReasoningDetails json.RawMessage
	ToolCalls        []ToolCallRequest
	Annotations      json.RawMessage
	Usage            Usage
	StopReason       StopReason
}

// StructuredCompletion is a Complete call constrained to a JSON schema; Raw
// holds the unparsed JSON payload so callers can unmarshal into their own
// type without this package needing generics-over-JSON.
type StructuredCompletion struct {
	Raw   json.RawMessage
	Usage Usage
}

// EventKind tags a StreamEvent variant.
type EventKind int

const (
	EventReasoningToken EventKind = iota
	EventResponseToken
	EventToolCallDelta
	EventUsage
)

// StreamEvent is one item yielded while a StreamCompletion drains.
type StreamEvent struct {
	Kind EventKind

	Text string // EventReasoningToken, EventResponseToken

	// EventToolCallDelta — index-addressed.
	ToolIndex     int
	ToolID        string
	ToolName      string
	ToolArgsDelta string

	Usage Usage // EventUsage
}

// Capability re-exports entity.Capability as the client's return type for
// get_capability, keeping the llm package the single owner of the merge
// logic in capability.go.
type Capability = entity.Capability
