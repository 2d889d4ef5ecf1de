// Package entity holds the chat domain's persisted types: chats, messages,
// assistant chunks, files, users and the Deep-Research artifact.
//
// These mirror the llumen schema: a Chat owns Messages, a Message owns an
// ordered list of AssistantChunk, and a File may outlive both its Chat and
// its owner (foreign keys are set-null on delete).
package entity

import "encoding/json"

// ChatMode selects which Strategy drives a completion on this chat.
type ChatMode int

const (
	ModeNormal ChatMode = iota
	ModeSearch
	ModeResearch
)

func (m ChatMode) String() string {
	switch m {
	case ModeSearch:
		return "search"
	case ModeResearch:
		return "research"
	default:
		return "normal"
	}
}

// Chat is a conversation owned by a single user, pinned to one model.
type Chat struct {
	ID      int64
	OwnerID int64
	ModelID int64
	Title   *string
	Mode    ChatMode
}

// MessageKind distinguishes the two message roles stored in a chat.
type MessageKind int

const (
	MessageUser MessageKind = iota
	MessageAssistant
)

// Message is one turn in a chat. For MessageUser, Chunks holds the user's
// text as ChunkText chunks and Files lists the attachments. For MessageAssistant,
// Chunks holds the ordered AssistantChunk sequence built during a completion
// run.
type Message struct {
	ID         int64
	ChatID     int64
	Kind       MessageKind
	Chunks     []AssistantChunk
	Files      []int64 // file ids attached to a user message
	Cost       float32
	TokenCount int32
}

// ChunkKind tags the variant of an AssistantChunk.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkReasoning
	ChunkToolCall
	ChunkToolResult
	ChunkAnnotation
	ChunkError
	ChunkDeepAgent
)

// AssistantChunk is one tagged unit of an assistant message. Only the fields
// relevant to Kind are populated; see the accessor helpers below.
//
// Invariant: every ChunkToolResult is preceded (not necessarily immediately)
// by a ChunkToolCall sharing ToolCallID.
type AssistantChunk struct {
	Kind ChunkKind

	Text string // ChunkText, ChunkReasoning, ChunkAnnotation (raw JSON string), ChunkError

	ToolCallID   string // ChunkToolCall, ChunkToolResult
	ToolName     string // ChunkToolCall
	ToolArgs     string // ChunkToolCall
	ToolResponse string // ChunkToolResult

	Deep *Deep // ChunkDeepAgent
}

func TextChunk(s string) AssistantChunk      { return AssistantChunk{Kind: ChunkText, Text: s} }
func ReasoningChunk(s string) AssistantChunk { return AssistantChunk{Kind: ChunkReasoning, Text: s} }
func ErrorChunk(s string) AssistantChunk     { return AssistantChunk{Kind: ChunkError, Text: s} }
func AnnotationChunk(raw string) AssistantChunk {
	return AssistantChunk{Kind: ChunkAnnotation, Text: raw}
}
func ToolCallChunk(id, name, args string) AssistantChunk {
	return AssistantChunk{Kind: ChunkToolCall, ToolCallID: id, ToolName: name, ToolArgs: args}
}
func ToolResultChunk(id, response string) AssistantChunk {
	return AssistantChunk{Kind: ChunkToolResult, ToolCallID: id, ToolResponse: response}
}
func DeepAgentChunk(d *Deep) AssistantChunk { return AssistantChunk{Kind: ChunkDeepAgent, Deep: d} }

// AsText returns the chunk's text payload for the variants that carry one.
func (c AssistantChunk) AsText() (string, bool) {
	switch c.Kind {
	case ChunkText, ChunkReasoning, ChunkError:
		return c.Text, true
	default:
		return "", false
	}
}

// StepKind distinguishes a Deep-Research step that needs the Lua sandbox
// from one that needs web research tools.
type StepKind int

const (
	StepResearch StepKind = iota
	StepCode
)

// Step is one planned unit of work in a Deep-Research run.
type Step struct {
	NeedSearch  bool
	Title       string
	Description string
	Kind        StepKind
	Progress    []AssistantChunk
}

// Deep is the structured research artifact attached to an assistant message
// once a Deep-Research run completes (or short-circuits via has_enough_context).
type Deep struct {
	Locale          string
	HasEnoughContext bool
	Thought         string
	Title           string
	Steps           []Step
}

// OcrEngine selects how a model ingests PDF/document attachments.
type OcrEngine int

const (
	OcrDisabled OcrEngine = iota
	OcrNative
	OcrText
	OcrMistral
)

// Capability is a model's declared feature set, merged from the upstream
// provider's report and local TOML overrides.
type Capability struct {
	TextOutput        bool
	ImageOutput       bool
	ImageInput        bool
	Audio             bool
	OCR               OcrEngine
	Tool              bool
	StructuredOutput  bool
	Reasoning         bool
}

// File is a blob-backed attachment or generated artifact. ChatID/OwnerID are
// nullable: a file survives deletion of either (set-null foreign keys); it is
// only reaped once ChatID is null AND ValidUntil has elapsed (see
// chat/sweeper).
type File struct {
	ID         int64
	ChatID     *int64
	OwnerID    *int64
	MimeType   *string
	ValidUntil *int64 // unix seconds; nil means "no expiry"
}

// UserPreference holds per-user display/interaction settings.
type UserPreference struct {
	Theme          string
	Locale         string
	SubmitOnEnter  bool
}

// User is an authenticated account.
type User struct {
	ID           int64
	DisplayName  string
	PasswordHash string // argon2id-encoded
	Preference   UserPreference
}

// ModelParameter carries the tunable sampling knobs for a model.
type ModelParameter struct {
	Temperature   float32
	TopP          float32
	TopK          int32
	RepeatPenalty float32
}

// ModelConfig is the parsed form of a model's TOML definition.
type ModelConfig struct {
	ID          int64
	DisplayName string
	ModelID     string // without ":online" suffix
	Capability  Capability
	Parameter   ModelParameter
}

// MarshalJSON renders a Deep artifact for wire transport / ChunkDeepAgent
// persistence, matching the DeepPlan token shape.
func (d *Deep) MarshalJSON() ([]byte, error) {
	type step struct {
		NeedSearch  bool   `json:"need_search"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Kind        string `json:"kind"`
	}
	out := struct {
		Locale           string `json:"locale"`
		HasEnoughContext bool   `json:"has_enough_context"`
		Thought          string `json:"thought"`
		Title            string `json:"title"`
		Steps            []step `json:"steps"`
	}{
		Locale:           d.Locale,
		HasEnoughContext: d.HasEnoughContext,
		Thought:          d.Thought,
		Title:            d.Title,
	}
	for _, s := range d.Steps {
		kind := "research"
		if s.Kind == StepCode {
			kind = "code"
		}
		out.Steps = append(out.Steps, step{s.NeedSearch, s.Title, s.Description, kind})
	}
	return json.Marshal(out)
}
