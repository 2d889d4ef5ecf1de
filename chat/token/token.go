// Package token defines Token, the tagged wire alphabet streamed from a
// completion run to any number of subscribers.
package token

import "github.com/pinkfuwa/llumen-go/chat/mergeable"

// Kind tags which Token variant is populated.
type Kind int

const (
	KindStart Kind = iota
	KindAssistant
	KindReasoning
	KindToolCall
	KindToolResult
	KindDeepPlan
	KindDeepStepStart
	KindDeepStepToolCall
	KindDeepStepToolResult
	KindImage
	KindUrlCitation
	KindTitle
	KindUsage
	KindError
	KindComplete
)

// defaultTextMergeCap is the soft byte cap for coalescing adjacent text
// payloads before spilling into a new buffer entry. 4096 is a tunable; real
// deployments have varied this between 2048 and 4096 depending on how
// chatty the downstream renderer is.
const defaultTextMergeCap = 4096

// Token is one tagged event in the stream. Only the fields relevant to Kind
// are populated.
type Token struct {
	Kind Kind

	// Text payload for KindAssistant, KindReasoning, KindToolResult,
	// KindDeepStepToolResult, KindDeepPlan (raw JSON), KindTitle, KindError.
	Text string

	// KindStart
	MessageID  int64
	UserMsgID  int64

	// KindToolCall, KindDeepStepToolCall
	ToolName string
	ToolArg  string

	// KindDeepStepStart
	StepIndex int32

	// KindImage
	FileID int64

	// KindUrlCitation — caller-opaque JSON-serializable payload.
	Citations []string

	// KindUsage, KindComplete
	Cost   float32
	Tokens int32
}

// Start builds the run-opening marker. Never merges.
func Start(messageID, userMsgID int64) Token {
	return Token{Kind: KindStart, MessageID: messageID, UserMsgID: userMsgID}
}

func Assistant(text string) Token  { return Token{Kind: KindAssistant, Text: text} }
func Reasoning(text string) Token  { return Token{Kind: KindReasoning, Text: text} }
func ToolCall(name, arg string) Token {
	return Token{Kind: KindToolCall, ToolName: name, ToolArg: arg}
}
func ToolResult(text string) Token { return Token{Kind: KindToolResult, Text: text} }
func DeepPlan(json string) Token   { return Token{Kind: KindDeepPlan, Text: json} }
func DeepStepStart(idx int32) Token {
	return Token{Kind: KindDeepStepStart, StepIndex: idx}
}
func DeepStepToolCall(name, arg string) Token {
	return Token{Kind: KindDeepStepToolCall, ToolName: name, ToolArg: arg}
}
func DeepStepToolResult(text string) Token {
	return Token{Kind: KindDeepStepToolResult, Text: text}
}
func Image(fileID int64) Token          { return Token{Kind: KindImage, FileID: fileID} }
func UrlCitation(cites []string) Token  { return Token{Kind: KindUrlCitation, Citations: cites} }
func Title(s string) Token              { return Token{Kind: KindTitle, Text: s} }
func Usage(cost float32, tokens int32) Token {
	return Token{Kind: KindUsage, Cost: cost, Tokens: tokens}
}
func Error(msg string) Token { return Token{Kind: KindError, Text: msg} }
func Complete(messageID int64, cost float32, tokens int32) Token {
	return Token{Kind: KindComplete, MessageID: messageID, Cost: cost, Tokens: tokens}
}

// Len reports the addressable byte length of the token's textual payload.
// Non-textual variants (Start, ToolCall, Image, Usage, Complete, ...) report
// 1 so that a single emission is one addressable unit a cursor can consume
// atomically; they never merge, so their length never grows.
func (t *Token) Len() int {
	switch t.Kind {
	case KindAssistant, KindReasoning, KindToolResult, KindDeepStepToolResult:
		return len(t.Text)
	default:
		return 1
	}
}

// mergeableText reports whether this variant coalesces with a same-kind
// neighbor at all.
func mergeableText(k Kind) bool {
	switch k {
	case KindAssistant, KindReasoning, KindToolResult, KindDeepStepToolResult:
		return true
	default:
		return false
	}
}

// Merge implements mergeable.Item. Same-kind text variants coalesce up to
// defaultTextMergeCap bytes, spilling overflow into the returned remainder.
// Every other variant (and any kind mismatch) rejects the merge, returning
// other unchanged as the item to append next.
func (t *Token) Merge(other Token) (Token, bool) {
	if t.Kind != other.Kind || !mergeableText(t.Kind) {
		return other, true
	}

	room := defaultTextMergeCap - len(t.Text)
	if room <= 0 {
		return other, true
	}
	if len(other.Text) <= room {
		t.Text += other.Text
		return Token{}, false
	}

	t.Text += other.Text[:room]
	rest := other
	rest.Text = other.Text[room:]
	return rest, true
}

// Slice returns the byte subrange [start:end) of a mergeable token's text.
// Non-textual variants only ever occupy a single addressable unit [0:1) and
// return themselves whole for that range; any other range is unrepresentable.
func (t *Token) Slice(start, end int) (Token, bool) {
	if !mergeableText(t.Kind) {
		if start == 0 && end >= 1 {
			return *t, true
		}
		return Token{}, false
	}
	if start < 0 || end > len(t.Text) || start > end {
		return Token{}, false
	}
	out := *t
	out.Text = t.Text[start:end]
	return out, true
}

var _ mergeable.Item[Token] = (*Token)(nil)
