// Package strategy implements the three completion strategies (Normal,
// Search, Deep-Research coordinator) and the shared runner loop that drives
// a session through one or more stream-then-handle-tool-calls rounds.
package strategy

import (
	"context"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// CompletionOption is what a Strategy hands the runner for one stream call:
// the tool definitions to advertise. Sampling parameters come from the
// model's own config (see paramsFromModel) — every strategy uses the same
// ones, only the tool set varies.
type CompletionOption struct {
	Tools []llm.ToolDefinition
}

// Strategy is the per-mode behavior the shared runner drives. All three
// modes (Normal, Search, Deep-Research coordinator) implement it.
type Strategy interface {
	// PromptKind selects the system prompt template for this mode.
	PromptKind() prompt.Kind

	// CompletionOption builds the tool set for one stream call, given the
	// model's merged capability (e.g. a tool-incapable model gets none).
	CompletionOption(ctx context.Context, capability entity.Capability) (CompletionOption, error)

	// InjectContext reports whether the optional context prompt should be
	// inserted before the last user message.
	InjectContext() bool

	// HandleToolCalls processes one round of tool calls the model
	// requested. msgs is the running upstream message list for this turn;
	// implementations append to it in place (the re-pushed assistant turn,
	// then one tool message per call) when they return false to continue
	// the loop. Returns true once the turn is finalized (no more rounds).
	HandleToolCalls(ctx context.Context, msgs *[]llm.Message, sink session.TokenSink, registry *tools.Registry, result llm.ChatCompletion) (finalized bool, err error)
}

// toLLMTools adapts the tool package's schema type to the upstream wire
// type; both are (Name, Description, Parameters) triples by construction.
func toLLMTools(defs []tools.Definition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func paramsFromModel(p entity.ModelParameter) llm.GenerationParams {
	temp, topP, topK, repeat := p.Temperature, p.TopP, p.TopK, p.RepeatPenalty
	return llm.GenerationParams{
		Temperature:   &temp,
		TopP:          &topP,
		TopK:          &topK,
		RepeatPenalty: &repeat,
	}
}
