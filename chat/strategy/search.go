package strategy

import (
	"context"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// Search offers web_search/crawl and runs every requested tool call before
// looping back into another stream round.
//
// Registry is expected to hold only the search-mode tools (web_search,
// crawl) — scoping which tools a mode offers is the caller's job when
// wiring the registry, not this strategy's.
type Search struct {
	Registry *tools.Registry
}

func (Search) PromptKind() prompt.Kind { return prompt.KindSearch }

// InjectContext: only Normal's contract explicitly calls for the context
// prompt; Search relies on the tool results
// themselves to ground the answer.
func (Search) InjectContext() bool { return false }

func (s Search) CompletionOption(_ context.Context, capability entity.Capability) (CompletionOption, error) {
	if !capability.Tool {
		return CompletionOption{}, nil
	}
	return CompletionOption{Tools: toLLMTools(s.Registry.Definitions())}, nil
}

// HandleToolCalls re-pushes the model's partial turn (text, tool calls and
// annotations) into msgs, then for every tool call runs it through the
// registry, persisting a ToolCall/ToolResult chunk pair and emitting their
// tokens, and appends the tool's reply as a Role: tool message for the next
// round. Always returns false — the Search loop only stops when the model
// stops requesting tools, which the shared runner already detects.
func (s Search) HandleToolCalls(ctx context.Context, msgs *[]llm.Message, sink session.TokenSink, registry *tools.Registry, result llm.ChatCompletion) (bool, error) {
	*msgs = append(*msgs, llm.Message{
		Role:             llm.RoleAssistant,
		Content:          result.Content,
		ToolCalls:        result.ToolCalls,
		Annotations:      result.Annotations,
		ReasoningDetails: result.ReasoningDetails,
	})

	for _, call := range result.ToolCalls {
		args := string(call.Args)
		sink.AddToolCall(call.ID, call.Name, args)

		res := registry.Execute(ctx, call.Name, call.Args)
		content := res.Content
		if res.Error != "" {
			content = "error: " + res.Error
		}

		sink.AddToolResult(call.ID, content)
		*msgs = append(*msgs, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID})
	}

	return false, nil
}

var _ Strategy = Search{}
