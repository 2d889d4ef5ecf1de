package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

const handoffToolName = "handoff_to_planner"

var handoffSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "description": "the user's research question, as understood so far"}
	},
	"required": ["prompt"]
}`)

// DeepAgent is the collaborator DeepResearch hands control to once the
// model calls handoff_to_planner. chat/deep.Agent implements it; declaring
// the interface here (rather than importing chat/deep) keeps this package
// from depending on the agent's own dependencies (prompt rendering, the
// step tool sets) it doesn't otherwise need.
type DeepAgent interface {
	Run(ctx context.Context, sink session.TokenSink, originalPrompt string) error
}

// DeepResearch is the coordinator mode: a normal stream runs with a single
// advertised tool; once the model calls it, control passes to Agent for the
// enhance/plan/execute/report pipeline.
type DeepResearch struct {
	Agent DeepAgent
}

func (DeepResearch) PromptKind() prompt.Kind { return prompt.KindDeepCoordinator }

func (DeepResearch) InjectContext() bool { return false }

func (DeepResearch) CompletionOption(_ context.Context, capability entity.Capability) (CompletionOption, error) {
	if !capability.Tool {
		return CompletionOption{}, nil
	}
	return CompletionOption{Tools: []llm.ToolDefinition{{
		Name:        handoffToolName,
		Description: "Hand off to the deep research planner once you understand what the user wants researched.",
		Parameters:  handoffSchema,
	}}}, nil
}

// HandleToolCalls looks for the handoff_to_planner call among this round's
// tool calls and, if present, hands off to Agent and finalizes the turn
// regardless of the agent's own outcome (a failed research run still ends
// the coordinator's round rather than looping back into more stream calls).
func (d DeepResearch) HandleToolCalls(ctx context.Context, _ *[]llm.Message, sink session.TokenSink, _ *tools.Registry, result llm.ChatCompletion) (bool, error) {
	for _, call := range result.ToolCalls {
		if call.Name != handoffToolName {
			continue
		}
		var args struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return true, fmt.Errorf("strategy: decode handoff args: %w", err)
		}
		return true, d.Agent.Run(ctx, sink, args.Prompt)
	}
	return true, nil
}

var _ Strategy = DeepResearch{}
