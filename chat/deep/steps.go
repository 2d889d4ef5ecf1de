package deep

import (
	"context"
	"fmt"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/token"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// executeSteps runs every planned step in order, emitting a DeepStepStart
// token per step and accumulating each step's outcome as a prompt.Step
// summary fed into later steps' and the final report's input templates. The
// returned slice is the authoritative completed-steps record — it carries
// each step's Summary, unlike a plan.Steps rebuild — and must be threaded
// into report.
func (a *Agent) executeSteps(ctx context.Context, sink session.TokenSink, plan *entity.Deep) []prompt.Step {
	var completed []prompt.Step

	for idx := range plan.Steps {
		step := &plan.Steps[idx]
		sink.AddToken(token.DeepStepStart(int32(idx)))

		registry := a.ResearchTools
		sysText, err := a.Prompts.RenderResearcher(ctx, a.Session)
		if step.Kind == entity.StepCode {
			registry = a.CodeTools
			sysText, err = a.Prompts.RenderCoder(ctx, a.Session)
		}
		if err != nil {
			sink.AddError(fmt.Sprintf("deep research step %d: %v", idx, err))
			continue
		}

		ps := toPromptStep(*step)
		stepSys, err := a.Prompts.RenderStepSystemMessage(ctx, a.Session, ps)
		if err != nil {
			sink.AddError(fmt.Sprintf("deep research step %d: %v", idx, err))
			continue
		}
		stepInput, err := a.Prompts.RenderStepInput(ctx, a.Session, ps, completed)
		if err != nil {
			sink.AddError(fmt.Sprintf("deep research step %d: %v", idx, err))
			continue
		}

		msgs := []llm.Message{
			{Role: llm.RoleSystem, Content: sysText},
			{Role: llm.RoleSystem, Content: stepSys},
			{Role: llm.RoleUser, Content: stepInput},
		}

		var toolDefs []llm.ToolDefinition
		if registry != nil {
			toolDefs = toLLMTools(registry.Definitions())
		}

		summary := a.runStepLoop(ctx, sink, step, registry, msgs, toolDefs)
		ps.Summary = summary
		completed = append(completed, ps)
	}

	return completed
}

// runStepLoop bounds-iterates stream-then-run-tools for a single step,
// accumulating ToolCall/ToolResult chunks on the step itself (not the
// session's assistant message — a step only ever emits progress tokens,
// never persisted chunks of its own) and returns the step's final
// narration text as its summary.
func (a *Agent) runStepLoop(ctx context.Context, sink session.TokenSink, step *entity.Step, registry *tools.Registry, msgs []llm.Message, toolDefs []llm.ToolDefinition) string {
	var lastText string

	for i := 0; i < maxStepToolIterations; i++ {
		text, completion, err := a.streamScratch(ctx, sink, msgs, toolDefs)
		if err != nil {
			sink.AddError(fmt.Sprintf("deep research step: %v", err))
			return lastText
		}
		lastText = text

		msgs = append(msgs, llm.Message{
			Role:             llm.RoleAssistant,
			Content:          completion.Content,
			ToolCalls:        completion.ToolCalls,
			Annotations:      completion.Annotations,
			ReasoningDetails: completion.ReasoningDetails,
		})

		if completion.StopReason != llm.StopToolCalls || len(completion.ToolCalls) == 0 || registry == nil {
			break
		}

		for _, call := range completion.ToolCalls {
			sink.AddToken(token.DeepStepToolCall(call.Name, string(call.Args)))

			res := registry.Execute(ctx, call.Name, call.Args)
			content := res.Content
			if res.Error != "" {
				content = "error: " + res.Error
			}

			sink.AddToken(token.DeepStepToolResult(content))
			step.Progress = append(step.Progress,
				entity.ToolCallChunk(call.ID, call.Name, string(call.Args)),
				entity.ToolResultChunk(call.ID, content),
			)
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID})
		}
	}

	return lastText
}

func toPromptStep(s entity.Step) prompt.Step {
	return prompt.Step{
		Title:       s.Title,
		Description: s.Description,
		IsCode:      s.Kind == entity.StepCode,
	}
}

func toLLMTools(defs []tools.Definition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}
