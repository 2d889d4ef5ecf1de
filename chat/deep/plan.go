package deep

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/token"
	"github.com/pinkfuwa/llumen-go/llm"
)

// plan issues the structured planner call, stores the resulting artifact's
// shape and emits a DeepPlan token.
func (a *Agent) plan(ctx context.Context, sink session.TokenSink, enhancedPrompt string) (*entity.Deep, error) {
	sysText, err := a.Prompts.RenderPlanner(ctx, a.Session, enhancedPrompt)
	if err != nil {
		return nil, fmt.Errorf("render planner prompt: %w", err)
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: sysText},
		{Role: llm.RoleUser, Content: enhancedPrompt},
	}

	structured, err := a.LLM.Structured(ctx, a.Model.ModelID, msgs, plannerSchema, a.params())
	if err != nil {
		return nil, fmt.Errorf("structured planner call: %w", err)
	}

	var resp plannerResponse
	if err := json.Unmarshal(structured.Raw, &resp); err != nil {
		return nil, fmt.Errorf("decode planner response: %w", err)
	}
	sink.UpdateUsage(structured.Usage.Cost, structured.Usage.InputTokens+structured.Usage.OutputTokens)

	deep := &entity.Deep{
		Locale:           resp.Locale,
		HasEnoughContext: resp.HasEnoughContext,
		Thought:          resp.Thought,
		Title:            resp.Title,
	}
	for _, s := range resp.Steps {
		kind := entity.StepResearch
		if s.StepType == "code" {
			kind = entity.StepCode
		}
		deep.Steps = append(deep.Steps, entity.Step{
			NeedSearch:  s.NeedSearch,
			Title:       s.Title,
			Description: s.Description,
			Kind:        kind,
		})
	}

	raw, err := json.Marshal(deep)
	if err != nil {
		return nil, fmt.Errorf("marshal plan for token: %w", err)
	}
	sink.AddToken(token.DeepPlan(string(raw)))

	return deep, nil
}
