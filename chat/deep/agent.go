// Package deep implements the Deep-Research agent: the multi-phase
// enhance/plan/execute/report pipeline a DeepResearch strategy hands control
// to once the model calls handoff_to_planner.
package deep

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

// maxStepToolIterations bounds a single step's own tool-call loop, the same
// way chat/strategy.maxToolIterations bounds the surrounding strategy.
const maxStepToolIterations = 10

// LLM is the narrow slice of llm.Client the agent needs: a streaming call for
// every free-text phase and a structured call for the plan.
type LLM interface {
	Stream(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolDefinition, params llm.GenerationParams, ch chan<- llm.StreamEvent) (llm.ChatCompletion, error)
	Structured(ctx context.Context, model string, msgs []llm.Message, schema llm.ResponseSchema, params llm.GenerationParams) (llm.StructuredCompletion, error)
}

// Agent runs the enhance/plan/execute/report pipeline against one session's
// sink. It is constructed fresh per completion request, carrying the same
// model and prompt session the surrounding strategy resolved, since
// strategy.DeepAgent.Run receives only (ctx, sink, originalPrompt).
type Agent struct {
	LLM     LLM
	Prompts prompt.Service
	Model   entity.ModelConfig
	Session prompt.Session

	// ResearchTools is offered to Research-kind steps (crawl, optionally
	// web_search); CodeTools to Code-kind steps (lua_repl).
	ResearchTools *tools.Registry
	CodeTools     *tools.Registry
}

var plannerSchema = llm.ResponseSchema{
	Name: "planner_response",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"locale": {"type": "string"},
			"has_enough_context": {"type": "boolean"},
			"thought": {"type": "string"},
			"title": {"type": "string"},
			"steps": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"need_search": {"type": "boolean"},
						"title": {"type": "string"},
						"description": {"type": "string"},
						"step_type": {"type": "string", "enum": ["research", "code"]}
					},
					"required": ["need_search", "title", "description", "step_type"]
				}
			}
		},
		"required": ["locale", "has_enough_context", "thought", "title", "steps"]
	}`),
}

// plannerResponse mirrors PlannerResponse's wire shape.
type plannerResponse struct {
	Locale           string         `json:"locale"`
	HasEnoughContext bool           `json:"has_enough_context"`
	Thought          string         `json:"thought"`
	Title            string         `json:"title"`
	Steps            []plannerStep  `json:"steps"`
}

type plannerStep struct {
	NeedSearch  bool   `json:"need_search"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StepType    string `json:"step_type"`
}

// Run drives the full pipeline. Every phase's error becomes an Error chunk
// via sink.AddError rather than aborting early without recording what
// happened — the surrounding session still proceeds to save() so clients see
// partial work.
func (a *Agent) Run(ctx context.Context, sink session.TokenSink, originalPrompt string) error {
	enhanced, err := a.enhance(ctx, sink, originalPrompt)
	if err != nil {
		sink.AddError(fmt.Sprintf("deep research enhance: %v", err))
		enhanced = originalPrompt
	}

	plan, err := a.plan(ctx, sink, enhanced)
	if err != nil {
		sink.AddError(fmt.Sprintf("deep research plan: %v", err))
		return nil
	}

	var completed []prompt.Step
	if !plan.HasEnoughContext {
		completed = a.executeSteps(ctx, sink, plan)
	}

	if err := a.report(ctx, sink, plan, completed); err != nil {
		sink.AddError(fmt.Sprintf("deep research report: %v", err))
	}

	return nil
}

func (a *Agent) params() llm.GenerationParams {
	temp, topP, topK, repeat := a.Model.Parameter.Temperature, a.Model.Parameter.TopP, a.Model.Parameter.TopK, a.Model.Parameter.RepeatPenalty
	return llm.GenerationParams{
		Temperature:   &temp,
		TopP:          &topP,
		TopK:          &topK,
		RepeatPenalty: &repeat,
	}
}

// streamScratch opens an upstream stream and drains it through the sink's
// halt-aware scratch path, returning the accumulated text with every
// upstream call still routed through the session's single cancellation
// primitive.
func (a *Agent) streamScratch(ctx context.Context, sink session.TokenSink, msgs []llm.Message, toolDefs []llm.ToolDefinition) (string, llm.ChatCompletion, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan llm.StreamEvent)
	type result struct {
		completion llm.ChatCompletion
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		completion, err := a.LLM.Stream(streamCtx, a.Model.ModelID, msgs, toolDefs, a.params(), events)
		resultCh <- result{completion, err}
	}()

	text, _ := sink.StreamScratch(streamCtx, cancel, events)

	r := <-resultCh
	if r.err != nil {
		return "", llm.ChatCompletion{}, fmt.Errorf("stream: %w", r.err)
	}
	return text, r.completion, nil
}
