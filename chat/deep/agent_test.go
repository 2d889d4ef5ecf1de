package deep

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/token"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

type fakeSink struct {
	tokens   []token.Token
	errors   []string
	snapshot *entity.Deep
}

func (f *fakeSink) AddToken(t token.Token)           { f.tokens = append(f.tokens, t) }
func (f *fakeSink) AddError(msg string)              { f.errors = append(f.errors, msg) }
func (f *fakeSink) AddToolCall(_, _, _ string)       {}
func (f *fakeSink) AddToolResult(_, _ string)        {}
func (f *fakeSink) UpdateUsage(_ float32, _ int32)   {}

func (f *fakeSink) PutStream(_ context.Context, _ context.CancelFunc, events <-chan llm.StreamEvent) session.StreamOutcome {
	for ev := range events {
		if ev.Kind == llm.EventResponseToken {
			f.AddToken(token.Assistant(ev.Text))
		}
	}
	return session.StreamExhausted
}

func (f *fakeSink) StreamScratch(_ context.Context, _ context.CancelFunc, events <-chan llm.StreamEvent) (string, session.StreamOutcome) {
	var text string
	for ev := range events {
		if ev.Kind == llm.EventResponseToken {
			text += ev.Text
		}
	}
	return text, session.StreamExhausted
}

func (f *fakeSink) AddDeepSnapshot(d *entity.Deep) { f.snapshot = d }

func (f *fakeSink) ApplyStreamResult(_ context.Context, _ llm.ChatCompletion) error { return nil }

func (f *fakeSink) AssembleMessages(_ context.Context, _ prompt.Kind, _ bool) ([]llm.Message, error) {
	return nil, nil
}

func (f *fakeSink) Save(_ context.Context) error             { return nil }
func (f *fakeSink) TryGenerateTitle(_ context.Context) error  { return nil }

var _ session.TokenSink = (*fakeSink)(nil)

type scriptedStream struct {
	text   string
	result llm.ChatCompletion
}

type fakeLLM struct {
	streams        []scriptedStream
	streamCalls    int
	structuredResp llm.StructuredCompletion
}

func (f *fakeLLM) Stream(_ context.Context, _ string, _ []llm.Message, _ []llm.ToolDefinition, _ llm.GenerationParams, ch chan<- llm.StreamEvent) (llm.ChatCompletion, error) {
	s := f.streams[f.streamCalls]
	f.streamCalls++
	if s.text != "" {
		ch <- llm.StreamEvent{Kind: llm.EventResponseToken, Text: s.text}
	}
	close(ch)
	return s.result, nil
}

func (f *fakeLLM) Structured(_ context.Context, _ string, _ []llm.Message, _ llm.ResponseSchema, _ llm.GenerationParams) (llm.StructuredCompletion, error) {
	return f.structuredResp, nil
}

var _ LLM = (*fakeLLM)(nil)

type fakePrompts struct{}

func (fakePrompts) Render(context.Context, prompt.Kind, prompt.Session) (string, error) { return "sys", nil }
func (fakePrompts) RenderContext(context.Context, prompt.Session) (string, error)       { return "", nil }
func (fakePrompts) RenderTitleGeneration(context.Context, prompt.Session, string) (string, error) {
	return "title-sys", nil
}
func (fakePrompts) RenderPromptEnhancer(context.Context, prompt.Session, string) (string, error) {
	return "enhancer-sys", nil
}
func (fakePrompts) RenderPlanner(context.Context, prompt.Session, string) (string, error) {
	return "planner-sys", nil
}
func (fakePrompts) RenderResearcher(context.Context, prompt.Session) (string, error) { return "researcher-sys", nil }
func (fakePrompts) RenderCoder(context.Context, prompt.Session) (string, error)      { return "coder-sys", nil }
func (fakePrompts) RenderReporter(context.Context, prompt.Session) (string, error)   { return "reporter-sys", nil }
func (fakePrompts) RenderStepSystemMessage(context.Context, prompt.Session, prompt.Step) (string, error) {
	return "step-sys", nil
}
func (fakePrompts) RenderStepInput(context.Context, prompt.Session, prompt.Step, []prompt.Step) (string, error) {
	return "step-input", nil
}
func (fakePrompts) RenderReportInput(context.Context, prompt.Session, []prompt.Step) (string, error) {
	return "report-input", nil
}

var _ prompt.Service = fakePrompts{}

type echoTool struct{}

func (echoTool) Definitions() []tools.Definition {
	return []tools.Definition{{Name: "crawl", Description: "fetches a url"}}
}

func (echoTool) Execute(_ context.Context, _ string, args json.RawMessage) tools.Result {
	return tools.Result{Content: string(args)}
}

func plannerJSON(t *testing.T, hasEnoughContext bool, steps int) json.RawMessage {
	t.Helper()
	type step struct {
		NeedSearch  bool   `json:"need_search"`
		Title       string `json:"title"`
		Description string `json:"description"`
		StepType    string `json:"step_type"`
	}
	resp := struct {
		Locale           string `json:"locale"`
		HasEnoughContext bool   `json:"has_enough_context"`
		Thought          string `json:"thought"`
		Title            string `json:"title"`
		Steps            []step `json:"steps"`
	}{Locale: "en", HasEnoughContext: hasEnoughContext, Thought: "t", Title: "Title"}
	for i := 0; i < steps; i++ {
		resp.Steps = append(resp.Steps, step{NeedSearch: true, Title: "step", Description: "desc", StepType: "research"})
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal planner fixture: %v", err)
	}
	return raw
}

func TestRunSkipsStepsWhenHasEnoughContext(t *testing.T) {
	sink := &fakeSink{}
	fakeLLM := &fakeLLM{
		streams: []scriptedStream{
			{text: "<enhanced_prompt>better question</enhanced_prompt>", result: llm.ChatCompletion{StopReason: llm.StopNormal}},
			{text: "final report", result: llm.ChatCompletion{StopReason: llm.StopNormal, Content: "final report"}},
		},
		structuredResp: llm.StructuredCompletion{Raw: plannerJSON(t, true, 0)},
	}

	agent := &Agent{
		LLM:     fakeLLM,
		Prompts: fakePrompts{},
		Model:   entity.ModelConfig{ModelID: "m"},
	}

	if err := agent.Run(context.Background(), sink, "original question"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.errors) != 0 {
		t.Fatalf("expected no errors, got %v", sink.errors)
	}
	if sink.snapshot == nil || !sink.snapshot.HasEnoughContext {
		t.Fatalf("expected a has-enough-context snapshot, got %+v", sink.snapshot)
	}
	if fakeLLM.streamCalls != 2 {
		t.Fatalf("expected enhance+report streams only (2 calls), got %d", fakeLLM.streamCalls)
	}

	var sawPlan bool
	for _, tok := range sink.tokens {
		if tok.Kind == token.KindDeepPlan {
			sawPlan = true
		}
	}
	if !sawPlan {
		t.Fatal("expected a DeepPlan token")
	}
}

func TestRunExecutesStepsAndToolCalls(t *testing.T) {
	sink := &fakeSink{}
	fakeLLM := &fakeLLM{
		streams: []scriptedStream{
			{text: "enhanced", result: llm.ChatCompletion{StopReason: llm.StopNormal}},
			{result: llm.ChatCompletion{
				StopReason: llm.StopToolCalls,
				ToolCalls: []llm.ToolCallRequest{
					{ID: "1", Name: "crawl", Args: json.RawMessage(`{"url":"https://example.com"}`)},
				},
			}},
			{text: "step summary", result: llm.ChatCompletion{StopReason: llm.StopNormal, Content: "step summary"}},
			{text: "final report", result: llm.ChatCompletion{StopReason: llm.StopNormal, Content: "final report"}},
		},
		structuredResp: llm.StructuredCompletion{Raw: plannerJSON(t, false, 1)},
	}

	agent := &Agent{
		LLM:           fakeLLM,
		Prompts:       fakePrompts{},
		Model:         entity.ModelConfig{ModelID: "m"},
		ResearchTools: tools.NewRegistry(echoTool{}),
	}

	if err := agent.Run(context.Background(), sink, "original question"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.errors) != 0 {
		t.Fatalf("expected no errors, got %v", sink.errors)
	}

	var sawStepStart, sawStepToolCall, sawStepToolResult bool
	for _, tok := range sink.tokens {
		switch tok.Kind {
		case token.KindDeepStepStart:
			sawStepStart = true
		case token.KindDeepStepToolCall:
			sawStepToolCall = true
		case token.KindDeepStepToolResult:
			sawStepToolResult = true
		}
	}
	if !sawStepStart || !sawStepToolCall || !sawStepToolResult {
		t.Fatalf("expected step-start/tool-call/tool-result tokens, got %+v", sink.tokens)
	}
	if fakeLLM.streamCalls != 4 {
		t.Fatalf("expected enhance + 2 step rounds + report (4 calls), got %d", fakeLLM.streamCalls)
	}
}

func TestRunFallsBackToOriginalPromptWhenEnhanceIsEmpty(t *testing.T) {
	sink := &fakeSink{}
	fakeLLM := &fakeLLM{
		streams: []scriptedStream{
			{result: llm.ChatCompletion{StopReason: llm.StopNormal}},
			{text: "final report", result: llm.ChatCompletion{StopReason: llm.StopNormal, Content: "final report"}},
		},
		structuredResp: llm.StructuredCompletion{Raw: plannerJSON(t, true, 0)},
	}

	agent := &Agent{
		LLM:     fakeLLM,
		Prompts: fakePrompts{},
		Model:   entity.ModelConfig{ModelID: "m"},
	}

	if err := agent.Run(context.Background(), sink, "q"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.snapshot == nil {
		t.Fatal("expected the pipeline to still reach the report phase")
	}
}
