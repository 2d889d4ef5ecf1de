package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/token"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// fakeSink is an in-memory session.TokenSink recording every call so tests
// can assert on the sequence of events the runner drives it through.
type fakeSink struct {
	tokens      []token.Token
	errors      []string
	toolCalls   []string
	toolResults []string
	usageCost   float32
	usageTokens int32
	saved       bool
	titled      bool

	assembleErr error
	messages    []llm.Message
}

func (f *fakeSink) AddToken(t token.Token)                 { f.tokens = append(f.tokens, t) }
func (f *fakeSink) AddError(msg string)                     { f.errors = append(f.errors, msg) }
func (f *fakeSink) AddToolCall(id, name, args string)       { f.toolCalls = append(f.toolCalls, name) }
func (f *fakeSink) AddToolResult(id, response string)       { f.toolResults = append(f.toolResults, response) }
func (f *fakeSink) UpdateUsage(cost float32, tokens int32) {
	f.usageCost += cost
	f.usageTokens += tokens
}

func (f *fakeSink) PutStream(_ context.Context, _ context.CancelFunc, events <-chan llm.StreamEvent) session.StreamOutcome {
	for range events {
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

func (f *fakeSink) AddDeepSnapshot(_ *entity.Deep) {}

func (f *fakeSink) ApplyStreamResult(_ context.Context, _ llm.ChatCompletion) error { return nil }

func (f *fakeSink) AssembleMessages(_ context.Context, _ prompt.Kind, _ bool) ([]llm.Message, error) {
	if f.assembleErr != nil {
		return nil, f.assembleErr
	}
	return f.messages, nil
}

func (f *fakeSink) Save(_ context.Context) error           { f.saved = true; return nil }
func (f *fakeSink) TryGenerateTitle(_ context.Context) error { f.titled = true; return nil }

var _ session.TokenSink = (*fakeSink)(nil)

// fakeLLM issues a scripted sequence of ChatCompletion results, one per
// Stream call.
type fakeLLM struct {
	responses []llm.ChatCompletion
	calls     int
}

func (f *fakeLLM) Complete(_ context.Context, _ string, _ []llm.Message, _ []llm.ToolDefinition, _ llm.GenerationParams) (llm.ChatCompletion, error) {
	return llm.ChatCompletion{}, nil
}

func (f *fakeLLM) Stream(_ context.Context, _ string, _ []llm.Message, _ []llm.ToolDefinition, _ llm.GenerationParams, ch chan<- llm.StreamEvent) (llm.ChatCompletion, error) {
	close(ch)
	if f.calls >= len(f.responses) {
		return llm.ChatCompletion{}, errors.New("no more scripted responses")
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

var _ session.LLM = (*fakeLLM)(nil)

// echoTool is a minimal tools.Tool for exercising Search's tool-call loop.
type echoTool struct{}

func (echoTool) Definitions() []tools.Definition {
	return []tools.Definition{{Name: "echo", Description: "echoes args"}}
}

func (echoTool) Execute(_ context.Context, _ string, args json.RawMessage) tools.Result {
	return tools.Result{Content: string(args)}
}

func TestRunNormalSingleRoundTrip(t *testing.T) {
	sink := &fakeSink{}
	llmClient := &fakeLLM{responses: []llm.ChatCompletion{
		{Content: "hello", StopReason: llm.StopNormal},
	}}
	model := entity.ModelConfig{ModelID: "m", Capability: entity.Capability{Tool: true}}

	if err := Run(context.Background(), sink, Normal{}, llmClient, model, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llmClient.calls != 1 {
		t.Fatalf("expected exactly one stream call, got %d", llmClient.calls)
	}
	if !sink.saved || !sink.titled {
		t.Fatalf("expected Save and TryGenerateTitle called, got saved=%v titled=%v", sink.saved, sink.titled)
	}
}

func TestRunSearchLoopsUntilNoMoreToolCalls(t *testing.T) {
	sink := &fakeSink{}
	registry := tools.NewRegistry(echoTool{})
	llmClient := &fakeLLM{responses: []llm.ChatCompletion{
		{StopReason: llm.StopToolCalls, ToolCalls: []llm.ToolCallRequest{
			{ID: "1", Name: "echo", Args: json.RawMessage(`{"q":"go"}`)},
		}},
		{Content: "final answer", StopReason: llm.StopNormal},
	}}
	model := entity.ModelConfig{ModelID: "m", Capability: entity.Capability{Tool: true}}

	strat := Search{Registry: registry}
	if err := Run(context.Background(), sink, strat, llmClient, model, registry); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if llmClient.calls != 2 {
		t.Fatalf("expected two stream rounds, got %d", llmClient.calls)
	}
	if len(sink.toolCalls) != 1 || sink.toolCalls[0] != "echo" {
		t.Fatalf("expected one echo tool call recorded, got %+v", sink.toolCalls)
	}
	if len(sink.toolResults) != 1 {
		t.Fatalf("expected one tool result recorded, got %+v", sink.toolResults)
	}
	if !sink.saved {
		t.Fatal("expected Save called")
	}
}

func TestRunDeepResearchHandsOffOnToolCall(t *testing.T) {
	sink := &fakeSink{}
	var gotPrompt string
	agent := deepAgentFunc(func(_ context.Context, _ session.TokenSink, prompt string) error {
		gotPrompt = prompt
		return nil
	})

	llmClient := &fakeLLM{responses: []llm.ChatCompletion{
		{StopReason: llm.StopToolCalls, ToolCalls: []llm.ToolCallRequest{
			{ID: "1", Name: handoffToolName, Args: json.RawMessage(`{"prompt":"research go generics"}`)},
		}},
	}}
	model := entity.ModelConfig{ModelID: "m", Capability: entity.Capability{Tool: true}}

	if err := Run(context.Background(), sink, DeepResearch{Agent: agent}, llmClient, model, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotPrompt != "research go generics" {
		t.Fatalf("expected agent to receive the handoff prompt, got %q", gotPrompt)
	}
	if llmClient.calls != 1 {
		t.Fatalf("expected exactly one stream round before handoff, got %d", llmClient.calls)
	}
}

type deepAgentFunc func(ctx context.Context, sink session.TokenSink, originalPrompt string) error

func (f deepAgentFunc) Run(ctx context.Context, sink session.TokenSink, originalPrompt string) error {
	return f(ctx, sink, originalPrompt)
}

var _ DeepAgent = deepAgentFunc(nil)
