package deep

import (
	"context"
	"fmt"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// report renders the reporter prompt and report-input template from
// completed (the executeSteps result, carrying each step's narration
// summary), streams the answer visibly through the ordinary PutStream path
// (the user sees the report the same way a Normal/Search reply streams in),
// then snapshots the plan as a chunk immediately before streaming starts so
// the stream's own per-delta chunk-append lands a fresh Text chunk right
// after it.
func (a *Agent) report(ctx context.Context, sink session.TokenSink, plan *entity.Deep, completed []prompt.Step) error {
	sysText, err := a.Prompts.RenderReporter(ctx, a.Session)
	if err != nil {
		return fmt.Errorf("render reporter prompt: %w", err)
	}
	reportInput, err := a.Prompts.RenderReportInput(ctx, a.Session, completed)
	if err != nil {
		return fmt.Errorf("render report input: %w", err)
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: sysText},
		{Role: llm.RoleUser, Content: reportInput},
	}

	sink.AddDeepSnapshot(plan)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan llm.StreamEvent)
	type result struct {
		completion llm.ChatCompletion
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		completion, err := a.LLM.Stream(streamCtx, a.Model.ModelID, msgs, nil, a.params(), events)
		resultCh <- result{completion, err}
	}()

	sink.PutStream(streamCtx, cancel, events)

	r := <-resultCh
	if r.err != nil {
		return fmt.Errorf("stream report: %w", r.err)
	}
	return sink.ApplyStreamResult(ctx, r.completion)
}
