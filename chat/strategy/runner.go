package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
)

// maxToolIterations bounds the stream-then-handle-tool-calls loop so a model
// that never stops requesting tools cannot run a turn forever.
const maxToolIterations = 25

// Run drives sink through strat's completion, looping while the model keeps
// requesting tool calls and strat.HandleToolCalls reports "not finalized".
// It always calls sink.Save at the end, even on an upstream error, so the
// caller sees partial work rather than a silently dropped publisher.
func Run(ctx context.Context, sink session.TokenSink, strat Strategy, llmClient session.LLM, model entity.ModelConfig, registry *tools.Registry) error {
	msgs, err := sink.AssembleMessages(ctx, strat.PromptKind(), strat.InjectContext())
	if err != nil {
		sink.AddError(err.Error())
		return sink.Save(ctx)
	}

	for iter := 0; iter < maxToolIterations; iter++ {
		opt, err := strat.CompletionOption(ctx, model.Capability)
		if err != nil {
			sink.AddError(err.Error())
			break
		}

		result, outcome, err := streamOne(ctx, sink, llmClient, model.ModelID, msgs, opt, paramsFromModel(model.Parameter))
		if outcome == session.StreamHalted {
			// Context.Stop fired: a normal terminal state, not a failure —
			// whatever was emitted before the halt is already on the
			// assistant message and Save below persists it, so the turn
			// just ends here without an Error chunk.
			break
		}
		if err != nil {
			sink.AddError(err.Error())
			break
		}

		if err := sink.ApplyStreamResult(ctx, result); err != nil {
			sink.AddError(err.Error())
			break
		}

		if result.StopReason != llm.StopToolCalls || len(result.ToolCalls) == 0 {
			break
		}

		finalized, err := strat.HandleToolCalls(ctx, &msgs, sink, registry, result)
		if err != nil {
			sink.AddError(err.Error())
			break
		}
		if finalized {
			break
		}
	}

	if err := sink.TryGenerateTitle(ctx); err != nil {
		sink.AddError(err.Error())
	}

	return sink.Save(ctx)
}

// streamOne opens one SSE stream, drains it through sink.PutStream (which
// races every read against the session's halt signal), and returns the
// aggregated completion once the upstream goroutine finishes, along with the
// outcome PutStream reported. On a halt, cancel unblocks the upstream HTTP
// read, so llmClient.Stream typically returns a context.Canceled error; that
// is expected in this case, not a failure, and the caller is responsible for
// treating a StreamHalted outcome as a normal terminal state rather than
// surfacing the error.
func streamOne(ctx context.Context, sink session.TokenSink, llmClient session.LLM, model string, msgs []llm.Message, opt CompletionOption, params llm.GenerationParams) (llm.ChatCompletion, session.StreamOutcome, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan llm.StreamEvent)
	type streamResult struct {
		completion llm.ChatCompletion
		err        error
	}
	resultCh := make(chan streamResult, 1)

	go func() {
		completion, err := llmClient.Stream(streamCtx, model, msgs, opt.Tools, params, events)
		resultCh <- streamResult{completion, err}
	}()

	outcome := sink.PutStream(streamCtx, cancel, events)

	r := <-resultCh
	if r.err != nil {
		if outcome == session.StreamHalted && errors.Is(r.err, context.Canceled) {
			return llm.ChatCompletion{}, outcome, nil
		}
		return llm.ChatCompletion{}, outcome, fmt.Errorf("strategy: stream: %w", r.err)
	}
	return r.completion, outcome, nil
}
