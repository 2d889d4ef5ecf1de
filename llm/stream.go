package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// streamSSE reads an OpenAI/OpenRouter SSE body, sending StreamEvents to ch
// as they arrive, and returns the fully accumulated ChatCompletion once the
// stream ends. ch is closed before streamSSE returns, on every exit path.
//
// Parallel tool calls are accumulated by index across deltas: chunk.choices[0].delta.tool_calls[i] is
// appended to accumulator slot i, never assumed to be a single call per
// chunk or per turn.
//
// A malformed individual chunk is skipped (graceful degradation against
// noisy providers); a chunk with no choices but a usage payload (some
// providers send a trailing usage-only chunk) updates usage and continues.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- StreamEvent) (ChatCompletion, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	var content strings.Builder
	var reasoning strings.Builder
	var usage Usage
	var annotations json.RawMessage
	var reasoningDetails json.RawMessage
	stop := StopUnspecified

	type partialToolCall struct {
		id   string
		name string
		args strings.Builder
	}
	var toolCalls []*partialToolCall

	slot := func(idx int) *partialToolCall {
		for len(toolCalls) <= idx {
			toolCalls = append(toolCalls, &partialToolCall{})
		}
		return toolCalls[idx]
	}

	send := func(ev StreamEvent) error {
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk wireChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = usageFromWire(chunk.Usage)
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			stop = finishReasonToStop(choice.FinishReason)
		}

		delta := choice.Delta
		if delta == nil {
			continue
		}

		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			if err := send(StreamEvent{Kind: EventReasoningToken, Text: delta.ReasoningContent}); err != nil {
				return ChatCompletion{}, err
			}
		}

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := send(StreamEvent{Kind: EventResponseToken, Text: delta.Content}); err != nil {
				return ChatCompletion{}, err
			}
		}

		if len(delta.Annotations) > 0 {
			annotations = delta.Annotations
		}
		if len(delta.ReasoningDetails) > 0 {
			reasoningDetails = delta.ReasoningDetails
		}

		for _, tc := range delta.ToolCalls {
			p := slot(tc.Index)
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				p.args.WriteString(tc.Function.Arguments)
			}
			if err := send(StreamEvent{
				Kind:          EventToolCallDelta,
				ToolIndex:     tc.Index,
				ToolID:        tc.ID,
				ToolName:      tc.Function.Name,
				ToolArgsDelta: tc.Function.Arguments,
			}); err != nil {
				return ChatCompletion{}, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return ChatCompletion{}, err
	}

	if usage != (Usage{}) {
		_ = send(StreamEvent{Kind: EventUsage, Usage: usage})
	}

	var calls []ToolCallRequest
	for _, tc := range toolCalls {
		args := json.RawMessage(tc.args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCallRequest{ID: tc.id, Name: tc.name, Args: args})
	}
	if len(calls) > 0 && stop == StopUnspecified {
		stop = StopToolCalls
	} else if stop == StopUnspecified {
		stop = StopNormal
	}

	return ChatCompletion{
		Content:          content.String(),
		ToolCalls:        calls,
		Usage:            usage,
		StopReason:       stop,
		Annotations:      annotations,
		ReasoningDetails: reasoningDetails,
	}, nil
}
