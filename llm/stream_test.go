package llm

import (
	"context"
	"strings"
	"testing"
)

func buildSSE(lines ...string) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestStreamSSETextChunks(t *testing.T) {
	sse := buildSSE(
		`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`,
		"[DONE]",
	)

	ch := make(chan StreamEvent, 10)
	resp, err := streamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("streamSSE returned error: %v", err)
	}

	var deltas int
	for ev := range ch {
		if ev.Kind == EventResponseToken {
			deltas++
		}
	}

	if resp.Content != "Hello world" {
		t.Errorf("expected content %q, got %q", "Hello world", resp.Content)
	}
	if deltas != 2 {
		t.Errorf("expected 2 response-token events, got %d", deltas)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.StopReason != StopNormal {
		t.Errorf("expected StopNormal, got %v", resp.StopReason)
	}
}

func TestStreamSSEParallelToolCalls(t *testing.T) {
	sse := buildSSE(
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"web_search","arguments":""}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"crawl","arguments":""}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"url\":\"http://x\"}"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}],"finish_reason":"tool_calls"}`,
		"[DONE]",
	)

	ch := make(chan StreamEvent, 20)
	resp, err := streamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("streamSSE returned error: %v", err)
	}
	for range ch {
	}

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 accumulated tool calls, got %d: %+v", len(resp.ToolCalls), resp.ToolCalls)
	}
	if resp.ToolCalls[0].Name != "web_search" || string(resp.ToolCalls[0].Args) != `{"q":"go"}` {
		t.Errorf("tool call 0 accumulated wrong: %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Name != "crawl" || string(resp.ToolCalls[1].Args) != `{"url":"http://x"}` {
		t.Errorf("tool call 1 accumulated wrong: %+v", resp.ToolCalls[1])
	}
	if resp.StopReason != StopToolCalls {
		t.Errorf("expected StopToolCalls, got %v", resp.StopReason)
	}
}

func TestStreamSSESkipsMalformedChunk(t *testing.T) {
	sse := buildSSE(
		`{not json`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"ok"}}]}`,
		"[DONE]",
	)

	ch := make(chan StreamEvent, 10)
	resp, err := streamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("streamSSE returned error: %v", err)
	}
	for range ch {
	}
	if resp.Content != "ok" {
		t.Errorf("expected malformed chunk to be skipped, got content %q", resp.Content)
	}
}
