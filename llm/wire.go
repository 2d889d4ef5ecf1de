package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// wireChatRequest is the OpenAI/OpenRouter chat completions request body.
type wireChatRequest struct {
	Model            string              `json:"model"`
	Messages         []wireMessage       `json:"messages"`
	Tools            []wireTool          `json:"tools,omitempty"`
	Stream           bool                `json:"stream,omitempty"`
	Temperature      *float32            `json:"temperature,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	TopK             *int32              `json:"top_k,omitempty"`
	RepetitionPenalty *float32           `json:"repetition_penalty,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
	ResponseFormat   *wireResponseFormat `json:"response_format,omitempty"`
	StreamOptions    *wireStreamOptions  `json:"stream_options,omitempty"`
	Usage            *wireUsageOpt       `json:"usage,omitempty"` // OpenRouter-only hint
	Plugins          []wirePlugin        `json:"plugins,omitempty"`
	Reasoning        *wireReasoningOpt   `json:"reasoning,omitempty"`
}

type wireUsageOpt struct {
	Include bool `json:"include"`
}

type wirePlugin struct {
	ID string `json:"id"`
}

type wireReasoningOpt struct {
	Enabled bool `json:"enabled"`
}

type wireResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema *wireJSONSchema `json:"json_schema,omitempty"`
}

type wireJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role             string               `json:"role"`
	Content          any                  `json:"content,omitempty"` // string or []wireContentBlock
	ToolCalls        []wireToolCallReq    `json:"tool_calls,omitempty"`
	ToolCallID       string               `json:"tool_call_id,omitempty"`
	ReasoningDetails json.RawMessage      `json:"reasoning_details,omitempty"`
	Annotations      json.RawMessage      `json:"annotations,omitempty"`
}

type wireContentBlock struct {
	Type     string        `json:"type"` // "text", "image_url", "input_audio", "file"
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
	File     *wireFileData `json:"file,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireFileData struct {
	URL string `json:"url"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCallReq struct {
	Index    int             `json:"index"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// wireChatResponse is the non-streaming / per-chunk response envelope.
type wireChatResponse struct {
	ID      string        `json:"id"`
	Choices []wireChoice  `json:"choices"`
	Usage   *wireUsage    `json:"usage,omitempty"`
}

type wireChoice struct {
	Index        int              `json:"index"`
	Message      *wireChoiceMsg   `json:"message,omitempty"`
	Delta        *wireChoiceMsg   `json:"delta,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

type wireChoiceMsg struct {
	Role             string            `json:"role,omitempty"`
	Content          string            `json:"content,omitempty"`
	ToolCalls        []wireToolCallReq `json:"tool_calls,omitempty"`
	ReasoningContent string            `json:"reasoning,omitempty"`
	ReasoningDetails json.RawMessage   `json:"reasoning_details,omitempty"`
	Annotations      json.RawMessage   `json:"annotations,omitempty"`
}

type wireUsage struct {
	PromptTokens        int              `json:"prompt_tokens"`
	CompletionTokens     int             `json:"completion_tokens"`
	TotalTokens          int             `json:"total_tokens"`
	Cost                 float32         `json:"cost"`
	PromptTokensDetails  *wireTokDetails `json:"prompt_tokens_details,omitempty"`
}

type wireTokDetails struct {
	CachedTokens int32 `json:"cached_tokens"`
}

// buildBody converts Messages + tools into a wireChatRequest. openRouter adds
// the OpenRouter-only hints usage.include and reasoning.enabled; they are left
// out for other endpoints. Plugins is never set here.
func buildBody(model string, msgs []Message, tools []ToolDefinition, schema *ResponseSchema, params GenerationParams, openRouter bool) wireChatRequest {
	req := wireChatRequest{Model: model}

	for _, m := range msgs {
		req.Messages = append(req.Messages, buildWireMessage(m))
	}

	if len(tools) > 0 {
		req.Tools = buildWireTools(tools)
	}

	if schema != nil && len(schema.Schema) > 0 {
		req.ResponseFormat = &wireResponseFormat{
			Type:       "json_schema",
			JSONSchema: &wireJSONSchema{Name: schema.Name, Schema: schema.Schema, Strict: true},
		}
	}

	req.Temperature = params.Temperature
	req.TopP = params.TopP
	req.TopK = params.TopK
	req.RepetitionPenalty = params.RepeatPenalty
	req.MaxTokens = params.MaxTokens

	if openRouter {
		req.Usage = &wireUsageOpt{Include: true}
		req.Reasoning = &wireReasoningOpt{Enabled: true}
	}

	return req
}

func buildWireMessage(m Message) wireMessage {
	wm := wireMessage{Role: string(m.Role)}

	switch m.Role {
	case RoleTool:
		wm.Content = m.Content
		wm.ToolCallID = m.ToolCallID
		return wm

	case RoleAssistant:
		if m.Content != "" {
			wm.Content = m.Content
		}
		wm.ReasoningDetails = m.ReasoningDetails
		wm.Annotations = m.Annotations
		for i, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCallReq{
				Index: i,
				ID:    tc.ID,
				Type:  "function",
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		return wm

	default: // system, user
		if len(m.Attachments) == 0 {
			wm.Content = m.Content
			return wm
		}
		var blocks []wireContentBlock
		if m.Content != "" {
			blocks = append(blocks, wireContentBlock{Type: "text", Text: m.Content})
		}
		for _, att := range m.Attachments {
			blocks = append(blocks, buildAttachmentBlock(att))
		}
		wm.Content = blocks
		return wm
	}
}

func buildAttachmentBlock(att Attachment) wireContentBlock {
	url := att.URL
	if url == "" {
		url = fmt.Sprintf("data:%s;base64,%s", att.MimeType, base64.StdEncoding.EncodeToString(att.Data))
	}
	if strings.HasPrefix(att.MimeType, "image/") {
		return wireContentBlock{Type: "image_url", ImageURL: &wireImageURL{URL: url}}
	}
	return wireContentBlock{Type: "file", File: &wireFileData{URL: url}}
}

func buildWireTools(tools []ToolDefinition) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func finishReasonToStop(s string) StopReason {
	switch s {
	case "stop", "end_turn":
		return StopNormal
	case "length", "max_tokens":
		return StopLength
	case "tool_calls", "function_call":
		return StopToolCalls
	case "":
		return StopUnspecified
	default:
		return StopError
	}
}

func usageFromWire(u *wireUsage) Usage {
	if u == nil {
		return Usage{}
	}
	out := Usage{
		InputTokens:  int32(u.PromptTokens),
		OutputTokens: int32(u.CompletionTokens),
		Cost:         u.Cost,
	}
	if u.PromptTokensDetails != nil {
		out.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

func parseNonStreamResponse(resp wireChatResponse) ChatCompletion {
	var out ChatCompletion
	out.Usage = usageFromWire(resp.Usage)
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = finishReasonToStop(choice.FinishReason)
	if choice.Message == nil {
		return out
	}
	out.Content = choice.Message.Content
	out.ReasoningDetails = choice.Message.ReasoningDetails
	out.Annotations = choice.Message.Annotations
	out.ToolCalls = parseWireToolCalls(choice.Message.ToolCalls)
	return out
}

func parseWireToolCalls(tcs []wireToolCallReq) []ToolCallRequest {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]ToolCallRequest, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, ToolCallRequest{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out
}
