package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/internal/otelx"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (e.g. for custom
// transports or timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName sets the provider name used in error messages and logs (default
// "openrouter").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithLogger attaches a structured logger for malformed-chunk and
// compatibility-mode diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithModelOverride registers a local capability override for model,
// layered on top of whatever GetCapability fetches from the provider.
func WithModelOverride(model string, override ModelOverride) Option {
	return func(c *Client) { c.overrides[model] = override }
}

// Client is the capability-typed, mode-agnostic upstream LLM client.
// baseURL determines compatibility mode: an OpenRouter base URL enables
// plugins/usage/reasoning hints and the capability cache; any other base
// URL runs in plain OpenAI-compatible mode.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	name       string
	logger     *slog.Logger

	openRouter bool
	cache      *capabilityCache
	overrides  map[string]ModelOverride
}

// NewClient builds a Client against baseURL (e.g.
// "https://openrouter.ai/api/v1", "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions and /models paths are
// appended automatically.
func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		name:       "openrouter",
		cache:      newCapabilityCache(),
		overrides:  make(map[string]ModelOverride),
	}
	c.openRouter = strings.Contains(c.baseURL, "openrouter.ai")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCapability returns model's merged capability: the OpenRouter-reported
// feature set (cached for capabilityCacheTTL) combined with any local
// override. In compatibility mode the cache is bypassed and an all-zero
// reported capability is merged with overrides only, since non-OpenRouter
// APIs have no standard capability-discovery endpoint.
func (c *Client) GetCapability(ctx context.Context, model string) (entity.Capability, error) {
	override := c.overrides[model]

	if !c.openRouter {
		return mergeCapability(entity.Capability{}, override), nil
	}

	if cap, ok := c.cache.get(model); ok {
		return mergeCapability(cap, override), nil
	}

	reported, err := c.fetchReportedCapability(ctx, model)
	if err != nil {
		return entity.Capability{}, err
	}
	c.cache.put(model, reported)
	return mergeCapability(reported, override), nil
}

// Complete issues a single-shot, non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, model string, msgs []Message, tools []ToolDefinition, params GenerationParams) (ChatCompletion, error) {
	body := buildBody(model, msgs, tools, nil, params, c.openRouter)
	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return ChatCompletion{}, err
	}
	return parseNonStreamResponse(resp), nil
}

// Structured issues a single-shot completion constrained to schema. The
// caller unmarshals StructuredCompletion.Raw into their own type.
func (c *Client) Structured(ctx context.Context, model string, msgs []Message, schema ResponseSchema, params GenerationParams) (StructuredCompletion, error) {
	body := buildBody(model, msgs, nil, &schema, params, c.openRouter)
	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return StructuredCompletion{}, err
	}
	parsed := parseNonStreamResponse(resp)
	if !json.Valid([]byte(parsed.Content)) {
		return StructuredCompletion{}, &ErrUpstream{Provider: c.name, Message: "structured response was not valid JSON"}
	}
	return StructuredCompletion{Raw: json.RawMessage(parsed.Content), Usage: parsed.Usage}, nil
}

// Stream opens an SSE chat completion. It sends StreamEvents to ch (closing
// it before returning on every path) and returns the fully aggregated
// ChatCompletion once the stream is exhausted.
//
// On an HTTP-level failure the channel is closed immediately with no events
// sent — the caller learns about it only from Stream's returned error.
func (c *Client) Stream(ctx context.Context, model string, msgs []Message, tools []ToolDefinition, params GenerationParams, ch chan<- StreamEvent) (ChatCompletion, error) {
	body := buildBody(model, msgs, tools, nil, params, c.openRouter)
	body.Stream = true
	body.StreamOptions = &wireStreamOptions{IncludeUsage: true}

	resp, err := c.send(ctx, body)
	if err != nil {
		close(ch)
		return ChatCompletion{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return ChatCompletion{}, c.httpErr(resp)
	}

	return streamSSE(ctx, resp.Body, ch)
}

func (c *Client) doRequest(ctx context.Context, body wireChatRequest) (wireChatResponse, error) {
	resp, err := c.send(ctx, body)
	if err != nil {
		return wireChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wireChatResponse{}, c.httpErr(resp)
	}

	var out wireChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wireChatResponse{}, &ErrUpstream{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, body wireChatRequest) (*http.Response, error) {
	ctx, span := otelx.Start(ctx, "llm.upstream_request")
	defer span.End()
	span.SetString("llm.provider", c.name)
	span.SetString("llm.model", body.Model)

	payload, err := json.Marshal(body)
	if err != nil {
		err = &ErrUpstream{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
		span.RecordError(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		err = &ErrUpstream{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetInt("http.status_code", resp.StatusCode)
	return resp, nil
}

func (c *Client) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ErrUpstream{
		Provider:   c.name,
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
