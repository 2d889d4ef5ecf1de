// Package session implements CompletionSession, the per-request object a
// Strategy drives to turn one user turn into a streamed, persisted assistant
// reply.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pinkfuwa/llumen-go/blob"
	"github.com/pinkfuwa/llumen-go/chat/channel"
	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/token"
	"github.com/pinkfuwa/llumen-go/internal/otelx"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/persistence"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// ErrChatBusy is returned by New when another session already holds the
// publish slot for this chat.
var ErrChatBusy = errors.New("session: another session is already streaming on this chat")

// LLM is the narrow slice of llm.Client a session needs: one non-streaming
// call (title generation) and one streaming call (the main completion). Kept
// as an interface, the same way persistence/blob/prompt are, so a session
// can be driven in tests without a live upstream.
type LLM interface {
	Complete(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolDefinition, params llm.GenerationParams) (llm.ChatCompletion, error)
	Stream(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolDefinition, params llm.GenerationParams, ch chan<- llm.StreamEvent) (llm.ChatCompletion, error)
}

// StreamOutcome reports why PutStream returned.
type StreamOutcome int

const (
	// StreamExhausted means the upstream event channel closed on its own.
	StreamExhausted StreamOutcome = iota
	// StreamHalted means Context.Stop fired before the channel closed.
	StreamHalted
)

// TokenSink is the set of operations a Strategy's run loop drives a
// CompletionSession through.
type TokenSink interface {
	AddToken(t token.Token)
	AddError(msg string)
	// AddToolCall and AddToolResult pair a persisted chunk with its wire
	// token the way AddError does, for the two tool-call-loop events a
	// strategy's HandleToolCalls drives ("appends ToolCall chunk... emits
	// ToolCall token") that the bare method list above doesn't spell out
	// as its own bullet.
	AddToolCall(id, name, args string)
	AddToolResult(id, response string)
	UpdateUsage(cost float32, tokens int32)
	PutStream(ctx context.Context, cancel context.CancelFunc, events <-chan llm.StreamEvent) StreamOutcome
	// StreamScratch drains a stream with the same halt-racing discipline as
	// PutStream but neither persists a chunk nor emits an Assistant/Reasoning
	// token — it returns the concatenated response text. The Deep-Research
	// agent uses this for its Enhance phase and each
	// step's own narration: that text feeds planning/step-summary input, it
	// is never itself the turn's visible reply, so it must not land in the
	// persisted assistant message the way a Normal/Search round's tokens do.
	StreamScratch(ctx context.Context, cancel context.CancelFunc, events <-chan llm.StreamEvent) (string, StreamOutcome)
	// AddDeepSnapshot appends a ChunkDeepAgent chunk carrying the completed
	// research artifact, with no accompanying token (the DeepPlan token was
	// already emitted during planning). Calling it immediately before the
	// report's own PutStream call reproduces the required chunk order for
	// free: the report's first delta finds the chunk list
	// ending in ChunkDeepAgent rather than ChunkText, so appendChunk starts a
	// fresh Text chunk right after it instead of merging into anything.
	AddDeepSnapshot(deep *entity.Deep)
	ApplyStreamResult(ctx context.Context, result llm.ChatCompletion) error
	AssembleMessages(ctx context.Context, kind prompt.Kind, injectContext bool) ([]llm.Message, error)
	Save(ctx context.Context) error
	TryGenerateTitle(ctx context.Context) error
}

// CompletionSession is the live state of one completion request: the loaded
// user/chat/model, the message history, the in-progress assistant message
// and the publisher it owns on chat/channel.
type CompletionSession struct {
	persist persistence.Persistence
	blobs   blob.Store
	llm     LLM
	prompts prompt.Service

	chCtx *channel.Context[token.Token, *token.Token]
	pub   *channel.Publisher[token.Token, *token.Token]

	User  entity.User
	Chat  entity.Chat
	Model entity.ModelConfig

	history   []entity.Message
	assistant entity.Message // placeholder row, grows as chunks stream in

	usageCost   float32
	usageTokens int32
}

// New constructs a CompletionSession for (userID, chatID, modelID): it loads
// the user, chat and model concurrently, loads message history ascending by
// id, inserts an empty assistant placeholder, and acquires the chat's
// publish slot. Any failure — including losing the publish race — aborts the
// whole construction; nothing partial is left acquired.
func New(
	ctx context.Context,
	persist persistence.Persistence,
	blobs blob.Store,
	llmClient LLM,
	prompts prompt.Service,
	chCtx *channel.Context[token.Token, *token.Token],
	userID, chatID, modelID int64,
) (*CompletionSession, error) {
	s := &CompletionSession{
		persist: persist,
		blobs:   blobs,
		llm:     llmClient,
		prompts: prompts,
		chCtx:   chCtx,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := persist.FindUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("session: load user: %w", err)
		}
		s.User = u
		return nil
	})
	g.Go(func() error {
		c, err := persist.FindChat(gctx, chatID)
		if err != nil {
			return fmt.Errorf("session: load chat: %w", err)
		}
		s.Chat = c
		return nil
	})
	g.Go(func() error {
		m, err := persist.FindModel(gctx, modelID)
		if err != nil {
			return fmt.Errorf("session: load model: %w", err)
		}
		s.Model = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history, err := persist.ListMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("session: load history: %w", err)
	}
	s.history = history

	placeholder := entity.Message{ChatID: chatID, Kind: entity.MessageAssistant}
	id, err := persist.InsertMessage(ctx, placeholder)
	if err != nil {
		return nil, fmt.Errorf("session: insert assistant placeholder: %w", err)
	}
	placeholder.ID = id
	s.assistant = placeholder

	pub, ok := chCtx.Publish(chatID)
	if !ok {
		return nil, ErrChatBusy
	}
	s.pub = pub

	pub.Publish(token.Start(id, lastUserMessageID(history)))

	return s, nil
}

func lastUserMessageID(history []entity.Message) int64 {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == entity.MessageUser {
			return history[i].ID
		}
	}
	return 0
}

// Publisher exposes the session's publish slot so a Strategy can poll
// Halted/HaltChan without this package re-exposing every channel method.
func (s *CompletionSession) Publisher() *channel.Publisher[token.Token, *token.Token] {
	return s.pub
}

// AddToken publishes t to every subscriber of this chat.
func (s *CompletionSession) AddToken(t token.Token) {
	s.pub.Publish(t)
}

// appendChunk appends a new chunk, merging into the last chunk of the same
// kind when the message already ends with one (keeping the persisted chunk
// list from growing one row per streamed delta).
func (s *CompletionSession) appendChunk(kind entity.ChunkKind, text string) {
	if n := len(s.assistant.Chunks); n > 0 && s.assistant.Chunks[n-1].Kind == kind {
		s.assistant.Chunks[n-1].Text += text
		return
	}
	var c entity.AssistantChunk
	switch kind {
	case entity.ChunkText:
		c = entity.TextChunk(text)
	case entity.ChunkReasoning:
		c = entity.ReasoningChunk(text)
	case entity.ChunkError:
		c = entity.ErrorChunk(text)
	default:
		c = entity.AssistantChunk{Kind: kind, Text: text}
	}
	s.assistant.Chunks = append(s.assistant.Chunks, c)
}

// AddError appends an Error chunk to the in-progress assistant message and
// emits a matching Error token.
func (s *CompletionSession) AddError(msg string) {
	s.appendChunk(entity.ChunkError, msg)
	s.AddToken(token.Error(msg))
}

// AddToolCall appends a ToolCall chunk to the in-progress assistant message
// and emits the matching wire token.
func (s *CompletionSession) AddToolCall(id, name, args string) {
	s.assistant.Chunks = append(s.assistant.Chunks, entity.ToolCallChunk(id, name, args))
	s.AddToken(token.ToolCall(name, args))
}

// AddToolResult appends a ToolResult chunk to the in-progress assistant
// message and emits the matching wire token.
func (s *CompletionSession) AddToolResult(id, response string) {
	s.assistant.Chunks = append(s.assistant.Chunks, entity.ToolResultChunk(id, response))
	s.AddToken(token.ToolResult(response))
}

// UpdateUsage accumulates cost/token counters across every completion issued
// in this session (the main turn, and any tool-calling round-trips before
// it).
func (s *CompletionSession) UpdateUsage(cost float32, tokens int32) {
	s.usageCost += cost
	s.usageTokens += int32(tokens)
}

// PutStream drains events into the publisher, translating each StreamEvent
// into the matching Token and accumulating the text into the in-progress
// assistant message. It races every read against the publisher's halt
// signal: on halt it calls cancel (unblocking the upstream HTTP read that is
// feeding events) and keeps draining, without publishing further tokens,
// until the channel closes — so the feeding goroutine never blocks forever
// on a channel nobody is reading.
func (s *CompletionSession) PutStream(ctx context.Context, cancel context.CancelFunc, events <-chan llm.StreamEvent) StreamOutcome {
	_, span := otelx.Start(ctx, "session.stream")
	defer span.End()

	halted := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if halted {
					span.SetString("stream.outcome", "halted")
					return StreamHalted
				}
				span.SetString("stream.outcome", "exhausted")
				return StreamExhausted
			}
			if halted {
				continue
			}
			s.handleStreamEvent(ev)
		case <-s.pub.HaltChan():
			if !halted {
				halted = true
				cancel()
			}
		}
	}
}

// StreamScratch drains events the same halt-racing way PutStream does, but
// only accumulates response-token text into a local buffer instead of
// mutating the assistant message or publishing tokens. Usage deltas still
// update the session's running cost/token counters, since every upstream
// call this session makes — scratch or not — spent real tokens.
func (s *CompletionSession) StreamScratch(ctx context.Context, cancel context.CancelFunc, events <-chan llm.StreamEvent) (string, StreamOutcome) {
	var text string
	halted := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if halted {
					return text, StreamHalted
				}
				return text, StreamExhausted
			}
			if halted {
				continue
			}
			switch ev.Kind {
			case llm.EventResponseToken:
				text += ev.Text
			case llm.EventUsage:
				s.UpdateUsage(ev.Usage.Cost, ev.Usage.InputTokens+ev.Usage.OutputTokens)
			}
		case <-s.pub.HaltChan():
			if !halted {
				halted = true
				cancel()
			}
		}
	}
}

// AddDeepSnapshot appends the completed research artifact as a chunk with no
// accompanying token; see the TokenSink doc comment for why call order
// matters here.
func (s *CompletionSession) AddDeepSnapshot(deep *entity.Deep) {
	s.assistant.Chunks = append(s.assistant.Chunks, entity.DeepAgentChunk(deep))
}

func (s *CompletionSession) handleStreamEvent(ev llm.StreamEvent) {
	switch ev.Kind {
	case llm.EventReasoningToken:
		s.appendChunk(entity.ChunkReasoning, ev.Text)
		s.AddToken(token.Reasoning(ev.Text))
	case llm.EventResponseToken:
		s.appendChunk(entity.ChunkText, ev.Text)
		s.AddToken(token.Assistant(ev.Text))
	case llm.EventUsage:
		s.UpdateUsage(ev.Usage.Cost, ev.Usage.InputTokens+ev.Usage.OutputTokens)
	case llm.EventToolCallDelta:
		// Deltas are assembled into ChatCompletion.ToolCalls by llm.Stream
		// itself; a Strategy reads the completed calls off the returned
		// ChatCompletion, not off individual deltas.
	}
}

// ApplyStreamResult attaches what only the final ChatCompletion carries
// (annotations) as an Annotation chunk and emits a UrlCitation token for
// their URLs. It does not handle generated images: no File row, blob or
// Image token is written here. Reasoning_details is kept
// in-memory only for building the next upstream turn within this session's
// own tool-calling loop; it is not part of the persisted chunk history.
func (s *CompletionSession) ApplyStreamResult(ctx context.Context, result llm.ChatCompletion) error {
	if len(result.Annotations) > 0 {
		s.appendChunk(entity.ChunkAnnotation, string(result.Annotations))
		if urls := citationURLs(result.Annotations); len(urls) > 0 {
			s.AddToken(token.UrlCitation(urls))
		}
	}
	return nil
}

// citationURLs best-effort extracts "url" fields from an OpenRouter
// annotations array so the wire Token carries plain strings instead of
// opaque JSON a subscriber would need to parse itself.
func citationURLs(raw []byte) []string {
	var items []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		if it.URL != "" {
			out = append(out, it.URL)
		}
	}
	return out
}

// AssembleMessages builds the full message list sent upstream: the rendered
// system prompt for kind, then history in role order, then (when
// injectContext is set and the model's Capability.TextOutput is true) the
// rendered context prompt inserted immediately before the last user message.
// Capability has no separate text-input flag, so TextOutput is the gate.
func (s *CompletionSession) AssembleMessages(ctx context.Context, kind prompt.Kind, injectContext bool) ([]llm.Message, error) {
	sysText, err := s.prompts.Render(ctx, kind, s.promptSession())
	if err != nil {
		return nil, fmt.Errorf("session: render system prompt: %w", err)
	}

	msgs := make([]llm.Message, 0, len(s.history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: sysText})
	for _, m := range s.history {
		msgs = append(msgs, historyToWire(m)...)
	}

	if injectContext && s.Model.Capability.TextOutput {
		ctxText, err := s.prompts.RenderContext(ctx, s.promptSession())
		if err != nil {
			return nil, fmt.Errorf("session: render context prompt: %w", err)
		}
		if ctxText != "" {
			msgs = insertBeforeLastUser(msgs, llm.Message{Role: llm.RoleSystem, Content: ctxText})
		}
	}

	return llm.EnsureTrailingUser(msgs), nil
}

func insertBeforeLastUser(msgs []llm.Message, insert llm.Message) []llm.Message {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return append(msgs, insert)
	}
	out := make([]llm.Message, 0, len(msgs)+1)
	out = append(out, msgs[:idx]...)
	out = append(out, insert)
	out = append(out, msgs[idx:]...)
	return out
}

// historyToWire converts one persisted turn into its upstream Message(s). A
// user turn is one Message; an assistant turn may expand into several
// (assistant text/tool-calls, then one tool Message per tool result) since
// the upstream wire format keeps tool results as separate Role: "tool"
// entries.
func historyToWire(m entity.Message) []llm.Message {
	if m.Kind == entity.MessageUser {
		text, _ := joinTextChunks(m.Chunks)
		return []llm.Message{{Role: llm.RoleUser, Content: text}}
	}

	var out []llm.Message
	text, _ := joinTextChunks(m.Chunks)
	assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: text}
	for _, c := range m.Chunks {
		if c.Kind == entity.ChunkToolCall {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, llm.ToolCallRequest{
				ID:   c.ToolCallID,
				Name: c.ToolName,
				Args: []byte(c.ToolArgs),
			})
		}
	}
	out = append(out, assistantMsg)
	for _, c := range m.Chunks {
		if c.Kind == entity.ChunkToolResult {
			out = append(out, llm.Message{Role: llm.RoleTool, Content: c.ToolResponse, ToolCallID: c.ToolCallID})
		}
	}
	return out
}

func joinTextChunks(chunks []entity.AssistantChunk) (string, bool) {
	var text string
	found := false
	for _, c := range chunks {
		if c.Kind == entity.ChunkText {
			text += c.Text
			found = true
		}
	}
	return text, found
}

func (s *CompletionSession) promptSession() prompt.Session {
	displayName := ""
	if s.Chat.Title != nil {
		displayName = *s.Chat.Title
	}
	return prompt.Session{
		UserID:      s.User.ID,
		ChatID:      s.Chat.ID,
		Locale:      s.User.Preference.Locale,
		ModelID:     s.Model.ModelID,
		DisplayName: displayName,
	}
}

// Save persists the final assistant message content and emits the closing
// Complete token. It always releases the publish slot, even on a persist
// error, so a failed save never wedges the chat's at-most-one-publisher
// invariant.
func (s *CompletionSession) Save(ctx context.Context) error {
	defer s.pub.Close()

	s.assistant.Cost = s.usageCost
	s.assistant.TokenCount = s.usageTokens
	if err := s.persist.UpdateMessage(ctx, s.assistant); err != nil {
		return fmt.Errorf("session: save assistant message: %w", err)
	}

	s.AddToken(token.Complete(s.assistant.ID, s.usageCost, s.usageTokens))
	return nil
}

// TryGenerateTitle issues a short, non-streaming completion to produce a
// chat title when the chat has none yet, persisting it and emitting a Title
// token. A no-op if the chat already has a title.
func (s *CompletionSession) TryGenerateTitle(ctx context.Context) error {
	if s.Chat.Title != nil {
		return nil
	}

	firstUser := ""
	for _, m := range s.history {
		if m.Kind == entity.MessageUser {
			firstUser, _ = joinTextChunks(m.Chunks)
			break
		}
	}
	if firstUser == "" {
		return nil
	}

	sysText, err := s.prompts.RenderTitleGeneration(ctx, s.promptSession(), firstUser)
	if err != nil {
		return fmt.Errorf("session: render title prompt: %w", err)
	}

	result, err := s.llm.Complete(ctx, s.Model.ModelID, []llm.Message{
		{Role: llm.RoleSystem, Content: sysText},
		{Role: llm.RoleUser, Content: firstUser},
	}, nil, llm.GenerationParams{})
	if err != nil {
		return fmt.Errorf("session: generate title: %w", err)
	}

	title := result.Content
	if err := s.persist.UpdateChatTitle(ctx, s.Chat.ID, title); err != nil {
		return fmt.Errorf("session: save title: %w", err)
	}
	s.Chat.Title = &title
	s.UpdateUsage(result.Usage.Cost, result.Usage.InputTokens+result.Usage.OutputTokens)
	s.AddToken(token.Title(title))
	return nil
}

var _ TokenSink = (*CompletionSession)(nil)
