package strategy

import (
	"context"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/llm"
	"github.com/pinkfuwa/llumen-go/prompt"
)

// Normal is the plain-completion mode: no tools, one round trip, the
// context prompt injected before the last user message.
type Normal struct{}

func (Normal) PromptKind() prompt.Kind { return prompt.KindNormal }

func (Normal) CompletionOption(_ context.Context, _ entity.Capability) (CompletionOption, error) {
	return CompletionOption{}, nil
}

func (Normal) InjectContext() bool { return true }

// HandleToolCalls is never driven in practice (Normal offers no tools, so a
// well-behaved model never requests one) but must satisfy Strategy; it
// finalizes immediately rather than looping on an unexpected tool call.
func (Normal) HandleToolCalls(_ context.Context, _ *[]llm.Message, _ session.TokenSink, _ *tools.Registry, _ llm.ChatCompletion) (bool, error) {
	return true, nil
}

var _ Strategy = Normal{}
