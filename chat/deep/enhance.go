package deep

import (
	"context"
	"strings"

	"github.com/pinkfuwa/llumen-go/chat/session"
	"github.com/pinkfuwa/llumen-go/llm"
)

const (
	enhancedPromptOpen  = "<enhanced_prompt>"
	enhancedPromptClose = "</enhanced_prompt>"
)

// enhance streams a single completion with the prompt-enhancer system prompt
// and extracts the text between <enhanced_prompt> tags if present; otherwise
// falls back to the full enhanced text, or the original prompt if even that
// comes back empty.
func (a *Agent) enhance(ctx context.Context, sink session.TokenSink, original string) (string, error) {
	sysText, err := a.Prompts.RenderPromptEnhancer(ctx, a.Session, original)
	if err != nil {
		return "", err
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: sysText},
		{Role: llm.RoleUser, Content: original},
	}

	text, _, err := a.streamScratch(ctx, sink, msgs, nil)
	if err != nil {
		return "", err
	}
	if text == "" {
		return original, nil
	}

	if start := strings.Index(text, enhancedPromptOpen); start >= 0 {
		start += len(enhancedPromptOpen)
		if end := strings.Index(text[start:], enhancedPromptClose); end >= 0 {
			return strings.TrimSpace(text[start : start+end]), nil
		}
	}
	return text, nil
}
