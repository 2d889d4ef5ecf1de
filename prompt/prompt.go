// Package prompt declares the external prompt-rendering collaborator the
// chat core depends on. The core never builds prompt
// text itself — every system/user-facing template is rendered by whatever
// Service implementation the deployment wires in (file templates, a remote
// template service, etc.).
package prompt

import "context"

// Kind selects which system prompt template to render for a plain
// (non-deep-research) completion turn.
type Kind int

const (
	KindNormal Kind = iota
	KindSearch
	KindDeepCoordinator
)

// Session is the read-only view of a completion session a template may
// interpolate: locale/preferences, chat mode, and the model in use. It is
// intentionally narrow — Service implementations that need more context
// hold their own references (e.g. to persistence) rather than the core
// widening this struct per template.
type Session struct {
	UserID      int64
	ChatID      int64
	Locale      string
	ModelID     string
	DisplayName string
}

// Step mirrors entity.Step's fields a template needs without importing the
// entity package, keeping this collaborator boundary dependency-light.
type Step struct {
	Title       string
	Description string
	IsCode      bool
	Summary     string // rendered progress/result of a completed step
}

// Service renders every prompt template the core and the Deep-Research agent
// need. Implementations are free to source templates from disk, an embedded
// filesystem, or a remote template service.
type Service interface {
	// Render produces the system prompt for a plain completion turn.
	Render(ctx context.Context, kind Kind, session Session) (string, error)

	// RenderContext renders the optional context prompt inserted before the
	// last user message when the model's capability allows it.
	RenderContext(ctx context.Context, session Session) (string, error)

	// RenderTitleGeneration renders the prompt for the short, constrained
	// title-generation completion.
	RenderTitleGeneration(ctx context.Context, session Session, firstUserMessage string) (string, error)

	// Deep-Research prompts.
	RenderPromptEnhancer(ctx context.Context, session Session, original string) (string, error)
	RenderPlanner(ctx context.Context, session Session, enhancedPrompt string) (string, error)
	RenderResearcher(ctx context.Context, session Session) (string, error)
	RenderCoder(ctx context.Context, session Session) (string, error)
	RenderReporter(ctx context.Context, session Session) (string, error)
	RenderStepSystemMessage(ctx context.Context, session Session, step Step) (string, error)
	RenderStepInput(ctx context.Context, session Session, step Step, completed []Step) (string, error)
	RenderReportInput(ctx context.Context, session Session, completed []Step) (string, error)
}
