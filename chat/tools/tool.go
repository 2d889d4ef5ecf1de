// Package tools implements the built-in tool collection strategies dispatch
// into: web_search, crawl, and lua_repl.
package tools

import (
	"context"
	"encoding/json"

	"github.com/pinkfuwa/llumen-go/internal/otelx"
)

// Tool is one callable the model can invoke. A Tool may expose more than
// one named function (Definitions can return several entries); Registry
// dispatches by name across all registered tools.
type Tool interface {
	Definitions() []Definition
	Execute(ctx context.Context, name string, args json.RawMessage) Result
}

// Definition is the JSON-schema description of a callable sent upstream.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Result is a tool's outcome. Error is populated instead of returning a Go
// error from Execute: every tool failure is surfaced to the model as a
// stringified error rather than allowed to escape as a panic or bubble up
// to the caller.
type Result struct {
	Content string
	Error   string
}

// Registry holds every registered tool and dispatches by name.
type Registry struct {
	tools []Tool
}

// NewRegistry creates a registry holding tools (none if called without
// arguments).
func NewRegistry(tools ...Tool) *Registry {
	return &Registry{tools: tools}
}

// Add registers an additional tool.
func (r *Registry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// Definitions returns the combined schema list sent to the model.
func (r *Registry) Definitions() []Definition {
	var out []Definition
	for _, t := range r.tools {
		out = append(out, t.Definitions()...)
	}
	return out
}

// Execute runs the named tool, recovering from any panic inside it and
// turning it into a Result error so a single misbehaving tool cannot take
// down a completion run.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (result Result) {
	ctx, span := otelx.Start(ctx, "tool.execute")
	span.SetString("tool.name", name)
	defer func() {
		if result.Error != "" {
			span.SetString("tool.error", result.Error)
		}
		span.End()
	}()

	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name != name {
				continue
			}
			defer func() {
				if rec := recover(); rec != nil {
					result = Result{Error: "tool panicked: " + panicString(rec)}
				}
			}()
			return t.Execute(ctx, name, args)
		}
	}
	return Result{Error: "unknown tool: " + name}
}

func panicString(rec any) string {
	if err, ok := rec.(error); ok {
		return err.Error()
	}
	if s, ok := rec.(string); ok {
		return s
	}
	return "unknown panic"
}
