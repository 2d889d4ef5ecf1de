package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pinkfuwa/llumen-go/internal/urlguard"
	"github.com/pinkfuwa/llumen-go/lua"
)

// LuaREPL is the lua_repl tool: it forwards a command path to a lua.Runner
// and returns the final command's print() output. Whether the run was served
// from cache is not reported in the result.
type LuaREPL struct {
	runner *lua.Runner
}

// NewLuaREPL builds a lua_repl tool over a fresh sandboxed runner, with
// http.get/http.post registered as SSRF-checked host functions.
func NewLuaREPL(cfg lua.Config) *LuaREPL {
	r := lua.NewRunner(cfg)
	client := &http.Client{Timeout: 20 * time.Second}
	resolver := urlguard.NetResolver{}

	r.RegisterHost("http.get", func(ctx context.Context, args json.RawMessage) (any, error) {
		return doHTTPHost(ctx, client, resolver, http.MethodGet, args)
	})
	r.RegisterHost("http.post", func(ctx context.Context, args json.RawMessage) (any, error) {
		return doHTTPHost(ctx, client, resolver, http.MethodPost, args)
	})

	return &LuaREPL{runner: r}
}

func (l *LuaREPL) Definitions() []Definition {
	return []Definition{{
		Name:        "lua_repl",
		Description: "Run a sequence of Lua statements against a persistent sandbox. Pass the full command history each call; a repeated prefix is served from cache. Returns the final statement's print() output.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"commands":{"type":"array","items":{"type":"string"},"description":"Full command stack, oldest first"}},"required":["commands"]}`),
	}}
}

func (l *LuaREPL) Execute(ctx context.Context, _ string, args json.RawMessage) Result {
	var params struct {
		Commands []string `json:"commands"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Result{Error: "invalid args: " + err.Error()}
	}

	output, _, err := l.runner.Execute(ctx, params.Commands)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Content: output}
}

var _ Tool = (*LuaREPL)(nil)
