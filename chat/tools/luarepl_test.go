package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pinkfuwa/llumen-go/lua"
)

func TestLuaREPLExecutesAndCaches(t *testing.T) {
	tool := NewLuaREPL(lua.DefaultConfig())

	args, err := json.Marshal(map[string]any{"commands": []string{"print('hi')"}})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}

	result := tool.Execute(context.Background(), "lua_repl", args)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Content != "hi" {
		t.Fatalf("expected output %q, got %q", "hi", result.Content)
	}

	result2 := tool.Execute(context.Background(), "lua_repl", args)
	if result2.Error != "" {
		t.Fatalf("unexpected error on second run: %s", result2.Error)
	}
	if result2.Content != "hi" {
		t.Fatalf("expected cached output %q, got %q", "hi", result2.Content)
	}
}

func TestLuaREPLReportsSyntaxError(t *testing.T) {
	tool := NewLuaREPL(lua.DefaultConfig())

	args, err := json.Marshal(map[string]any{"commands": []string{"this is not lua("}})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}

	result := tool.Execute(context.Background(), "lua_repl", args)
	if result.Error == "" {
		t.Fatal("expected a syntax error to be surfaced")
	}
}

func TestLuaREPLInvalidArgs(t *testing.T) {
	tool := NewLuaREPL(lua.DefaultConfig())
	result := tool.Execute(context.Background(), "lua_repl", json.RawMessage(`not json`))
	if result.Error == "" {
		t.Fatal("expected invalid args error")
	}
}
