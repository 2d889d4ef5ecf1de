// Package mcp implements a lazy-starting Model Context Protocol client: it
// launches a configured server's transport only on first use and memoizes
// that server's advertised tool list, exposing the tools of every server
// attached to a chat mode as a plain chat/tools.Tool so a strategy can
// register it into a Registry like any other tool.
//
// Only the stdio transport is implemented. config.McpSSE/McpTCP entries are
// accepted by the config but rejected at start time with a clear error —
// original_source's own MCP integration is stdio-only too, and SSE/TCP have
// no exerciser anywhere in this module's scope.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/pinkfuwa/llumen-go/chat/tools"
	"github.com/pinkfuwa/llumen-go/config"
)

const protocolVersion = "2025-03-26"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities    any    `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDefinition `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// transport is the one-request-in-flight-at-a-time stdio pipe to a running
// MCP server subprocess.
type transport struct {
	cmd    *exec.Cmd
	stdin  *json.Encoder
	stdout *bufio.Scanner
	nextID int
}

// newTransport wraps an already-open stdin/stdout pair. Split out from
// startTransport so tests can drive a transport over in-memory pipes
// instead of a real subprocess.
func newTransport(stdin io.Writer, stdout io.Reader) *transport {
	t := &transport{stdin: json.NewEncoder(stdin), stdout: bufio.NewScanner(stdout)}
	t.stdout.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return t
}

func startTransport(ctx context.Context, cfg config.McpStdioConfig) (*transport, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start server: %w", err)
	}

	t := newTransport(stdin, stdout)
	t.cmd = cmd

	if _, err := t.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo: struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}{Name: "llumen-go", Version: "0.1.0"},
	}); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}
	return t, nil
}

// call sends one JSON-RPC request and blocks for the matching response.
// The server is assumed to answer requests in order with no interleaved
// notifications, which holds for every server original_source configures.
func (t *transport) call(_ context.Context, method string, params any) (json.RawMessage, error) {
	t.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: t.nextID, Method: method, Params: params}
	if err := t.stdin.Encode(req); err != nil {
		return nil, fmt.Errorf("mcp: write request: %w", err)
	}

	if !t.stdout.Scan() {
		if err := t.stdout.Err(); err != nil {
			return nil, fmt.Errorf("mcp: read response: %w", err)
		}
		return nil, fmt.Errorf("mcp: server closed its output")
	}

	var resp rpcResponse
	if err := json.Unmarshal(t.stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("mcp: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp: %s: %s", method, resp.Error.Message)
	}
	return resp.Result, nil
}

// server is one configured MCP server, started lazily.
type server struct {
	cfg config.McpServerFile

	mu   sync.Mutex
	t    *transport
	defs []toolDefinition
}

func (s *server) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		return nil
	}

	switch s.cfg.Transport {
	case config.McpStdio:
	default:
		return fmt.Errorf("mcp: transport %q not implemented", s.cfg.Transport)
	}

	t, err := startTransport(ctx, s.cfg.Stdio)
	if err != nil {
		return err
	}

	raw, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp: tools/list: %w", err)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("mcp: decode tools/list: %w", err)
	}

	s.t = t
	s.defs = list.Tools
	return nil
}

func (s *server) execute(ctx context.Context, name string, args json.RawMessage) tools.Result {
	s.mu.Lock()
	t := s.t
	s.mu.Unlock()
	if t == nil {
		return tools.Result{Error: "mcp: server not started"}
	}

	raw, err := t.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args})
	if err != nil {
		return tools.Result{Error: err.Error()}
	}
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return tools.Result{Error: fmt.Sprintf("mcp: decode tool result: %v", err)}
	}

	var text string
	for _, c := range result.Content {
		text += c.Text
	}
	if result.IsError {
		return tools.Result{Error: text}
	}
	return tools.Result{Content: text}
}

// Manager holds every configured MCP server and starts each one's transport
// only when a strategy first asks for its tools for a given chat mode.
type Manager struct {
	servers []*server
}

// NewManager builds a Manager from a parsed MCP config file. Disabled
// entries are dropped immediately; nothing is started yet.
func NewManager(file config.McpFile) *Manager {
	m := &Manager{}
	for _, f := range file.Servers {
		if !f.Enabled {
			continue
		}
		m.servers = append(m.servers, &server{cfg: f})
	}
	return m
}

// ForMode starts (if not already running) every server attached to mode and
// returns their combined tool set as a single chat/tools.Tool.
func (m *Manager) ForMode(ctx context.Context, mode string) (tools.Tool, error) {
	var active []*server
	for _, s := range m.servers {
		if attachedTo(s.cfg, mode) {
			if err := s.ensureStarted(ctx); err != nil {
				return nil, fmt.Errorf("mcp: %s: %w", s.cfg.Name, err)
			}
			active = append(active, s)
		}
	}
	return &modeTools{servers: active}, nil
}

func attachedTo(cfg config.McpServerFile, mode string) bool {
	for _, m := range cfg.AttachedModes {
		if m == mode {
			return true
		}
	}
	return false
}

// modeTools aggregates every server active for one chat mode into a single
// chat/tools.Tool, dispatching each call to whichever server advertised it.
type modeTools struct {
	servers []*server
}

func (m *modeTools) Definitions() []tools.Definition {
	var out []tools.Definition
	for _, s := range m.servers {
		for _, d := range s.defs {
			out = append(out, tools.Definition{Name: d.Name, Description: d.Description, Parameters: d.InputSchema})
		}
	}
	return out
}

func (m *modeTools) Execute(ctx context.Context, name string, args json.RawMessage) tools.Result {
	for _, s := range m.servers {
		for _, d := range s.defs {
			if d.Name == name {
				return s.execute(ctx, name, args)
			}
		}
	}
	return tools.Result{Error: "mcp: unknown tool: " + name}
}

var _ tools.Tool = (*modeTools)(nil)
