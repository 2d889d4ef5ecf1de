package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/pinkfuwa/llumen-go/config"
)

// fakeServer reads JSON-RPC requests off reqR and answers them on respW,
// standing in for a real MCP subprocess over an in-memory reader/writer
// pair instead of stdio.
func fakeServer(t *testing.T, reqR io.Reader, respW io.Writer, handle func(method string) (any, *rpcError)) {
	t.Helper()
	scanner := bufio.NewScanner(reqR)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	go func() {
		for scanner.Scan() {
			var req rpcRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				return
			}
			result, rerr := handle(req.Method)
			resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
			if rerr != nil {
				resp.Error = rerr
			} else {
				raw, _ := json.Marshal(result)
				resp.Result = raw
			}
			line, _ := json.Marshal(resp)
			line = append(line, '\n')
			if _, err := respW.Write(line); err != nil {
				return
			}
		}
	}()
}

func newTestServer(t *testing.T, cfg config.McpServerFile, handle func(method string) (any, *rpcError)) *server {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	fakeServer(t, reqR, respW, handle)

	s := &server{cfg: cfg}
	tr := newTransport(reqW, respR)
	if _, err := tr.call(context.Background(), "initialize", initializeParams{ProtocolVersion: protocolVersion}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	raw, err := tr.call(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	s.t = tr
	s.defs = list.Tools
	return s
}

func scriptedHandler(t *testing.T) func(method string) (any, *rpcError) {
	return func(method string) (any, *rpcError) {
		switch method {
		case "initialize":
			return struct{}{}, nil
		case "tools/list":
			return toolsListResult{Tools: []toolDefinition{
				{Name: "lookup", Description: "looks something up", InputSchema: json.RawMessage(`{}`)},
			}}, nil
		case "tools/call":
			return toolCallResult{Content: []textContent{{Type: "text", Text: "found it"}}}, nil
		default:
			t.Fatalf("unexpected method %q", method)
			return nil, nil
		}
	}
}

func TestServerListsToolsAfterStart(t *testing.T) {
	s := newTestServer(t, config.McpServerFile{Name: "docs", Transport: config.McpStdio}, scriptedHandler(t))

	if len(s.defs) != 1 || s.defs[0].Name != "lookup" {
		t.Fatalf("expected one cached tool definition, got %+v", s.defs)
	}
}

func TestServerExecuteReturnsToolResult(t *testing.T) {
	s := newTestServer(t, config.McpServerFile{Name: "docs", Transport: config.McpStdio}, scriptedHandler(t))

	result := s.execute(context.Background(), "lookup", json.RawMessage(`{"q":"x"}`))
	if result.Error != "" || result.Content != "found it" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestManagerForModeOnlyStartsAttachedServers(t *testing.T) {
	s1 := &server{cfg: config.McpServerFile{Name: "docs", AttachedModes: []string{"research"}}, defs: []toolDefinition{{Name: "lookup"}}}
	s2 := &server{cfg: config.McpServerFile{Name: "other", AttachedModes: []string{"normal"}}}
	s1.t = newTransport(io.Discard, new(discardReader))

	m := &Manager{servers: []*server{s1, s2}}

	tool, err := m.ForMode(context.Background(), "research")
	if err != nil {
		t.Fatalf("ForMode: %v", err)
	}
	defs := tool.Definitions()
	if len(defs) != 1 || defs[0].Name != "lookup" {
		t.Fatalf("expected only docs' tool, got %+v", defs)
	}
}

// discardReader never yields data; used where a server's transport is
// pre-populated (already "started") and ForMode must not touch it again.
type discardReader struct{}

func (discardReader) Read(p []byte) (int, error) { return 0, io.EOF }

func TestModeToolsExecuteRoutesToUnknownToolError(t *testing.T) {
	m := &modeTools{servers: nil}
	result := m.Execute(context.Background(), "missing", json.RawMessage(`{}`))
	if result.Error == "" {
		t.Fatal("expected an unknown-tool error")
	}
}
