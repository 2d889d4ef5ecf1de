package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// McpTransport selects how the core talks to an MCP server.
type McpTransport string

const (
	McpStdio McpTransport = "stdio"
	McpSSE   McpTransport = "sse"
	McpTCP   McpTransport = "tcp"
)

// McpServerFile is one server entry from an MCP config file. Only the
// subsection matching Transport is read.
type McpServerFile struct {
	Name          string       `toml:"name"`
	Enabled       bool         `toml:"enabled"`
	Transport     McpTransport `toml:"transport"`
	AttachedModes []string     `toml:"attached_modes"`

	Stdio McpStdioConfig `toml:"stdio"`
	SSE   McpSSEConfig   `toml:"sse"`
	TCP   McpTCPConfig   `toml:"tcp"`
}

type McpStdioConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

type McpSSEConfig struct {
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
}

type McpTCPConfig struct {
	Address string `toml:"address"`
}

// McpFile is the top-level MCP config file: one or more named servers.
type McpFile struct {
	Servers []McpServerFile `toml:"server"`
}

// LoadMcpFile parses an MCP server config file from path.
func LoadMcpFile(path string) (McpFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return McpFile{}, fmt.Errorf("config: read mcp file: %w", err)
	}
	var mf McpFile
	if err := toml.Unmarshal(data, &mf); err != nil {
		return McpFile{}, fmt.Errorf("config: parse mcp file: %w", err)
	}
	for _, s := range mf.Servers {
		if err := s.Validate(); err != nil {
			return McpFile{}, err
		}
	}
	return mf, nil
}

// Validate checks the transport-specific subsection required by Transport is
// populated.
func (s McpServerFile) Validate() error {
	switch s.Transport {
	case McpStdio:
		if s.Stdio.Command == "" {
			return fmt.Errorf("config: mcp server %q: stdio.command is required", s.Name)
		}
	case McpSSE:
		if s.SSE.URL == "" {
			return fmt.Errorf("config: mcp server %q: sse.url is required", s.Name)
		}
	case McpTCP:
		if s.TCP.Address == "" {
			return fmt.Errorf("config: mcp server %q: tcp.address is required", s.Name)
		}
	default:
		return fmt.Errorf("config: mcp server %q: unknown transport %q", s.Name, s.Transport)
	}
	return nil
}

// AttachesToMode reports whether this server's tools should be offered in
// the given chat mode ("normal", "search", "research"); an empty
// AttachedModes list attaches to every mode.
func (s McpServerFile) AttachesToMode(mode string) bool {
	if len(s.AttachedModes) == 0 {
		return true
	}
	for _, m := range s.AttachedModes {
		if m == mode {
			return true
		}
	}
	return false
}
