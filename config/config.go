// Package config holds process configuration: the TOML model and MCP server
// formats and the top-level process config, loaded with a
// defaults-then-TOML-then-env precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the process-wide configuration: upstream LLM credentials,
// persistence/blob locations, and the sweeper tick interval.
type Config struct {
	Upstream UpstreamConfig `toml:"upstream"`
	Database DatabaseConfig `toml:"database"`
	Blob     BlobConfig     `toml:"blob"`
	ModelDir string         `toml:"model_dir"`
	McpFile  string         `toml:"mcp_file"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
}

type UpstreamConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	DSN    string `toml:"dsn"`
}

type BlobConfig struct {
	Dir string `toml:"dir"`
}

type SweeperConfig struct {
	Interval time.Duration `toml:"-"`
}

// Default returns a Config with sensible local defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Upstream: UpstreamConfig{BaseURL: "https://openrouter.ai/api/v1"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(home, "llumen.db")},
		Blob:     BlobConfig{Dir: filepath.Join(home, "llumen-blobs")},
		ModelDir: filepath.Join(home, "llumen-models"),
		Sweeper:  SweeperConfig{Interval: 5 * time.Minute},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins), matching
// this codebase's own process-config precedence.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "llumen.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("LLUMEN_UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("LLUMEN_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("LLUMEN_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LLUMEN_BLOB_DIR"); v != "" {
		cfg.Blob.Dir = v
	}
	if v := os.Getenv("LLUMEN_MODEL_DIR"); v != "" {
		cfg.ModelDir = v
	}
	if v := os.Getenv("LLUMEN_MCP_FILE"); v != "" {
		cfg.McpFile = v
	}

	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = 5 * time.Minute
	}
	return cfg
}
