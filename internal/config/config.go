// Package config loads d3k settings from .d3k.toml with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/vercel-labs/dev3000-sub004/internal/mcp"
)

// Environment variables that override file settings.
const (
	EnvLogFilePath   = "LOG_FILE_PATH"
	EnvSessionDir    = "D3K_SESSION_DIR"
	EnvMCPServerURL  = "MCP_SERVER_URL"
	EnvScreenshotDir = "SCREENSHOT_DIR"
)

// Config is the complete runtime configuration.
type Config struct {
	Log        LogConfig              `toml:"log"`
	Server     ServerConfig           `toml:"server"`
	Screenshot ScreenshotConfig       `toml:"screenshot"`
	Downstream []mcp.DownstreamConfig `toml:"downstream"`
}

type LogConfig struct {
	// FilePath is the consolidated log file. Empty means a per-session
	// file under the OS temp directory.
	FilePath string `toml:"file_path"`
	// SessionDir overrides where session descriptors are written.
	SessionDir string `toml:"session_dir"`
}

type ServerConfig struct {
	// Port for the d3k HTTP API + MCP endpoint; 0 means pick a free one.
	Port int `toml:"port"`
	// MCPServerURL points replay automation at a browser MCP endpoint.
	MCPServerURL string `toml:"mcp_server_url"`
}

type ScreenshotConfig struct {
	// Dir holds captured frames and layout-shift metadata.
	Dir string `toml:"dir"`
}

// Load reads configuration, lowest precedence first: defaults, a .d3k.toml
// in dir (then the home directory), then environment variables.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	path := findConfigFile(dir)
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// findConfigFile looks for .d3k.toml in dir, then the user's home.
func findConfigFile(dir string) string {
	if dir != "" {
		path := filepath.Join(dir, ".d3k.toml")
		if fileExists(path) {
			return path
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".d3k.toml")
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogFilePath); v != "" {
		cfg.Log.FilePath = v
	}
	if v := os.Getenv(EnvSessionDir); v != "" {
		cfg.Log.SessionDir = v
	}
	if v := os.Getenv(EnvMCPServerURL); v != "" {
		cfg.Server.MCPServerURL = v
	}
	if v := os.Getenv(EnvScreenshotDir); v != "" {
		cfg.Screenshot.Dir = v
	}
}

// LogFilePath resolves the consolidated log file for a project, creating a
// default location when none is configured.
func (c *Config) LogFilePath(projectName string) string {
	if c.Log.FilePath != "" {
		return c.Log.FilePath
	}
	return filepath.Join(os.TempDir(), "d3k-logs", projectName+".log")
}

// ScreenshotDir resolves where screenshots land.
func (c *Config) ScreenshotDir() string {
	if c.Screenshot.Dir != "" {
		return c.Screenshot.Dir
	}
	return filepath.Join(os.TempDir(), "d3k-screenshots")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
