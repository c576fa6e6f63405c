package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Descriptor is the on-disk record of one monitoring session. One JSON file
// per project lives under the session directory; the filename (minus
// extension) is the project name. Files are never garbage-collected —
// discovery re-validates liveness instead.
type Descriptor struct {
	ProjectName   string    `json:"projectName"`
	PID           int       `json:"pid"`
	AppPort       int       `json:"appPort"`
	MCPPort       int       `json:"mcpPort"`
	CDPUrl        string    `json:"cdpUrl,omitempty"`
	LogFilePath   string    `json:"logFilePath"`
	StartTime     time.Time `json:"startTime"`
	CWD           string    `json:"cwd"`
	ServerCommand string    `json:"serverCommand"`
	Framework     string    `json:"framework,omitempty"`
}

// Dir returns the session registry root: D3K_SESSION_DIR when set, otherwise
// ~/.d3k/sessions.
func Dir() string {
	if dir := os.Getenv("D3K_SESSION_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "d3k", "sessions")
	}
	return filepath.Join(home, ".d3k", "sessions")
}

// Register writes the descriptor atomically (temp file + rename) so readers
// never observe a partial file.
func Register(dir string, d *Descriptor) error {
	if d.ProjectName == "" {
		return fmt.Errorf("descriptor missing project name")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session descriptor: %w", err)
	}

	finalPath := filepath.Join(dir, d.ProjectName+".json")
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp descriptor: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename descriptor: %w", err)
	}

	return nil
}

// Load reads one project's descriptor. A file that fails to parse is treated
// as absent.
func Load(dir, projectName string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, projectName+".json"))
	if err != nil {
		return nil, err
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, os.ErrNotExist
	}
	return &d, nil
}
