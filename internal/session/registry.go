package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry discovers sessions registered by independently-started processes.
// Liveness is the only validity criterion: a descriptor whose PID no longer
// responds to a signal-0 probe is filtered out but its file stays in place.
type Registry struct {
	dir string
}

// NewRegistry creates a registry over the given session directory. An empty
// dir means the default location.
func NewRegistry(dir string) *Registry {
	if dir == "" {
		dir = Dir()
	}
	return &Registry{dir: dir}
}

// Dir returns the registry root directory.
func (r *Registry) Dir() string { return r.dir }

// FindActiveSessions returns all sessions whose owning process is still
// alive, most recently started first. Unparsable files are skipped.
func (r *Registry) FindActiveSessions() ([]*Descriptor, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session directory: %w", err)
	}

	var active []*Descriptor
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}

		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}

		if !processAlive(d.PID) {
			continue
		}

		active = append(active, &d)
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].StartTime.After(active[j].StartTime)
	})

	return active, nil
}

// Find returns the named session if it is active, or the most recently
// started active session when name is empty.
func (r *Registry) Find(name string) (*Descriptor, error) {
	active, err := r.FindActiveSessions()
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("no active sessions in %s", r.dir)
	}

	if name == "" {
		return active[0], nil
	}

	for _, d := range active {
		if d.ProjectName == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no active session named %q", name)
}
