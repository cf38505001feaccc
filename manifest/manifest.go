// Package manifest handles stbc.toml runtime configuration. The file
// lives next to the container it tunes; every setting is optional and
// a missing file yields the defaults.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an stbc.toml runtime configuration.
type Manifest struct {
	Runtime Runtime         `toml:"runtime"`
	Tasks   map[string]Task `toml:"tasks"`

	// Dir is the directory containing the stbc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime holds host-side execution settings.
type Runtime struct {
	// MaxScans stops the run after this many scans; 0 means run until
	// a stop request or fault.
	MaxScans int `toml:"max-scans"`
	// DefaultWatchdogUs applies to tasks whose container entry sets
	// no watchdog of its own.
	DefaultWatchdogUs uint64 `toml:"default-watchdog-us"`
	// LogLevel is a commonlog verbosity, 0 (quiet) and up.
	LogLevel int `toml:"log-level"`
}

// Task overrides one task table entry, matched by task id. Zero
// values leave the container's setting in place.
type Task struct {
	ID         uint16 `toml:"id"`
	IntervalUs uint64 `toml:"interval-us"`
	WatchdogUs uint64 `toml:"watchdog-us"`
	Priority   int    `toml:"priority"`
	HasPrio    bool   `toml:"-"`
}

// Default returns the configuration used when no stbc.toml exists.
func Default() *Manifest {
	return &Manifest{}
}

// Load parses an stbc.toml file from the given directory. A missing
// file is not an error: the defaults come back instead.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "stbc.toml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for name := range m.Tasks {
		t := m.Tasks[name]
		t.HasPrio = md.IsDefined("tasks", name, "priority")
		m.Tasks[name] = t
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &m, nil
}

// ForContainer loads the manifest that sits next to the container
// file at path.
func ForContainer(path string) (*Manifest, error) {
	return Load(filepath.Dir(path))
}
