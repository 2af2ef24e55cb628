// Package run manages simulation run directories: the metadata file
// describing a run and the fork operation that starts a new run from an
// existing one's state.
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrRunExists is returned when forking onto a name already in use.
var ErrRunExists = errors.New("run already exists")

// ErrRunNotFound is returned when a base run directory is missing.
var ErrRunNotFound = errors.New("run not found")

// Meta describes a run. It is stored as meta.json at the run root and
// rewritten on every save.
type Meta struct {
	ForkedFrom   string    `json:"forked_from,omitempty"`
	StartDate    time.Time `json:"start_date"`
	CurrTime     time.Time `json:"curr_time"`
	SecPerStep   int       `json:"sec_per_step"`
	MazeName     string    `json:"maze_name"`
	PersonaNames []string  `json:"persona_names"`
	Step         int64     `json:"step"`
}

// Manager owns the directory tree under which runs live. Each run is a
// directory <root>/<name> holding meta.json and a movement/ subtree of
// per-tick frames.
type Manager struct {
	root string
}

// NewManager creates the runs root if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create runs root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Dir returns the directory of a named run.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.root, name)
}

// Load reads a run's metadata.
func (m *Manager) Load(name string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(m.Dir(name), "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("run %q: %w", name, ErrRunNotFound)
		}
		return Meta{}, fmt.Errorf("read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parse meta: %w", err)
	}
	return meta, nil
}

// Save writes a run's metadata, creating the run directory if needed.
func (m *Manager) Save(name string, meta Meta) error {
	dir := m.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// Fork copies an existing run's directory into a new run so the new
// run resumes from the base run's last saved state. The copy carries
// the whole movement history; the new meta records its origin.
func (m *Manager) Fork(base, name string) (Meta, error) {
	meta, err := m.Load(base)
	if err != nil {
		return Meta{}, err
	}
	dst := m.Dir(name)
	if _, err := os.Stat(dst); err == nil {
		return Meta{}, fmt.Errorf("fork to %q: %w", name, ErrRunExists)
	}
	if err := copyTree(m.Dir(base), dst); err != nil {
		return Meta{}, fmt.Errorf("copy run: %w", err)
	}
	meta.ForkedFrom = base
	if err := m.Save(name, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// List returns the names of all runs under the root.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("read runs root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
