package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Persona is an agent's fixed identity sheet. Innate traits never
// change; Currently is a short description of the ongoing situation and
// is updated by reflection.
type Persona struct {
	Name       string   `json:"name"`
	Age        int      `json:"age"`
	Innate     string   `json:"innate"`
	Learned    string   `json:"learned"`
	Currently  string   `json:"currently"`
	Lifestyle  string   `json:"lifestyle"`
	LivingArea string   `json:"living_area"`
	SpawnArena string   `json:"spawn_arena,omitempty"`
	Seed       []string `json:"seed_memories,omitempty"`
}

// Summary renders the identity block used at the top of every prompt.
func (p Persona) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s (age %d)\n", p.Name, p.Age)
	fmt.Fprintf(&b, "Innate traits: %s\n", p.Innate)
	fmt.Fprintf(&b, "Background: %s\n", p.Learned)
	fmt.Fprintf(&b, "Currently: %s\n", p.Currently)
	fmt.Fprintf(&b, "Lifestyle: %s", p.Lifestyle)
	return b.String()
}

// LoadPersonas reads every <dir>/<name>/persona.json, sorted by
// directory name so registration order is stable across runs.
func LoadPersonas(dir string) ([]Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	personas := make([]Persona, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name, "persona.json")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read persona %s: %w", name, err)
		}
		var p Persona
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse persona %s: %w", name, err)
		}
		if p.Name == "" {
			p.Name = name
		}
		personas = append(personas, p)
	}
	return personas, nil
}
