// arch.go - Export und Import der Architekturbeschreibung
//
// Dieses Modul enthaelt:
// - Architecture: Join-Pfad -> Pfad des gewaehlten Elternteils
// - ApplyArchitecture: fixiert die Joins gemaess einer Beschreibung
// - SaveArchitecture/LoadArchitecture: JSON-Dateien
package graph

import (
	"encoding/json"
	"fmt"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Architecture bildet jeden Join-Pfad auf den Pfad seines gewaehlten
// Elternteils ab, in Modulreihenfolge. Gewaehlt ist der fixierte Index,
// sonst argmax(softmax(alpha)); die letzte Stichprobe zaehlt nicht.
func (g *Module) Architecture() *orderedmap.OrderedMap[string, string] {
	arch := orderedmap.New[string, string]()
	for _, m := range g.ArchModules() {
		j, _ := m.AsJoin()
		arch.Set(m.path, m.Parent(j.Selected()).path)
	}
	return arch
}

// ApplyArchitecture fixiert jeden genannten Join auf den genannten
// Elternteil. Unbekannte Pfade sind ein StructureError; dann wird nichts
// veraendert.
func (g *Module) ApplyArchitecture(arch *orderedmap.OrderedMap[string, string]) error {
	joins := make(map[string]*Module)
	for _, m := range g.ArchModules() {
		joins[m.path] = m
	}

	type choice struct {
		m *Module
		i int
	}
	choices := make([]choice, 0, arch.Len())

	for pair := arch.Oldest(); pair != nil; pair = pair.Next() {
		m, ok := joins[pair.Key]
		if !ok {
			return &StructureError{Module: pair.Key, Reason: "architecture names an unknown join"}
		}

		idx := -1
		for i, p := range m.Parents() {
			if p.path == pair.Value {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &StructureError{Module: pair.Key, Reason: fmt.Sprintf("%q is not a parent of the join", pair.Value)}
		}
		choices = append(choices, choice{m, idx})
	}

	for _, c := range choices {
		if err := c.m.SetActive(c.i); err != nil {
			return err
		}
	}
	return nil
}

// SaveArchitecture schreibt die Architekturbeschreibung als JSON
func (g *Module) SaveArchitecture(path string) error {
	b, err := json.MarshalIndent(g.Architecture(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// ReadArchitecture liest eine Architekturbeschreibung
func ReadArchitecture(path string) (*orderedmap.OrderedMap[string, string], error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	arch := orderedmap.New[string, string]()
	if err := json.Unmarshal(b, arch); err != nil {
		return nil, fmt.Errorf("parse architecture %s: %w", path, err)
	}
	return arch, nil
}

// LoadArchitecture liest eine Beschreibung und wendet sie auf g an
func (g *Module) LoadArchitecture(path string) error {
	arch, err := ReadArchitecture(path)
	if err != nil {
		return err
	}
	return g.ApplyArchitecture(arch)
}
