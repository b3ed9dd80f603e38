// select.go - Auswahl, Sammlung und Partitionierung von Modulen
//
// Dieses Modul enthaelt:
// - Modules/ArchModules/NetModules: geordnete Modulsammlungen
// - ActiveModules: vom Ausgang erreichbarer Teilgraph bei aufgeloesten Joins
// - Parameters/NetParameters/ArchParameters: Parameter nach Pfad, dedupliziert
//   nach ID; Architektur- und Netzparameter sind disjunkt
// - SetJoinMode/SampleJoins/SetActive: Steuerung der Joins
// - Summary: Textuebersicht der Auswahl
package graph

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
)

// =============================================================================
// Modulsammlungen
// =============================================================================

// Modules gibt alle Module unterhalb von g in Tiefensuche-Reihenfolge zurueck
// (Graph vor seinen Mitgliedern), gefiltert durch pred. pred == nil waehlt
// alle.
func (g *Module) Modules(pred func(*Module) bool) []*Module {
	var out []*Module
	stack := slices.Clone(g.members)
	slices.Reverse(stack)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		m := g.arena.nodes[id]
		if pred == nil || pred(m) {
			out = append(out, m)
		}
		for _, c := range slices.Backward(m.members) {
			stack = append(stack, c)
		}
	}
	return out
}

// IsJoin meldet, ob m ein Join-Modul ist
func IsJoin(m *Module) bool {
	_, ok := m.op.(*Join)
	return ok
}

// ArchModules gibt alle Join-Module zurueck
func (g *Module) ArchModules() []*Module {
	return g.Modules(IsJoin)
}

// NetModules gibt alle rechnenden Module ausser Joins und Inputs zurueck.
// Mit activeOnly nur die im aktiven Teilgraphen.
func (g *Module) NetModules(activeOnly bool) []*Module {
	var active map[int]bool
	if activeOnly {
		active = g.activeSet()
	}
	return g.Modules(func(m *Module) bool {
		if m.IsGraph() || IsJoin(m) {
			return false
		}
		if _, ok := m.op.(*Input); ok {
			return false
		}
		return active == nil || active[m.id]
	})
}

// ActiveModules gibt die Module des aktiven Teilgraphen in Modulreihenfolge
// zurueck
func (g *Module) ActiveModules() []*Module {
	active := g.activeSet()
	return g.Modules(func(m *Module) bool { return active[m.id] })
}

// IsActive meldet, ob m im aktiven Teilgraphen seiner Wurzel liegt
func (m *Module) IsActive() bool {
	return m.Root().activeSet()[m.id]
}

// activeSet sammelt alle Module, von denen der Ausgang von g bei der
// aktuellen Join-Auswahl abhaengt
func (g *Module) activeSet() map[int]bool {
	a := g.arena
	seen := map[int]bool{g.id: true}
	queue := []int{g.id}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		deps, err := a.valueDeps(id)
		if err != nil {
			continue
		}
		for _, d := range deps {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
	return seen
}

// =============================================================================
// Parameter
// =============================================================================

func collect(mods []*Module, gradOnly bool, skip *ParamSet) *ParamSet {
	set := NewParamSet()
	for _, m := range mods {
		if m.op == nil {
			continue
		}
		for _, p := range m.op.Params() {
			if gradOnly && !p.NeedGrad {
				continue
			}
			if skip != nil && skip.Has(p.ID) {
				continue
			}
			set.Add(m.path+"/"+p.Name, p)
		}
	}
	return set
}

// Parameters gibt alle Parameter unterhalb von g zurueck. Namen sind
// Modulpfad + "/" + lokaler Name; geteilte Parameter erscheinen einmal.
func (g *Module) Parameters(gradOnly bool) *ParamSet {
	return collect(g.Modules(nil), gradOnly, nil)
}

// ArchParameters gibt die Auswahlgewichte aller Joins zurueck
func (g *Module) ArchParameters(gradOnly bool) *ParamSet {
	return collect(g.ArchModules(), gradOnly, nil)
}

// NetParameters gibt alle Parameter ausser den Architekturparametern zurueck.
// Die Trennung erfolgt nach ID, nicht nach Name.
func (g *Module) NetParameters(gradOnly bool) *ParamSet {
	arch := collect(g.ArchModules(), false, nil)
	mods := g.Modules(func(m *Module) bool { return !IsJoin(m) })
	return collect(mods, gradOnly, arch)
}

// =============================================================================
// Join-Steuerung
// =============================================================================

// SetJoinMode setzt den Modus aller Joins unterhalb von g. Der Wechsel nach
// full schlaegt mit ShapeError fehl, wenn ein Join ungleiche Elternformen hat;
// dann wird kein Join veraendert.
func (g *Module) SetJoinMode(mode JoinMode) error {
	if _, err := ParseJoinMode(string(mode)); err != nil {
		return err
	}

	joins := g.ArchModules()
	if mode == ModeFull {
		for _, m := range joins {
			shapes := make([][]int, len(m.parents))
			for i, p := range m.Parents() {
				s, err := p.Shape()
				if err != nil {
					return err
				}
				shapes[i] = s
			}
			for _, s := range shapes[1:] {
				if !slices.Equal(s, shapes[0]) {
					return &ShapeError{Module: m.path, Shapes: shapes, Reason: "full join needs equal parent shapes"}
				}
			}
		}
	}

	ids := make([]int, 0, len(joins))
	for _, m := range joins {
		j, _ := m.AsJoin()
		if j.mode != mode {
			j.mode = mode
			ids = append(ids, m.id)
		}
	}
	g.arena.invalidateDown(ids...)
	slog.Debug("set join mode", "graph", g.path, "mode", mode, "joins", len(joins))
	return nil
}

// SampleJoins zieht fuer jeden nicht fixierten Join im sample-Modus einen
// neuen aktiven Elternteil. r == nil verwendet den Generator der Arena.
func (g *Module) SampleJoins(r *rand.Rand) {
	if r == nil {
		r = g.arena.rng
	}

	var ids []int
	for _, m := range g.ArchModules() {
		j, _ := m.AsJoin()
		if j.mode != ModeSample || j.pinned {
			continue
		}
		j.sample(r)
		ids = append(ids, m.id)
	}
	g.arena.invalidateDown(ids...)
}

// SetActive fixiert den aktiven Elternteil eines Joins; -1 hebt die
// Fixierung auf. Die Auswahl gilt im sample- und max-Modus.
func (m *Module) SetActive(i int) error {
	j, ok := m.AsJoin()
	if !ok {
		return &StructureError{Module: m.path, Reason: "SetActive on non-join module"}
	}
	if i < -1 || i >= j.n {
		return &StructureError{Module: m.path, Reason: fmt.Sprintf("active index %d out of range [0,%d)", i, j.n)}
	}

	j.pinned = i >= 0
	j.active = i
	m.arena.invalidateDown(m.id)
	return nil
}

// ActiveParent gibt den aktiven Elternteil eines Joins zurueck
func (m *Module) ActiveParent() (*Module, bool) {
	j, ok := m.AsJoin()
	if !ok {
		return nil, false
	}
	return m.Parent(j.Active()), true
}

// =============================================================================
// Zusammenfassung
// =============================================================================

// Summary beschreibt die Auswahl aller Joins und den aktiven Teilgraphen
func (g *Module) Summary() string {
	var sb strings.Builder

	joins := g.ArchModules()
	fmt.Fprintf(&sb, "graph %q: %d modules, %d joins\n", g.name, len(g.Modules(nil)), len(joins))
	for _, m := range joins {
		j, _ := m.AsJoin()
		parent, _ := m.ActiveParent()
		probs := j.Probabilities()

		parts := make([]string, len(probs))
		for i, p := range probs {
			parts[i] = fmt.Sprintf("%.3f", p)
		}
		fmt.Fprintf(&sb, "  %s [%s] -> %s (p=%s)\n", m.path, j.mode, parent.path, strings.Join(parts, " "))
	}

	active := g.NetModules(true)
	var n int
	seen := NewParamSet()
	for _, m := range active {
		for _, p := range m.op.Params() {
			if p.NeedGrad && seen.Add(m.path+"/"+p.Name, p) {
				n += numel(p.Shape)
			}
		}
	}
	fmt.Fprintf(&sb, "active: %d modules, %d parameters\n", len(active), n)
	return sb.String()
}
