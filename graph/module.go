// module.go - Modul-Handle und Container-API
//
// Dieses Modul enthaelt:
// - Module: Handle auf einen Knoten der Arena
// - Zugriff auf Eltern, Kinder und Mitglieder
// - At/Len/Members fuer Graphen
package graph

import (
	"fmt"
)

// Module ist ein Knoten der Arena: entweder eine Op oder ein Graph, der
// geordnete Mitglieder enthaelt. Die Ausgabe eines Graphen ist die Ausgabe
// seines zuletzt angefuegten Mitglieds.
type Module struct {
	arena *Arena

	id   int
	name string
	path string
	op   Op

	parents  []int
	children []int
	members  []int

	// scope ist die ID des besitzenden Graphen, -1 fuer die Wurzel
	scope int
}

func (m *Module) ID() int {
	return m.id
}

func (m *Module) Name() string {
	return m.name
}

// Path ist der global eindeutige Pfad ab der Wurzel, z.B. "cell0/edge1".
// Die Wurzel selbst hat einen leeren Pfad.
func (m *Module) Path() string {
	return m.path
}

// Kind gibt den Typnamen der Op zurueck oder KindGraph
func (m *Module) Kind() string {
	if m.op == nil {
		return KindGraph
	}
	return m.op.Kind()
}

// Op gibt die Op zurueck, nil fuer Graphen
func (m *Module) Op() Op {
	return m.op
}

func (m *Module) IsGraph() bool {
	return m.op == nil
}

// AsJoin gibt die Join-Op zurueck, falls m ein Join-Modul ist
func (m *Module) AsJoin() (*Join, bool) {
	j, ok := m.op.(*Join)
	return j, ok
}

func (m *Module) String() string {
	if m.scope < 0 {
		return fmt.Sprintf("%s(%s)", m.Kind(), m.name)
	}
	return fmt.Sprintf("%s(%s)", m.Kind(), m.path)
}

func (m *Module) resolve(ids []int) []*Module {
	out := make([]*Module, len(ids))
	for i, id := range ids {
		out[i] = m.arena.nodes[id]
	}
	return out
}

// Parents gibt die Eltern in Konstruktionsreihenfolge zurueck
func (m *Module) Parents() []*Module {
	return m.resolve(m.parents)
}

// Parent gibt den i-ten Elternteil zurueck
func (m *Module) Parent(i int) *Module {
	return m.arena.nodes[m.parents[i]]
}

// Children gibt alle Module zurueck, die m als Elternteil haben
func (m *Module) Children() []*Module {
	return m.resolve(m.children)
}

// Members gibt die Mitglieder eines Graphen in Anfuegereihenfolge zurueck
func (m *Module) Members() []*Module {
	return m.resolve(m.members)
}

// Len gibt die Anzahl der Mitglieder zurueck
func (m *Module) Len() int {
	return len(m.members)
}

// At gibt das i-te Mitglied zurueck. Negative Indizes zaehlen vom Ende,
// At(-1) ist das zuletzt angefuegte Mitglied.
func (m *Module) At(i int) (*Module, error) {
	n := len(m.members)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, &StructureError{Module: m.path, Reason: fmt.Sprintf("member index %d out of range [0,%d)", i, n)}
	}
	return m.arena.nodes[m.members[i]], nil
}

// Lookup sucht ein Modul ueber seinen Pfad relativ zu m
func (m *Module) Lookup(path string) (*Module, bool) {
	prefix := m.path
	if prefix != "" {
		prefix += "/"
	}
	for _, n := range m.arena.nodes {
		if n.scope >= 0 && n.path == prefix+path && n.within(m.id) {
			return n, true
		}
	}
	return nil, false
}

// Scope gibt den besitzenden Graphen zurueck, nil fuer die Wurzel
func (m *Module) Scope() *Module {
	if m.scope < 0 {
		return nil
	}
	return m.arena.nodes[m.scope]
}

// Root gibt den Wurzelgraphen der Arena zurueck
func (m *Module) Root() *Module {
	return m.arena.nodes[0]
}

// within meldet, ob m direkt oder indirekt zum Graphen g gehoert
func (m *Module) within(g int) bool {
	for s := m.scope; s >= 0; s = m.arena.nodes[s].scope {
		if s == g {
			return true
		}
	}
	return false
}

// Output gibt das Ausgabemodul eines Graphen zurueck (das letzte Mitglied)
func (m *Module) Output() (*Module, error) {
	if !m.IsGraph() {
		return m, nil
	}
	if len(m.members) == 0 {
		return nil, &StructureError{Module: m.path, Reason: "graph has no members"}
	}
	return m.arena.nodes[m.members[len(m.members)-1]], nil
}

// Training meldet, ob BatchNorm Batch-Statistiken verwendet
func (m *Module) Training() bool {
	return m.arena.training
}

// SetTraining schaltet zwischen Training und Auswertung um. Alle Caches der
// Arena werden verworfen.
func (m *Module) SetTraining(training bool) {
	if m.arena.training != training {
		m.arena.training = training
		m.arena.invalidateAll()
	}
}
