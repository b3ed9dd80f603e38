// arena.go - Arena-Speicher fuer alle Module eines Wurzelgraphen
//
// Dieses Modul enthaelt:
// - Arena: besitzt alle Module, Wert- und Form-Caches (indiziert nach ID)
// - New: erstellt einen Wurzelgraphen
// - Append/AppendGraph: fuegt Module in Konstruktionsreihenfolge an
//
// Eltern/Kind-Verbindungen sind Indizes in die Arena. Ein Modul kann nur
// bereits existierende Module als Eltern referenzieren.
package graph

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/archsearch/nas/ml"
)

// KindGraph ist der Typname von Containern
const KindGraph = "graph"

// Arena besitzt alle Module eines Wurzelgraphen samt verschachtelter Graphen
type Arena struct {
	nodes  []*Module
	values []ml.Tensor
	shapes [][]int

	training bool
	rng      *rand.Rand
}

// Option konfiguriert einen neuen Wurzelgraphen
type Option func(*Arena)

// WithSeed initialisiert Parameter und Stichproben deterministisch
func WithSeed(seed uint64) Option {
	return func(a *Arena) {
		a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand verwendet r fuer Initialisierung und Stichproben
func WithRand(r *rand.Rand) Option {
	return func(a *Arena) {
		a.rng = r
	}
}

// New erstellt einen leeren Wurzelgraphen
func New(name string, opts ...Option) *Module {
	a := &Arena{training: true}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	root := &Module{arena: a, id: 0, name: name, scope: -1}
	a.nodes = append(a.nodes, root)
	a.values = append(a.values, nil)
	a.shapes = append(a.shapes, nil)
	return root
}

// Rand gibt den Zufallsgenerator der Arena zurueck
func (m *Module) Rand() *rand.Rand {
	return m.arena.rng
}

// Append fuegt ein Op-Modul mit den gegebenen Eltern an den Graphen g an.
// Formfehler werden sofort gemeldet, nicht erst bei der Auswertung.
func (g *Module) Append(name string, op Op, parents ...*Module) (*Module, error) {
	if op == nil {
		return nil, &StructureError{Module: g.childPath(name), Reason: "nil op"}
	}
	return g.append(name, op, parents)
}

// AppendGraph fuegt einen leeren Untergraphen an. Seine Mitglieder duerfen
// die Eltern des Untergraphen direkt referenzieren.
func (g *Module) AppendGraph(name string, parents ...*Module) (*Module, error) {
	return g.append(name, nil, parents)
}

func (g *Module) append(name string, op Op, parents []*Module) (*Module, error) {
	a := g.arena
	path := g.childPath(name)

	if !g.IsGraph() {
		return nil, &StructureError{Module: g.Path(), Reason: "cannot append to non-graph module"}
	}
	if name == "" || strings.Contains(name, "/") {
		return nil, &StructureError{Module: path, Reason: fmt.Sprintf("invalid module name %q", name)}
	}
	for _, id := range g.members {
		if a.nodes[id].name == name {
			return nil, &StructureError{Module: path, Err: ErrDuplicateName}
		}
	}

	ids := make([]int, len(parents))
	for i, p := range parents {
		if err := g.checkParent(path, p); err != nil {
			return nil, err
		}
		ids[i] = p.id
	}

	if op != nil {
		if j, ok := op.(*Join); ok && j.n != len(parents) {
			return nil, &StructureError{Module: path, Reason: fmt.Sprintf("join has %d weights for %d parents", j.n, len(parents))}
		}

		in := make([][]int, len(parents))
		for i, p := range parents {
			s, err := p.Shape()
			if err != nil {
				return nil, err
			}
			in[i] = s
		}
		if _, err := op.Shape(in); err != nil {
			return nil, withModule(err, path)
		}
	}

	m := &Module{
		arena:   a,
		id:      len(a.nodes),
		name:    name,
		path:    path,
		op:      op,
		parents: ids,
		scope:   g.id,
	}
	a.nodes = append(a.nodes, m)
	a.values = append(a.values, nil)
	a.shapes = append(a.shapes, nil)

	for _, id := range ids {
		p := a.nodes[id]
		p.children = append(p.children, m.id)
	}

	// the graph output changes with every new member
	a.invalidateDown(g.id)
	g.members = append(g.members, m.id)

	slog.Debug("appended module", "path", path, "kind", m.Kind(), "parents", len(ids))
	return m, nil
}

// checkParent prueft, ob p aus Sicht von g als Elternteil zulaessig ist
func (g *Module) checkParent(path string, p *Module) error {
	if p == nil {
		return &StructureError{Module: path, Reason: "nil parent"}
	}
	if p.arena != g.arena {
		return &StructureError{Module: path, Reason: fmt.Sprintf("parent %q belongs to a different graph", p.Path())}
	}
	if p.id >= len(g.arena.nodes) || g.arena.nodes[p.id] != p {
		return &StructureError{Module: path, Reason: fmt.Sprintf("parent %q is not constructed", p.Path())}
	}

	// a graph enclosing the new module would depend on its own member
	for s := g.id; s >= 0; s = g.arena.nodes[s].scope {
		if s == p.id {
			return &StructureError{Module: path, Reason: fmt.Sprintf("cyclic parent %q encloses the module", p.Path())}
		}
	}

	for s := g.id; s >= 0; s = g.arena.nodes[s].scope {
		if p.scope == s {
			return nil
		}
	}
	return &StructureError{Module: path, Reason: fmt.Sprintf("parent %q is not visible from %q", p.Path(), g.Path())}
}

func (g *Module) childPath(name string) string {
	if g.scope < 0 {
		return name
	}
	return g.path + "/" + name
}

// invalidateDown verwirft die Caches der gegebenen Module und aller
// Nachfahren. Ist ein Modul die Ausgabe seines Graphen, wird auch der Graph
// verworfen. Werte von Input-Modulen bleiben erhalten.
func (a *Arena) invalidateDown(ids ...int) {
	seen := make(map[int]bool)
	queue := slices.Clone(ids)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		a.clear(n)

		m := a.nodes[n]
		queue = append(queue, m.children...)
		if m.scope >= 0 {
			if members := a.nodes[m.scope].members; len(members) > 0 && members[len(members)-1] == n {
				queue = append(queue, m.scope)
			}
		}
	}
}

// invalidateUp verwirft die Caches von id, allen Vorfahren und bei Graphen
// allen Mitgliedern. Danach werden die Nachfahren aller verworfenen Module
// invalidiert, damit kein Cache auf verworfenen Werten beruht.
func (a *Arena) invalidateUp(id int) {
	seen := make(map[int]bool)
	queue := []int{id}
	var order []int
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		order = append(order, n)

		m := a.nodes[n]
		queue = append(queue, m.parents...)
		queue = append(queue, m.members...)
	}

	a.invalidateDown(order...)
}

func (a *Arena) clear(n int) {
	if _, ok := a.nodes[n].op.(*Input); ok {
		return
	}
	a.values[n] = nil
	a.shapes[n] = nil
}

// invalidateAll verwirft alle berechneten Caches der Arena
func (a *Arena) invalidateAll() {
	for n := range a.nodes {
		a.clear(n)
	}
}
