// eval.go - Bedarfsgesteuerte Auswertung von Werten und Formen
//
// Dieses Modul enthaelt:
// - Value: berechnet und cached die Ausgabe eines Moduls
// - Shape: berechnet und cached die Ausgabeform
// - ResetValue/SetValue: Cache-Invalidierung
//
// Die Auswertung ist eine iterative Post-Order-Tiefensuche mit explizitem
// Stack ueber die Arena. Joins tragen im sample- und max-Modus nur ihren
// aktiven Elternteil als Abhaengigkeit bei.
package graph

import (
	"fmt"
	"slices"

	"github.com/emirpasic/gods/v2/stacks/arraystack"

	"github.com/archsearch/nas/logutil"
	"github.com/archsearch/nas/ml"
)

// walk besucht alle noch nicht berechneten Abhaengigkeiten von root in
// Post-Order. done meldet, ob ein Knoten bereits berechnet ist.
func (a *Arena) walk(root int, deps func(int) ([]int, error), done func(int) bool, visit func(int) error) error {
	if done(root) {
		return nil
	}

	expanded := make(map[int]bool)
	stack := arraystack.New[int]()
	stack.Push(root)

	for !stack.Empty() {
		id, _ := stack.Peek()
		if done(id) {
			stack.Pop()
			continue
		}

		ds, err := deps(id)
		if err != nil {
			return err
		}

		pending := false
		for _, d := range slices.Backward(ds) {
			if done(d) {
				continue
			}
			if expanded[d] {
				return &StructureError{Module: a.nodes[d].path, Reason: "cyclic dependency"}
			}
			stack.Push(d)
			pending = true
		}
		expanded[id] = true
		if pending {
			continue
		}

		stack.Pop()
		if err := visit(id); err != nil {
			return err
		}
	}

	return nil
}

// valueDeps gibt die fuer den Wert von id benoetigten Module zurueck
func (a *Arena) valueDeps(id int) ([]int, error) {
	m := a.nodes[id]
	if m.IsGraph() {
		out, err := m.Output()
		if err != nil {
			return nil, err
		}
		return []int{out.id}, nil
	}

	if s, ok := m.op.(Selector); ok {
		active := s.ActiveParents(len(m.parents))
		ids := make([]int, len(active))
		for i, k := range active {
			ids[i] = m.parents[k]
		}
		return ids, nil
	}
	return m.parents, nil
}

// shapeDeps gibt die fuer die Form von id benoetigten Module zurueck. Joins
// pruefen die Formen aller Eltern.
func (a *Arena) shapeDeps(id int) ([]int, error) {
	m := a.nodes[id]
	if m.IsGraph() {
		out, err := m.Output()
		if err != nil {
			return nil, err
		}
		return []int{out.id}, nil
	}
	return m.parents, nil
}

// Shape gibt die Ausgabeform des Moduls zurueck
func (m *Module) Shape() ([]int, error) {
	a := m.arena
	err := a.walk(m.id, a.shapeDeps,
		func(id int) bool { return a.shapes[id] != nil },
		func(id int) error {
			n := a.nodes[id]
			if n.IsGraph() {
				out, _ := n.Output()
				a.shapes[id] = a.shapes[out.id]
				return nil
			}

			in := make([][]int, len(n.parents))
			for i, p := range n.parents {
				in[i] = a.shapes[p]
			}
			s, err := n.op.Shape(in)
			if err != nil {
				return withModule(err, n.path)
			}
			a.shapes[id] = s
			return nil
		})
	if err != nil {
		return nil, err
	}
	return slices.Clone(a.shapes[m.id]), nil
}

// Value berechnet die Ausgabe des Moduls. Bereits berechnete Werte werden
// bis zur naechsten Invalidierung wiederverwendet.
func (m *Module) Value(ctx ml.Context) (ml.Tensor, error) {
	a := m.arena
	err := a.walk(m.id, a.valueDeps,
		func(id int) bool { return a.values[id] != nil },
		func(id int) error {
			n := a.nodes[id]
			if _, ok := n.op.(*Input); ok {
				return &StructureError{Module: n.path, Err: ErrMissingInput}
			}

			ds, _ := a.valueDeps(id)
			in := make([]ml.Tensor, len(ds))
			for i, d := range ds {
				in[i] = a.values[d]
			}

			if n.IsGraph() {
				a.values[id] = in[0]
				return nil
			}

			t, err := n.op.Forward(ctx, in, a.training)
			if err != nil {
				return fmt.Errorf("%s: %w", n.path, withModule(err, n.path))
			}
			logutil.Trace("forward", "module", n.path, "kind", n.Kind(), "value", t)
			a.values[id] = t
			return nil
		})
	if err != nil {
		return nil, err
	}
	return a.values[m.id], nil
}

// ResetValue verwirft den Cache des Moduls, aller Vorfahren und bei Graphen
// aller Mitglieder. Werte von Input-Modulen bleiben erhalten.
func (m *Module) ResetValue() {
	m.arena.invalidateUp(m.id)
}

// SetValue setzt den Wert eines Input-Moduls und invalidiert alle
// Nachfahren
func (m *Module) SetValue(t ml.Tensor) error {
	in, ok := m.op.(*Input)
	if !ok {
		return &StructureError{Module: m.path, Reason: "SetValue on non-input module"}
	}

	a := m.arena
	a.invalidateDown(m.id)

	in.shape = t.Shape()
	a.values[m.id] = t
	a.shapes[m.id] = t.Shape()
	return nil
}

// HasValue meldet, ob ein berechneter Wert im Cache liegt
func (m *Module) HasValue() bool {
	return m.arena.values[m.id] != nil
}
